package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type spyStorage struct {
	called bool
	job    Job
	err    error
}

func (s *spyStorage) Publish(ctx context.Context, job Job) error {
	s.called = true
	s.job = job
	return s.err
}

type spyBroadcaster struct {
	called bool
	msg    []byte
}

func (s *spyBroadcaster) Broadcast(msg []byte) {
	s.called = true
	s.msg = msg
}

func TestFanoutPublisherStoresAndBroadcasts(t *testing.T) {
	t.Parallel()

	storage := &spyStorage{}
	bcaster := &spyBroadcaster{}
	pub := NewFanoutPublisher(storage, bcaster)

	job := Job{
		ID:        "job-1",
		State:     StateSucceeded,
		AvatarURL: "https://cdn.example.com/job-1.glb",
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	if err := pub.Publish(context.Background(), job); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if !storage.called {
		t.Fatalf("storage publisher not called")
	}
	if !bcaster.called {
		t.Fatalf("broadcaster not called")
	}

	var payload struct {
		Type      string `json:"type"`
		JobID     string `json:"job_id"`
		State     string `json:"state"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(bcaster.msg, &payload); err != nil {
		t.Fatalf("unmarshal broadcast: %v", err)
	}
	if payload.Type != "job_status" {
		t.Fatalf("payload type = %q", payload.Type)
	}
	if payload.JobID != "job-1" || payload.State != "succeeded" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.AvatarURL != job.AvatarURL {
		t.Fatalf("avatar url = %q", payload.AvatarURL)
	}
}

func TestFanoutPublisherSkipsBroadcastOnStorageError(t *testing.T) {
	t.Parallel()

	storage := &spyStorage{err: context.Canceled}
	bcaster := &spyBroadcaster{}
	pub := NewFanoutPublisher(storage, bcaster)

	if err := pub.Publish(context.Background(), Job{ID: "job-err"}); err == nil {
		t.Fatalf("expected error")
	}
	if bcaster.called {
		t.Fatalf("expected broadcaster not to be called on storage error")
	}
}

func TestFanoutPublisherHandlesNilCollaborators(t *testing.T) {
	t.Parallel()

	storage := &spyStorage{}
	pub := NewFanoutPublisher(storage, nil)
	if err := pub.Publish(context.Background(), Job{ID: "job-nil"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !storage.called {
		t.Fatalf("expected storage publisher to run")
	}

	pub = NewFanoutPublisher(nil, &spyBroadcaster{})
	if err := pub.Publish(context.Background(), Job{ID: "job-nostore"}); err != nil {
		t.Fatalf("publish without storage: %v", err)
	}
}
