package jobs

import (
	"context"
	"errors"
	"testing"
)

type failingStore struct {
	err error
}

func (s failingStore) Save(ctx context.Context, job Job) error { return s.err }

func TestMemoryStore_SaveAndGet(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()

	job := Job{ID: "job-1", State: StateRunning}
	if err := store.Save(context.Background(), job); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok := store.Get("job-1")
	if !ok {
		t.Fatalf("job not found")
	}
	if got.State != StateRunning {
		t.Fatalf("state = %s", got.State)
	}

	// Later saves replace the record.
	job.State = StateSucceeded
	if err := store.Save(context.Background(), job); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, _ = store.Get("job-1")
	if got.State != StateSucceeded {
		t.Fatalf("state = %s, want succeeded", got.State)
	}
}

func TestMultiStore_AllStoresWrite(t *testing.T) {
	t.Parallel()
	first := NewMemoryStore()
	second := NewMemoryStore()
	store := NewMultiStore(first, second)

	if err := store.Save(context.Background(), Job{ID: "job-1", State: StateQueued}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := first.Get("job-1"); !ok {
		t.Fatalf("first store missed the write")
	}
	if _, ok := second.Get("job-1"); !ok {
		t.Fatalf("second store missed the write")
	}
}

func TestMultiStore_FailureDoesNotSkipOthers(t *testing.T) {
	t.Parallel()
	boom := errors.New("redis down")
	memory := NewMemoryStore()
	store := NewMultiStore(failingStore{err: boom}, memory)

	err := store.Save(context.Background(), Job{ID: "job-1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if _, ok := memory.Get("job-1"); !ok {
		t.Fatalf("healthy store skipped after failure")
	}
}

func TestMultiPublisher_FansOut(t *testing.T) {
	t.Parallel()
	first := &recordingPublisher{}
	second := &recordingPublisher{}
	boom := errors.New("sink down")

	pub := NewMultiPublisher(first, publisherFunc(func(context.Context, Job) error { return boom }), second)
	err := pub.Publish(context.Background(), Job{ID: "job-1", State: StateQueued})
	if !errors.Is(err, boom) {
		t.Fatalf("expected sink error surfaced, got %v", err)
	}
	if len(first.states()) != 1 || len(second.states()) != 1 {
		t.Fatalf("expected every publisher to observe the change")
	}
}

func TestStorePublisher_Forwards(t *testing.T) {
	t.Parallel()
	memory := NewMemoryStore()
	pub := NewStorePublisher(memory)

	if err := pub.Publish(context.Background(), Job{ID: "job-1", State: StateRunning}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, ok := memory.Get("job-1"); !ok {
		t.Fatalf("store did not receive the record")
	}
}

type publisherFunc func(ctx context.Context, job Job) error

func (f publisherFunc) Publish(ctx context.Context, job Job) error { return f(ctx, job) }
