package jobs

import (
	"context"
	"encoding/json"
	"time"
)

// Broadcaster pushes messages to connected clients.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// FanoutPublisher forwards job status changes to storage and broadcasts
// them to realtime subscribers.
type FanoutPublisher struct {
	storage     StatusPublisher
	broadcaster Broadcaster
}

// NewFanoutPublisher constructs a publisher that fans out to storage and
// broadcaster. Either may be nil.
func NewFanoutPublisher(storage StatusPublisher, broadcaster Broadcaster) *FanoutPublisher {
	return &FanoutPublisher{storage: storage, broadcaster: broadcaster}
}

// Publish writes to storage then broadcasts the status change.
func (p *FanoutPublisher) Publish(ctx context.Context, job Job) error {
	if p.storage != nil {
		if err := p.storage.Publish(ctx, job); err != nil {
			return err
		}
	}

	payload := struct {
		Type      string    `json:"type"`
		JobID     string    `json:"job_id"`
		State     string    `json:"state"`
		AvatarURL string    `json:"avatar_url,omitempty"`
		Message   string    `json:"message,omitempty"`
		Timestamp time.Time `json:"timestamp"`
	}{
		Type:      "job_status",
		JobID:     job.ID,
		State:     string(job.State),
		AvatarURL: job.AvatarURL,
		Message:   job.Message,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if p.broadcaster != nil {
		p.broadcaster.Broadcast(data)
	}

	return nil
}
