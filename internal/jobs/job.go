package jobs

import "time"

// State is a lifecycle state of an avatar generation job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether the job has finished.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Request is the payload for launching an avatar generation job.
type Request struct {
	DataDir   string   `json:"data_dir"`
	OutputDir string   `json:"output_dir"`
	ExtraArgs []string `json:"extra_args,omitempty"`
}

// Job is the status record reported to API consumers.
type Job struct {
	ID          string     `json:"job_id"`
	State       State      `json:"state"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	Message     string     `json:"message,omitempty"`
	LogPath     string     `json:"log_path,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
