package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Runner executes the avatar generation pipeline for one job and reports
// the resulting artifacts.
type Runner interface {
	Run(ctx context.Context, jobID string, req Request) (RunResult, error)
}

// StatusPublisher receives every job status change.
type StatusPublisher interface {
	Publish(ctx context.Context, job Job) error
}

// ErrDataDirRequired signals a job request without a source photo dir.
var ErrDataDirRequired = errors.New("data_dir is required")

// Manager owns the lifecycle and bookkeeping of avatar generation jobs.
// Create schedules a job asynchronously; Get reports its latest status.
type Manager struct {
	mu   sync.Mutex
	jobs map[string]Job

	runner    Runner
	publisher StatusPublisher
	newID     func() string
	now       func() time.Time
	logf      func(format string, args ...any)

	wg sync.WaitGroup
}

// NewManager constructs a Manager. publisher may be nil when nothing
// downstream needs status events.
func NewManager(runner Runner, publisher StatusPublisher) *Manager {
	return &Manager{
		jobs:      make(map[string]Job),
		runner:    runner,
		publisher: publisher,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// WithLogf routes publish failures to a logger. Without one they are
// dropped silently.
func (m *Manager) WithLogf(logf func(format string, args ...any)) *Manager {
	m.logf = logf
	return m
}

// Create registers a queued job and starts running it in the background.
// The returned record is the immediate accepted-state view.
func (m *Manager) Create(ctx context.Context, req Request) (Job, error) {
	if req.DataDir == "" {
		return Job{}, ErrDataDirRequired
	}

	job := Job{
		ID:        m.newID(),
		State:     StateQueued,
		CreatedAt: m.now().UTC(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.publish(ctx, job)

	// The job outlives the request that created it.
	runCtx := context.WithoutCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runJob(runCtx, job.ID, req)
	}()

	return job, nil
}

// Get returns the latest status for a job id.
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	return job, ok
}

// Wait blocks until all in-flight jobs have finished. Used during
// shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) runJob(ctx context.Context, jobID string, req Request) {
	started := m.now().UTC()
	running := m.update(jobID, func(j *Job) {
		j.State = StateRunning
		j.StartedAt = &started
	})
	m.publish(ctx, running)

	res, err := m.runner.Run(ctx, jobID, req)

	finished := m.now().UTC()
	done := m.update(jobID, func(j *Job) {
		j.CompletedAt = &finished
		j.LogPath = res.LogPath
		if err != nil {
			j.State = StateFailed
			j.Message = err.Error()
			return
		}
		j.State = StateSucceeded
		j.AvatarURL = res.AvatarURL
		j.Message = "job finished successfully"
	})
	m.publish(ctx, done)
}

func (m *Manager) update(jobID string, mutate func(*Job)) Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[jobID]
	mutate(&job)
	m.jobs[jobID] = job
	return job
}

func (m *Manager) publish(ctx context.Context, job Job) {
	if m.publisher == nil {
		return
	}
	// Status fanout is best-effort; the manager's map stays the source
	// of truth.
	if err := m.publisher.Publish(ctx, job); err != nil && m.logf != nil {
		m.logf("publish job %s state %s: %v", job.ID, job.State, err)
	}
}
