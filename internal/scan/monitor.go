package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status captures the monitor's position in its lifecycle.
type Status int

const (
	StatusIdle Status = iota
	StatusProcessing
	StatusCompleted
	StatusError
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	case StatusTimeout:
		return "timeout"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether the monitor has reached a final outcome.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusTimeout
}

// PollResult is one status report from the scan service.
type PollResult struct {
	Done      bool
	AvatarURL string
	Err       string
}

// StatusClient checks the state of an external scan job. One call per poll
// tick; implementations should respond well within the poll interval.
type StatusClient interface {
	PollStatus(ctx context.Context, scanID string) (PollResult, error)
}

// MonitorConfig bounds the polling loop.
type MonitorConfig struct {
	Interval    time.Duration
	MaxAttempts int
	Deadline    time.Duration
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 30
	}
	if c.Deadline <= 0 {
		c.Deadline = 30 * time.Second
	}
	return c
}

// Snapshot is a point-in-time view of the monitor.
type Snapshot struct {
	ScanID       string `json:"scan_id"`
	Status       string `json:"status"`
	PollAttempts int    `json:"poll_attempts"`
	AvatarURL    string `json:"avatar_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

var (
	// ErrAlreadyStarted signals Start on a monitor that is not idle.
	ErrAlreadyStarted = errors.New("monitor already started")
	// ErrNotTerminal signals Reset before a terminal outcome.
	ErrNotTerminal = errors.New("monitor has not reached a terminal status")
)

// Monitor polls a scan job on a fixed interval with a bounded attempt
// count and an independent wall-clock deadline. The poll tick and the
// deadline race against the same state; every terminal write re-checks
// that the monitor is still processing, so exactly one terminal
// transition ever happens. Terminal states are final until Reset.
type Monitor struct {
	mu sync.Mutex

	client StatusClient
	cfg    MonitorConfig

	scanID    string
	status    Status
	attempts  int
	avatarURL string
	errMsg    string

	cancel     context.CancelFunc
	done       chan struct{}
	onTerminal func(Snapshot)
}

// NewMonitor constructs an idle monitor. Zero config fields fall back to
// a 1s interval, 30 attempts and a 30s deadline.
func NewMonitor(client StatusClient, cfg MonitorConfig) *Monitor {
	return &Monitor{
		client: client,
		cfg:    cfg.withDefaults(),
	}
}

// OnTerminal registers a callback invoked once when the monitor reaches a
// terminal status. Must be set before Start.
func (m *Monitor) OnTerminal(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTerminal = fn
}

// Start begins polling for the given scan. It fails if the monitor is not
// idle; a terminal monitor needs Reset (or a fresh instance) first.
func (m *Monitor) Start(ctx context.Context, scanID string) error {
	m.mu.Lock()
	if m.status != StatusIdle {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.scanID = scanID
	m.status = StatusProcessing
	m.attempts = 0
	m.avatarURL = ""
	m.errMsg = ""

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go m.run(runCtx, done)
	return nil
}

// Stop cancels polling and waits for the loop to exit. After Stop returns
// no further state mutation occurs, even if a tick was already pending.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Reset returns a terminal monitor to idle so it can be started again.
func (m *Monitor) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.status.Terminal() {
		return ErrNotTerminal
	}
	m.scanID = ""
	m.status = StatusIdle
	m.attempts = 0
	m.avatarURL = ""
	m.errMsg = ""
	m.cancel = nil
	m.done = nil
	return nil
}

// Snapshot returns the current state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Status returns the current status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	deadline := time.NewTimer(m.cfg.Deadline)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.pollOnce(ctx) {
				return
			}
		case <-deadline.C:
			m.deadlineFired()
			return
		}
	}
}

// pollOnce performs a single status check and reports whether the monitor
// reached a terminal status.
func (m *Monitor) pollOnce(ctx context.Context) bool {
	res, err := m.client.PollStatus(ctx, m.scanIDCopy())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return true
		}
		return m.transitionIfProcessing(StatusError, func() {
			m.errMsg = err.Error()
		})
	}

	if res.Err != "" {
		return m.transitionIfProcessing(StatusError, func() {
			m.errMsg = res.Err
		})
	}

	if res.Done {
		return m.transitionIfProcessing(StatusCompleted, func() {
			m.avatarURL = res.AvatarURL
		})
	}

	m.mu.Lock()
	if m.status != StatusProcessing {
		m.mu.Unlock()
		return true
	}
	m.attempts++
	if m.attempts >= m.cfg.MaxAttempts {
		m.status = StatusTimeout
		m.errMsg = "scan did not finish within the allowed attempts"
		snap := m.snapshotLocked()
		fn := m.onTerminal
		m.mu.Unlock()
		if fn != nil {
			fn(snap)
		}
		return true
	}
	m.mu.Unlock()
	return false
}

// deadlineFired forces a timeout if the scan is still processing when the
// wall clock expires, regardless of how many ticks have run.
func (m *Monitor) deadlineFired() {
	m.transitionIfProcessing(StatusTimeout, func() {
		m.errMsg = "scan did not finish before the deadline"
	})
}

// transitionIfProcessing applies mutate and moves to next only when the
// monitor is still processing. It reports whether the terminal transition
// happened (or had already happened).
func (m *Monitor) transitionIfProcessing(next Status, mutate func()) bool {
	m.mu.Lock()
	if m.status != StatusProcessing {
		m.mu.Unlock()
		return true
	}
	mutate()
	m.status = next
	snap := m.snapshotLocked()
	fn := m.onTerminal
	m.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
	return true
}

func (m *Monitor) scanIDCopy() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanID
}

func (m *Monitor) snapshotLocked() Snapshot {
	return Snapshot{
		ScanID:       m.scanID,
		Status:       m.status.String(),
		PollAttempts: m.attempts,
		AvatarURL:    m.avatarURL,
		ErrorMessage: m.errMsg,
	}
}
