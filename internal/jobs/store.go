package jobs

import (
	"context"
	"errors"
	"sync"
)

// Store abstracts persistence of job status records.
type Store interface {
	Save(ctx context.Context, job Job) error
}

// StorePublisher publishes job status changes to a Store.
type StorePublisher struct {
	store Store
}

// NewStorePublisher constructs a publisher targeting the given store.
func NewStorePublisher(store Store) *StorePublisher {
	return &StorePublisher{store: store}
}

// Publish forwards the job record to the store.
func (p *StorePublisher) Publish(ctx context.Context, job Job) error {
	return p.store.Save(ctx, job)
}

// MemoryStore keeps the latest job records in memory.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]Job
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Job)}
}

func (s *MemoryStore) Save(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

// Get returns the stored record for a job id.
func (s *MemoryStore) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	return job, ok
}

// MultiPublisher forwards each status change to several publishers,
// collecting errors so every sink gets a chance to observe it.
type MultiPublisher struct {
	publishers []StatusPublisher
}

// NewMultiPublisher constructs a StatusPublisher fanning out in sequence.
func NewMultiPublisher(publishers ...StatusPublisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

func (m *MultiPublisher) Publish(ctx context.Context, job Job) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiStore writes to multiple stores in order.
type MultiStore struct {
	stores []Store
}

// NewMultiStore constructs a Store that saves to each store in sequence.
func NewMultiStore(stores ...Store) *MultiStore {
	return &MultiStore{stores: stores}
}

// Save forwards the record to each store, collecting errors so all stores
// get a chance to write.
func (m *MultiStore) Save(ctx context.Context, job Job) error {
	var errs []error
	for _, store := range m.stores {
		if err := store.Save(ctx, job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
