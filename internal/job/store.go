package job

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store persists jobs. Implementations apply each mutation atomically and
// enforce the status state machine through the Job methods.
type Store interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	Start(ctx context.Context, id string) (Job, error)
	AdvanceStage(ctx context.Context, id, stage string, progress Progress) error
	AddWarnings(ctx context.Context, id string, warnings ...Warning) error
	Complete(ctx context.Context, id, artifactRef string) error
	Fail(ctx context.Context, id string, kind ErrorKind, message string) error
	List(ctx context.Context, limit, offset int) ([]Job, error)
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store. A mutex per job id serialises
// mutations to the same job while unrelated jobs proceed independently.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	locks map[string]*sync.Mutex
	now   func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu:    sync.RWMutex{},
		jobs:  make(map[string]*Job),
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
}

// Create inserts a new job.
func (s *MemoryStore) Create(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, job.ID)
	}

	stored := job.Clone()
	s.jobs[job.ID] = &stored
	s.locks[job.ID] = &sync.Mutex{}

	return nil
}

// Get returns a copy of the job.
func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	lock, stored, err := s.lookup(id)
	if err != nil {
		return Job{}, err
	}

	lock.Lock()
	defer lock.Unlock()

	return stored.Clone(), nil
}

// Start claims a queued job for processing.
func (s *MemoryStore) Start(_ context.Context, id string) (Job, error) {
	var started Job

	err := s.update(id, func(job *Job) error {
		startErr := job.Start(s.now())
		if startErr != nil {
			return startErr
		}

		started = job.Clone()

		return nil
	})

	return started, err
}

// AdvanceStage records stage and progress.
func (s *MemoryStore) AdvanceStage(_ context.Context, id, stage string, progress Progress) error {
	return s.update(id, func(job *Job) error {
		return job.Advance(stage, progress, s.now())
	})
}

// AddWarnings appends warnings.
func (s *MemoryStore) AddWarnings(_ context.Context, id string, warnings ...Warning) error {
	return s.update(id, func(job *Job) error {
		return job.AddWarnings(s.now(), warnings...)
	})
}

// Complete marks the job completed.
func (s *MemoryStore) Complete(_ context.Context, id, artifactRef string) error {
	return s.update(id, func(job *Job) error {
		return job.Complete(artifactRef, s.now())
	})
}

// Fail marks the job failed.
func (s *MemoryStore) Fail(_ context.Context, id string, kind ErrorKind, message string) error {
	return s.update(id, func(job *Job) error {
		return job.Fail(kind, message, s.now())
	})
}

// List returns jobs newest first.
func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]Job, error) {
	s.mu.RLock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}

	s.mu.RUnlock()

	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(context.Background(), id)
		if err != nil {
			continue
		}

		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID > jobs[k].ID
		}

		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})

	return page(jobs, limit, offset), nil
}

func (s *MemoryStore) lookup(id string) (*sync.Mutex, *Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.jobs[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return s.locks[id], stored, nil
}

// update applies mutate to a scratch copy and commits it only on success.
func (s *MemoryStore) update(id string, mutate func(job *Job) error) error {
	lock, stored, err := s.lookup(id)
	if err != nil {
		return err
	}

	lock.Lock()
	defer lock.Unlock()

	scratch := stored.Clone()

	mutateErr := mutate(&scratch)
	if mutateErr != nil {
		return fmt.Errorf("job %s: %w", id, mutateErr)
	}

	*stored = scratch

	return nil
}

func page(jobs []Job, limit, offset int) []Job {
	if offset < 0 {
		offset = 0
	}

	if offset >= len(jobs) {
		return []Job{}
	}

	jobs = jobs[offset:]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}

	return jobs
}
