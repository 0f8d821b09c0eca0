package jobs

import (
	"context"
	"sync"
	"time"

	fitq "github.com/wearlab/fitq"
)

// MemoryStore is an in-memory Store for tests and local development. It
// enforces the same transition and invariant rules as the Postgres store.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	jobs     map[int64]*Job
	fittings map[int64]*Fitting
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:   1,
		jobs:     make(map[int64]*Job),
		fittings: make(map[int64]*Fitting),
	}
}

func (s *MemoryStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.ID = s.nextID
	s.nextID++
	job.Status = fitq.StatusQueued
	job.StartedAt = time.Now().UTC()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) GetOwned(ctx context.Context, id, ownerID int64) (*Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return job, nil
}

func (s *MemoryStore) MarkProcessing(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status == fitq.StatusQueued {
		job.Status = fitq.StatusProcessing
	}
	return nil
}

func (s *MemoryStore) MarkCompleted(_ context.Context, id int64, results []string) error {
	if len(results) == 0 {
		return ErrNoResults
	}
	if len(results) > MaxResults {
		results = results[:MaxResults]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	job.Status = fitq.StatusCompleted
	job.Results = append([]string(nil), results...)
	job.ErrorMessage = ""
	job.CompletedAt = &now
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id int64, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	job.Status = fitq.StatusFailed
	job.ErrorMessage = fitq.Truncate(msg, ErrorLimit)
	job.Results = nil
	job.CompletedAt = &now
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) CreateFitting(_ context.Context, ownerID int64, imageURL string) (*Fitting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &Fitting{ID: s.nextID, OwnerID: ownerID, ImageURL: imageURL, CreatedAt: time.Now().UTC()}
	s.nextID++
	s.fittings[f.ID] = f
	cp := *f
	return &cp, nil
}
