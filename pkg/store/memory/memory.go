// Package memory keeps job records in process memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/jobs"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

type Store struct {
	mu   sync.RWMutex
	jobs map[string]model.Job
}

func New() *Store {
	return &Store{jobs: make(map[string]model.Job)}
}

func (s *Store) Add(_ context.Context, job model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return utils.WrapIfNotNil(fmt.Errorf("job %s already exists", job.ID))
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Update replaces the stored record, inserting it when absent.
func (s *Store) Update(_ context.Context, job model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *Store) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return utils.WrapIfNotNil(fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id))
	}
	delete(s.jobs, id)
	return nil
}

func (s *Store) List(_ context.Context) ([]model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Get returns one stored record.
func (s *Store) Get(_ context.Context, id string) (model.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	return job.Clone(), ok
}
