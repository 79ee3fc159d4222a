// Package file persists job records in a single JSON document on disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/jobs"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

type document struct {
	Jobs []model.Job `json:"jobs"`
}

// Store rewrites the whole document on every change. Writes go through a temp file
// and rename so a crash never leaves a truncated document.
type Store struct {
	mu   sync.Mutex
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Add(_ context.Context, job model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return utils.WrapIfNotNil(err)
	}
	if _, exists := all[job.ID]; exists {
		return utils.WrapIfNotNil(fmt.Errorf("job %s already exists", job.ID))
	}
	all[job.ID] = job
	return utils.WrapIfNotNil(s.save(all))
}

// Update replaces the stored record, inserting it when absent.
func (s *Store) Update(_ context.Context, job model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return utils.WrapIfNotNil(err)
	}
	all[job.ID] = job
	return utils.WrapIfNotNil(s.save(all))
}

func (s *Store) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return utils.WrapIfNotNil(err)
	}
	if _, ok := all[id]; !ok {
		return utils.WrapIfNotNil(fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id))
	}
	delete(all, id)
	return utils.WrapIfNotNil(s.save(all))
}

func (s *Store) List(_ context.Context) ([]model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	return sorted(all), nil
}

func (s *Store) load() (map[string]model.Job, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]model.Job), nil
		}
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}

	out := make(map[string]model.Job, len(doc.Jobs))
	for _, job := range doc.Jobs {
		out[job.ID] = job
	}
	return out, nil
}

func (s *Store) save(all map[string]model.Job) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(document{Jobs: sorted(all)}, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func sorted(all map[string]model.Job) []model.Job {
	out := make([]model.Job, 0, len(all))
	for _, job := range all {
		out = append(out, job)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
