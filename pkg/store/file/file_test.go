package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/jobs"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/stretchr/testify/suite"
)

type FileStoreSuite struct {
	suite.Suite
	path  string
	store *Store
}

func TestFileStoreSuite(t *testing.T) {
	suite.Run(t, new(FileStoreSuite))
}

func (s *FileStoreSuite) SetupTest() {
	s.path = filepath.Join(s.T().TempDir(), "state", "jobs.json")
	s.store = New(s.path)
}

func (s *FileStoreSuite) TestListOnMissingFileIsEmpty() {
	got, err := s.store.List(context.Background())
	s.Require().NoError(err)
	s.Empty(got)
}

func (s *FileStoreSuite) TestPersistsAcrossInstances() {
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	second := model.Job{ID: "b", Filename: "b.wav", Status: model.JobStatusQueued, CreatedAt: created.Add(time.Minute)}
	first := model.Job{ID: "a", Filename: "a.wav", Status: model.JobStatusQueued, CreatedAt: created}
	s.Require().NoError(s.store.Add(ctx, second))
	s.Require().NoError(s.store.Add(ctx, first))

	first.Status = model.JobStatusCompleted
	first.Result = &model.Result{Text: "hello", Segments: []model.Segment{{Start: 0, End: 1, Text: "hello"}}}
	s.Require().NoError(s.store.Update(ctx, first))

	reopened := New(s.path)
	got, err := reopened.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal("a", got[0].ID)
	s.Equal(model.JobStatusCompleted, got[0].Status)
	s.Require().NotNil(got[0].Result)
	s.Equal("hello", got[0].Result.Text)
	s.Equal("b", got[1].ID)
}

func (s *FileStoreSuite) TestAddRejectsDuplicate() {
	ctx := context.Background()
	s.Require().NoError(s.store.Add(ctx, model.Job{ID: "a"}))
	s.Error(s.store.Add(ctx, model.Job{ID: "a"}))
}

func (s *FileStoreSuite) TestRemove() {
	ctx := context.Background()
	s.Require().NoError(s.store.Add(ctx, model.Job{ID: "a"}))
	s.Require().NoError(s.store.Remove(ctx, "a"))

	got, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Empty(got)

	s.ErrorIs(s.store.Remove(ctx, "a"), jobs.ErrJobNotFound)
}

func (s *FileStoreSuite) TestNoTempFilesLeftBehind() {
	ctx := context.Background()
	s.Require().NoError(s.store.Add(ctx, model.Job{ID: "a"}))
	s.Require().NoError(s.store.Update(ctx, model.Job{ID: "a", Status: model.JobStatusFailed}))

	entries, err := os.ReadDir(filepath.Dir(s.path))
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("jobs.json", entries[0].Name())
}

func (s *FileStoreSuite) TestCorruptDocumentIsAnError() {
	s.Require().NoError(os.MkdirAll(filepath.Dir(s.path), 0o755))
	s.Require().NoError(os.WriteFile(s.path, []byte("{not json"), 0o644))

	_, err := s.store.List(context.Background())
	s.Error(err)
}
