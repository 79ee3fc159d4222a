package jobs

import (
	"context"
	"errors"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrWaitTimeout       = errors.New("timed out waiting for job")
	ErrManagerClosed     = errors.New("job manager closed")
)

// Store persists job records. Implementations must be safe for concurrent use.
type Store interface {
	Add(ctx context.Context, job model.Job) error
	Update(ctx context.Context, job model.Job) error
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]model.Job, error)
}

// Indexer receives completed results. Failures never affect the job.
type Indexer interface {
	Index(ctx context.Context, result model.Result, metadata map[string]string) error
}

// IndexerFunc adapts a function to Indexer.
type IndexerFunc func(ctx context.Context, result model.Result, metadata map[string]string) error

func (f IndexerFunc) Index(ctx context.Context, result model.Result, metadata map[string]string) error {
	return f(ctx, result, metadata)
}

type nopIndexer struct{}

func (nopIndexer) Index(context.Context, model.Result, map[string]string) error {
	return nil
}
