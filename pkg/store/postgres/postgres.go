// Package postgres stores job records and indexes finished transcripts in PostgreSQL.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/jobs"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/logging"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

//go:embed schema.sql
var sqlFS embed.FS

const uniqueViolation = "23505"

// Store implements jobs.Store and jobs.Indexer over one connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects, applies the embedded schema and returns a ready store.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, utils.WrapIfNotNil(errors.New("database url is required"))
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, utils.WrapIfNotNil(fmt.Errorf("unable to connect to database: %w", err))
	}

	schema, err := sqlFS.ReadFile("schema.sql")
	if err != nil {
		pool.Close()
		return nil, utils.WrapIfNotNil(fmt.Errorf("failed to read embedded schema.sql: %w", err))
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		pool.Close()
		return nil, utils.WrapIfNotNil(fmt.Errorf("failed to execute embedded schema.sql: %w", err))
	}

	logging.NewComponentLogger(ctx, "store").Infof("postgres_store_ready")
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Add(ctx context.Context, job model.Job) error {
	result, err := encodeResult(job.Result)
	if err != nil {
		return utils.WrapIfNotNil(err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO stt_jobs (id, filename, source_ref, prepared_ref, status, progress, stage, error, result, duration, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.Filename, job.SourceRef, job.PreparedRef, string(job.Status), job.Progress,
		job.Stage, job.Error, result, job.Duration, job.CreatedAt, updatedAt(job),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return utils.WrapIfNotNil(fmt.Errorf("job %s already exists: %w", job.ID, err))
	}
	return utils.WrapIfNotNil(err)
}

// Update upserts the job record.
func (s *Store) Update(ctx context.Context, job model.Job) error {
	result, err := encodeResult(job.Result)
	if err != nil {
		return utils.WrapIfNotNil(err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO stt_jobs (id, filename, source_ref, prepared_ref, status, progress, stage, error, result, duration, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			filename = EXCLUDED.filename,
			source_ref = EXCLUDED.source_ref,
			prepared_ref = EXCLUDED.prepared_ref,
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			stage = EXCLUDED.stage,
			error = EXCLUDED.error,
			result = EXCLUDED.result,
			duration = EXCLUDED.duration,
			updated_at = EXCLUDED.updated_at`,
		job.ID, job.Filename, job.SourceRef, job.PreparedRef, string(job.Status), job.Progress,
		job.Stage, job.Error, result, job.Duration, job.CreatedAt, updatedAt(job),
	)
	return utils.WrapIfNotNil(err)
}

func (s *Store) Remove(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stt_jobs WHERE id = $1`, id)
	if err != nil {
		return utils.WrapIfNotNil(err)
	}
	if tag.RowsAffected() == 0 {
		return utils.WrapIfNotNil(fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id))
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, filename, source_ref, prepared_ref, status, progress, stage, error, result, duration, created_at, updated_at
		FROM stt_jobs
		ORDER BY created_at, id`)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	out, err := pgx.CollectRows(rows, scanJob)
	return out, utils.WrapIfNotNil(err)
}

// Index stores the transcript text for full-text search.
func (s *Store) Index(ctx context.Context, result model.Result, metadata map[string]string) error {
	jobID := strings.TrimSpace(metadata["job_id"])
	if jobID == "" {
		return utils.WrapIfNotNil(errors.New("index metadata is missing job_id"))
	}

	encoded, err := json.Marshal(metadata)
	if err != nil {
		return utils.WrapIfNotNil(err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO stt_transcripts (job_id, filename, provider, language, body, metadata, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (job_id) DO UPDATE SET
			filename = EXCLUDED.filename,
			provider = EXCLUDED.provider,
			language = EXCLUDED.language,
			body = EXCLUDED.body,
			metadata = EXCLUDED.metadata,
			indexed_at = now()`,
		jobID, metadata["filename"], string(result.Provider), result.Language, result.Text, encoded,
	)
	return utils.WrapIfNotNil(err)
}

// SearchHit is one transcript matching a full-text query.
type SearchHit struct {
	JobID    string `json:"job_id"`
	Filename string `json:"filename"`
	Snippet  string `json:"snippet"`
}

// Search runs a full-text query over indexed transcripts.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, filename,
			ts_headline('simple', body, plainto_tsquery('simple', $1))
		FROM stt_transcripts
		WHERE to_tsvector('simple', body) @@ plainto_tsquery('simple', $1)
		ORDER BY indexed_at DESC
		LIMIT $2`, query, limit)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SearchHit, error) {
		var hit SearchHit
		err := row.Scan(&hit.JobID, &hit.Filename, &hit.Snippet)
		return hit, err
	})
	return hits, utils.WrapIfNotNil(err)
}

func scanJob(row pgx.CollectableRow) (model.Job, error) {
	var (
		job    model.Job
		status string
		result []byte
	)
	err := row.Scan(
		&job.ID, &job.Filename, &job.SourceRef, &job.PreparedRef, &status, &job.Progress,
		&job.Stage, &job.Error, &result, &job.Duration, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return model.Job{}, err
	}
	job.Status = model.JobStatus(status)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()

	if len(result) > 0 {
		var decoded model.Result
		if err := json.Unmarshal(result, &decoded); err != nil {
			return model.Job{}, fmt.Errorf("decode result for job %s: %w", job.ID, err)
		}
		job.Result = &decoded
	}
	return job, nil
}

func encodeResult(result *model.Result) ([]byte, error) {
	if result == nil {
		return nil, nil
	}
	return json.Marshal(result)
}

func updatedAt(job model.Job) time.Time {
	if job.UpdatedAt.IsZero() {
		return time.Now().UTC()
	}
	return job.UpdatedAt
}
