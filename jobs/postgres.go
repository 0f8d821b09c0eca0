package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	fitq "github.com/wearlab/fitq"
)

// PostgresStore is the production Store backed by a pgx connection pool.
// Schema lives in schema.sql.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool for the given URL.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) Create(ctx context.Context, job *Job) error {
	job.Status = fitq.StatusQueued
	job.StartedAt = time.Now().UTC()
	return s.pool.QueryRow(ctx,
		`INSERT INTO fitting_jobs (owner_id, status, model_image_path, cloth_image_path, started_at)
         VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		job.OwnerID, job.Status, job.ModelImagePath, job.ClothImagePath, job.StartedAt,
	).Scan(&job.ID)
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Job, error) {
	return s.get(ctx,
		`SELECT id, owner_id, status, model_image_path, cloth_image_path, results, error_message, started_at, completed_at
         FROM fitting_jobs WHERE id = $1`, id)
}

func (s *PostgresStore) GetOwned(ctx context.Context, id, ownerID int64) (*Job, error) {
	return s.get(ctx,
		`SELECT id, owner_id, status, model_image_path, cloth_image_path, results, error_message, started_at, completed_at
         FROM fitting_jobs WHERE id = $1 AND owner_id = $2`, id, ownerID)
}

func (s *PostgresStore) get(ctx context.Context, query string, args ...any) (*Job, error) {
	var job Job
	var status string
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&job.ID, &job.OwnerID, &status, &job.ModelImagePath, &job.ClothImagePath,
		&job.Results, &job.ErrorMessage, &job.StartedAt, &job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = fitq.Status(status)
	return &job, nil
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fitting_jobs SET status = $1 WHERE id = $2 AND status = $3`,
		fitq.StatusProcessing, id, fitq.StatusQueued,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	return nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id int64, results []string) error {
	if len(results) == 0 {
		return ErrNoResults
	}
	if len(results) > MaxResults {
		results = results[:MaxResults]
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE fitting_jobs SET status = $1, results = $2, error_message = '', completed_at = NOW()
         WHERE id = $3 AND status IN ($4, $5)`,
		fitq.StatusCompleted, results, id, fitq.StatusQueued, fitq.StatusProcessing,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id int64, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fitting_jobs SET status = $1, error_message = $2, results = NULL, completed_at = NOW()
         WHERE id = $3 AND status IN ($4, $5)`,
		fitq.StatusFailed, fitq.Truncate(msg, ErrorLimit), id, fitq.StatusQueued, fitq.StatusProcessing,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	return nil
}

// missingOrTerminal disambiguates a zero-row guard update: absent rows are
// ErrNotFound, rows already in a terminal state are a silent no-op.
func (s *PostgresStore) missingOrTerminal(ctx context.Context, id int64) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM fitting_jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fitting_jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateFitting(ctx context.Context, ownerID int64, imageURL string) (*Fitting, error) {
	f := &Fitting{OwnerID: ownerID, ImageURL: imageURL, CreatedAt: time.Now().UTC()}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO fittings (owner_id, image_url, created_at) VALUES ($1, $2, $3) RETURNING fitting_id`,
		ownerID, imageURL, f.CreatedAt,
	).Scan(&f.ID)
	if err != nil {
		return nil, err
	}
	return f, nil
}
