package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"ClaimSync/internal/models"
)

const jobColumns = `id, filename, category, facility_code, report_date, sequence_id, status, file_checksum,
	total_rows, imported_rows, failed_rows, skipped_rows, truncated_cells, unmapped_headers, warnings,
	low_confidence, error_detail, attempts, created_at, started_at, completed_at, updated_at`

// RegisterJob inserts job unless its filename is already known, then returns
// the stored row.
func (s *Store) RegisterJob(ctx context.Context, job *models.ImportJob) (*models.ImportJob, error) {
	id := job.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO import_jobs (id, filename, category, facility_code, report_date, sequence_id, status, file_checksum, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (filename) DO NOTHING`,
		id, job.Filename, string(job.Category), job.FacilityCode, job.ReportDate, job.SequenceID,
		string(models.JobPending), job.FileChecksum, job.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetJob(ctx, job.Filename)
}

func (s *Store) GetJob(ctx context.Context, filename string) (*models.ImportJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE filename = $1`, filename)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", filename, err)
	}
	return job, nil
}

// SaveJob writes every mutable column of job.
func (s *Store) SaveJob(ctx context.Context, job *models.ImportJob) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_jobs SET
			status = $2, file_checksum = $3, total_rows = $4, imported_rows = $5, failed_rows = $6,
			skipped_rows = $7, truncated_cells = $8, unmapped_headers = $9, warnings = $10,
			low_confidence = $11, error_detail = $12, attempts = $13, started_at = $14,
			completed_at = $15, updated_at = $16
		WHERE id = $1`,
		job.ID, string(job.Status), job.FileChecksum, job.TotalRows, job.ImportedRows, job.FailedRows,
		job.SkippedRows, job.TruncatedCells, nonNil(job.UnmappedHeaders), nonNil(job.Warnings),
		job.LowConfidence, job.ErrorDetail, job.Attempts, job.StartedAt,
		job.CompletedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.Filename, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrJobNotFound
	}
	return nil
}

// ListJobs returns the most recently updated jobs first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*models.ImportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM import_jobs ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*models.ImportJob, error) {
	var (
		job              models.ImportJob
		category, status string
	)
	err := row.Scan(
		&job.ID, &job.Filename, &category, &job.FacilityCode, &job.ReportDate, &job.SequenceID, &status,
		&job.FileChecksum, &job.TotalRows, &job.ImportedRows, &job.FailedRows, &job.SkippedRows,
		&job.TruncatedCells, &job.UnmappedHeaders, &job.Warnings, &job.LowConfidence, &job.ErrorDetail,
		&job.Attempts, &job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Category = models.Category(category)
	job.Status = models.JobStatus(status)
	return &job, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
