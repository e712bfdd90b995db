// Package store persists jobs and their segments in SQLite. It is the
// unit of durability for background exports: every status transition is a
// single-row conditional update keyed by job id, so concurrent workers
// cannot interleave on the same job.
package store

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/yokitheyo/jira-export/internal/model"
)

type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; serializing through a single connection
	// avoids SQLITE_BUSY under the worker pool.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			project_key TEXT NOT NULL,
			download_type TEXT NOT NULL,
			file_format TEXT NOT NULL,
			output_dir TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			error TEXT NOT NULL DEFAULT '',
			ticket_file TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			completed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS segments (
			job_id TEXT NOT NULL,
			number INTEGER NOT NULL,
			total INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'ready',
			file_path TEXT NOT NULL,
			file_count INTEGER NOT NULL,
			size_bytes INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (job_id, number),
			FOREIGN KEY (job_id) REFERENCES jobs(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at)`,
	}
	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// CreateJob inserts a new job in pending status, assigning its id and
// timestamps.
func (s *Store) CreateJob(job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	job.Status = model.StatusPending
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.db.Exec(
		`INSERT INTO jobs (id, project_key, download_type, file_format, output_dir, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ProjectKey, string(job.DownloadType), string(job.FileFormat),
		job.OutputDir, string(job.Status), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

const jobColumns = `id, project_key, download_type, file_format, output_dir, status, error, ticket_file, created_at, updated_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*model.Job, error) {
	var job model.Job
	var completedAt sql.NullTime
	err := row.Scan(
		&job.ID, &job.ProjectKey, &job.DownloadType, &job.FileFormat,
		&job.OutputDir, &job.Status, &job.Error, &job.TicketFile,
		&job.CreatedAt, &job.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

// GetJob returns the job with its segments attached once it has
// completed. Segments of in-flight jobs stay hidden so clients never see
// a partial segment list.
func (s *Store) GetJob(id string) (*model.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if job.Status == model.StatusCompleted {
		job.Segments, err = s.segmentsForJob(job.ID)
		if err != nil {
			return nil, err
		}
	}
	return job, nil
}

// ListJobs returns all jobs, newest first, without segment lists.
func (s *Store) ListJobs() ([]*model.Job, error) {
	rows, err := s.db.Query(`SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListPendingJobs returns claimable jobs: cheap tickets-only jobs first,
// then submission order.
func (s *Store) ListPendingJobs() ([]*model.Job, error) {
	rows, err := s.db.Query(
		`SELECT `+jobColumns+` FROM jobs WHERE status = ?
		 ORDER BY CASE download_type WHEN 'tickets' THEN 0 ELSE 1 END, created_at ASC, id ASC`,
		string(model.StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimJob atomically moves a pending job to processing. It returns false
// when another worker got there first or the job was cancelled.
func (s *Store) ClaimJob(id string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.StatusProcessing), time.Now().UTC(), id, string(model.StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompleteJob marks a processing job completed and records the ticket
// export file, if any.
func (s *Store) CompleteJob(id, ticketFile string) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, ticket_file = ?, updated_at = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(model.StatusCompleted), ticketFile, now, now, id, string(model.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return requireOneRow(res, id)
}

// FailJob marks a processing job failed with the given error text.
func (s *Store) FailJob(id, errText string) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, error = ?, updated_at = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(model.StatusFailed), errText, now, now, id, string(model.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return requireOneRow(res, id)
}

// CancelJob cancels a job if and only if it is still pending. A job that
// was already claimed, finished, or cancelled returns ErrCannotCancel
// without mutating anything.
func (s *Store) CancelJob(id string) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, updated_at = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(model.StatusCancelled), now, now, id, string(model.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	// Distinguish a missing job from an illegal transition.
	if _, err := s.GetJob(id); err != nil {
		return err
	}
	return model.ErrCannotCancel
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("job %s is not in a processing state", id)
	}
	return nil
}

// InsertSegments bulk-inserts the segment rows of a finished build in one
// transaction.
func (s *Store) InsertSegments(jobID string, segments []*model.Segment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, seg := range segments {
		seg.JobID = jobID
		seg.Status = model.SegmentReady
		seg.CreatedAt = now
		seg.UpdatedAt = now
		_, err := tx.Exec(
			`INSERT INTO segments (job_id, number, total, status, file_path, file_count, size_bytes, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			jobID, seg.Number, seg.Total, string(seg.Status), seg.FilePath, seg.FileCount, seg.SizeBytes, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert segment %d: %w", seg.Number, err)
		}
	}
	return tx.Commit()
}

// GetSegment returns one segment of a completed job.
func (s *Store) GetSegment(jobID string, number int) (*model.Segment, error) {
	row := s.db.QueryRow(
		`SELECT job_id, number, total, status, file_path, file_count, size_bytes, created_at, updated_at
		 FROM segments WHERE job_id = ? AND number = ?`, jobID, number)
	seg, err := scanSegment(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrSegmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}
	return seg, nil
}

// MarkSegmentDelivered records that a segment archive was retrieved.
func (s *Store) MarkSegmentDelivered(jobID string, number int) error {
	_, err := s.db.Exec(
		`UPDATE segments SET status = ?, updated_at = ? WHERE job_id = ? AND number = ?`,
		string(model.SegmentDelivered), time.Now().UTC(), jobID, number,
	)
	if err != nil {
		return fmt.Errorf("failed to update segment: %w", err)
	}
	return nil
}

func scanSegment(row interface{ Scan(...any) error }) (*model.Segment, error) {
	var seg model.Segment
	err := row.Scan(
		&seg.JobID, &seg.Number, &seg.Total, &seg.Status,
		&seg.FilePath, &seg.FileCount, &seg.SizeBytes,
		&seg.CreatedAt, &seg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &seg, nil
}

func (s *Store) segmentsForJob(jobID string) ([]*model.Segment, error) {
	rows, err := s.db.Query(
		`SELECT job_id, number, total, status, file_path, file_count, size_bytes, created_at, updated_at
		 FROM segments WHERE job_id = ? ORDER BY number ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	var segments []*model.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// ListExpiredJobs returns terminal jobs last touched before cutoff, with
// their segments attached so the sweep can remove files.
func (s *Store) ListExpiredJobs(cutoff time.Time) ([]*model.Job, error) {
	rows, err := s.db.Query(
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN (?, ?, ?) AND updated_at < ?`,
		string(model.StatusCompleted), string(model.StatusFailed), string(model.StatusCancelled),
		cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, job := range jobs {
		job.Segments, err = s.segmentsForJob(job.ID)
		if err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// DeleteJob removes a job and its segments atomically.
func (s *Store) DeleteJob(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM segments WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete segments: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return tx.Commit()
}
