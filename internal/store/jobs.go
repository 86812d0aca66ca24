package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"morsel/internal/content"
)

const jobColumns = "id, batch_id, parent_job_id, collection_type, scope, post_ids_json, posts_json, options_json, batch_number, total_batches, status, error_message, result_json, created_at, updated_at, last_heartbeat"

// Enqueue inserts a new pending batch job. A missing batch id is generated;
// a missing parent id defaults to the batch id so single-batch jobs are
// their own parent.
func (s *Store) Enqueue(ctx context.Context, job *BatchJob) (*BatchJob, error) {
	if job == nil {
		return nil, errors.New("job is nil")
	}
	if job.BatchID == "" {
		job.BatchID = uuid.NewString()
	}
	if job.ParentJobID == "" {
		job.ParentJobID = job.BatchID
	}
	if job.BatchNumber <= 0 {
		job.BatchNumber = 1
	}
	if job.TotalBatches <= 0 {
		job.TotalBatches = job.BatchNumber
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	postIDsJSON, err := marshalJSON(job.PostIDs)
	if err != nil {
		return nil, err
	}
	postsJSON := ""
	if len(job.Posts) > 0 {
		postsJSON, err = marshalJSON(job.Posts)
		if err != nil {
			return nil, err
		}
	}
	optionsJSON, err := marshalJSON(job.Options)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO batch_jobs (
            batch_id, parent_job_id, collection_type, scope, post_ids_json,
            posts_json, options_json, batch_number, total_batches, status,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.BatchID,
		job.ParentJobID,
		string(job.CollectionType),
		job.Scope,
		nullableString(postIDsJSON),
		nullableString(postsJSON),
		nullableString(optionsJSON),
		job.BatchNumber,
		job.TotalBatches,
		StatusPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job by row id; nil when absent.
func (s *Store) GetJob(ctx context.Context, id int64) (*BatchJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM batch_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// NextPending returns the oldest pending job, or nil when the queue is idle.
func (s *Store) NextPending(ctx context.Context) (*BatchJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM batch_jobs WHERE status = ? ORDER BY created_at LIMIT 1`, StatusPending)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns jobs filtered by status set, oldest first; all jobs when
// no status is given.
func (s *Store) ListJobs(ctx context.Context, statuses ...JobStatus) ([]*BatchJob, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM batch_jobs`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*BatchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SiblingsCompleted reports whether every other batch of the same parent job
// has finished. Used to decide when a multi-batch job's follow-ups may run.
func (s *Store) SiblingsCompleted(ctx context.Context, parentJobID string, excludeID int64) (bool, error) {
	var open int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM batch_jobs WHERE parent_job_id = ? AND id != ? AND status NOT IN (?, ?)`,
		parentJobID, excludeID, StatusCompleted, StatusFailed,
	).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("count open siblings: %w", err)
	}
	return open == 0, nil
}

// MarkProcessing transitions a job to processing and stamps a heartbeat.
func (s *Store) MarkProcessing(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE batch_jobs SET status = ?, updated_at = ?, last_heartbeat = ? WHERE id = ?`,
		StatusProcessing, now, now, id,
	)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

// MarkCompleted transitions a job to completed and stores its result.
func (s *Store) MarkCompleted(ctx context.Context, id int64, resultJSON string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE batch_jobs SET status = ?, result_json = ?, error_message = NULL, updated_at = ?, last_heartbeat = NULL WHERE id = ?`,
		StatusCompleted, nullableString(resultJSON), time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkFailed transitions a job to failed with its error message.
func (s *Store) MarkFailed(ctx context.Context, id int64, message string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE batch_jobs SET status = ?, error_message = ?, updated_at = ?, last_heartbeat = NULL WHERE id = ?`,
		StatusFailed, nullableString(message), time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// UpdateHeartbeat stamps the heartbeat of an in-flight job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE batch_jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStale returns processing jobs with expired heartbeats back to
// pending so a restarted daemon picks them up.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE batch_jobs
         SET status = ?, last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusProcessing,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed jobs back to pending. With no ids, all failed
// jobs are retried.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if len(ids) == 0 {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE batch_jobs SET status = ?, error_message = NULL, updated_at = ? WHERE status = ?`,
			StatusPending, now, StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed jobs: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+3)
	args = append(args, StatusPending, now)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, StatusFailed)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE batch_jobs SET status = ?, error_message = NULL, updated_at = ? WHERE id IN (`+placeholders+`) AND status = ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("retry selected jobs: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM batch_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// ClearCompleted removes completed jobs.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM batch_jobs WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*BatchJob, error) {
	var (
		id               int64
		batchID          string
		parentJobID      sql.NullString
		collectionType   string
		scope            string
		postIDsJSON      sql.NullString
		postsJSON        sql.NullString
		optionsJSON      sql.NullString
		batchNumber      int
		totalBatches     int
		statusStr        string
		errorMessage     sql.NullString
		resultJSON       sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
		lastHeartbeatRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&batchID,
		&parentJobID,
		&collectionType,
		&scope,
		&postIDsJSON,
		&postsJSON,
		&optionsJSON,
		&batchNumber,
		&totalBatches,
		&statusStr,
		&errorMessage,
		&resultJSON,
		&createdRaw,
		&updatedRaw,
		&lastHeartbeatRaw,
	); err != nil {
		return nil, err
	}

	job := &BatchJob{
		ID:             id,
		BatchID:        batchID,
		ParentJobID:    parentJobID.String,
		CollectionType: CollectionType(collectionType),
		Scope:          scope,
		BatchNumber:    batchNumber,
		TotalBatches:   totalBatches,
		Status:         JobStatus(statusStr),
		ErrorMessage:   errorMessage.String,
		ResultJSON:     resultJSON.String,
	}
	if err := unmarshalJSON(postIDsJSON.String, &job.PostIDs); err != nil {
		return nil, fmt.Errorf("decode post ids: %w", err)
	}
	if postsJSON.Valid && postsJSON.String != "" {
		var posts []content.Post
		if err := unmarshalJSON(postsJSON.String, &posts); err != nil {
			return nil, fmt.Errorf("decode posts: %w", err)
		}
		job.Posts = posts
	}
	if err := unmarshalJSON(optionsJSON.String, &job.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	return job, nil
}
