package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/streamspace/streamspace/api/internal/models"
)

// ErrTerminalOverwrite is returned when an upsert would replace a terminal
// job status with a non-terminal one.
var ErrTerminalOverwrite = errors.New("cannot overwrite terminal job status with a non-terminal one")

// UpsertJob creates a job row on first "running" and replaces it on
// terminal transition. Fails with ErrTerminalOverwrite if a terminal status
// is already stored and job.Status is not terminal.
func (s *Store) UpsertJob(ctx context.Context, job models.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert job: begin tx: %w", err)
	}
	defer tx.Rollback()

	var existingStatus sql.NullString
	var existingSummary sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT status, summary FROM jobs WHERE id = $1`, job.ID).Scan(&existingStatus, &existingSummary)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO jobs (id, task_id, user_id, session_key, status, started_at, finished_at, duration_ms, summary)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, job.ID, job.TaskID, job.UserID, job.SessionKey, string(job.Status), job.StartedAt,
			job.FinishedAt, job.DurationMs, job.Summary)
		if err != nil {
			return fmt.Errorf("upsert job: insert: %w", err)
		}
		return tx.Commit()
	case err != nil:
		return fmt.Errorf("upsert job: lookup: %w", err)
	}

	if models.JobStatus(existingStatus.String).IsTerminal() && !job.Status.IsTerminal() {
		return ErrTerminalOverwrite
	}

	// Prefer the longer of the two summaries when reconciling: an
	// in-memory summary advanced past what was last persisted must not
	// regress on a terminal write that races a late job.output.
	summary := job.Summary
	if len(existingSummary.String) > len(summary) {
		summary = existingSummary.String
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, finished_at = $2, duration_ms = $3, summary = $4
		WHERE id = $5
	`, string(job.Status), job.FinishedAt, job.DurationMs, summary, job.ID)
	if err != nil {
		return fmt.Errorf("upsert job: update: %w", err)
	}

	return tx.Commit()
}

// AppendJobOutput replaces a running job's summary with the latest
// cumulative text. Dropped (returns ErrTerminalOverwrite) if the job is
// already terminal: any terminal status freezes the job, and a subsequent
// job.output for it is dropped and logged rather than applied.
func (s *Store) AppendJobOutput(ctx context.Context, jobID, text string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET summary = $1 WHERE id = $2 AND status = $3
	`, text, jobID, string(models.JobRunning))
	if err != nil {
		return fmt.Errorf("append job output: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append job output: rows affected: %w", err)
	}
	if n == 0 {
		return ErrTerminalOverwrite
	}
	return nil
}

// ListJobsByTask returns up to limit jobs for taskID ordered by startedAt
// descending (most recent first).
func (s *Store) ListJobsByTask(ctx context.Context, taskID string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, user_id, session_key, status, started_at, finished_at, duration_ms, summary
		FROM jobs WHERE task_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs by task: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		var j models.Job
		var status string
		var finishedAt, durationMs sql.NullInt64
		var summary sql.NullString
		if err := rows.Scan(&j.ID, &j.TaskID, &j.UserID, &j.SessionKey, &status, &j.StartedAt, &finishedAt, &durationMs, &summary); err != nil {
			return nil, fmt.Errorf("list jobs by task: scan: %w", err)
		}
		j.Status = models.JobStatus(status)
		if finishedAt.Valid {
			v := finishedAt.Int64
			j.FinishedAt = &v
		}
		if durationMs.Valid {
			v := durationMs.Int64
			j.DurationMs = &v
		}
		j.Summary = summary.String
		out = append(out, j)
	}
	return out, rows.Err()
}
