package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Job states.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

type Job struct {
	ID         string
	Kind       string
	TargetID   string
	State      string
	Attempts   int
	Error      string
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

func EnqueueJob(db *sql.DB, kind, targetID string) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO jobs (id, kind, target_id, state, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, kind, targetID, JobQueued, time.Now().UTC(),
	)
	return id, err
}

// ClaimNextJob atomically moves the oldest queued job to running and returns
// it. Returns ErrNotFound when the queue is empty.
func ClaimNextJob(db *sql.DB) (Job, error) {
	tx, err := db.Begin()
	if err != nil {
		return Job{}, err
	}
	defer tx.Rollback()

	job, err := scanJob(tx.QueryRow(
		`SELECT ` + jobColumns + ` FROM jobs
		 WHERE state = 'queued'
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(
		`UPDATE jobs SET state = 'running', attempts = attempts + 1, started_at = ?
		 WHERE id = ?`,
		now, job.ID,
	); err != nil {
		return Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return Job{}, err
	}

	job.State = JobRunning
	job.Attempts++
	job.StartedAt = now
	return job, nil
}

func MarkJobDone(db *sql.DB, id string) error {
	_, err := db.Exec(
		`UPDATE jobs SET state = 'succeeded', error = '', finished_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	return err
}

func MarkJobFailed(db *sql.DB, id string, jobErr error) error {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	_, err := db.Exec(
		`UPDATE jobs SET state = 'failed', error = ?, finished_at = ? WHERE id = ?`,
		msg, time.Now().UTC(), id,
	)
	return err
}

// ResetStaleJobs re-queues jobs left running by a previous process that died
// mid-execution. Called once at startup.
func ResetStaleJobs(db *sql.DB) (int, error) {
	res, err := db.Exec(`UPDATE jobs SET state = 'queued' WHERE state = 'running'`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func GetJobByID(db *sql.DB, id string) (Job, error) {
	job, err := scanJob(db.QueryRow(
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return job, ErrNotFound
	}
	return job, err
}

func ListRecentJobs(db *sql.DB, limit int) ([]Job, error) {
	rows, err := db.Query(
		`SELECT `+jobColumns+` FROM jobs
		 ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

const jobColumns = `id, kind, target_id, state, attempts, error, created_at, started_at, finished_at`

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var job Job
	var started, finished sql.NullTime
	err := row.Scan(
		&job.ID, &job.Kind, &job.TargetID, &job.State, &job.Attempts,
		&job.Error, &job.CreatedAt, &started, &finished,
	)
	if started.Valid {
		job.StartedAt = started.Time
	}
	if finished.Valid {
		job.FinishedAt = finished.Time
	}
	return job, err
}
