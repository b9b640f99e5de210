package store

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"feedbackd/internal/domain"
)

// ErrNotFound is returned when a referenced entity no longer exists.
var ErrNotFound = errors.New("not found")

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS feedback_items (
		id           TEXT PRIMARY KEY,
		body         TEXT NOT NULL,
		kind         TEXT NOT NULL DEFAULT 'general',
		status       TEXT NOT NULL DEFAULT 'awaiting_analysis',
		sentiment    TEXT DEFAULT '',
		urgency      REAL DEFAULT 0,
		importance   REAL DEFAULT 0,
		clarity      REAL DEFAULT 0,
		quality      REAL DEFAULT 0,
		helpfulness  REAL DEFAULT 0,
		aggregate    REAL DEFAULT 0,
		severity     TEXT DEFAULT '',
		theme        TEXT DEFAULT '',
		topic_id     TEXT DEFAULT '',
		inquiry_id   TEXT DEFAULT '',
		department   TEXT DEFAULT '',
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_status ON feedback_items(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_feedback_topic ON feedback_items(topic_id);
	CREATE INDEX IF NOT EXISTS idx_feedback_inquiry ON feedback_items(inquiry_id);

	CREATE TABLE IF NOT EXISTS topics (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		department    TEXT DEFAULT '',
		archived      INTEGER NOT NULL DEFAULT 0,
		summary       TEXT DEFAULT '',
		summarized_at DATETIME,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_topics_archived ON topics(archived);

	CREATE TABLE IF NOT EXISTS inquiries (
		id            TEXT PRIMARY KEY,
		question      TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'open',
		summary       TEXT DEFAULT '',
		summarized_at DATETIME,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS usage_log (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		operation         TEXT NOT NULL,
		prompt_tokens     INTEGER NOT NULL,
		completion_tokens INTEGER NOT NULL,
		cost              REAL NOT NULL,
		metadata          TEXT DEFAULT '',
		created_at        DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_usage_created ON usage_log(created_at);
	CREATE INDEX IF NOT EXISTS idx_usage_operation ON usage_log(operation);

	CREATE TABLE IF NOT EXISTS jobs (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		target_id   TEXT DEFAULT '',
		state       TEXT NOT NULL DEFAULT 'queued',
		attempts    INTEGER NOT NULL DEFAULT 0,
		error       TEXT DEFAULT '',
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		started_at  DATETIME,
		finished_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state, created_at);
	`
	if _, err = db.Exec(schema); err != nil {
		return nil, err
	}

	// Serialize writers; sqlite handles one writer at a time anyway.
	db.SetMaxOpenConns(1)
	if _, err = db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		return nil, err
	}

	return db, nil
}

func InsertFeedback(db *sql.DB, item domain.FeedbackItem) error {
	_, err := db.Exec(
		`INSERT INTO feedback_items (id, body, kind, status, inquiry_id, department, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Body, item.Kind, domain.StatusAwaitingAnalysis,
		item.InquiryID, item.Department, item.CreatedAt, item.CreatedAt,
	)
	return err
}

const feedbackColumns = `id, body, kind, status, sentiment,
	urgency, importance, clarity, quality, helpfulness,
	aggregate, severity, theme, topic_id, inquiry_id, department,
	created_at, updated_at, processed_at`

func scanFeedback(row interface{ Scan(...any) error }) (domain.FeedbackItem, error) {
	var item domain.FeedbackItem
	var processed sql.NullTime
	err := row.Scan(
		&item.ID, &item.Body, &item.Kind, &item.Status, &item.Sentiment,
		&item.Scores.Urgency, &item.Scores.Importance, &item.Scores.Clarity,
		&item.Scores.Quality, &item.Scores.Helpfulness,
		&item.Aggregate, &item.Severity, &item.Theme, &item.TopicID,
		&item.InquiryID, &item.Department,
		&item.CreatedAt, &item.UpdatedAt, &processed,
	)
	if processed.Valid {
		item.ProcessedAt = processed.Time
	}
	return item, err
}

func GetFeedbackByID(db *sql.DB, id string) (domain.FeedbackItem, error) {
	item, err := scanFeedback(db.QueryRow(
		`SELECT `+feedbackColumns+` FROM feedback_items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return item, ErrNotFound
	}
	return item, err
}

// GetPendingFeedback returns items still awaiting analysis, oldest first,
// capped at limit. Items with a processed timestamp are excluded.
func GetPendingFeedback(db *sql.DB, limit int) ([]domain.FeedbackItem, error) {
	rows, err := db.Query(
		`SELECT `+feedbackColumns+` FROM feedback_items
		 WHERE status = ? AND processed_at IS NULL
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		domain.StatusAwaitingAnalysis, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.FeedbackItem
	for rows.Next() {
		item, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ApplyAnalysis writes the full classification result in one statement,
// guarded on the item still awaiting analysis. Returns false when the guard
// did not match (already analyzed, or gone), leaving the row untouched.
func ApplyAnalysis(db *sql.DB, id string, item domain.FeedbackItem) (bool, error) {
	now := time.Now().UTC()
	res, err := db.Exec(
		`UPDATE feedback_items
		 SET status = ?, sentiment = ?,
		     urgency = ?, importance = ?, clarity = ?, quality = ?, helpfulness = ?,
		     aggregate = ?, severity = ?, theme = ?, topic_id = ?,
		     updated_at = ?, processed_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusAnalyzed, item.Sentiment,
		item.Scores.Urgency, item.Scores.Importance, item.Scores.Clarity,
		item.Scores.Quality, item.Scores.Helpfulness,
		item.Aggregate, item.Severity, item.Theme, item.TopicID,
		now, now,
		id, domain.StatusAwaitingAnalysis,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func GetFeedbackByTopic(db *sql.DB, topicID string) ([]domain.FeedbackItem, error) {
	return queryFeedback(db,
		`SELECT `+feedbackColumns+` FROM feedback_items
		 WHERE topic_id = ? AND status = ?
		 ORDER BY created_at ASC`, topicID, domain.StatusAnalyzed)
}

func GetFeedbackByInquiry(db *sql.DB, inquiryID string) ([]domain.FeedbackItem, error) {
	return queryFeedback(db,
		`SELECT `+feedbackColumns+` FROM feedback_items
		 WHERE inquiry_id = ? AND status = ?
		 ORDER BY created_at ASC`, inquiryID, domain.StatusAnalyzed)
}

func queryFeedback(db *sql.DB, query string, args ...any) ([]domain.FeedbackItem, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.FeedbackItem
	for rows.Next() {
		item, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CollectionStats identifies the analyzed contents of a topic or inquiry at a
// point in time. The summary cache keys off these fields so re-summarizing
// without new data is a cache hit.
type CollectionStats struct {
	Count       int
	LastUpdated time.Time
}

func GetTopicStats(db *sql.DB, topicID string) (CollectionStats, error) {
	return collectionStats(db, "topic_id", topicID)
}

func GetInquiryStats(db *sql.DB, inquiryID string) (CollectionStats, error) {
	return collectionStats(db, "inquiry_id", inquiryID)
}

func collectionStats(db *sql.DB, column, id string) (CollectionStats, error) {
	var s CollectionStats
	err := db.QueryRow(
		`SELECT COUNT(*) FROM feedback_items WHERE `+column+` = ? AND status = ?`,
		id, domain.StatusAnalyzed,
	).Scan(&s.Count)
	if err != nil || s.Count == 0 {
		return s, err
	}

	// Direct column reference so the driver keeps the DATETIME decltype.
	err = db.QueryRow(
		`SELECT updated_at FROM feedback_items
		 WHERE `+column+` = ? AND status = ?
		 ORDER BY updated_at DESC LIMIT 1`,
		id, domain.StatusAnalyzed,
	).Scan(&s.LastUpdated)
	return s, err
}
