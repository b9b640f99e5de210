package store

import (
	"database/sql"
	"errors"
	"time"

	"feedbackd/internal/domain"
)

func InsertTopic(db *sql.DB, topic domain.Topic) error {
	_, err := db.Exec(
		`INSERT INTO topics (id, name, department, archived, created_at)
		 VALUES (?, ?, ?, 0, ?)`,
		topic.ID, topic.Name, topic.Department, topic.CreatedAt,
	)
	return err
}

func GetTopicByID(db *sql.DB, id string) (domain.Topic, error) {
	topic, err := scanTopic(db.QueryRow(
		`SELECT id, name, department, archived, summary, summarized_at, created_at
		 FROM topics WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return topic, ErrNotFound
	}
	return topic, err
}

// GetActiveTopics returns non-archived topics, optionally filtered by
// department. An empty department returns all active topics.
func GetActiveTopics(db *sql.DB, department string) ([]domain.Topic, error) {
	query := `SELECT id, name, department, archived, summary, summarized_at, created_at
	          FROM topics WHERE archived = 0`
	args := []any{}
	if department != "" {
		query += ` AND department = ?`
		args = append(args, department)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []domain.Topic
	for rows.Next() {
		topic, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	return topics, rows.Err()
}

func scanTopic(row interface{ Scan(...any) error }) (domain.Topic, error) {
	var topic domain.Topic
	var summarized sql.NullTime
	err := row.Scan(
		&topic.ID, &topic.Name, &topic.Department, &topic.Archived,
		&topic.Summary, &summarized, &topic.CreatedAt,
	)
	if summarized.Valid {
		topic.SummarizedAt = summarized.Time
	}
	return topic, err
}

func UpdateTopicSummary(db *sql.DB, id, summary string) error {
	_, err := db.Exec(
		`UPDATE topics SET summary = ?, summarized_at = ? WHERE id = ?`,
		summary, time.Now().UTC(), id,
	)
	return err
}

func ArchiveTopic(db *sql.DB, id string) error {
	_, err := db.Exec(`UPDATE topics SET archived = 1 WHERE id = ?`, id)
	return err
}

func InsertInquiry(db *sql.DB, inquiry domain.Inquiry) error {
	_, err := db.Exec(
		`INSERT INTO inquiries (id, question, status, created_at)
		 VALUES (?, ?, ?, ?)`,
		inquiry.ID, inquiry.Question, inquiry.Status, inquiry.CreatedAt,
	)
	return err
}

func GetInquiryByID(db *sql.DB, id string) (domain.Inquiry, error) {
	inquiry, err := scanInquiry(db.QueryRow(
		`SELECT id, question, status, summary, summarized_at, created_at
		 FROM inquiries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return inquiry, ErrNotFound
	}
	return inquiry, err
}

// GetOpenInquiries returns inquiries still accepting responses; these are the
// ones the daily summary run covers.
func GetOpenInquiries(db *sql.DB) ([]domain.Inquiry, error) {
	rows, err := db.Query(
		`SELECT id, question, status, summary, summarized_at, created_at
		 FROM inquiries WHERE status = ? ORDER BY created_at ASC`,
		domain.InquiryOpen,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inquiries []domain.Inquiry
	for rows.Next() {
		inquiry, err := scanInquiry(rows)
		if err != nil {
			return nil, err
		}
		inquiries = append(inquiries, inquiry)
	}
	return inquiries, rows.Err()
}

func scanInquiry(row interface{ Scan(...any) error }) (domain.Inquiry, error) {
	var inquiry domain.Inquiry
	var summarized sql.NullTime
	err := row.Scan(
		&inquiry.ID, &inquiry.Question, &inquiry.Status,
		&inquiry.Summary, &summarized, &inquiry.CreatedAt,
	)
	if summarized.Valid {
		inquiry.SummarizedAt = summarized.Time
	}
	return inquiry, err
}

// CloseInquiry stops an inquiry from accepting responses. Closing one that is
// already closed is a no-op; the return reports whether a row changed.
func CloseInquiry(db *sql.DB, id string) (bool, error) {
	res, err := db.Exec(
		`UPDATE inquiries SET status = ? WHERE id = ? AND status = ?`,
		domain.InquiryClosed, id, domain.InquiryOpen,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func UpdateInquirySummary(db *sql.DB, id, summary string) error {
	_, err := db.Exec(
		`UPDATE inquiries SET summary = ?, summarized_at = ? WHERE id = ?`,
		summary, time.Now().UTC(), id,
	)
	return err
}
