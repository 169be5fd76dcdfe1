package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Nudge statuses.
const (
	NudgePending  = "pending"
	NudgeApproved = "approved"
	NudgeSent     = "sent"
	NudgeSkipped  = "skipped"
)

// PendingNudge is a generated proactive message waiting in the approval
// queue. The weight is a snapshot of the loop's urgency at creation time.
type PendingNudge struct {
	ID          int64
	PhoneNumber string
	Topic       string
	Weight      int
	MessageText string
	ScheduledAt int64 // unix ms, earliest send time
	Status      string
	CreatedAt   int64
	ApprovedAt  *int64
	SentAt      *int64
}

// CreateNudge inserts a new pending nudge unless an open (pending or
// approved) nudge already exists for the same user and topic. The partial
// unique index makes the existence check and the insert one atomic
// statement, so two overlapping cycles cannot both create one.
// Returns false if the nudge was suppressed as a duplicate.
func (db *DB) CreateNudge(n *PendingNudge) (bool, error) {
	if n.Weight < 1 || n.Weight > 5 {
		return false, fmt.Errorf("weight %d out of range 1-5", n.Weight)
	}
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		INSERT OR IGNORE INTO pending_nudges (phone_number, topic, weight, message_text, scheduled_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, n.PhoneNumber, n.Topic, n.Weight, n.MessageText, n.ScheduledAt, NudgePending, now)
	if err != nil {
		return false, fmt.Errorf("create nudge: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return false, nil
	}
	id, _ := result.LastInsertId()
	n.ID = id
	n.Status = NudgePending
	n.CreatedAt = now
	return true, nil
}

// HasOpenNudge reports whether a pending or approved nudge exists for the
// given user and topic — the primary deduplication invariant.
func (db *DB) HasOpenNudge(phone, topic string) (bool, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM pending_nudges
		WHERE phone_number = ? AND topic = ? AND status IN (?, ?)
	`, phone, topic, NudgePending, NudgeApproved).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check open nudge: %w", err)
	}
	return count > 0, nil
}

// GetNudge returns a nudge by ID, or nil if not found.
func (db *DB) GetNudge(id int64) (*PendingNudge, error) {
	row := db.QueryRow(`
		SELECT id, phone_number, topic, weight, message_text, scheduled_at, status, created_at, approved_at, sent_at
		FROM pending_nudges WHERE id = ?
	`, id)
	n, err := scanNudge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get nudge: %w", err)
	}
	return n, nil
}

// ListNudges returns nudges ordered by scheduled time, optionally
// filtered by status.
func (db *DB) ListNudges(status string, limit int) ([]PendingNudge, error) {
	query := `
		SELECT id, phone_number, topic, weight, message_text, scheduled_at, status, created_at, approved_at, sent_at
		FROM pending_nudges`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY scheduled_at ASC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list nudges: %w", err)
	}
	defer rows.Close()
	return scanNudges(rows)
}

// NudgesForUser returns a user's open (pending or approved) nudges.
func (db *DB) NudgesForUser(phone string) ([]PendingNudge, error) {
	rows, err := db.Query(`
		SELECT id, phone_number, topic, weight, message_text, scheduled_at, status, created_at, approved_at, sent_at
		FROM pending_nudges WHERE phone_number = ? AND status IN (?, ?)
		ORDER BY scheduled_at ASC
	`, phone, NudgePending, NudgeApproved)
	if err != nil {
		return nil, fmt.Errorf("nudges for user: %w", err)
	}
	defer rows.Close()
	return scanNudges(rows)
}

// ApproveNudge transitions a pending nudge to approved.
func (db *DB) ApproveNudge(id int64) error {
	res, err := db.Exec(`
		UPDATE pending_nudges SET status = ?, approved_at = ? WHERE id = ? AND status = ?
	`, NudgeApproved, time.Now().UnixMilli(), id, NudgePending)
	if err != nil {
		return fmt.Errorf("approve nudge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("nudge %d not pending", id)
	}
	return nil
}

// SkipNudge marks an open nudge as skipped so it never sends.
func (db *DB) SkipNudge(id int64) error {
	res, err := db.Exec(`
		UPDATE pending_nudges SET status = ? WHERE id = ? AND status IN (?, ?)
	`, NudgeSkipped, id, NudgePending, NudgeApproved)
	if err != nil {
		return fmt.Errorf("skip nudge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("nudge %d not open", id)
	}
	return nil
}

// MarkNudgeSent records a successful delivery.
func (db *DB) MarkNudgeSent(id int64) error {
	_, err := db.Exec(`
		UPDATE pending_nudges SET status = ?, sent_at = ? WHERE id = ?
	`, NudgeSent, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark nudge sent: %w", err)
	}
	return nil
}

// ApprovedDue returns approved nudges whose scheduled send time has
// passed by the given instant.
func (db *DB) ApprovedDue(now time.Time) ([]PendingNudge, error) {
	rows, err := db.Query(`
		SELECT id, phone_number, topic, weight, message_text, scheduled_at, status, created_at, approved_at, sent_at
		FROM pending_nudges WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at ASC
	`, NudgeApproved, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("approved due: %w", err)
	}
	defer rows.Close()
	return scanNudges(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNudge(row rowScanner) (*PendingNudge, error) {
	var n PendingNudge
	var approvedAt, sentAt sql.NullInt64
	err := row.Scan(&n.ID, &n.PhoneNumber, &n.Topic, &n.Weight, &n.MessageText,
		&n.ScheduledAt, &n.Status, &n.CreatedAt, &approvedAt, &sentAt)
	if err != nil {
		return nil, err
	}
	if approvedAt.Valid {
		n.ApprovedAt = &approvedAt.Int64
	}
	if sentAt.Valid {
		n.SentAt = &sentAt.Int64
	}
	return &n, nil
}

func scanNudges(rows *sql.Rows) ([]PendingNudge, error) {
	var nudges []PendingNudge
	for rows.Next() {
		n, err := scanNudge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan nudge: %w", err)
		}
		nudges = append(nudges, *n)
	}
	return nudges, rows.Err()
}
