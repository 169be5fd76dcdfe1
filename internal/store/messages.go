package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Message directions.
const (
	DirIncoming = "incoming"
	DirOutgoing = "outgoing"
)

// Message is one logged inbound or outbound message.
type Message struct {
	ID          int64
	PhoneNumber string
	Direction   string
	Body        string
	CreatedAt   int64
}

// StoreMessage appends a message to the user's log and refreshes
// last_message_at.
func (db *DB) StoreMessage(phone, direction, body string) (*Message, error) {
	if direction != DirIncoming && direction != DirOutgoing {
		return nil, fmt.Errorf("invalid direction %q", direction)
	}
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		INSERT INTO messages (phone_number, direction, body, created_at) VALUES (?, ?, ?, ?)
	`, phone, direction, body, now)
	if err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	if _, err := db.Exec("UPDATE users SET last_message_at = ? WHERE phone_number = ?", now, phone); err != nil {
		return nil, fmt.Errorf("touch last_message_at: %w", err)
	}

	id, _ := result.LastInsertId()
	return &Message{ID: id, PhoneNumber: phone, Direction: direction, Body: body, CreatedAt: now}, nil
}

// RecentMessages returns the user's most recent messages, newest first.
func (db *DB) RecentMessages(phone string, limit int) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, phone_number, direction, body, created_at
		FROM messages WHERE phone_number = ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.PhoneNumber, &m.Direction, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
