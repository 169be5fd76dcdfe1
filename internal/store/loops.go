package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Loop statuses.
const (
	LoopActive   = "active"
	LoopDecaying = "decaying"
	LoopResolved = "resolved"
)

// EventDateLayout is the wire format for next_event_date.
const EventDateLayout = "2006-01-02"

var validLoopStatuses = map[string]bool{
	LoopActive:   true,
	LoopDecaying: true,
	LoopResolved: true,
}

// OpenLoop is one tracked topic for a user: an upcoming event, an
// ongoing project, or a theme worth following up on.
type OpenLoop struct {
	PhoneNumber   string
	Topic         string
	Status        string
	LastUpdated   int64  // unix ms; 0 means unknown
	NextEventDate string // YYYY-MM-DD, empty if none
	Weight        int    // 1 (casual) to 5 (urgent)
	Description   string
}

// EventDate parses the loop's next event date, or returns the zero time
// if none is set or it is unparsable.
func (l *OpenLoop) EventDate() (time.Time, bool) {
	if l.NextEventDate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(EventDateLayout, l.NextEventDate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ValidateLoop rejects loops with out-of-range weights, unknown statuses,
// or unparsable event dates. This is the typed boundary that replaces the
// free-form JSON loop map: nothing invalid reaches the table.
func ValidateLoop(l *OpenLoop) error {
	l.Topic = strings.TrimSpace(l.Topic)
	if l.Topic == "" {
		return fmt.Errorf("empty topic")
	}
	if l.Status == "" {
		l.Status = LoopActive
	}
	if !validLoopStatuses[l.Status] {
		return fmt.Errorf("invalid status %q", l.Status)
	}
	if l.Weight < 1 || l.Weight > 5 {
		return fmt.Errorf("weight %d out of range 1-5", l.Weight)
	}
	if l.NextEventDate != "" {
		if _, err := time.Parse(EventDateLayout, l.NextEventDate); err != nil {
			return fmt.Errorf("unparsable event date %q: %w", l.NextEventDate, err)
		}
	}
	return nil
}

// UpsertLoop validates and inserts or replaces a loop row.
func (db *DB) UpsertLoop(l *OpenLoop) error {
	if err := ValidateLoop(l); err != nil {
		return fmt.Errorf("validate loop %q: %w", l.Topic, err)
	}
	_, err := db.Exec(`
		INSERT INTO open_loops (phone_number, topic, status, last_updated, next_event_date, weight, description)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, NULLIF(?, ''))
		ON CONFLICT (phone_number, topic) DO UPDATE SET
			status = excluded.status,
			last_updated = excluded.last_updated,
			next_event_date = excluded.next_event_date,
			weight = excluded.weight,
			description = excluded.description
	`, l.PhoneNumber, l.Topic, l.Status, l.LastUpdated, l.NextEventDate, l.Weight, l.Description)
	if err != nil {
		return fmt.Errorf("upsert loop: %w", err)
	}
	return nil
}

// GetLoop returns a single loop, or nil if not found.
func (db *DB) GetLoop(phone, topic string) (*OpenLoop, error) {
	var l OpenLoop
	var eventDate, description sql.NullString
	err := db.QueryRow(`
		SELECT phone_number, topic, status, last_updated, next_event_date, weight, description
		FROM open_loops WHERE phone_number = ? AND topic = ?
	`, phone, topic).Scan(&l.PhoneNumber, &l.Topic, &l.Status, &l.LastUpdated,
		&eventDate, &l.Weight, &description)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get loop: %w", err)
	}
	l.NextEventDate = eventDate.String
	l.Description = description.String
	return &l, nil
}

// GetLoops returns all of a user's loops, resolved ones included.
func (db *DB) GetLoops(phone string) ([]OpenLoop, error) {
	rows, err := db.Query(`
		SELECT phone_number, topic, status, last_updated, next_event_date, weight, description
		FROM open_loops WHERE phone_number = ?
		ORDER BY weight DESC, topic
	`, phone)
	if err != nil {
		return nil, fmt.Errorf("get loops: %w", err)
	}
	defer rows.Close()
	return scanLoops(rows)
}

// MarkLoopsDecaying flips the given topics from active to decaying.
// Topics in other states are left alone.
func (db *DB) MarkLoopsDecaying(phone string, topics []string) error {
	for _, topic := range topics {
		_, err := db.Exec(`
			UPDATE open_loops SET status = ? WHERE phone_number = ? AND topic = ? AND status = ?
		`, LoopDecaying, phone, topic, LoopActive)
		if err != nil {
			return fmt.Errorf("mark decaying %q: %w", topic, err)
		}
	}
	return nil
}

// ResolveLoop marks a loop resolved, excluding it from all future scanning.
func (db *DB) ResolveLoop(phone, topic string) error {
	_, err := db.Exec(`
		UPDATE open_loops SET status = ?, last_updated = ? WHERE phone_number = ? AND topic = ?
	`, LoopResolved, time.Now().UnixMilli(), phone, topic)
	if err != nil {
		return fmt.Errorf("resolve loop: %w", err)
	}
	return nil
}

// DeleteLoop removes a loop entirely.
func (db *DB) DeleteLoop(phone, topic string) error {
	_, err := db.Exec("DELETE FROM open_loops WHERE phone_number = ? AND topic = ?", phone, topic)
	if err != nil {
		return fmt.Errorf("delete loop: %w", err)
	}
	return nil
}

func scanLoops(rows *sql.Rows) ([]OpenLoop, error) {
	var loops []OpenLoop
	for rows.Next() {
		var l OpenLoop
		var eventDate, description sql.NullString
		if err := rows.Scan(&l.PhoneNumber, &l.Topic, &l.Status, &l.LastUpdated,
			&eventDate, &l.Weight, &description); err != nil {
			return nil, fmt.Errorf("scan loop: %w", err)
		}
		l.NextEventDate = eventDate.String
		l.Description = description.String
		loops = append(loops, l)
	}
	return loops, rows.Err()
}
