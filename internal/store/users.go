package store

import (
	"database/sql"
	"fmt"
	"time"
)

// User is one messaging identity. Quiet hours are hours-of-day in the
// user's own timezone; a start greater than end means the window wraps
// past midnight (e.g. 22 → 9).
type User struct {
	PhoneNumber       string
	DisplayName       string
	Timezone          string
	QuietStart        int
	QuietEnd          int
	Onboarded         bool
	LastInteractionAt *int64
	LastMessageAt     *int64
	CreatedAt         int64
}

// LastInteraction returns the last interaction as a time, or nil if the
// user has never interacted.
func (u *User) LastInteraction() *time.Time {
	if u.LastInteractionAt == nil {
		return nil
	}
	t := time.UnixMilli(*u.LastInteractionAt).UTC()
	return &t
}

// CreateUser inserts a new user with default timezone and quiet hours.
func (db *DB) CreateUser(u *User) error {
	now := time.Now().UnixMilli()
	if u.Timezone == "" {
		u.Timezone = "Europe/Amsterdam"
		u.QuietStart = 22
		u.QuietEnd = 9
	}
	_, err := db.Exec(`
		INSERT INTO users (phone_number, display_name, timezone, quiet_start, quiet_end, onboarded, created_at)
		VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?)
	`, u.PhoneNumber, u.DisplayName, u.Timezone, u.QuietStart, u.QuietEnd, boolToInt(u.Onboarded), now)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	u.CreatedAt = now
	return nil
}

// GetUser returns a user by phone number, or nil if not found.
func (db *DB) GetUser(phone string) (*User, error) {
	var u User
	var displayName sql.NullString
	var onboarded int
	var lastInteraction, lastMessage sql.NullInt64
	err := db.QueryRow(`
		SELECT phone_number, display_name, timezone, quiet_start, quiet_end, onboarded,
			last_interaction_at, last_message_at, created_at
		FROM users WHERE phone_number = ?
	`, phone).Scan(&u.PhoneNumber, &displayName, &u.Timezone, &u.QuietStart, &u.QuietEnd,
		&onboarded, &lastInteraction, &lastMessage, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.DisplayName = displayName.String
	u.Onboarded = onboarded != 0
	if lastInteraction.Valid {
		u.LastInteractionAt = &lastInteraction.Int64
	}
	if lastMessage.Valid {
		u.LastMessageAt = &lastMessage.Int64
	}
	return &u, nil
}

// ListUsers returns all users ordered by most recent message first.
func (db *DB) ListUsers() ([]User, error) {
	rows, err := db.Query(`
		SELECT phone_number, display_name, timezone, quiet_start, quiet_end, onboarded,
			last_interaction_at, last_message_at, created_at
		FROM users ORDER BY last_message_at DESC NULLS LAST, created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

// ListDispatchUsers returns users eligible for proactive dispatch:
// those who have completed onboarding.
func (db *DB) ListDispatchUsers() ([]User, error) {
	rows, err := db.Query(`
		SELECT phone_number, display_name, timezone, quiet_start, quiet_end, onboarded,
			last_interaction_at, last_message_at, created_at
		FROM users WHERE onboarded = 1 ORDER BY phone_number
	`)
	if err != nil {
		return nil, fmt.Errorf("list dispatch users: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

// UpdateUserSettings changes a user's timezone and quiet hours.
// The timezone must be a valid IANA name and the hours must be 0-23.
func (db *DB) UpdateUserSettings(phone, timezone string, quietStart, quietEnd int) error {
	if quietStart < 0 || quietStart > 23 || quietEnd < 0 || quietEnd > 23 {
		return fmt.Errorf("quiet hours out of range: start=%d end=%d", quietStart, quietEnd)
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	res, err := db.Exec(`
		UPDATE users SET timezone = ?, quiet_start = ?, quiet_end = ? WHERE phone_number = ?
	`, timezone, quietStart, quietEnd, phone)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no such user: %s", phone)
	}
	return nil
}

// SetOnboarded marks a user's onboarding as complete (or not).
func (db *DB) SetOnboarded(phone string, done bool) error {
	_, err := db.Exec("UPDATE users SET onboarded = ? WHERE phone_number = ?", boolToInt(done), phone)
	if err != nil {
		return fmt.Errorf("set onboarded: %w", err)
	}
	return nil
}

// TouchInteraction refreshes the user's last_interaction_at to now.
func (db *DB) TouchInteraction(phone string) error {
	_, err := db.Exec("UPDATE users SET last_interaction_at = ? WHERE phone_number = ?",
		time.Now().UnixMilli(), phone)
	if err != nil {
		return fmt.Errorf("touch interaction: %w", err)
	}
	return nil
}

// SetLastInteraction sets last_interaction_at to an explicit instant.
func (db *DB) SetLastInteraction(phone string, at time.Time) error {
	_, err := db.Exec("UPDATE users SET last_interaction_at = ? WHERE phone_number = ?",
		at.UnixMilli(), phone)
	if err != nil {
		return fmt.Errorf("set last interaction: %w", err)
	}
	return nil
}

func scanUsers(rows *sql.Rows) ([]User, error) {
	var users []User
	for rows.Next() {
		var u User
		var displayName sql.NullString
		var onboarded int
		var lastInteraction, lastMessage sql.NullInt64
		if err := rows.Scan(&u.PhoneNumber, &displayName, &u.Timezone, &u.QuietStart, &u.QuietEnd,
			&onboarded, &lastInteraction, &lastMessage, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.DisplayName = displayName.String
		u.Onboarded = onboarded != 0
		if lastInteraction.Valid {
			u.LastInteractionAt = &lastInteraction.Int64
		}
		if lastMessage.Valid {
			u.LastMessageAt = &lastMessage.Int64
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
