package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GetCorpus returns the user's knowledge-graph markdown, or "" if none.
func (db *DB) GetCorpus(phone string) (string, error) {
	var markdown string
	err := db.QueryRow("SELECT markdown FROM corpus WHERE phone_number = ?", phone).Scan(&markdown)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get corpus: %w", err)
	}
	return markdown, nil
}

// SaveCorpus replaces the user's knowledge-graph markdown.
func (db *DB) SaveCorpus(phone, markdown string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO corpus (phone_number, markdown, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (phone_number) DO UPDATE SET markdown = excluded.markdown, updated_at = excluded.updated_at
	`, phone, markdown, now)
	if err != nil {
		return fmt.Errorf("save corpus: %w", err)
	}
	return nil
}
