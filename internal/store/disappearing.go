package store

import (
	"database/sql"
	"time"
)

// GetDisappearing returns a thread's disappearing-messages config, or nil.
func (db *DB) GetDisappearing(threadID string) (*DisappearingConfig, error) {
	var d DisappearingConfig
	err := db.QueryRow(`SELECT thread_id, enabled, duration_seconds, type FROM disappearing_configs WHERE thread_id = ?`, threadID).
		Scan(&d.ThreadID, &d.Enabled, &d.DurationSeconds, &d.Type)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpsertDisappearing replaces a thread's disappearing-messages config wholesale.
func (db *DB) UpsertDisappearing(d *DisappearingConfig) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO disappearing_configs (thread_id, enabled, duration_seconds, type, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			enabled = excluded.enabled,
			duration_seconds = excluded.duration_seconds,
			type = excluded.type,
			updated_at = excluded.updated_at`,
		d.ThreadID, d.Enabled, d.DurationSeconds, d.Type, now)
	return err
}
