package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertThread inserts or updates a conversation row.
func (db *DB) UpsertThread(t *Thread) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO threads (id, variant, created_at, pinned_priority, should_be_visible, muted_until, only_notify_mentions, marked_unread, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			variant = excluded.variant,
			created_at = excluded.created_at,
			pinned_priority = excluded.pinned_priority,
			should_be_visible = excluded.should_be_visible,
			updated_at = excluded.updated_at`,
		t.ID, t.Variant, t.CreatedAt, t.PinnedPriority, t.ShouldBeVisible, t.MutedUntil, t.OnlyNotifyMentions, t.MarkedUnread, now)
	return err
}

// GetThread returns a thread by id, or nil if absent.
func (db *DB) GetThread(id string) (*Thread, error) {
	var t Thread
	err := db.QueryRow(`
		SELECT id, variant, created_at, pinned_priority, should_be_visible, muted_until, only_notify_mentions, marked_unread
		FROM threads WHERE id = ?`, id).
		Scan(&t.ID, &t.Variant, &t.CreatedAt, &t.PinnedPriority, &t.ShouldBeVisible, &t.MutedUntil, &t.OnlyNotifyMentions, &t.MarkedUnread)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListThreads returns all threads ordered by pinned priority then id.
func (db *DB) ListThreads() ([]Thread, error) {
	rows, err := db.Query(`
		SELECT id, variant, created_at, pinned_priority, should_be_visible, muted_until, only_notify_mentions, marked_unread
		FROM threads ORDER BY pinned_priority DESC, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var threads []Thread
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.Variant, &t.CreatedAt, &t.PinnedPriority, &t.ShouldBeVisible, &t.MutedUntil, &t.OnlyNotifyMentions, &t.MarkedUnread); err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// DeleteThreadTx deletes a thread and its dependent rows inside tx.
// SQLite cannot enforce cascading deletes while deferred constraints are
// active in the reconciliation transaction, so each table is cleared
// explicitly.
func DeleteThreadTx(tx *sql.Tx, threadID string) error {
	for _, q := range []string{
		`DELETE FROM messages WHERE thread_id = ?`,
		`DELETE FROM disappearing_configs WHERE thread_id = ?`,
		`DELETE FROM volatile_state WHERE thread_id = ?`,
		`DELETE FROM threads WHERE id = ?`,
	} {
		if _, err := tx.Exec(q, threadID); err != nil {
			return fmt.Errorf("delete thread %q: %w", threadID, err)
		}
	}
	return nil
}

// ThreadCount returns the total number of threads.
func (db *DB) ThreadCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM threads`).Scan(&count)
	return count, err
}
