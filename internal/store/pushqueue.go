package store

import (
	"database/sql"
	"time"
)

// EnqueuePushTx adds a serialized config push to the durable queue inside tx.
// The queue survives crashes so a local edit is never silently dropped before
// the swarm has acknowledged it.
func EnqueuePushTx(tx *sql.Tx, e *PushEntry) error {
	now := time.Now().UnixMilli()
	_, err := tx.Exec(`
		INSERT INTO push_queue (client_id, variant, owner_pubkey, blob, blob_hash, seqno, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'queued', ?, ?)`,
		e.ClientID, e.Variant, e.OwnerPubKey, e.Blob, e.BlobHash, e.Seqno, now, now)
	return err
}

// PendingPush returns push entries that are still queued, oldest first.
func (db *DB) PendingPush() ([]PushEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_id, variant, owner_pubkey, blob, blob_hash, seqno, status, error_message
		FROM push_queue WHERE status = 'queued' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []PushEntry
	for rows.Next() {
		var e PushEntry
		if err := rows.Scan(&e.ID, &e.ClientID, &e.Variant, &e.OwnerPubKey, &e.Blob, &e.BlobHash, &e.Seqno, &e.Status, &e.ErrorMessage); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkPushSending updates a push entry to 'sending' status.
func (db *DB) MarkPushSending(clientID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE push_queue SET status = 'sending', updated_at = ? WHERE client_id = ?`, now, clientID)
	return err
}

// MarkPushSent updates a push entry to 'sent'.
func (db *DB) MarkPushSent(clientID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE push_queue SET status = 'sent', updated_at = ? WHERE client_id = ?`, now, clientID)
	return err
}

// MarkPushFailed updates a push entry back to 'queued' with an error message
// so the next dispatcher cycle retries it.
func (db *DB) MarkPushFailed(clientID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE push_queue SET status = 'queued', error_message = ?, updated_at = ? WHERE client_id = ?`, errMsg, now, clientID)
	return err
}

// PushQueueCounts returns counts of push entries grouped by status.
func (db *DB) PushQueueCounts() (map[string]int64, error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM push_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
