package store

import (
	"database/sql"
	"time"
)

// SaveDump overwrites the persisted dump for (variant, owner).
func (db *DB) SaveDump(variant, ownerPubKey string, data []byte) error {
	_, err := db.Exec(dumpUpsertSQL, variant, ownerPubKey, data, time.Now().UnixMilli())
	return err
}

// SaveDumpTx overwrites the persisted dump for (variant, owner) inside tx.
func SaveDumpTx(tx *sql.Tx, variant, ownerPubKey string, data []byte) error {
	_, err := tx.Exec(dumpUpsertSQL, variant, ownerPubKey, data, time.Now().UnixMilli())
	return err
}

const dumpUpsertSQL = `
	INSERT INTO config_dumps (variant, owner_pubkey, data, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(variant, owner_pubkey) DO UPDATE SET
		data = excluded.data,
		updated_at = excluded.updated_at`

// GetDump returns the persisted dump for (variant, owner), or nil if absent.
func (db *DB) GetDump(variant, ownerPubKey string) (*ConfigDump, error) {
	var d ConfigDump
	err := db.QueryRow(`SELECT variant, owner_pubkey, data, updated_at FROM config_dumps WHERE variant = ? AND owner_pubkey = ?`,
		variant, ownerPubKey).
		Scan(&d.Variant, &d.OwnerPubKey, &d.Data, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
