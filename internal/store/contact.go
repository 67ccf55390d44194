package store

import (
	"database/sql"
	"time"
)

// UpsertContact inserts or updates a contact's relationship flags.
// Approval flags ratchet toward true at the SQL level so a stale write
// can never undo a confirmed approval.
func (db *DB) UpsertContact(c *Contact) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (id, is_approved, is_blocked, did_approve_me, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			is_approved = MAX(contacts.is_approved, excluded.is_approved),
			did_approve_me = MAX(contacts.did_approve_me, excluded.did_approve_me),
			is_blocked = excluded.is_blocked,
			updated_at = excluded.updated_at`,
		c.ID, c.IsApproved, c.IsBlocked, c.DidApproveMe, now, now)
	return err
}

// GetContact returns a contact by id, or nil if absent.
func (db *DB) GetContact(id string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`SELECT id, is_approved, is_blocked, did_approve_me, created_at FROM contacts WHERE id = ?`, id).
		Scan(&c.ID, &c.IsApproved, &c.IsBlocked, &c.DidApproveMe, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContacts returns all contacts ordered by id.
func (db *DB) ListContacts() ([]Contact, error) {
	rows, err := db.Query(`SELECT id, is_approved, is_blocked, did_approve_me, created_at FROM contacts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.IsApproved, &c.IsBlocked, &c.DidApproveMe, &c.CreatedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// GetProfile returns a profile by id, or nil if absent.
func (db *DB) GetProfile(id string) (*Profile, error) {
	var p Profile
	var nickname sql.NullString
	err := db.QueryRow(`
		SELECT id, name, nickname, picture_url, picture_key, name_updated_at, picture_updated_at
		FROM profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &nickname, &p.PictureURL, &p.PictureKey, &p.NameUpdatedAt, &p.PictureUpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if nickname.Valid {
		p.Nickname = &nickname.String
	}
	return &p, nil
}

// UpsertProfile inserts or replaces a profile row.
func (db *DB) UpsertProfile(p *Profile) error {
	now := time.Now().UnixMilli()
	var nickname any
	if p.Nickname != nil {
		nickname = *p.Nickname
	}
	_, err := db.Exec(`
		INSERT INTO profiles (id, name, nickname, picture_url, picture_key, name_updated_at, picture_updated_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			nickname = excluded.nickname,
			picture_url = excluded.picture_url,
			picture_key = excluded.picture_key,
			name_updated_at = excluded.name_updated_at,
			picture_updated_at = excluded.picture_updated_at,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, nickname, p.PictureURL, p.PictureKey, p.NameUpdatedAt, p.PictureUpdatedAt, now)
	return err
}

// ContactCount returns the total number of contacts.
func (db *DB) ContactCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count)
	return count, err
}
