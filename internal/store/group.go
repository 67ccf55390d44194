package store

import (
	"database/sql"
	"time"
)

// UpsertClosedGroup inserts or updates a group info row.
func (db *DB) UpsertClosedGroup(g *ClosedGroup) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO closed_groups (thread_id, name, description, display_picture_url, formation_timestamp, should_poll, invited, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			display_picture_url = excluded.display_picture_url,
			formation_timestamp = excluded.formation_timestamp,
			should_poll = excluded.should_poll,
			invited = excluded.invited,
			updated_at = excluded.updated_at`,
		g.ThreadID, g.Name, g.Description, g.DisplayPictureURL, g.FormationTimestamp, g.ShouldPoll, g.Invited, now)
	return err
}

// GetClosedGroup returns a group info row by thread id, or nil.
func (db *DB) GetClosedGroup(threadID string) (*ClosedGroup, error) {
	var g ClosedGroup
	err := db.QueryRow(`
		SELECT thread_id, name, description, display_picture_url, formation_timestamp, should_poll, invited
		FROM closed_groups WHERE thread_id = ?`, threadID).
		Scan(&g.ThreadID, &g.Name, &g.Description, &g.DisplayPictureURL, &g.FormationTimestamp, &g.ShouldPoll, &g.Invited)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGroupMembers returns all membership rows for a group.
func (db *DB) ListGroupMembers(groupID string) ([]GroupMember, error) {
	rows, err := db.Query(`
		SELECT group_id, profile_id, role, role_status, is_hidden
		FROM group_members WHERE group_id = ? ORDER BY profile_id, role`, groupID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []GroupMember
	for rows.Next() {
		var m GroupMember
		if err := rows.Scan(&m.GroupID, &m.ProfileID, &m.Role, &m.RoleStatus, &m.IsHidden); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
