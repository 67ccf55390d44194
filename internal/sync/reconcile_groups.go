package sync

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/session-foundation/seshd/internal/store"
	"go.uber.org/zap"
)

// ReconcileUserProfile converges the user's own profile row and the
// note-to-self thread onto the snapshot. A nil snapshot (no profile entry
// merged yet) is a no-op.
func (r *Reconciler) ReconcileUserProfile(ownerID string, snap *UserProfileSnapshot) ([]Effect, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	effects, err := r.UserProfileTx(tx, ownerID, snap)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reconcile: %w", err)
	}
	return effects, nil
}

// UserProfileTx is the transaction-level core of ReconcileUserProfile.
func (r *Reconciler) UserProfileTx(tx *sql.Tx, ownerID string, snap *UserProfileSnapshot) ([]Effect, error) {
	if snap == nil {
		return nil, nil
	}

	var effects []Effect
	now := time.Now().UnixMilli()

	var (
		storedName, storedURL, storedKey string
		storedNameAt, storedPicAt        int64
		exists                           = true
	)
	err := tx.QueryRow(`
		SELECT name, picture_url, picture_key, name_updated_at, picture_updated_at
		FROM profiles WHERE id = ?`, ownerID).
		Scan(&storedName, &storedURL, &storedKey, &storedNameAt, &storedPicAt)
	if err == sql.ErrNoRows {
		exists = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("read own profile: %w", err)
	}

	changed := !exists
	name, nameAt := storedName, storedNameAt
	if snap.Name != "" && snap.Name != storedName && storedNameAt < snap.NameUpdatedAt {
		name, nameAt = snap.Name, snap.NameUpdatedAt
		changed = true
	}
	picURL, picKey, picAt := storedURL, storedKey, storedPicAt
	if (snap.PictureURL != storedURL || snap.PictureKey != storedKey) && storedPicAt < snap.PictureUpdatedAt {
		picURL, picKey, picAt = snap.PictureURL, snap.PictureKey, snap.PictureUpdatedAt
		changed = true
		if picURL != "" {
			effects = append(effects, Effect{Kind: EffectAvatarDownload, ID: ownerID, URL: picURL})
		}
	}

	if changed {
		if _, err := tx.Exec(`
			INSERT INTO profiles (id, name, picture_url, picture_key, name_updated_at, picture_updated_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				picture_url = excluded.picture_url,
				picture_key = excluded.picture_key,
				name_updated_at = excluded.name_updated_at,
				picture_updated_at = excluded.picture_updated_at,
				updated_at = excluded.updated_at`,
			ownerID, name, picURL, picKey, nameAt, picAt, now); err != nil {
			return nil, fmt.Errorf("upsert own profile: %w", err)
		}
		effects = append(effects, Effect{Kind: EffectContactUpdated, ID: ownerID})
	}

	threadEffects, err := r.applyThreadVisibility(tx, ownerID, store.ThreadContact, snap.NoteToSelf, snap.CreatedAt, snap.Disappearing)
	if err != nil {
		return nil, err
	}
	return append(effects, threadEffects...), nil
}

// ReconcileGroupInfo converges one group's info row and thread. A nil
// snapshot is a no-op.
func (r *Reconciler) ReconcileGroupInfo(groupID string, snap *GroupInfoSnapshot) ([]Effect, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	effects, err := r.GroupInfoTx(tx, groupID, snap)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reconcile: %w", err)
	}
	return effects, nil
}

// GroupInfoTx is the transaction-level core of ReconcileGroupInfo.
func (r *Reconciler) GroupInfoTx(tx *sql.Tx, groupID string, snap *GroupInfoSnapshot) ([]Effect, error) {
	if snap == nil {
		return nil, nil
	}

	var effects []Effect
	now := time.Now().UnixMilli()

	var (
		storedName, storedDesc, storedPic      string
		storedFormation                        int64
		storedShouldPoll, storedInvited, found bool
	)
	found = true
	err := tx.QueryRow(`
		SELECT name, description, display_picture_url, formation_timestamp, should_poll, invited
		FROM closed_groups WHERE thread_id = ?`, groupID).
		Scan(&storedName, &storedDesc, &storedPic, &storedFormation, &storedShouldPoll, &storedInvited)
	if err == sql.ErrNoRows {
		found = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("read group info: %w", err)
	}

	if !found || storedName != snap.Name || storedDesc != snap.Description || storedPic != snap.DisplayPictureURL ||
		storedFormation != snap.FormationTimestamp || storedShouldPoll != snap.ShouldPoll || storedInvited != snap.Invited {
		if _, err := tx.Exec(`
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
			groupID, snap.Name, snap.Description, snap.DisplayPictureURL, snap.FormationTimestamp, snap.ShouldPoll, snap.Invited, now); err != nil {
			return nil, fmt.Errorf("upsert group info: %w", err)
		}
		effects = append(effects, Effect{Kind: EffectGroupUpdated, ID: groupID})
		if snap.DisplayPictureURL != "" && snap.DisplayPictureURL != storedPic {
			effects = append(effects, Effect{Kind: EffectAvatarDownload, ID: groupID, URL: snap.DisplayPictureURL})
		}
	}

	threadEffects, err := r.applyThreadVisibility(tx, groupID, store.ThreadGroup, snap.Visibility, snap.CreatedAt, nil)
	if err != nil {
		return nil, err
	}
	return append(effects, threadEffects...), nil
}

// ReconcileGroupMembers converges the membership rows of one group onto
// the snapshot. Identity is (group, profile, role): a role change replaces
// the profile's previous row rather than accumulating duplicates.
func (r *Reconciler) ReconcileGroupMembers(groupID string, snap map[string]GroupMemberSnapshot) ([]Effect, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	effects, err := r.GroupMembersTx(tx, groupID, snap)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reconcile: %w", err)
	}
	return effects, nil
}

// GroupMembersTx is the transaction-level core of ReconcileGroupMembers.
func (r *Reconciler) GroupMembersTx(tx *sql.Tx, groupID string, snap map[string]GroupMemberSnapshot) ([]Effect, error) {
	changed, err := r.applyMembers(tx, groupID, snap)
	if err != nil {
		return nil, err
	}
	if changed {
		return []Effect{{Kind: EffectGroupUpdated, ID: groupID}}, nil
	}
	return nil, nil
}

func (r *Reconciler) applyMembers(tx *sql.Tx, groupID string, snap map[string]GroupMemberSnapshot) (bool, error) {
	rows, err := tx.Query(`SELECT profile_id, role, role_status, is_hidden FROM group_members WHERE group_id = ?`, groupID)
	if err != nil {
		return false, fmt.Errorf("list members: %w", err)
	}
	existing := make(map[string]GroupMemberSnapshot)
	for rows.Next() {
		var (
			profileID string
			m         GroupMemberSnapshot
		)
		if err := rows.Scan(&profileID, &m.Role, &m.RoleStatus, &m.Hidden); err != nil {
			_ = rows.Close()
			return false, err
		}
		// Collapse any historical duplicate rows for the same profile with
		// the documented tie-break: admin wins over standard.
		if prev, ok := existing[profileID]; ok && rolePrecedence(prev.Role) >= rolePrecedence(m.Role) {
			continue
		}
		existing[profileID] = m
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}

	changed := false
	now := time.Now().UnixMilli()

	profiles := make([]string, 0, len(snap))
	for profileID := range snap {
		profiles = append(profiles, profileID)
	}
	sort.Strings(profiles)

	for _, profileID := range profiles {
		want := snap[profileID]
		have, ok := existing[profileID]
		if ok && have == want {
			continue
		}
		if ok && have.Role != want.Role {
			if _, err := tx.Exec(`DELETE FROM group_members WHERE group_id = ? AND profile_id = ?`, groupID, profileID); err != nil {
				return false, fmt.Errorf("replace member role: %w", err)
			}
		}
		if _, err := tx.Exec(`
			INSERT INTO group_members (group_id, profile_id, role, role_status, is_hidden, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(group_id, profile_id, role) DO UPDATE SET
				role_status = excluded.role_status,
				is_hidden = excluded.is_hidden,
				updated_at = excluded.updated_at`,
			groupID, profileID, want.Role, want.RoleStatus, want.Hidden, now); err != nil {
			return false, fmt.Errorf("upsert member %q: %w", profileID, err)
		}
		changed = true
	}

	for profileID := range existing {
		if _, ok := snap[profileID]; ok {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM group_members WHERE group_id = ? AND profile_id = ?`, groupID, profileID); err != nil {
			return false, fmt.Errorf("delete member %q: %w", profileID, err)
		}
		changed = true
	}
	return changed, nil
}

// ReconcileLegacyGroups converges all legacy groups from the user-owned
// legacy object: info row, thread, membership, and a prune pass over
// legacy-group threads the snapshot no longer references.
func (r *Reconciler) ReconcileLegacyGroups(ownerID string, snap map[string]LegacyGroupSnapshot) ([]Effect, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	effects, err := r.LegacyGroupsTx(tx, ownerID, snap)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reconcile: %w", err)
	}
	return effects, nil
}

// LegacyGroupsTx is the transaction-level core of ReconcileLegacyGroups.
func (r *Reconciler) LegacyGroupsTx(tx *sql.Tx, ownerID string, snap map[string]LegacyGroupSnapshot) ([]Effect, error) {
	var effects []Effect
	now := time.Now().UnixMilli()

	groupIDs := make([]string, 0, len(snap))
	for id := range snap {
		groupIDs = append(groupIDs, id)
	}
	sort.Strings(groupIDs)

	for _, groupID := range groupIDs {
		data := snap[groupID]

		if _, err := tx.Exec(`
			INSERT INTO closed_groups (thread_id, name, formation_timestamp, should_poll, updated_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT(thread_id) DO UPDATE SET
				name = excluded.name,
				formation_timestamp = excluded.formation_timestamp,
				updated_at = excluded.updated_at`,
			groupID, data.Name, data.FormationTimestamp, now); err != nil {
			r.logger.Warn("skipping legacy group during reconcile", zap.String("group", groupID), zap.Error(err))
			continue
		}

		memberSnap := make(map[string]GroupMemberSnapshot, len(data.Members))
		for profileID, admin := range data.Members {
			role := store.RoleStandard
			if admin {
				role = store.RoleAdmin
			}
			memberSnap[profileID] = GroupMemberSnapshot{Role: role, RoleStatus: store.RoleStatusAccepted}
		}
		memberChanged, err := r.applyMembers(tx, groupID, memberSnap)
		if err != nil {
			r.logger.Warn("skipping legacy group members", zap.String("group", groupID), zap.Error(err))
			continue
		}
		if memberChanged {
			effects = append(effects, Effect{Kind: EffectGroupUpdated, ID: groupID})
		}

		threadEffects, err := r.applyThreadVisibility(tx, groupID, store.ThreadLegacyGroup, data.Visibility, data.CreatedAt, nil)
		if err != nil {
			r.logger.Warn("skipping legacy group thread", zap.String("group", groupID), zap.Error(err))
			continue
		}
		effects = append(effects, threadEffects...)
	}

	// Prune legacy-group threads the config no longer references.
	rows, err := tx.Query(`SELECT id FROM threads WHERE variant = ?`, store.ThreadLegacyGroup)
	if err != nil {
		return nil, fmt.Errorf("list legacy threads: %w", err)
	}
	var known []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		known = append(known, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, groupID := range known {
		if _, ok := snap[groupID]; ok {
			continue
		}
		effects = append(effects, Effect{Kind: EffectThreadKicked, ID: groupID})
		if _, err := tx.Exec(`DELETE FROM group_members WHERE group_id = ?`, groupID); err != nil {
			return nil, fmt.Errorf("prune members %q: %w", groupID, err)
		}
		if _, err := tx.Exec(`DELETE FROM closed_groups WHERE thread_id = ?`, groupID); err != nil {
			return nil, fmt.Errorf("prune group %q: %w", groupID, err)
		}
		if err := store.DeleteThreadTx(tx, groupID); err != nil {
			return nil, err
		}
		effects = append(effects, Effect{Kind: EffectThreadDeleted, ID: groupID})
	}
	return effects, nil
}

func rolePrecedence(role string) int {
	switch role {
	case store.RoleAdmin:
		return 2
	case store.RoleModerator:
		return 1
	default:
		return 0
	}
}
