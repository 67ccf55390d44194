package sync

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/session-foundation/seshd/internal/store"
	"go.uber.org/zap"
)

// Reconciler applies extracted config snapshots onto relational state.
// Each Reconcile* call is one atomic transaction; the returned effects are
// for the caller to enact only after the transaction has committed.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, logger: logger}
}

// ReconcileContacts converges local contact, profile, thread and
// disappearing-config state onto the snapshot. ownerID is the local user's
// public key; its entry is never processed (a self-contact is a structural
// bug upstream, not a valid state).
//
// A single malformed entry is skipped and logged rather than aborting the
// whole merge, but the per-id pass and the prune pass always commit
// together so the UI never observes a torn intermediate state.
func (r *Reconciler) ReconcileContacts(ownerID string, snap map[string]ContactSnapshot) ([]Effect, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	effects, err := r.ContactsTx(tx, ownerID, snap)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reconcile: %w", err)
	}
	return effects, nil
}

// ContactsTx is the transaction-level core of ReconcileContacts, for
// callers that need to commit additional work (the config dump) atomically
// with the reconciliation.
func (r *Reconciler) ContactsTx(tx *sql.Tx, ownerID string, snap map[string]ContactSnapshot) ([]Effect, error) {
	var effects []Effect

	ids := make([]string, 0, len(snap))
	for id := range snap {
		if id != ownerID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		idEffects, err := r.applyContact(tx, id, snap[id])
		if err != nil {
			r.logger.Warn("skipping contact during reconcile", zap.String("id", id), zap.Error(err))
			continue
		}
		effects = append(effects, idEffects...)
	}

	pruneEffects, err := r.pruneContacts(tx, ownerID, snap)
	if err != nil {
		return nil, fmt.Errorf("prune contacts: %w", err)
	}
	return append(effects, pruneEffects...), nil
}

// applyContact converges one contact id inside the transaction.
func (r *Reconciler) applyContact(tx *sql.Tx, id string, data ContactSnapshot) ([]Effect, error) {
	var effects []Effect
	now := time.Now().UnixMilli()

	// Fetch-or-create the profile row.
	var (
		storedName, storedURL, storedKey string
		storedNickname                   sql.NullString
		storedNameAt, storedPicAt        int64
		profileExists                    = true
	)
	err := tx.QueryRow(`
		SELECT name, nickname, picture_url, picture_key, name_updated_at, picture_updated_at
		FROM profiles WHERE id = ?`, id).
		Scan(&storedName, &storedNickname, &storedURL, &storedKey, &storedNameAt, &storedPicAt)
	if err == sql.ErrNoRows {
		profileExists = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	profileChanged := !profileExists

	// Name field-group: strict timestamp ordering. Ties keep the stored
	// value so identical-timestamp merges cannot oscillate.
	name, nameAt := storedName, storedNameAt
	if data.Profile.Name != "" && data.Profile.Name != storedName && storedNameAt < data.Profile.NameUpdatedAt {
		name, nameAt = data.Profile.Name, data.Profile.NameUpdatedAt
		profileChanged = true
	}

	// Picture field-group: url and key move together.
	picURL, picKey, picAt := storedURL, storedKey, storedPicAt
	if (data.Profile.PictureURL != storedURL || data.Profile.PictureKey != storedKey) && storedPicAt < data.Profile.PictureUpdatedAt {
		picURL, picKey, picAt = data.Profile.PictureURL, data.Profile.PictureKey, data.Profile.PictureUpdatedAt
		profileChanged = true
		if picURL != "" {
			effects = append(effects, Effect{Kind: EffectAvatarDownload, ID: id, URL: picURL})
		}
	}

	// Nickname: no timestamp, last merge wins.
	nickname := storedNickname
	if data.Profile.Nickname != nicknameString(storedNickname) {
		nickname = sql.NullString{String: data.Profile.Nickname, Valid: data.Profile.Nickname != ""}
		profileChanged = true
	}

	if profileChanged {
		if _, err := tx.Exec(`
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
			id, name, nullableString(nickname), picURL, picKey, nameAt, picAt, now); err != nil {
			return nil, fmt.Errorf("upsert profile: %w", err)
		}
	}

	// Contact flags. Approvals ratchet toward true; a merge never undoes a
	// confirmed approval. Blocked is a plain last-writer-wins boolean.
	var (
		storedApproved, storedBlocked, storedApprovedMe bool
		contactExists                                   = true
	)
	err = tx.QueryRow(`SELECT is_approved, is_blocked, did_approve_me FROM contacts WHERE id = ?`, id).
		Scan(&storedApproved, &storedBlocked, &storedApprovedMe)
	if err == sql.ErrNoRows {
		contactExists = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("read contact: %w", err)
	}

	approved := storedApproved || data.Flags.Approved
	approvedMe := storedApprovedMe || data.Flags.ApprovedMe
	blocked := data.Flags.Blocked

	if !contactExists || approved != storedApproved || approvedMe != storedApprovedMe || blocked != storedBlocked {
		if _, err := tx.Exec(`
			INSERT INTO contacts (id, is_approved, is_blocked, did_approve_me, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				is_approved = excluded.is_approved,
				is_blocked = excluded.is_blocked,
				did_approve_me = excluded.did_approve_me,
				updated_at = excluded.updated_at`,
			id, approved, blocked, approvedMe, now, now); err != nil {
			return nil, fmt.Errorf("upsert contact: %w", err)
		}
		effects = append(effects, Effect{Kind: EffectContactUpdated, ID: id})
	}

	threadEffects, err := r.applyThreadVisibility(tx, id, store.ThreadContact, data.Visibility, data.CreatedAt, data.Disappearing)
	if err != nil {
		return nil, err
	}
	return append(effects, threadEffects...), nil
}

// applyThreadVisibility converges a thread row (and its disappearing
// config) onto the derived visibility for its owning entity.
func (r *Reconciler) applyThreadVisibility(tx *sql.Tx, threadID, variant string, vis Visibility, createdAt int64, expiry *Disappearing) ([]Effect, error) {
	var (
		storedCreated  int64
		storedPriority int32
		storedVisible  bool
		threadExists   = true
	)
	err := tx.QueryRow(`SELECT created_at, pinned_priority, should_be_visible FROM threads WHERE id = ?`, threadID).
		Scan(&storedCreated, &storedPriority, &storedVisible)
	if err == sql.ErrNoRows {
		threadExists = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("read thread: %w", err)
	}

	if vis.Hidden {
		if !threadExists {
			return nil, nil
		}
		// Kick the UI out of the conversation before the row disappears.
		effects := []Effect{{Kind: EffectThreadKicked, ID: threadID}}
		if err := store.DeleteThreadTx(tx, threadID); err != nil {
			return nil, err
		}
		return append(effects, Effect{Kind: EffectThreadDeleted, ID: threadID}), nil
	}

	var effects []Effect
	now := time.Now().UnixMilli()

	if !threadExists || storedCreated != createdAt || storedPriority != vis.Priority || !storedVisible {
		if _, err := tx.Exec(`
			INSERT INTO threads (id, variant, created_at, pinned_priority, should_be_visible, updated_at)
			VALUES (?, ?, ?, ?, 1, ?)
			ON CONFLICT(id) DO UPDATE SET
				variant = excluded.variant,
				created_at = excluded.created_at,
				pinned_priority = excluded.pinned_priority,
				should_be_visible = 1,
				updated_at = excluded.updated_at`,
			threadID, variant, createdAt, vis.Priority, now); err != nil {
			return nil, fmt.Errorf("upsert thread: %w", err)
		}
		effects = append(effects, Effect{Kind: EffectThreadUpserted, ID: threadID})
	}

	if expiry.ValidV2() {
		changed, err := upsertDisappearingIfChanged(tx, threadID, expiry)
		if err != nil {
			return nil, err
		}
		if changed {
			effects = append(effects, Effect{Kind: EffectDisappearingChanged, ID: threadID})
		}
	}
	return effects, nil
}

// upsertDisappearingIfChanged compares the setting wholesale and overwrites
// only on a difference, so repeated applications emit no spurious events.
func upsertDisappearingIfChanged(tx *sql.Tx, threadID string, expiry *Disappearing) (bool, error) {
	var (
		storedEnabled  bool
		storedDuration int64
		storedType     string
		exists         = true
	)
	err := tx.QueryRow(`SELECT enabled, duration_seconds, type FROM disappearing_configs WHERE thread_id = ?`, threadID).
		Scan(&storedEnabled, &storedDuration, &storedType)
	if err == sql.ErrNoRows {
		exists = false
		err = nil
	}
	if err != nil {
		return false, fmt.Errorf("read disappearing config: %w", err)
	}
	if exists && storedEnabled == expiry.Enabled && storedDuration == expiry.DurationSeconds && storedType == expiry.Type {
		return false, nil
	}
	if _, err := tx.Exec(`
		INSERT INTO disappearing_configs (thread_id, enabled, duration_seconds, type, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			enabled = excluded.enabled,
			duration_seconds = excluded.duration_seconds,
			type = excluded.type,
			updated_at = excluded.updated_at`,
		threadID, expiry.Enabled, expiry.DurationSeconds, expiry.Type, time.Now().UnixMilli()); err != nil {
		return false, fmt.Errorf("upsert disappearing config: %w", err)
	}
	return true, nil
}

// pruneContacts removes locally-known contacts that the snapshot no longer
// references. Draft conversations (a thread with no contact row, i.e. an
// unsent new-conversation screen) are exempt: the join below only yields
// ids that have a backing contact row.
func (r *Reconciler) pruneContacts(tx *sql.Tx, ownerID string, snap map[string]ContactSnapshot) ([]Effect, error) {
	rows, err := tx.Query(`
		SELECT id FROM contacts
		UNION
		SELECT t.id FROM threads t JOIN contacts c ON c.id = t.id WHERE t.variant = ?`,
		store.ThreadContact)
	if err != nil {
		return nil, fmt.Errorf("list known ids: %w", err)
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

	var effects []Effect
	for _, id := range known {
		if id == ownerID {
			continue
		}
		if _, ok := snap[id]; ok {
			continue
		}

		var threadExists bool
		if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM threads WHERE id = ?)`, id).Scan(&threadExists); err != nil {
			return nil, fmt.Errorf("check thread %q: %w", id, err)
		}
		if threadExists {
			effects = append(effects, Effect{Kind: EffectThreadKicked, ID: id})
		}

		if _, err := tx.Exec(`DELETE FROM contacts WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("delete contact %q: %w", id, err)
		}
		// The nickname is contact-relationship data: it must not survive
		// the contact even though the profile row itself may.
		if _, err := tx.Exec(`UPDATE profiles SET nickname = NULL WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("clear nickname %q: %w", id, err)
		}
		if err := store.DeleteThreadTx(tx, id); err != nil {
			return nil, err
		}

		effects = append(effects, Effect{Kind: EffectContactRemoved, ID: id})
		if threadExists {
			effects = append(effects, Effect{Kind: EffectThreadDeleted, ID: id})
		}
	}
	return effects, nil
}

func nicknameString(n sql.NullString) string {
	if n.Valid {
		return n.String
	}
	return ""
}

func nullableString(n sql.NullString) any {
	if n.Valid {
		return n.String
	}
	return nil
}
