package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/session-foundation/seshd/internal/bus"
	"github.com/session-foundation/seshd/internal/configstore"
	"github.com/session-foundation/seshd/internal/store"
	"go.uber.org/zap"
)

// Mapper routes local mutations into config objects. Sync-relevant writes
// MUST go through this path rather than touching relational rows directly;
// otherwise the next remote merge treats the relational row as stale and
// silently overwrites the unsynced local edit.
type Mapper struct {
	db       *store.DB
	registry *configstore.Registry
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewMapper creates a new outgoing change mapper.
func NewMapper(db *store.DB, registry *configstore.Registry, b *bus.Bus, logger *zap.Logger) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mapper{db: db, registry: registry, bus: b, logger: logger}
}

// PerformAndPush is the transactional harness for every outgoing change:
// acquire the per-key handle (loading the object from its dump on first
// use), run the mutation against the live object, push, then persist the
// new dump, the pending blob, and any relational mutation in ONE database
// transaction. The dump and the relational state can therefore never
// diverge, even across a crash. Upload happens later from the durable
// queue; an upload failure never rolls back the local edit.
//
// When the transaction aborts, the object is restored to its post-mutation
// pre-push state: the edit stays marked pending, so the next successful
// push still carries it instead of dropping it with the rolled-back blob.
func (m *Mapper) PerformAndPush(ctx context.Context, variant configstore.Variant, owner string, mutate func(configstore.Object) error, relational func(*sql.Tx) error) error {
	h, err := m.registry.Acquire(variant, owner)
	if err != nil {
		return err
	}

	var queued *store.PushEntry
	err = h.Do(func(obj configstore.Object) error {
		before, err := obj.Dump()
		if err != nil {
			return fmt.Errorf("snapshot %s/%s: %w", variant, owner, err)
		}
		if err := mutate(obj); err != nil {
			// A partial mutation (multi-id loops) must not linger.
			if lerr := obj.Load(before); lerr != nil {
				m.logger.Error("failed to restore config object after aborted mutation", zap.Error(lerr))
			}
			return err
		}

		mutated, err := obj.Dump()
		if err != nil {
			return fmt.Errorf("dump %s/%s: %w", variant, owner, err)
		}
		fail := func(err error) error {
			if lerr := obj.Load(mutated); lerr != nil {
				m.logger.Error("failed to restore pending state after aborted push", zap.Error(lerr))
			}
			return err
		}

		pending, err := obj.Push()
		if err != nil {
			return fail(fmt.Errorf("push %s/%s: %w", variant, owner, err))
		}
		dump, err := obj.Dump()
		if err != nil {
			return fail(fmt.Errorf("dump %s/%s: %w", variant, owner, err))
		}

		tx, err := m.db.Begin()
		if err != nil {
			return fail(fmt.Errorf("begin tx: %w", err))
		}
		defer func() { _ = tx.Rollback() }()

		if relational != nil {
			if err := relational(tx); err != nil {
				return fail(err)
			}
		}
		if err := store.SaveDumpTx(tx, string(variant), owner, dump); err != nil {
			return fail(fmt.Errorf("save dump: %w", err))
		}
		if pending != nil {
			queued = &store.PushEntry{
				ClientID:    uuid.NewString(),
				Variant:     string(variant),
				OwnerPubKey: owner,
				Blob:        pending.Blob,
				BlobHash:    pending.Hash,
				Seqno:       pending.Seqno,
			}
			if err := store.EnqueuePushTx(tx, queued); err != nil {
				return fail(fmt.Errorf("enqueue push: %w", err))
			}
		}
		if err := tx.Commit(); err != nil {
			return fail(fmt.Errorf("commit push: %w", err))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if queued != nil && m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "push.queued",
			Timestamp: time.Now(),
			Payload: map[string]string{
				"variant":   string(variant),
				"owner":     owner,
				"client_id": queued.ClientID,
			},
		})
	}
	_ = ctx
	return nil
}

// mutateContactRecord read-modify-writes one contacts entry.
func mutateContactRecord(obj configstore.Object, id string, fn func(*ContactRecord)) error {
	rec := ContactRecord{ID: id, CreatedAt: time.Now().UnixMilli()}
	if raw, ok := obj.Get(id); ok {
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode contact record %q: %w", id, err)
		}
	}
	fn(&rec)
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode contact record %q: %w", id, err)
	}
	obj.Set(id, raw)
	return nil
}

// mutateProfileRecord read-modify-writes the single user-profile entry.
func mutateProfileRecord(obj configstore.Object, fn func(*UserProfileRecord)) error {
	rec := UserProfileRecord{CreatedAt: time.Now().UnixMilli()}
	if raw, ok := obj.Get(ProfileKey); ok {
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode profile record: %w", err)
		}
	}
	fn(&rec)
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode profile record: %w", err)
	}
	obj.Set(ProfileKey, raw)
	return nil
}

// SetNickname records a local nickname for a contact. Nicknames have no
// timestamp ratchet: the last write wins on merge.
func (m *Mapper) SetNickname(ctx context.Context, owner, contactID, nickname string) error {
	return m.PerformAndPush(ctx, configstore.Contacts, owner,
		func(obj configstore.Object) error {
			return mutateContactRecord(obj, contactID, func(rec *ContactRecord) {
				rec.Nickname = nickname
			})
		},
		func(tx *sql.Tx) error {
			var nick any
			if nickname != "" {
				nick = nickname
			}
			_, err := tx.Exec(`
				INSERT INTO profiles (id, nickname, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET nickname = excluded.nickname, updated_at = excluded.updated_at`,
				contactID, nick, time.Now().UnixMilli())
			return err
		})
}

// ApproveContact ratchets a contact's approval flag. The record never moves
// back to unapproved from this path.
func (m *Mapper) ApproveContact(ctx context.Context, owner, contactID string) error {
	return m.PerformAndPush(ctx, configstore.Contacts, owner,
		func(obj configstore.Object) error {
			return mutateContactRecord(obj, contactID, func(rec *ContactRecord) {
				rec.Approved = true
			})
		},
		func(tx *sql.Tx) error {
			now := time.Now().UnixMilli()
			_, err := tx.Exec(`
				INSERT INTO contacts (id, is_approved, created_at, updated_at) VALUES (?, 1, ?, ?)
				ON CONFLICT(id) DO UPDATE SET is_approved = 1, updated_at = excluded.updated_at`,
				contactID, now, now)
			return err
		})
}

// SetBlocked sets a contact's blocked flag (plain last-writer-wins).
func (m *Mapper) SetBlocked(ctx context.Context, owner, contactID string, blocked bool) error {
	return m.PerformAndPush(ctx, configstore.Contacts, owner,
		func(obj configstore.Object) error {
			return mutateContactRecord(obj, contactID, func(rec *ContactRecord) {
				rec.Blocked = blocked
			})
		},
		func(tx *sql.Tx) error {
			now := time.Now().UnixMilli()
			_, err := tx.Exec(`
				INSERT INTO contacts (id, is_blocked, created_at, updated_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET is_blocked = excluded.is_blocked, updated_at = excluded.updated_at`,
				contactID, blocked, now, now)
			return err
		})
}

// SetOwnName updates the user's display name in the user-profile object,
// stamping the name field-group so older concurrent edits lose.
func (m *Mapper) SetOwnName(ctx context.Context, owner, name string) error {
	now := time.Now().UnixMilli()
	return m.PerformAndPush(ctx, configstore.UserProfile, owner,
		func(obj configstore.Object) error {
			return mutateProfileRecord(obj, func(rec *UserProfileRecord) {
				rec.Name = name
				rec.NameUpdatedAt = now
			})
		},
		func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				INSERT INTO profiles (id, name, name_updated_at, updated_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET name = excluded.name, name_updated_at = excluded.name_updated_at, updated_at = excluded.updated_at`,
				owner, name, now, now)
			return err
		})
}

// SetPinned sets a visible contact conversation's pin priority.
func (m *Mapper) SetPinned(ctx context.Context, owner, contactID string, priority int32) error {
	vis := Visibility{Priority: priority}
	if priority < 0 {
		vis = Visibility{Hidden: true}
	}
	return m.PerformAndPush(ctx, configstore.Contacts, owner,
		func(obj configstore.Object) error {
			return mutateContactRecord(obj, contactID, func(rec *ContactRecord) {
				rec.Priority = vis.RawPriority()
			})
		}, nil)
}

// HideContacts sets the hidden sentinel on each id without touching any
// contact or profile fields. Thread deletion happens when the caller
// re-reconciles from the updated object.
func (m *Mapper) HideContacts(ctx context.Context, owner string, contactIDs []string) error {
	return m.PerformAndPush(ctx, configstore.Contacts, owner,
		func(obj configstore.Object) error {
			for _, id := range contactIDs {
				if err := mutateContactRecord(obj, id, func(rec *ContactRecord) {
					rec.Priority = HiddenPriority
				}); err != nil {
					return err
				}
			}
			return nil
		}, nil)
}

// RemoveContacts erases each id from the contacts object. Erasing an
// absent id is a no-op. Relational cleanup is the merge side's job: the
// caller re-reconciles and the prune pass deletes the rows.
func (m *Mapper) RemoveContacts(ctx context.Context, owner string, contactIDs []string) error {
	return m.PerformAndPush(ctx, configstore.Contacts, owner,
		func(obj configstore.Object) error {
			for _, id := range contactIDs {
				obj.Erase(id)
			}
			return nil
		}, nil)
}

// UpdateDisappearing routes a disappearing-messages change either to the
// user's own note-to-self profile entry or to the per-contact record,
// depending on whether the thread is the owner's own conversation. The
// relational row is overwritten wholesale in the same transaction.
func (m *Mapper) UpdateDisappearing(ctx context.Context, owner, threadID string, d Disappearing) error {
	d.Version = ExpiryVersion2

	relational := func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO disappearing_configs (thread_id, enabled, duration_seconds, type, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(thread_id) DO UPDATE SET
				enabled = excluded.enabled,
				duration_seconds = excluded.duration_seconds,
				type = excluded.type,
				updated_at = excluded.updated_at`,
			threadID, d.Enabled, d.DurationSeconds, d.Type, time.Now().UnixMilli())
		return err
	}

	if threadID == owner {
		return m.PerformAndPush(ctx, configstore.UserProfile, owner,
			func(obj configstore.Object) error {
				return mutateProfileRecord(obj, func(rec *UserProfileRecord) {
					rec.ExpiryVersion = d.Version
					rec.ExpiryEnabled = d.Enabled
					rec.ExpirySeconds = d.DurationSeconds
					rec.ExpiryType = d.Type
				})
			}, relational)
	}

	return m.PerformAndPush(ctx, configstore.Contacts, owner,
		func(obj configstore.Object) error {
			return mutateContactRecord(obj, threadID, func(rec *ContactRecord) {
				rec.ExpiryVersion = d.Version
				rec.ExpiryEnabled = d.Enabled
				rec.ExpirySeconds = d.DurationSeconds
				rec.ExpiryType = d.Type
			})
		}, relational)
}
