package sync

import (
	"fmt"
	"time"

	"github.com/session-foundation/seshd/internal/bus"
	"github.com/session-foundation/seshd/internal/configstore"
	"github.com/session-foundation/seshd/internal/store"
	"go.uber.org/zap"
)

// Incoming is one decrypted config push pulled from the swarm, ready to be
// merged. The swarm client delivers pulls one at a time from its poll loop.
type Incoming struct {
	Variant configstore.Variant
	Owner   string
	Blob    []byte
	Hash    string
}

// Engine drives the merge direction: the swarm client hands it pulled
// pushes, it merges them into the per-key config objects, reconciles the
// extracted snapshots onto relational state, and persists the new dump, all
// while holding the per-key lock, with the reconcile and dump in one
// transaction.
type Engine struct {
	db         *store.DB
	registry   *configstore.Registry
	rec        *Reconciler
	bus        *bus.Bus
	logger     *zap.Logger
	userPubKey string
}

// NewEngine creates a new sync engine. userPubKey is the local account's
// public key, used to route personal variants and exclude the self entry.
func NewEngine(db *store.DB, registry *configstore.Registry, b *bus.Bus, logger *zap.Logger, userPubKey string) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:         db,
		registry:   registry,
		rec:        NewReconciler(db, logger),
		bus:        b,
		logger:     logger,
		userPubKey: userPubKey,
	}
}

// HandleIncoming merges one pulled blob and reconciles the result. A
// rejected merge leaves prior local state untouched and is logged as a
// security-relevant anomaly (it may indicate a hostile storage node). A
// merge that changes nothing skips reconciliation entirely.
//
// Merge and commit succeed or fail together: if the reconcile transaction
// aborts, the object is restored to its pre-merge state so a redelivery of
// the same blob merges again instead of short-circuiting as already
// applied.
func (e *Engine) HandleIncoming(in Incoming) error {
	h, err := e.registry.Acquire(in.Variant, in.Owner)
	if err != nil {
		return err
	}

	var effects []Effect
	err = h.Do(func(obj configstore.Object) error {
		before, err := obj.Dump()
		if err != nil {
			return fmt.Errorf("snapshot %s/%s: %w", in.Variant, in.Owner, err)
		}
		changed, err := obj.Merge(in.Blob, in.Hash)
		if err != nil {
			e.logger.Warn("config merge rejected",
				zap.String("variant", string(in.Variant)),
				zap.String("owner", in.Owner),
				zap.Error(err))
			return fmt.Errorf("merge %s/%s: %w", in.Variant, in.Owner, err)
		}
		if !changed {
			return nil
		}
		effects, err = e.reconcileLocked(obj, in.Variant, in.Owner)
		if err != nil {
			if lerr := obj.Load(before); lerr != nil {
				e.logger.Error("failed to restore config object after aborted reconcile",
					zap.String("variant", string(in.Variant)),
					zap.String("owner", in.Owner),
					zap.Error(lerr))
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.publishEffects(effects)
	return nil
}

// ReconcileLocal re-applies the current local config object state to the
// database. Callers use it after outgoing mutations that have relational
// consequences only the reconciler knows how to enact (hide, remove).
func (e *Engine) ReconcileLocal(variant configstore.Variant, owner string) error {
	h, err := e.registry.Acquire(variant, owner)
	if err != nil {
		return err
	}

	var effects []Effect
	err = h.Do(func(obj configstore.Object) error {
		effects, err = e.reconcileLocked(obj, variant, owner)
		return err
	})
	if err != nil {
		return err
	}

	e.publishEffects(effects)
	return nil
}

// reconcileLocked extracts the object's snapshot and applies it together
// with the new dump in one transaction. Must be called with the per-key
// lock held.
func (e *Engine) reconcileLocked(obj configstore.Object, variant configstore.Variant, owner string) ([]Effect, error) {
	tx, err := e.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var effects []Effect
	switch variant {
	case configstore.Contacts:
		snap, malformed, err := ExtractContacts(obj)
		if err != nil {
			return nil, err
		}
		e.logMalformed(variant, owner, malformed)
		effects, err = e.rec.ContactsTx(tx, e.userPubKey, snap)
		if err != nil {
			return nil, err
		}
	case configstore.UserProfile:
		snap, err := ExtractUserProfile(obj)
		if err != nil {
			return nil, err
		}
		effects, err = e.rec.UserProfileTx(tx, owner, snap)
		if err != nil {
			return nil, err
		}
	case configstore.ClosedGroupInfo:
		snap, err := ExtractGroupInfo(obj)
		if err != nil {
			return nil, err
		}
		effects, err = e.rec.GroupInfoTx(tx, owner, snap)
		if err != nil {
			return nil, err
		}
	case configstore.ClosedGroupMembers:
		snap, malformed, err := ExtractGroupMembers(obj)
		if err != nil {
			return nil, err
		}
		e.logMalformed(variant, owner, malformed)
		effects, err = e.rec.GroupMembersTx(tx, owner, snap)
		if err != nil {
			return nil, err
		}
	case configstore.LegacyGroup:
		snap, malformed, err := ExtractLegacyGroups(obj)
		if err != nil {
			return nil, err
		}
		e.logMalformed(variant, owner, malformed)
		effects, err = e.rec.LegacyGroupsTx(tx, owner, snap)
		if err != nil {
			return nil, err
		}
	case configstore.ClosedGroupKeys:
		// Key material is opaque to the relational layer; only the dump
		// below needs refreshing.
	default:
		return nil, fmt.Errorf("unknown variant %q", variant)
	}

	dump, err := obj.Dump()
	if err != nil {
		return nil, fmt.Errorf("dump %s/%s: %w", variant, owner, err)
	}
	if err := store.SaveDumpTx(tx, string(variant), owner, dump); err != nil {
		return nil, fmt.Errorf("save dump: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reconcile: %w", err)
	}
	return effects, nil
}

func (e *Engine) logMalformed(variant configstore.Variant, owner string, keys []string) {
	for _, key := range keys {
		e.logger.Warn("skipping malformed config entry",
			zap.String("variant", string(variant)),
			zap.String("owner", owner),
			zap.String("key", key))
	}
}

func (e *Engine) publishEffects(effects []Effect) {
	if e.bus == nil {
		return
	}
	for _, eff := range effects {
		e.bus.Publish(bus.Event{
			Kind:      string(eff.Kind),
			Timestamp: time.Now(),
			Payload:   eff,
		})
	}
}
