package configstore

import (
	"fmt"
	"sync"

	"github.com/session-foundation/seshd/internal/store"
)

type handleKey struct {
	variant Variant
	owner   string
}

// Handle pairs one live config object with the mutex that serializes all
// access to it. Only the holder of the lock may call into the object, and
// the lock must span any database transaction touching the same state.
type Handle struct {
	mu  sync.Mutex
	obj Object
}

// Do runs fn with the handle's object under the per-key lock.
func (h *Handle) Do(fn func(Object) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.obj)
}

// Registry owns the live config objects, one per (variant, owner) pair,
// lazily loaded from their persisted dumps. Callers obtain a Handle through
// the registry, never a bare object.
type Registry struct {
	mu      sync.Mutex
	handles map[handleKey]*Handle
	db      *store.DB
	nodeID  string
}

// NewRegistry creates a registry backed by the given database for dump
// recovery. nodeID identifies this device in write tie-breaks.
func NewRegistry(db *store.DB, nodeID string) *Registry {
	return &Registry{
		handles: make(map[handleKey]*Handle),
		db:      db,
		nodeID:  nodeID,
	}
}

// Acquire returns the handle for (variant, owner), creating the object from
// its last persisted dump on first use. A missing dump yields an empty
// object; losing all dumps forces a full resync against the swarm.
func (r *Registry) Acquire(variant Variant, owner string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := handleKey{variant: variant, owner: owner}
	if h, ok := r.handles[k]; ok {
		return h, nil
	}

	obj := NewMemory(r.nodeID)
	dump, err := r.db.GetDump(string(variant), owner)
	if err != nil {
		return nil, fmt.Errorf("load dump %s/%s: %w", variant, owner, err)
	}
	if dump != nil {
		if err := obj.Load(dump.Data); err != nil {
			return nil, fmt.Errorf("restore dump %s/%s: %w", variant, owner, err)
		}
	}

	h := &Handle{obj: obj}
	r.handles[k] = h
	return h, nil
}

// Peek returns the handle for (variant, owner) only if it is already
// resident. Callers use this where load ordering must already have
// happened; a miss is a programming error, surfaced as ErrNoObject.
func (r *Registry) Peek(variant Variant, owner string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[handleKey{variant: variant, owner: owner}]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrNoObject, variant, owner)
}
