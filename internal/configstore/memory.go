package configstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// lwwEntry is one stored value with the metadata needed for
// last-writer-wins resolution. Deleted entries are kept as tombstones so
// removals propagate to other devices.
type lwwEntry struct {
	Value     []byte `json:"value,omitempty"`
	Timestamp int64  `json:"timestamp"`
	NodeID    string `json:"node_id"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// isNewerThan resolves concurrent writes: higher timestamp wins, ties are
// broken lexicographically on node id for determinism.
func (e *lwwEntry) isNewerThan(other *lwwEntry) bool {
	if e.Timestamp != other.Timestamp {
		return e.Timestamp > other.Timestamp
	}
	return e.NodeID > other.NodeID
}

// pushBlob is the wire form of a batch of pending changes.
type pushBlob struct {
	Seqno   int64               `json:"seqno"`
	NodeID  string              `json:"node_id"`
	Entries map[string]lwwEntry `json:"entries"`
}

// dumpState is the persisted full-state form.
type dumpState struct {
	Seqno   int64               `json:"seqno"`
	Entries map[string]lwwEntry `json:"entries"`
	Dirty   []string            `json:"dirty,omitempty"`
}

// Memory is an in-memory last-writer-wins Object. It stands in for the
// opaque CRDT library at the FFI boundary: same primitives, pure Go
// semantics, so the sync engine can be exercised without the real library.
type Memory struct {
	nodeID  string
	entries map[string]*lwwEntry
	dirty   map[string]struct{}
	seqno   int64

	// Clock supplies write timestamps. Tests override it for determinism.
	Clock func() int64
}

// NewMemory creates an empty object owned by the given device node id.
func NewMemory(nodeID string) *Memory {
	return &Memory{
		nodeID:  nodeID,
		entries: make(map[string]*lwwEntry),
		dirty:   make(map[string]struct{}),
		Clock:   func() int64 { return time.Now().UnixMilli() },
	}
}

// Get returns the value stored for key, if any.
func (m *Memory) Get(key string) ([]byte, bool) {
	e, ok := m.entries[key]
	if !ok || e.Deleted {
		return nil, false
	}
	return e.Value, true
}

// Set stores value under key and marks the entry as pending push.
func (m *Memory) Set(key string, value []byte) {
	m.entries[key] = &lwwEntry{
		Value:     value,
		Timestamp: m.Clock(),
		NodeID:    m.nodeID,
	}
	m.dirty[key] = struct{}{}
}

// Erase tombstones key. Erasing an absent or already-erased key is a no-op.
func (m *Memory) Erase(key string) {
	e, ok := m.entries[key]
	if !ok || e.Deleted {
		return
	}
	m.entries[key] = &lwwEntry{
		Timestamp: m.Clock(),
		NodeID:    m.nodeID,
		Deleted:   true,
	}
	m.dirty[key] = struct{}{}
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	n := 0
	for _, e := range m.entries {
		if !e.Deleted {
			n++
		}
	}
	return n
}

type memoryIterator struct {
	entries []Entry
	pos     int
}

func (it *memoryIterator) Next() bool {
	if it.pos >= len(it.entries) {
		return false
	}
	it.pos++
	return true
}

func (it *memoryIterator) Entry() Entry {
	return it.entries[it.pos-1]
}

// Iterate returns an iterator over live entries, sorted by key so repeated
// walks of the same state visit entries in the same order.
func (m *Memory) Iterate() Iterator {
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if !e.Deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, Entry{Key: k, Value: m.entries[k].Value})
	}
	return &memoryIterator{entries: entries}
}

// Merge applies a received push blob. Each entry wins only if it is newer
// than the locally stored one. Returns whether local state changed.
func (m *Memory) Merge(blob []byte, hash string) (bool, error) {
	if got := hashBlob(blob); hash != "" && got != hash {
		return false, fmt.Errorf("merge blob hash mismatch: got %s, want %s", got, hash)
	}

	var in pushBlob
	if err := json.Unmarshal(blob, &in); err != nil {
		return false, fmt.Errorf("decode merge blob: %w", err)
	}

	changed := false
	for key, incoming := range in.Entries {
		inc := incoming
		cur, ok := m.entries[key]
		if ok && !inc.isNewerThan(cur) {
			continue
		}
		m.entries[key] = &inc
		changed = true
	}
	return changed, nil
}

// Push serializes pending local changes. Returns nil when nothing is
// pending. The pending set is cleared: the caller persists the returned
// blob durably in the same transaction as the dump.
func (m *Memory) Push() (*Pending, error) {
	if len(m.dirty) == 0 {
		return nil, nil
	}

	out := pushBlob{
		Seqno:   m.seqno + 1,
		NodeID:  m.nodeID,
		Entries: make(map[string]lwwEntry, len(m.dirty)),
	}
	for key := range m.dirty {
		if e, ok := m.entries[key]; ok {
			out.Entries[key] = *e
		}
	}

	blob, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode push blob: %w", err)
	}

	m.seqno++
	m.dirty = make(map[string]struct{})

	return &Pending{Blob: blob, Hash: hashBlob(blob), Seqno: m.seqno}, nil
}

// Dump serializes the full state, including any still-pending keys.
func (m *Memory) Dump() ([]byte, error) {
	st := dumpState{
		Seqno:   m.seqno,
		Entries: make(map[string]lwwEntry, len(m.entries)),
	}
	for k, e := range m.entries {
		st.Entries[k] = *e
	}
	for k := range m.dirty {
		st.Dirty = append(st.Dirty, k)
	}
	sort.Strings(st.Dirty)
	return json.Marshal(st)
}

// Load replaces the object's state with a previously dumped one.
func (m *Memory) Load(data []byte) error {
	var st dumpState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode dump: %w", err)
	}
	m.seqno = st.Seqno
	m.entries = make(map[string]*lwwEntry, len(st.Entries))
	for k, e := range st.Entries {
		entry := e
		m.entries[k] = &entry
	}
	m.dirty = make(map[string]struct{}, len(st.Dirty))
	for _, k := range st.Dirty {
		m.dirty[k] = struct{}{}
	}
	return nil
}

func hashBlob(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}
