package configstore

import "errors"

// ErrNoObject is returned when an operation targets a (variant, owner) pair
// with no loaded object. This indicates a load-ordering bug in the caller,
// not a runtime data problem.
var ErrNoObject = errors.New("configstore: no config object loaded for key")

// Entry is one key/value pair inside a config object. Values are opaque to
// the object; the sync layer encodes domain records into them.
type Entry struct {
	Key   string
	Value []byte
}

// Iterator walks a config object's entries, one pass per call to Iterate.
// The iteration order is unspecified but stable for a given state.
type Iterator interface {
	Next() bool
	Entry() Entry
}

// Pending is a serialized batch of local changes awaiting upload.
type Pending struct {
	Blob  []byte
	Hash  string
	Seqno int64
}

// Object is a mergeable per-domain state container. Implementations wrap a
// real CRDT library or, for tests and the built-in store, implement
// last-writer-wins semantics directly. Objects are not safe for concurrent
// use; callers serialize access through the Registry's per-key handles.
type Object interface {
	// Get returns the value stored for key, if any.
	Get(key string) ([]byte, bool)

	// Set stores value under key and marks the entry as pending push.
	Set(key string, value []byte)

	// Erase removes key, leaving a tombstone. Erasing an absent key is a
	// no-op, not an error.
	Erase(key string)

	// Iterate returns a fresh iterator over live entries as of the call.
	Iterate() Iterator

	// Len returns the number of live entries.
	Len() int

	// Merge applies a received blob. The returned bool reports whether the
	// local state changed, i.e. whether a new dump is needed.
	Merge(blob []byte, hash string) (bool, error)

	// Push serializes pending local changes for upload. Returns nil when
	// there is nothing to push.
	Push() (*Pending, error)

	// Dump serializes the full state for persistence.
	Dump() ([]byte, error)

	// Load restores state from a previous Dump.
	Load(data []byte) error
}
