// Package kv defines the capability set shared by every ordered key-value store in the
// system - the in-memory store, the corruption guard that wraps it, and the remote client
// that reaches one across a process boundary. Callers program against these interfaces
// and cannot tell the implementations apart, other than by latency and the possibility of
// connection-level failure on the remote one.
package kv

// KV is an ordered key-value store. Keys are opaque non-empty byte sequences, totally
// ordered by unsigned bytewise lexicographic comparison. Values are opaque byte
// sequences.
type KV interface {
	// Has returns whether key is present.
	Has(key []byte) (bool, error)

	// Get returns the value for key. An absent key fails with a NotFound coded error -
	// an expected condition, never conflated with an I/O fault.
	Get(key []byte) ([]byte, error)

	// Put inserts or overwrites the value for key.
	Put(key []byte, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key []byte) error

	// NewIterator iterates the whole store in ascending key order.
	NewIterator() (Iterator, error)

	// NewIteratorWithStart iterates keys >= start in ascending order.
	NewIteratorWithStart(start []byte) (Iterator, error)

	// NewIteratorWithPrefix iterates keys beginning with prefix in ascending order.
	NewIteratorWithPrefix(prefix []byte) (Iterator, error)

	// NewIteratorWithStartAndPrefix combines both filters: only keys >= start AND
	// matching prefix are visible, in ascending order.
	NewIteratorWithStartAndPrefix(start []byte, prefix []byte) (Iterator, error)

	// Compact compacts the underlying storage for the given key range. Implementations
	// with nothing to compact treat this as a no-op.
	Compact(start []byte, limit []byte) error

	// HealthCheck returns a JSON status payload describing the health of the store.
	HealthCheck() ([]byte, error)

	// Close releases the store. All operations fail with a Closed coded error afterwards.
	Close() error
}

// Iterator is a forward cursor over the sorted key space. A fresh iterator is positioned
// before the first qualifying entry; the first Next moves onto it.
type Iterator interface {
	// Next advances to the next qualifying entry and reports whether there is one. Once
	// it has returned false it keeps returning false. If the advance failed the detail is
	// retrieved via Error, not via the boolean.
	Next() bool

	// Key returns the key at the current position. Calling it when the iterator is not
	// positioned on an entry fails with an InvalidArgument coded error - it never
	// returns stale or empty data silently.
	Key() ([]byte, error)

	// Value returns the value at the current position, with the same contract as Key.
	Value() ([]byte, error)

	// Error returns the sticky error from the first failed advance, or nil if the
	// iterator is healthy or simply exhausted.
	Error() error

	// Release frees the resources held by the iterator. It is idempotent and must be
	// called once iteration ends or is abandoned early.
	Release() error
}
