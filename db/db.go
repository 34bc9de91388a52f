// Package db defines the key-value database contract used by the node. The
// default implementation is backed by pebble; an in-memory implementation is
// available for tests.
package db

import "errors"

var (
	// ErrKeyNotFound is returned when the key is not found in the database.
	ErrKeyNotFound = errors.New("key not found")
	// ErrConflict is returned when a transaction conflicts with a
	// concurrently committed one.
	ErrConflict = errors.New("conflict")
	// ErrTxnTooBig is returned when the transaction exceeds the backend's
	// size limit.
	ErrTxnTooBig = errors.New("transaction too big")
)

// Supported database types.
const (
	TypePebble   = "pebble"
	TypeInMemory = "inmemory"
)

// Options defines generic parameters for creating a database.
type Options struct {
	Path string
}

// Reader is the interface for read-only database access.
type Reader interface {
	// Get retrieves the value for the given key. Returns ErrKeyNotFound
	// if the key does not exist.
	Get(key []byte) ([]byte, error)
	// Iterate calls callback with all key-value pairs whose key starts
	// with prefix, in lexicographic key order, with the prefix stripped
	// from the keys passed to the callback. The iteration stops when the
	// callback returns false. The key and value byte slices are only
	// valid for the duration of the callback.
	Iterate(prefix []byte, callback func(key, value []byte) bool) error
}

// Database is the interface for a key-value database with transactional
// writes.
type Database interface {
	Reader
	// WriteTx creates a new write transaction.
	WriteTx() WriteTx
	// Close closes the database.
	Close() error
	// Compact triggers a backend compaction, if supported.
	Compact() error
}

// WriteTx is the interface for a write transaction. Until Commit is called,
// the mutations are not visible through the Database. A WriteTx is not safe
// for concurrent use.
type WriteTx interface {
	Reader
	// Set stores a key-value pair.
	Set(key, value []byte) error
	// Delete removes the key. Deleting a non-existing key is not an error.
	Delete(key []byte) error
	// Apply copies all pending mutations from the given transaction into
	// this one.
	Apply(other WriteTx) error
	// Commit atomically applies every mutation of the transaction. After
	// Commit the transaction must not be used.
	Commit() error
	// Discard drops the transaction. Calling Discard after Commit is a
	// no-op, so it is safe to defer.
	Discard()
}
