// Package db defines the abstract, transactional key/value store contract
// (spec §6.2) that the chain processor treats as an opaque collaborator.
// The processor never assumes anything about the backing engine beyond this
// contract: a single writer, exclusive isolation, and atomic commit.
package db

import "io"

// DBKey identifies a single key within a DBBucket.
type DBKey interface {
	Bytes() []byte
	Bucket() DBBucket
	Suffix() []byte
}

// DBBucket namespaces keys. Buckets nest: Bucket(x).Bucket(y) is distinct
// from Bucket(y).Bucket(x).
type DBBucket interface {
	Bucket(bucketBytes []byte) DBBucket
	Key(suffix []byte) DBKey
	Path() []byte
}

// DBCursor iterates, in key order, over the entries of one bucket.
type DBCursor interface {
	io.Closer

	// Next advances the cursor. Returns false once exhausted.
	Next() bool

	// First rewinds the cursor to the first entry. Returns false if the
	// bucket is empty.
	First() bool

	// Seek moves to the first key >= the given key. Returns ErrNotFound if
	// no such key exists.
	Seek(key DBKey) error

	Key() (DBKey, error)
	Value() ([]byte, error)
}

// DBReader is the read side of the store contract.
type DBReader interface {
	Get(key DBKey) ([]byte, error)
	Has(key DBKey) (bool, error)
	Cursor(bucket DBBucket) (DBCursor, error)
}

// DBWriter adds mutation to DBReader.
type DBWriter interface {
	DBReader
	Put(key DBKey, value []byte) error
	Delete(key DBKey) error
}

// DBTransaction is a single, exclusive writer transaction. Every public
// mutating entry point of the processor (§5) opens exactly one of these and
// commits it at the end of the call, even on logical failure, because
// validation side effects (peer bans, deleted bodies) must persist.
type DBTransaction interface {
	DBWriter

	Commit() error
	Rollback() error

	// RollbackUnlessClosed rolls back unless Commit or Rollback already ran;
	// safe to defer immediately after Begin.
	RollbackUnlessClosed() error
}

// DBManager can start transactions and serve reads outside of one.
type DBManager interface {
	DBReader
	Begin() (DBTransaction, error)
	Close() error
}
