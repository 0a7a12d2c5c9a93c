// Package ldb backs the abstract store contract (infrastructure/db) with
// github.com/syndtr/goleveldb. LevelDB has no native transactions; a
// DBTransaction here is an in-memory overlay batched into one atomic
// leveldb.Batch.Write on Commit, which is sufficient because spec §5
// guarantees a single, non-reentrant writer with no nested transactions.
package ldb

import (
	"bytes"
	"sort"
	"sync"

	"github.com/1M15M3/beam/infrastructure/db"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB implements db.DBManager over a goleveldb instance.
type LevelDB struct {
	ldb *leveldb.DB
	mu  sync.Mutex
	// open is true while a transaction is outstanding; the store contract
	// forbids nested or concurrent transactions.
	open bool
}

// Open opens (creating if necessary) the leveldb database at path.
func Open(path string) (*LevelDB, error) {
	inner, err := leveldb.OpenFile(path, Options())
	if err != nil {
		return nil, errors.Wrapf(err, "failed opening leveldb at %s", path)
	}
	return &LevelDB{ldb: inner}, nil
}

// Close releases the underlying leveldb handle.
func (l *LevelDB) Close() error {
	return errors.WithStack(l.ldb.Close())
}

// Get implements db.DBReader.
func (l *LevelDB) Get(key db.DBKey) ([]byte, error) {
	value, err := l.ldb.Get(key.Bytes(), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, db.ErrNotFound
		}
		return nil, errors.WithStack(err)
	}
	return value, nil
}

// Has implements db.DBReader.
func (l *LevelDB) Has(key db.DBKey) (bool, error) {
	has, err := l.ldb.Has(key.Bytes(), nil)
	if err != nil {
		return false, errors.WithStack(err)
	}
	return has, nil
}

// Cursor implements db.DBReader by snapshotting the bucket's key range.
func (l *LevelDB) Cursor(bucket db.DBBucket) (db.DBCursor, error) {
	return newSliceCursor(l.scanPrefix(bucketPrefix(bucket))), nil
}

func bucketPrefix(bucket db.DBBucket) []byte {
	prefix := make([]byte, 0, len(bucket.Path())+1)
	prefix = append(prefix, bucket.Path()...)
	prefix = append(prefix, bucketSeparatorByte)
	return prefix
}

const bucketSeparatorByte = 0x2f

func (l *LevelDB) scanPrefix(prefix []byte) []entry {
	iter := l.ldb.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var entries []entry
	for iter.Next() {
		k := append([]byte(nil), iter.Key()...)
		v := append([]byte(nil), iter.Value()...)
		entries = append(entries, entry{key: k, value: v})
	}
	return entries
}

// Begin starts the single outstanding write transaction.
func (l *LevelDB) Begin() (db.DBTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open {
		return nil, errors.New("a transaction is already open; the store contract forbids nested transactions")
	}
	l.open = true
	return &transaction{
		ldb:     l,
		puts:    make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}, nil
}

type entry struct {
	key   []byte
	value []byte
}

type transaction struct {
	ldb     *LevelDB
	puts    map[string][]byte
	deletes map[string]struct{}
	closed  bool
}

func (t *transaction) Get(key db.DBKey) ([]byte, error) {
	raw := key.Bytes()
	if _, deleted := t.deletes[string(raw)]; deleted {
		return nil, db.ErrNotFound
	}
	if v, ok := t.puts[string(raw)]; ok {
		return v, nil
	}
	return t.ldb.Get(key)
}

func (t *transaction) Has(key db.DBKey) (bool, error) {
	raw := key.Bytes()
	if _, deleted := t.deletes[string(raw)]; deleted {
		return false, nil
	}
	if _, ok := t.puts[string(raw)]; ok {
		return true, nil
	}
	return t.ldb.Has(key)
}

func (t *transaction) Put(key db.DBKey, value []byte) error {
	raw := string(key.Bytes())
	delete(t.deletes, raw)
	t.puts[raw] = append([]byte(nil), value...)
	return nil
}

func (t *transaction) Delete(key db.DBKey) error {
	raw := string(key.Bytes())
	delete(t.puts, raw)
	t.deletes[raw] = struct{}{}
	return nil
}

func (t *transaction) Cursor(bucket db.DBBucket) (db.DBCursor, error) {
	prefix := bucketPrefix(bucket)
	base := t.ldb.scanPrefix(prefix)

	merged := make(map[string][]byte, len(base))
	for _, e := range base {
		merged[string(e.key)] = e.value
	}
	for k := range t.deletes {
		if bytes.HasPrefix([]byte(k), prefix) {
			delete(merged, k)
		}
	}
	for k, v := range t.puts {
		if bytes.HasPrefix([]byte(k), prefix) {
			merged[k] = v
		}
	}

	entries := make([]entry, 0, len(merged))
	for k, v := range merged {
		entries = append(entries, entry{key: []byte(k), value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].key, entries[j].key) < 0 })
	return newSliceCursor(entries), nil
}

func (t *transaction) Commit() error {
	if t.closed {
		return errors.New("transaction already closed")
	}
	batch := new(leveldb.Batch)
	for k, v := range t.puts {
		batch.Put([]byte(k), v)
	}
	for k := range t.deletes {
		batch.Delete([]byte(k))
	}
	err := t.ldb.ldb.Write(batch, nil)
	t.release()
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (t *transaction) Rollback() error {
	if t.closed {
		return errors.New("transaction already closed")
	}
	t.release()
	return nil
}

func (t *transaction) RollbackUnlessClosed() error {
	if t.closed {
		return nil
	}
	return t.Rollback()
}

func (t *transaction) release() {
	t.closed = true
	t.ldb.mu.Lock()
	t.ldb.open = false
	t.ldb.mu.Unlock()
}

// sliceCursor implements db.DBCursor over a pre-sorted, materialized slice.
type sliceCursor struct {
	entries []entry
	pos     int
	started bool
}

func newSliceCursor(entries []entry) *sliceCursor {
	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].key, entries[j].key) < 0 })
	return &sliceCursor{entries: entries, pos: -1}
}

func (c *sliceCursor) Next() bool {
	c.started = true
	c.pos++
	return c.pos < len(c.entries)
}

func (c *sliceCursor) First() bool {
	c.started = true
	c.pos = 0
	return len(c.entries) > 0
}

func (c *sliceCursor) Seek(key db.DBKey) error {
	target := key.Bytes()
	idx := sort.Search(len(c.entries), func(i int) bool {
		return bytes.Compare(c.entries[i].key, target) >= 0
	})
	if idx >= len(c.entries) {
		c.pos = len(c.entries)
		return db.ErrNotFound
	}
	c.started = true
	c.pos = idx
	return nil
}

func (c *sliceCursor) Key() (db.DBKey, error) {
	if !c.started || c.pos < 0 || c.pos >= len(c.entries) {
		return nil, db.ErrNotFound
	}
	return rawKey(c.entries[c.pos].key), nil
}

func (c *sliceCursor) Value() ([]byte, error) {
	if !c.started || c.pos < 0 || c.pos >= len(c.entries) {
		return nil, db.ErrNotFound
	}
	return c.entries[c.pos].value, nil
}

func (c *sliceCursor) Close() error {
	c.entries = nil
	return nil
}

// rawKey wraps an already-fully-qualified key byte slice so callers of
// Cursor.Key can still call Bytes(); Bucket/Suffix aren't reconstructable
// from raw bytes so they panic if used, matching that this is a leaf value.
type rawKey []byte

func (r rawKey) Bytes() []byte     { return r }
func (r rawKey) Bucket() db.DBBucket { panic("rawKey has no bucket accessor; use Bytes()") }
func (r rawKey) Suffix() []byte      { panic("rawKey has no suffix accessor; use Bytes()") }
