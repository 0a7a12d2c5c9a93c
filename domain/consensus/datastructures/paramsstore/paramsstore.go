// Package paramsstore persists the small set of scalar parameters spec
// §6.2 addresses by enum id: CfgChecksum, LoHorizon, FossilHeight. Kept as
// its own store, the way the teacher isolates single-value state (e.g.
// pruningpointstore) from the bulkier per-hash stores.
package paramsstore

import (
	"encoding/binary"

	"github.com/1M15M3/beam/domain/consensus/corruption"
	"github.com/1M15M3/beam/infrastructure/db"
)

// ParamID enumerates the persisted scalar parameters.
type ParamID int

const (
	CfgChecksum ParamID = iota
	LoHorizon
	FossilHeight
	// NextRow is the counter new RowIDs are drawn from: ingress (and
	// macroblock import) read it, give the row to the node they pass to
	// headergraphstore.Insert, and advance it.
	NextRow
)

var bucketParams = db.MakeBucket([]byte("params"))

// Store persists ParamID -> uint64 values.
type Store struct{}

func New() *Store { return &Store{} }

func paramKey(id ParamID) db.DBKey {
	return bucketParams.Key([]byte{byte(id)})
}

// Set stores value under id.
func (s *Store) Set(dbTx db.DBWriter, id ParamID, value uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], value)
	if err := dbTx.Put(paramKey(id), buf[:]); err != nil {
		return corruption.Wrap(err, "paramsstore", "put param")
	}
	return nil
}

// Get returns the stored value for id. Absence, reported via
// db.IsNotFoundError, is not a corruption on its own — startup treats a
// missing CfgChecksum as "fresh store", not "broken store".
func (s *Store) Get(dbContext db.DBReader, id ParamID) (uint64, error) {
	raw, err := dbContext.Get(paramKey(id))
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, corruption.New("paramsstore", "malformed param value")
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Has reports whether id has ever been set.
func (s *Store) Has(dbContext db.DBReader, id ParamID) (bool, error) {
	return dbContext.Has(paramKey(id))
}
