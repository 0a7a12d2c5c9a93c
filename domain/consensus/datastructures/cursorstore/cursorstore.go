// Package cursorstore persists the single Cursor (spec §3) the processor
// treats as its authoritative position. There is exactly one live entry;
// this mirrors the teacher's singleton stores (e.g. pruningpointstore)
// more than its per-hash stores.
package cursorstore

import (
	"github.com/1M15M3/beam/domain/consensus/corruption"
	"github.com/1M15M3/beam/domain/consensus/datastructures/serialize"
	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/infrastructure/db"
)

var bucketCursor = db.MakeBucket([]byte("cursor"))
var keyCurrent = bucketCursor.Key([]byte("current"))
var keyExtra = bucketCursor.Key([]byte("extra"))

// Store persists the Cursor and its adjacent Extra accounting state.
type Store struct{}

func New() *Store { return &Store{} }

// Set overwrites the persisted cursor.
func (s *Store) Set(dbTx db.DBWriter, c *externalapi.Cursor) error {
	buf := serializeCursor(c)
	if err := dbTx.Put(keyCurrent, buf); err != nil {
		return corruption.Wrap(err, "cursorstore", "put cursor")
	}
	return nil
}

// Get returns the persisted cursor. Absence (before startup's first
// initialize) is a corruption: every code path that reads the cursor runs
// after startup has ensured one exists.
func (s *Store) Get(dbContext db.DBReader) (*externalapi.Cursor, error) {
	raw, err := dbContext.Get(keyCurrent)
	if err != nil {
		if db.IsNotFoundError(err) {
			return nil, corruption.Wrap(err, "cursorstore", "no cursor persisted")
		}
		return nil, err
	}
	c, err := deserializeCursor(raw)
	if err != nil {
		return nil, corruption.Wrap(err, "cursorstore", "deserialize cursor")
	}
	return c, nil
}

// SetExtra overwrites the persisted Extra accounting state.
func (s *Store) SetExtra(dbTx db.DBWriter, e *externalapi.Extra) error {
	buf := serializeExtra(e)
	if err := dbTx.Put(keyExtra, buf); err != nil {
		return corruption.Wrap(err, "cursorstore", "put extra")
	}
	return nil
}

// GetExtra returns the persisted Extra accounting state.
func (s *Store) GetExtra(dbContext db.DBReader) (*externalapi.Extra, error) {
	raw, err := dbContext.Get(keyExtra)
	if err != nil {
		if db.IsNotFoundError(err) {
			return nil, corruption.Wrap(err, "cursorstore", "no extra persisted")
		}
		return nil, err
	}
	e, err := deserializeExtra(raw)
	if err != nil {
		return nil, corruption.Wrap(err, "cursorstore", "deserialize extra")
	}
	return e, nil
}

func serializeCursor(c *externalapi.Cursor) []byte {
	buf := make([]byte, 0, 256)
	buf = serialize.AppendUint64(buf, uint64(c.SID.Row))
	buf = serialize.AppendUint64(buf, c.SID.Height)
	buf = serializeHeader(buf, c.FullHeader)
	buf = serialize.AppendUint64(buf, c.ID.Height)
	buf = append(buf, c.ID.Hash[:]...)
	buf = append(buf, c.HistoryRoot[:]...)
	buf = append(buf, c.HistoryRootNext[:]...)
	buf = serialize.AppendUint64(buf, c.LoHorizon)
	buf = serialize.AppendUint32(buf, c.DifficultyNext)
	return buf
}

func deserializeCursor(data []byte) (*externalapi.Cursor, error) {
	r := serialize.NewReader(data)
	c := &externalapi.Cursor{}
	c.SID.Row = externalapi.RowID(r.Uint64())
	c.SID.Height = r.Uint64()
	c.FullHeader = deserializeHeader(r)
	c.ID.Height = r.Uint64()
	c.ID.Hash = r.Hash()
	c.HistoryRoot = r.Hash()
	c.HistoryRootNext = r.Hash()
	c.LoHorizon = r.Uint64()
	c.DifficultyNext = r.Uint32()
	if r.Err != nil {
		return nil, r.Err
	}
	return c, nil
}

func serializeHeader(buf []byte, h *externalapi.DomainBlockHeader) []byte {
	buf = serialize.AppendUint64(buf, h.Height)
	buf = append(buf, h.PrevHash[:]...)
	buf = serialize.AppendBig(buf, h.ChainworkCum)
	buf = serialize.AppendUint32(buf, h.PoW.DifficultyPacked)
	buf = serialize.AppendUint64(buf, h.PoW.Nonce)
	buf = serialize.AppendBytes(buf, h.PoW.Solution)
	buf = serialize.AppendUint64(buf, uint64(h.TimestampUnixMs))
	buf = append(buf, h.DefinitionHash[:]...)
	buf = append(buf, h.KernelCommitment[:]...)
	return buf
}

func deserializeHeader(r *serialize.Reader) *externalapi.DomainBlockHeader {
	h := &externalapi.DomainBlockHeader{}
	h.Height = r.Uint64()
	h.PrevHash = r.Hash()
	h.ChainworkCum = r.Big()
	h.PoW = &externalapi.ProofOfWork{}
	h.PoW.DifficultyPacked = r.Uint32()
	h.PoW.Nonce = r.Uint64()
	h.PoW.Solution = r.BytesPrefixed()
	h.TimestampUnixMs = int64(r.Uint64())
	h.DefinitionHash = r.Hash()
	h.KernelCommitment = r.Hash()
	return h
}

func serializeExtra(e *externalapi.Extra) []byte {
	buf := make([]byte, 0, 64)
	buf = serialize.AppendUint64(buf, e.SubsidyTotal)
	buf = append(buf, e.Offset[:]...)
	buf = serialize.AppendBool(buf, e.SubsidyOpen)
	return buf
}

func deserializeExtra(data []byte) (*externalapi.Extra, error) {
	r := serialize.NewReader(data)
	e := &externalapi.Extra{}
	e.SubsidyTotal = r.Uint64()
	copy(e.Offset[:], r.Bytes(32))
	e.SubsidyOpen = r.Bool()
	if r.Err != nil {
		return nil, r.Err
	}
	return e, nil
}
