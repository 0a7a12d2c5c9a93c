package externalapi

// RowID identifies a header-graph node inside the store. It's opaque to the
// processor beyond ordering (used only for deterministic tie-breaking,
// spec §4.3) and equality.
type RowID uint64

// PeerID identifies the peer that delivered some piece of data, so
// on_peer_insane (spec §6.3) can be fired against the right one.
type PeerID string

// StateID pairs a row with its height, the shape spec §3 calls sid.
type StateID struct {
	Row    RowID
	Height uint64
}

// ChainID pairs a height with a hash, the shape spec §3 calls id.
type ChainID struct {
	Height uint64
	Hash   DomainHash
}

// Cursor is the processor's authoritative position (spec §3, Cursor).
type Cursor struct {
	SID              StateID
	FullHeader       *DomainBlockHeader
	ID               ChainID
	HistoryRoot      DomainHash // MMR root of headers up to but excluding the cursor
	HistoryRootNext  DomainHash // MMR root including the cursor
	LoHorizon        uint64
	DifficultyNext   uint32
}

// Clone returns a deep copy of the cursor.
func (c *Cursor) Clone() *Cursor {
	if c == nil {
		return nil
	}
	clone := *c
	clone.FullHeader = c.FullHeader.Clone()
	return &clone
}

// Extra is the mutable accounting state that lives alongside the
// accumulators (spec §3, Extra state): subsidy_total, offset, subsidy_open.
type Extra struct {
	// SubsidyTotal is the running subsidy total, kept as a plain uint64;
	// the block interpreter adds and subtracts each body's subsidy without
	// an overflow check.
	SubsidyTotal uint64
	// Offset is the running aggregate blinding-factor excess across all
	// applied blocks, treated as an opaque 32-byte accumulator (CT black box).
	Offset [32]byte
	// SubsidyOpen caches the non-membership of ZeroHash in the kernel set
	// (spec invariant I5); the kernel set is the source of truth.
	SubsidyOpen bool
}

// Clone returns a deep copy.
func (e *Extra) Clone() *Extra {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}
