package externalapi

// ProofOfWork is the packed-difficulty proof of work attached to a header
// (spec §3, Header). Solution verification is a black-box external
// predicate (spec §1); this module only checks the target/difficulty
// bookkeeping around it.
type ProofOfWork struct {
	// DifficultyPacked is the compact (mantissa/exponent) encoding of the
	// difficulty this header was mined at, in the same style as Bitcoin's
	// "bits" field.
	DifficultyPacked uint32
	Nonce            uint64
	Solution         []byte
}

// Clone returns a deep copy.
func (p *ProofOfWork) Clone() *ProofOfWork {
	if p == nil {
		return nil
	}
	solution := append([]byte(nil), p.Solution...)
	return &ProofOfWork{DifficultyPacked: p.DifficultyPacked, Nonce: p.Nonce, Solution: solution}
}

// DomainBlockHeader is the standalone-verifiable part of a block (spec §3).
type DomainBlockHeader struct {
	Height uint64
	// PrevHash is the hash of the immediate predecessor header. The header
	// graph is a tree of single-parent nodes, not a DAG.
	PrevHash externalHashOrNil
	// ChainworkCum is the cumulative proof-of-work of the chain ending at
	// this header, i.e. Difficulty(PrevHash) + this header's own difficulty.
	ChainworkCum *DomainChainwork
	PoW          *ProofOfWork
	// TimestampUnixMs is the header's claimed time, milliseconds since epoch.
	TimestampUnixMs int64
	// DefinitionHash commits to post-apply state: H(H(utxoRoot, kernelRoot,
	// true), historyRoot, false). See hashdomain.HeaderDefinition.
	DefinitionHash DomainHash
	// KernelCommitment is hashed into the header hash like every other
	// field; nothing checks it against the kernels of this block's body.
	KernelCommitment DomainHash
}

// externalHashOrNil lets genesis carry a nil/zero PrevHash without a pointer
// indirection everywhere else; it's just DomainHash with IsZero() meaning
// "no parent".
type externalHashOrNil = DomainHash

// Clone returns a deep copy of the header.
func (h *DomainBlockHeader) Clone() *DomainBlockHeader {
	if h == nil {
		return nil
	}
	clone := *h
	clone.PoW = h.PoW.Clone()
	if h.ChainworkCum != nil {
		w := *h.ChainworkCum
		clone.ChainworkCum = &w
	}
	return &clone
}

// Equal does a field-by-field comparison.
func (h *DomainBlockHeader) Equal(other *DomainBlockHeader) bool {
	if h == nil || other == nil {
		return h == other
	}
	if h.Height != other.Height || h.PrevHash != other.PrevHash ||
		h.TimestampUnixMs != other.TimestampUnixMs ||
		h.DefinitionHash != other.DefinitionHash ||
		h.KernelCommitment != other.KernelCommitment {
		return false
	}
	if (h.ChainworkCum == nil) != (other.ChainworkCum == nil) {
		return false
	}
	if h.ChainworkCum != nil && !h.ChainworkCum.Equal(other.ChainworkCum) {
		return false
	}
	if (h.PoW == nil) != (other.PoW == nil) {
		return false
	}
	if h.PoW == nil {
		return true
	}
	return h.PoW.DifficultyPacked == other.PoW.DifficultyPacked &&
		h.PoW.Nonce == other.PoW.Nonce &&
		string(h.PoW.Solution) == string(other.PoW.Solution)
}
