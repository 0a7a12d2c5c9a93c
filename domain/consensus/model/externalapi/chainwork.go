package externalapi

import "math/big"

// DomainChainwork is cumulative proof-of-work (spec glossary: "Chainwork").
// It is unbounded, so it's backed by math/big rather than a fixed-width int,
// the same way btcd-lineage code (this pack's teacher included) computes
// chain work as a big.Int accumulated from each header's target.
type DomainChainwork struct {
	big.Int
}

// NewChainworkFromUint64 wraps a small chainwork value, mostly for tests.
func NewChainworkFromUint64(v uint64) *DomainChainwork {
	w := &DomainChainwork{}
	w.SetUint64(v)
	return w
}

// Add returns a new DomainChainwork equal to w + other.
func (w *DomainChainwork) Add(other *DomainChainwork) *DomainChainwork {
	result := &DomainChainwork{}
	result.Int.Add(&w.Int, &other.Int)
	return result
}

// Cmp compares w to other the way big.Int.Cmp does.
func (w *DomainChainwork) Cmp(other *DomainChainwork) int {
	return w.Int.Cmp(&other.Int)
}

// Equal reports bit-for-bit equality.
func (w *DomainChainwork) Equal(other *DomainChainwork) bool {
	return w.Cmp(other) == 0
}

// Clone returns a deep copy.
func (w *DomainChainwork) Clone() *DomainChainwork {
	clone := &DomainChainwork{}
	clone.Int.Set(&w.Int)
	return clone
}
