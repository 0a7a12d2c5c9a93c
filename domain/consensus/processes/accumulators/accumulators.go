// Package accumulators wraps two utils/merkleset.Tree instances into the
// UTXO multiset and kernel set of spec §4.1, plus the input/output/kernel
// element handlers of spec §4.2 that mutate them. Grounded on
// original_source/node/processor.cpp's RadixTree-backed UtxoTree /
// KernelTree pair: both trees are purely in-memory and rebuilt by replay
// at startup (spec §4.8), so there is no accumulators datastructures
// store — only the block interpreter's journal makes replay
// deterministic.
package accumulators

import (
	"encoding/binary"
	"math"

	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/domain/consensus/ruleerrors"
	"github.com/1M15M3/beam/domain/consensus/utils/merkleset"
)

const (
	utxoKeySize   = externalapi.DomainCommitmentSize + 8 // commitment || maturity, big-endian
	kernelKeySize = externalapi.DomainHashSize
	maxUTXOCount  = math.MaxUint32
)

// Accumulators holds the two live authenticated multisets.
type Accumulators struct {
	UTXOTree   *merkleset.Tree
	KernelTree *merkleset.Tree
}

// New creates empty accumulators.
func New() *Accumulators {
	return &Accumulators{
		UTXOTree:   merkleset.New(utxoKeySize),
		KernelTree: merkleset.New(kernelKeySize),
	}
}

func utxoKey(commitment externalapi.DomainCommitment, maturity uint64) []byte {
	key := make([]byte, 0, utxoKeySize)
	key = append(key, commitment[:]...)
	var m [8]byte
	binary.BigEndian.PutUint64(m[:], maturity)
	return append(key, m[:]...)
}

func decodeCount(value []byte) uint32 {
	if len(value) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32(value)
}

func encodeCount(count uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], count)
	return buf[:]
}

// ApplyInputAdjusted implements the forward, adjust_input_maturity=true
// path of the UTXO input handler (spec §4.2): locate the smallest maturity
// <= h for commitment by range-traversing [(c,0),(c,h)], decrement its
// count (deleting the leaf at zero), and report the discovered maturity so
// the caller can record it in the journal.
func (a *Accumulators) ApplyInputAdjusted(commitment externalapi.DomainCommitment, h uint64) (maturity uint64, err error) {
	rangeMin := utxoKey(commitment, 0)
	rangeMax := utxoKey(commitment, h)
	var found *merkleset.Leaf
	a.UTXOTree.Traverse(rangeMin, rangeMax, func(leaf *merkleset.Leaf) bool {
		found = leaf
		return false
	})
	if found == nil {
		return 0, ruleerrors.New(ruleerrors.ErrUnknownUTXOInput)
	}
	maturity = binary.BigEndian.Uint64(found.Key[externalapi.DomainCommitmentSize:])
	if err := a.decrementOrDelete(found); err != nil {
		return 0, err
	}
	return maturity, nil
}

// ApplyInputExact implements the forward, adjust_input_maturity=false path
// (macroblock import): the input carries an explicit maturity that must
// satisfy maturity <= hMax and exist exactly.
func (a *Accumulators) ApplyInputExact(commitment externalapi.DomainCommitment, maturity, hMax uint64) error {
	if maturity > hMax {
		return ruleerrors.Newf(ruleerrors.ErrUnknownUTXOInput, "input maturity %d exceeds hMax %d", maturity, hMax)
	}
	leaf, ok := a.UTXOTree.Find(utxoKey(commitment, maturity))
	if !ok {
		return ruleerrors.New(ruleerrors.ErrUnknownUTXOInput)
	}
	return a.decrementOrDelete(leaf)
}

func (a *Accumulators) decrementOrDelete(leaf *merkleset.Leaf) error {
	count := decodeCount(leaf.Value)
	if count == 0 {
		return ruleerrors.New(ruleerrors.ErrUnknownUTXOInput)
	}
	count--
	if count == 0 {
		return a.UTXOTree.Delete(leaf)
	}
	leaf.Value = encodeCount(count)
	return nil
}

// UnapplyInput is the reverse of either apply path: insert (commitment,
// maturity) with count+1, creating the leaf at count 1 if absent.
func (a *Accumulators) UnapplyInput(commitment externalapi.DomainCommitment, maturity uint64) error {
	leaf, created := a.UTXOTree.FindOrCreate(utxoKey(commitment, maturity))
	if created {
		leaf.Value = encodeCount(1)
		return nil
	}
	count := decodeCount(leaf.Value)
	if count == maxUTXOCount {
		return ruleerrors.New(ruleerrors.ErrUTXOCountOverflow)
	}
	leaf.Value = encodeCount(count + 1)
	return nil
}

// ApplyOutput increments the count for (commitment, maturity), creating
// the leaf at count 1 if absent; count is bounded by uint32, and overflow
// fails the block (spec §4.2).
func (a *Accumulators) ApplyOutput(commitment externalapi.DomainCommitment, maturity uint64) error {
	leaf, created := a.UTXOTree.FindOrCreate(utxoKey(commitment, maturity))
	if created {
		leaf.Value = encodeCount(1)
		return nil
	}
	count := decodeCount(leaf.Value)
	if count == maxUTXOCount {
		return ruleerrors.New(ruleerrors.ErrUTXOCountOverflow)
	}
	leaf.Value = encodeCount(count + 1)
	return nil
}

// UnapplyOutput is the reverse of ApplyOutput: decrement, deleting the
// leaf at zero.
func (a *Accumulators) UnapplyOutput(commitment externalapi.DomainCommitment, maturity uint64) error {
	leaf, ok := a.UTXOTree.Find(utxoKey(commitment, maturity))
	if !ok {
		return ruleerrors.New(ruleerrors.ErrUnknownUTXOInput)
	}
	return a.decrementOrDelete(leaf)
}

// ApplyKernel inserts kernelID into the live kernel set. It is a rule
// violation for the kernel to already be present (spec §4.2, kernels are
// presence-only and never repeat).
func (a *Accumulators) ApplyKernel(kernelID externalapi.DomainHash) error {
	_, created := a.KernelTree.FindOrCreate(kernelID[:])
	if !created {
		return ruleerrors.New(ruleerrors.ErrDuplicateKernel)
	}
	return nil
}

// UnapplyKernel removes kernelID from the live kernel set.
func (a *Accumulators) UnapplyKernel(kernelID externalapi.DomainHash) error {
	leaf, ok := a.KernelTree.Find(kernelID[:])
	if !ok {
		return ruleerrors.New(ruleerrors.ErrUnknownKernelInput)
	}
	return a.KernelTree.Delete(leaf)
}

// HasUTXOMaturingBy reports whether any UTXO for commitment exists with
// maturity <= h, used by validate_tx_context (spec §6.1) to check an
// input can be spent without mutating the tree.
func (a *Accumulators) HasUTXOMaturingBy(commitment externalapi.DomainCommitment, h uint64) bool {
	found := false
	a.UTXOTree.Traverse(utxoKey(commitment, 0), utxoKey(commitment, h), func(*merkleset.Leaf) bool {
		found = true
		return false
	})
	return found
}

// IsKernelLive reports whether kernelID is currently in the live kernel
// set, used by validate_tx_context (spec §6.1) and the subsidy-open check
// (invariant I5, ZeroHash membership).
func (a *Accumulators) IsKernelLive(kernelID externalapi.DomainHash) bool {
	_, ok := a.KernelTree.Find(kernelID[:])
	return ok
}

// UTXORoot returns the UTXO tree's current Merkle root.
func (a *Accumulators) UTXORoot() externalapi.DomainHash { return a.UTXOTree.Root() }

// KernelRoot returns the kernel tree's current Merkle root.
func (a *Accumulators) KernelRoot() externalapi.DomainHash { return a.KernelTree.Root() }
