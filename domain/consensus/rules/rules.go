// Package rules holds the compiled-in consensus configuration (spec §4.3,
// §6.4): difficulty schedule, horizons, size limits, and the moving-median
// window. It is deliberately a plain struct rather than a file format —
// the node ships one build per network, the way the teacher's dagconfig
// bakes network parameters into the binary — with a Checksum so a store
// opened by a different build refuses to proceed rather than silently
// misinterpreting old state.
package rules

import (
	"hash/fnv"
	"math/big"

	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
)

// Rules is the full set of consensus parameters the processor treats as
// fixed for the lifetime of a store.
type Rules struct {
	// MaxBodySize bounds a block body's serialized size (spec §4.2).
	MaxBodySize int

	// DifficultyWindow is the number of preceding Active headers the
	// difficulty retarget averages over.
	DifficultyWindow uint64
	// TargetBlockTimeMs is the desired average spacing between blocks.
	TargetBlockTimeMs int64
	// MaxDifficultyAdjustmentFactor bounds how far one retarget can move
	// the target, up or down, in a single step.
	MaxDifficultyAdjustmentFactor int64

	// MovingMedianWindow is W (spec §4.3): timestamp validation uses the
	// median of the last min(W, height) Active headers.
	MovingMedianWindow int

	// MinMaturity is the minimum number of confirmations before a newly
	// created output may be spent, absent an explicit higher maturity on
	// the output itself (spec §4.2).
	MinMaturity uint64

	// BranchingHorizon is the distance below the cursor at which
	// competing Functional tips are pruned (spec §4.5).
	BranchingHorizon uint64
	// SchwarzschildHorizon is the distance below the cursor at which
	// full bodies are fossilized (spec §4.5).
	SchwarzschildHorizon uint64
	// MaxRollbackHeight bounds how far the cursor may stand above
	// lo_horizon: going forward keeps lo_horizon >= height -
	// MaxRollbackHeight, and a rollback stops at lo_horizon (spec §4.3,
	// Open Question (i): the comparison against lo_horizon is strict '>').
	MaxRollbackHeight uint64

	// PowLimitBits is the minimum difficulty (maximum target), the
	// compact-bits floor a header's difficulty can never fall below.
	PowLimitBits uint32

	// GenesisDifficultyBits is the difficulty of the first header after
	// genesis, used while fewer than two preceding headers are in the
	// difficulty window.
	GenesisDifficultyBits uint32

	// Subsidy is the fixed coinbase emission a freshly templated block
	// reserves (spec §4.6 step 1).
	Subsidy uint64
}

// MaxRollback reports whether the cursor's distance above lo_horizon,
// cursorHeight-loHorizon, exceeds MaxRollbackHeight (Open Question (i): '>' is
// deliberate, matching the original source — equality does not clamp).
func (r *Rules) MaxRollback(cursorHeight, loHorizon uint64) bool {
	return cursorHeight-loHorizon > r.MaxRollbackHeight
}

// EffectiveSchwarzschildHorizon is max(configured, max_rollback_height,
// branching_horizon) (spec §4.5): pruning can never fossilize bodies a
// permitted rollback or a retained alternative tip might still need.
func (r *Rules) EffectiveSchwarzschildHorizon() uint64 {
	h := r.SchwarzschildHorizon
	if r.MaxRollbackHeight > h {
		h = r.MaxRollbackHeight
	}
	if r.BranchingHorizon > h {
		h = r.BranchingHorizon
	}
	return h
}

// NextDifficultyBits computes the compact difficulty a header at the next
// height must carry, from the timestamps and bits of up to
// DifficultyWindow preceding Active headers (oldest first). Grounded on
// the teacher's asert/legacy retarget shape (blockdag/difficulty.go):
// average actual spacing over the window against TargetBlockTimeMs,
// clamped by MaxDifficultyAdjustmentFactor, floored at PowLimitBits.
func (r *Rules) NextDifficultyBits(window []*externalapi.DomainBlockHeader) uint32 {
	if len(window) < 2 {
		return r.GenesisDifficultyBits
	}

	first := window[0]
	last := window[len(window)-1]
	actualSpan := last.TimestampUnixMs - first.TimestampUnixMs
	targetSpan := r.TargetBlockTimeMs * int64(len(window)-1)
	if actualSpan <= 0 {
		actualSpan = 1
	}

	minSpan := targetSpan / r.MaxDifficultyAdjustmentFactor
	maxSpan := targetSpan * r.MaxDifficultyAdjustmentFactor
	if actualSpan < minSpan {
		actualSpan = minSpan
	}
	if actualSpan > maxSpan {
		actualSpan = maxSpan
	}

	oldTarget := CompactToBig(last.PoW.DifficultyPacked)
	newTarget := new(big.Int).Mul(oldTarget, big.NewInt(actualSpan))
	newTarget.Div(newTarget, big.NewInt(targetSpan))

	powLimit := CompactToBig(r.PowLimitBits)
	if newTarget.Cmp(powLimit) > 0 {
		newTarget = powLimit
	}
	return BigToCompact(newTarget)
}

// ChainworkForBits converts a compact difficulty into the per-header
// chainwork contribution: a fixed-size domain, so work is proportional to
// 1/target, computed as limit*2^256/target, so a header mined at the pow
// limit contributes 2^256.
func ChainworkForBits(bits uint32, powLimitBits uint32) *externalapi.DomainChainwork {
	target := CompactToBig(bits)
	if target.Sign() == 0 {
		return externalapi.NewChainworkFromUint64(0)
	}
	limit := CompactToBig(powLimitBits)
	num := new(big.Int).Lsh(limit, 256)
	num.Div(num, target)
	cw := &externalapi.DomainChainwork{}
	cw.Int = *num
	return cw
}

// CheckProofOfWork reports whether headerHash, interpreted as a
// little-endian unsigned integer (see reverseForBigInt), is at or below the
// target implied by bits.
func CheckProofOfWork(headerHash externalapi.DomainHash, bits uint32) bool {
	target := CompactToBig(bits)
	hashNum := new(big.Int).SetBytes(reverseForBigInt(headerHash[:]))
	return hashNum.Cmp(target) <= 0
}

// reverseForBigInt treats a hash as a little-endian byte string when
// interpreted as a PoW number, matching the corpus's convention of
// displaying/comparing hashes as big.Int via a byte-reversed view.
func reverseForBigInt(h []byte) []byte {
	out := make([]byte, len(h))
	for i, b := range h {
		out[len(h)-1-i] = b
	}
	return out
}

// Checksum hashes the fields of Rules with FNV-1a so a store opened under
// a different build configuration is detected rather than silently
// misread (spec §4.8, §6.4: initialize fails on checksum mismatch).
func (r *Rules) Checksum() uint64 {
	h := fnv.New64a()
	writeUvarint := func(v uint64) {
		var buf [8]byte
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
		_, _ = h.Write(buf[:])
	}
	writeUvarint(uint64(r.MaxBodySize))
	writeUvarint(r.DifficultyWindow)
	writeUvarint(uint64(r.TargetBlockTimeMs))
	writeUvarint(uint64(r.MaxDifficultyAdjustmentFactor))
	writeUvarint(uint64(r.MovingMedianWindow))
	writeUvarint(r.MinMaturity)
	writeUvarint(r.BranchingHorizon)
	writeUvarint(r.SchwarzschildHorizon)
	writeUvarint(r.MaxRollbackHeight)
	writeUvarint(uint64(r.PowLimitBits))
	writeUvarint(uint64(r.GenesisDifficultyBits))
	writeUvarint(r.Subsidy)
	return h.Sum64()
}

// Mainnet returns the production parameter set. Values are chosen to be
// internally consistent (PowLimitBits looser than GenesisDifficultyBits,
// horizons ordered branching <= schwarzschild) rather than tuned against
// any real network.
func Mainnet() *Rules {
	return &Rules{
		MaxBodySize:                   2 << 20,
		DifficultyWindow:              120,
		TargetBlockTimeMs:             60_000,
		MaxDifficultyAdjustmentFactor: 4,
		MovingMedianWindow:            25,
		MinMaturity:                   60,
		BranchingHorizon:              1440,
		SchwarzschildHorizon:          20160,
		MaxRollbackHeight:             1440,
		PowLimitBits:                  BigToCompact(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 232), big.NewInt(1))),
		GenesisDifficultyBits:         BigToCompact(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 224), big.NewInt(1))),
		Subsidy:                       80 * 100_000_000,
	}
}
