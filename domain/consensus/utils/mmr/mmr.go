// Package mmr implements the history Merkle Mountain Range that backs
// Cursor.HistoryRoot / HistoryRootNext (spec §3, §4.7): a Merkle root over
// every header from genesis up to (HistoryRoot) or including (HistoryRootNext)
// the cursor. Grounded on original_source/node/processor.cpp's
// Merkle::CompactMmr / ProofBuilderHard: an MMR is a forest of perfect
// binary trees ("mountains"), one per set bit of the leaf count, bagged
// together into a single root.
package mmr

import "github.com/1M15M3/beam/domain/consensus/hashdomain"
import "github.com/1M15M3/beam/domain/consensus/model/externalapi"

// MMR accumulates header hashes in height order. Because each mountain is a
// deterministic function of a contiguous leaf range, RootAt(n) can be
// recomputed for any prefix length without incremental peak bookkeeping —
// the cost is O(n) per call, acceptable at the sizes this module deals with.
type MMR struct {
	leaves []externalapi.DomainHash
}

// New returns an empty MMR.
func New() *MMR {
	return &MMR{}
}

// Append adds headerHash as the next leaf (called when a header becomes
// part of the active chain, i.e. on move_fwd).
func (m *MMR) Append(headerHash externalapi.DomainHash) {
	m.leaves = append(m.leaves, headerHash)
}

// Truncate drops leaves so only the first n remain (called on move_back /
// rollback, mirroring the cursor moving backward).
func (m *MMR) Truncate(n int) {
	m.leaves = m.leaves[:n]
}

// Len returns the number of leaves appended so far.
func (m *MMR) Len() int { return len(m.leaves) }

// Root returns RootAt(Len()).
func (m *MMR) Root() externalapi.DomainHash {
	return RootAt(m.leaves)
}

// RootAtLen returns the root over just the first n leaves, without
// truncating the tree — used to recompute a Cursor's HistoryRoot (which
// excludes the cursor's own leaf) alongside HistoryRootNext (which
// includes it) from the same live MMR.
func (m *MMR) RootAtLen(n int) externalapi.DomainHash {
	return RootAt(m.leaves[:n])
}

// RootAt computes the bagged-peaks MMR root over the given leaves, a pure
// function so Cursor.HistoryRoot (excluding the cursor) and
// Cursor.HistoryRootNext (including it) are just RootAt(leaves[:h]) and
// RootAt(leaves[:h+1]).
func RootAt(leaves []externalapi.DomainHash) externalapi.DomainHash {
	if len(leaves) == 0 {
		return emptyMMRRoot
	}
	peaks := peaksOf(leaves)
	return bagPeaks(peaks)
}

var emptyMMRRoot = hashdomain.MMRNodeHash(externalapi.DomainHash{}, externalapi.DomainHash{})

// peakSizes decomposes n into descending powers of two, one per set bit of
// n, left to right: the size of each successive mountain.
func peakSizes(n int) []int {
	var sizes []int
	remaining := n
	for remaining > 0 {
		p := 1
		for p*2 <= remaining {
			p *= 2
		}
		sizes = append(sizes, p)
		remaining -= p
	}
	return sizes
}

// peaksOf returns the root hash of each mountain, left to right.
func peaksOf(leaves []externalapi.DomainHash) []externalapi.DomainHash {
	sizes := peakSizes(len(leaves))
	peaks := make([]externalapi.DomainHash, 0, len(sizes))
	offset := 0
	for _, size := range sizes {
		peaks = append(peaks, perfectRoot(leaves[offset:offset+size]))
		offset += size
	}
	return peaks
}

// perfectRoot builds the root of a perfect binary tree over a leaf range
// whose length is a power of two (including 1, the trivial case).
func perfectRoot(chunk []externalapi.DomainHash) externalapi.DomainHash {
	level := make([]externalapi.DomainHash, len(chunk))
	for i, l := range chunk {
		level[i] = hashdomain.MMRLeafHash(l)
	}
	for len(level) > 1 {
		next := make([]externalapi.DomainHash, len(level)/2)
		for i := range next {
			next[i] = hashdomain.MMRNodeHash(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0]
}

// bagPeaks folds peaks right-to-left into a single root.
func bagPeaks(peaks []externalapi.DomainHash) externalapi.DomainHash {
	acc := peaks[len(peaks)-1]
	for i := len(peaks) - 2; i >= 0; i-- {
		acc = hashdomain.MMRNodeHash(peaks[i], acc)
	}
	return acc
}

// Proof is an inclusion proof for one leaf against a bagged MMR root,
// grounded on the original's Merkle::CompactMmr / ProofBuilderHard used
// during macroblock export continuity checks (spec §4.7, §6.2 get_proof).
type Proof struct {
	LeafIndex      int
	SiblingsInPeak []externalapi.DomainHash // path to the containing peak
	OtherPeaks     []externalapi.DomainHash // remaining peaks, left to right
	PeakPosition   int                      // this leaf's peak among OtherPeaks
}

// BuildProof constructs an inclusion proof for leaves[index] against
// RootAt(leaves).
func BuildProof(leaves []externalapi.DomainHash, index int) *Proof {
	sizes := peakSizes(len(leaves))
	offset := 0
	peakPos := 0
	var chunk []externalapi.DomainHash
	localIdx := 0
	for i, size := range sizes {
		if index < offset+size {
			chunk = leaves[offset : offset+size]
			localIdx = index - offset
			peakPos = i
			break
		}
		offset += size
	}

	siblings := make([]externalapi.DomainHash, 0)
	level := make([]externalapi.DomainHash, len(chunk))
	for i, l := range chunk {
		level[i] = hashdomain.MMRLeafHash(l)
	}
	idx := localIdx
	for len(level) > 1 {
		if idx%2 == 0 {
			siblings = append(siblings, level[idx+1])
		} else {
			siblings = append(siblings, level[idx-1])
		}
		next := make([]externalapi.DomainHash, len(level)/2)
		for i := range next {
			next[i] = hashdomain.MMRNodeHash(level[2*i], level[2*i+1])
		}
		level = next
		idx /= 2
	}

	peaks := peaksOf(leaves)
	otherPeaks := make([]externalapi.DomainHash, 0, len(peaks)-1)
	for i, p := range peaks {
		if i != peakPos {
			otherPeaks = append(otherPeaks, p)
		}
	}

	return &Proof{LeafIndex: index, SiblingsInPeak: siblings, OtherPeaks: otherPeaks, PeakPosition: peakPos}
}

// Verify recomputes the root from leafHash and the proof, and compares it
// to expectedRoot.
func Verify(leafHash externalapi.DomainHash, proof *Proof, totalLeaves int, expectedRoot externalapi.DomainHash) bool {
	acc := hashdomain.MMRLeafHash(leafHash)
	idx := proof.LeafIndex
	sizes := peakSizes(totalLeaves)
	offset := 0
	for i := 0; i < proof.PeakPosition; i++ {
		offset += sizes[i]
	}
	localIdx := idx - offset
	for _, sib := range proof.SiblingsInPeak {
		if localIdx%2 == 0 {
			acc = hashdomain.MMRNodeHash(acc, sib)
		} else {
			acc = hashdomain.MMRNodeHash(sib, acc)
		}
		localIdx /= 2
	}

	peaks := make([]externalapi.DomainHash, 0, len(proof.OtherPeaks)+1)
	otherIdx := 0
	for i := range sizes {
		if i == proof.PeakPosition {
			peaks = append(peaks, acc)
			continue
		}
		peaks = append(peaks, proof.OtherPeaks[otherIdx])
		otherIdx++
	}
	return bagPeaks(peaks) == expectedRoot
}
