// Package merkleset implements the ordered authenticated multiset that
// backs both accumulators of spec §4.1: a persistent map over fixed-width
// keys, in ascending key order, that traverses ranges and publishes a
// Merkle root.
//
// The teacher's own accumulator (domain/consensus/utils/multiset) commits
// an unordered EC multiset via go-secp256k1's MuHash, which cannot answer
// "smallest maturity <= h for commitment c" — a range query the UTXO input
// handler (spec §4.2) requires. This mirrors instead the shape of Beam's
// RadixTree (original_source/node/processor.cpp), simplified from a true
// binary trie to a sorted slice with a lazily-recomputed Merkle root: same
// externally observable contract (ordered traversal, invalidate-on-mutate,
// single root), a fraction of the code.
package merkleset

import (
	"bytes"
	"sort"

	"github.com/1M15M3/beam/domain/consensus/hashdomain"
	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/pkg/errors"
)

// Leaf is one entry of the multiset: a fixed-width key and an opaque value.
// A pointer to a Leaf returned by FindOrCreate or Find remains valid for
// Delete even after other entries are inserted or removed elsewhere in the
// tree, the "cursor" spec.md's traverse API describes.
type Leaf struct {
	Key   []byte
	Value []byte
}

// Tree is an ordered authenticated multiset over KeySize()-byte keys.
type Tree struct {
	keySize    int
	entries    []*Leaf // kept sorted ascending by Key
	dirty      bool
	cachedRoot externalapi.DomainHash
}

// New creates an empty tree over fixed-width keys of the given size.
func New(keySize int) *Tree {
	return &Tree{keySize: keySize, cachedRoot: hashdomain.MerkleEmptyHash}
}

// KeySize returns the fixed key width this tree was created with.
func (t *Tree) KeySize() int { return t.keySize }

// Len returns the number of leaves.
func (t *Tree) Len() int { return len(t.entries) }

func (t *Tree) search(key []byte) (idx int, found bool) {
	idx = sort.Search(len(t.entries), func(i int) bool {
		return bytes.Compare(t.entries[i].Key, key) >= 0
	})
	found = idx < len(t.entries) && bytes.Equal(t.entries[idx].Key, key)
	return idx, found
}

// Find looks up key without creating it.
func (t *Tree) Find(key []byte) (*Leaf, bool) {
	idx, found := t.search(key)
	if !found {
		return nil, false
	}
	t.dirty = true // the caller may rewrite Value in place
	return t.entries[idx], true
}

// FindOrCreate returns the leaf for key, creating it (with a nil Value) if
// absent. The second return value reports whether it was created.
func (t *Tree) FindOrCreate(key []byte) (leaf *Leaf, created bool) {
	if len(key) != t.keySize {
		panic(errors.Errorf("merkleset: key size mismatch: want %d, got %d", t.keySize, len(key)))
	}
	idx, found := t.search(key)
	if found {
		t.dirty = true // the caller may rewrite Value in place
		return t.entries[idx], false
	}
	newLeaf := &Leaf{Key: append([]byte(nil), key...)}
	t.entries = append(t.entries, nil)
	copy(t.entries[idx+1:], t.entries[idx:])
	t.entries[idx] = newLeaf
	t.dirty = true
	return newLeaf, true
}

// Delete removes a leaf previously returned by FindOrCreate or Find. It is
// an error to delete a leaf that is not (or is no longer) present.
func (t *Tree) Delete(leaf *Leaf) error {
	idx, found := t.search(leaf.Key)
	if !found || t.entries[idx] != leaf {
		return errors.Errorf("merkleset: leaf %x is not present", leaf.Key)
	}
	t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
	t.dirty = true
	return nil
}

// Visitor is called for each leaf inside a Traverse range, in ascending key
// order. Returning false stops the traversal early.
type Visitor func(leaf *Leaf) bool

// Traverse visits every leaf whose key falls in the closed interval
// [rangeMin, rangeMax], ascending. It returns true iff it completed without
// the visitor requesting an early stop (spec §4.1).
func (t *Tree) Traverse(rangeMin, rangeMax []byte, visit Visitor) bool {
	idx := sort.Search(len(t.entries), func(i int) bool {
		return bytes.Compare(t.entries[i].Key, rangeMin) >= 0
	})
	for i := idx; i < len(t.entries); i++ {
		if bytes.Compare(t.entries[i].Key, rangeMax) > 0 {
			break
		}
		t.dirty = true // the visitor may rewrite Value in place
		if !visit(t.entries[i]) {
			return false
		}
	}
	return true
}

// Root returns the Merkle root over all leaves in key order, materializing
// it if a mutation since the last call marked it dirty.
func (t *Tree) Root() externalapi.DomainHash {
	if !t.dirty {
		return t.cachedRoot
	}
	t.cachedRoot = computeRoot(t.entries)
	t.dirty = false
	return t.cachedRoot
}

func computeRoot(entries []*Leaf) externalapi.DomainHash {
	if len(entries) == 0 {
		return hashdomain.MerkleEmptyHash
	}
	level := make([]externalapi.DomainHash, len(entries))
	for i, e := range entries {
		level[i] = hashdomain.MerkleLeafHash(e.Key, e.Value)
	}
	for len(level) > 1 {
		next := make([]externalapi.DomainHash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashdomain.MerkleNodeHash(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
	}
	return level[0]
}
