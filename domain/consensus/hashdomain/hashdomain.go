// Package hashdomain is the sole producer of externalapi.DomainHash values.
// All hashing is blake2b, domain-separated the way domain/consensus/utils/hashes
// separates hash domains in the teacher repo: every construction starts from
// a distinct tag so that, e.g., a Merkle leaf can never collide with a
// Merkle interior node or a header hash.
package hashdomain

import (
	"encoding/binary"
	"hash"

	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// Writer incrementally hashes data without concatenating it into one buffer
// first, mirroring the teacher's hashes.HashWriter. It can only be created
// via one of the domain-separated constructors below.
type Writer struct {
	hash.Hash
}

func newWriter(tag string) Writer {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(errors.Wrap(err, "blake2b.New256 with no key never fails"))
	}
	w := Writer{Hash: h}
	w.InfallibleWrite([]byte(tag))
	return w
}

// InfallibleWrite writes to the underlying hash.Hash, which the hash.Hash
// contract guarantees never errors.
func (w Writer) InfallibleWrite(p []byte) {
	_, err := w.Write(p)
	if err != nil {
		panic(errors.Wrap(err, "hash.Hash.Write never returns an error"))
	}
}

// WriteUint64 writes v in big-endian, keeping key encodings order-preserving
// wherever a Writer is used to hash a range-sorted key.
func (w Writer) WriteUint64(v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	w.InfallibleWrite(buf[:])
}

// WriteBool writes a single canonical byte for a boolean.
func (w Writer) WriteBool(b bool) {
	if b {
		w.InfallibleWrite([]byte{0x01})
	} else {
		w.InfallibleWrite([]byte{0x00})
	}
}

// Finalize returns the resulting hash.
func (w Writer) Finalize() externalapi.DomainHash {
	var sum externalapi.DomainHash
	copy(sum[:], w.Sum(sum[:0]))
	return sum
}

// Hash domain tags. Each construction below starts from a unique tag so
// that values from different domains can never collide as hash preimages.
const (
	tagHeader        = "beam/header"
	tagMerkleLeaf    = "beam/merkle-leaf"
	tagMerkleNode    = "beam/merkle-node"
	tagMerkleEmpty   = "beam/merkle-empty"
	tagCombine       = "beam/combine"
	tagMMRLeaf       = "beam/mmr-leaf"
	tagMMRNode       = "beam/mmr-node"
	tagKernelID      = "beam/kernel-id"
	tagUTXOKey       = "beam/utxo-key"
)

// CombineHash implements the two-level nesting the original NodeProcessor
// uses for both get_CurrentLive (combined=true) and get_Definition
// (combined=false): H(tag, combined, a, b).
func CombineHash(a, b externalapi.DomainHash, combined bool) externalapi.DomainHash {
	w := newWriter(tagCombine)
	w.WriteBool(combined)
	w.InfallibleWrite(a[:])
	w.InfallibleWrite(b[:])
	return w.Finalize()
}

// HeaderDefinition computes the definition hash a header must commit to:
// H(H(utxoRoot, kernelRoot, true), historyRoot, false) (spec §3).
func HeaderDefinition(utxoRoot, kernelRoot, historyRoot externalapi.DomainHash) externalapi.DomainHash {
	inner := CombineHash(utxoRoot, kernelRoot, true)
	return CombineHash(inner, historyRoot, false)
}

// HeaderHash hashes the standalone-verifiable fields of a header. Timestamp
// and nonce are included; the PoW.Solution bytes are excluded because
// solution verification is an external black box that operates on the
// pre-solution header hash.
func HeaderHash(h *externalapi.DomainBlockHeader) externalapi.DomainHash {
	w := newWriter(tagHeader)
	w.WriteUint64(h.Height)
	w.InfallibleWrite(h.PrevHash[:])
	if h.ChainworkCum != nil {
		w.InfallibleWrite(h.ChainworkCum.Bytes())
	}
	if h.PoW != nil {
		var packed [4]byte
		binary.BigEndian.PutUint32(packed[:], h.PoW.DifficultyPacked)
		w.InfallibleWrite(packed[:])
		w.WriteUint64(h.PoW.Nonce)
	}
	w.WriteUint64(uint64(h.TimestampUnixMs))
	w.InfallibleWrite(h.DefinitionHash[:])
	w.InfallibleWrite(h.KernelCommitment[:])
	return w.Finalize()
}

// KernelID hashes an opaque kernel identity. In this module a kernel is
// already identified by its DomainHash (its "kernel-id hash" per spec §3);
// KernelID is provided for callers building one from raw bytes (e.g. body
// decoding), keeping the tag domain-separated from headers and leaves.
func KernelID(rawKernelBytes []byte) externalapi.DomainHash {
	w := newWriter(tagKernelID)
	w.InfallibleWrite(rawKernelBytes)
	return w.Finalize()
}

// MerkleLeafHash hashes a single authenticated-multiset leaf: its full key
// bytes and its value bytes (a count for the UTXO tree, empty for the
// presence-only kernel set).
func MerkleLeafHash(keyBytes, valueBytes []byte) externalapi.DomainHash {
	w := newWriter(tagMerkleLeaf)
	w.InfallibleWrite(keyBytes)
	w.InfallibleWrite(valueBytes)
	return w.Finalize()
}

// MerkleNodeHash combines two child hashes into their parent's hash.
func MerkleNodeHash(left, right externalapi.DomainHash) externalapi.DomainHash {
	w := newWriter(tagMerkleNode)
	w.InfallibleWrite(left[:])
	w.InfallibleWrite(right[:])
	return w.Finalize()
}

// MerkleEmptyHash is the canonical root of an empty authenticated multiset.
var MerkleEmptyHash = newWriter(tagMerkleEmpty).Finalize()

// MMRLeafHash hashes a leaf being appended to a history MMR.
func MMRLeafHash(headerHash externalapi.DomainHash) externalapi.DomainHash {
	w := newWriter(tagMMRLeaf)
	w.InfallibleWrite(headerHash[:])
	return w.Finalize()
}

// MMRNodeHash combines two MMR peaks/children into their parent.
func MMRNodeHash(left, right externalapi.DomainHash) externalapi.DomainHash {
	w := newWriter(tagMMRNode)
	w.InfallibleWrite(left[:])
	w.InfallibleWrite(right[:])
	return w.Finalize()
}
