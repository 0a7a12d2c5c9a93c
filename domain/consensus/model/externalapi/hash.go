package externalapi

import (
	"encoding/hex"

	"github.com/pkg/errors"
)

// DomainHashSize is the size, in bytes, of a Hash.
const DomainHashSize = 32

// DomainHash is a 32-byte blake2b digest: a header hash, definition hash,
// kernel id, or Merkle/MMR node hash. All hashing in this module goes
// through package hashdomain, which is the sole producer of DomainHash values.
type DomainHash [DomainHashSize]byte

// ZeroHash is the all-zero hash. It doubles as the subsidy-open sentinel
// kernel id (spec §3, "Kernel set").
var ZeroHash = DomainHash{}

// NewDomainHashFromByteSlice copies hashBytes into a new DomainHash.
func NewDomainHashFromByteSlice(hashBytes []byte) (*DomainHash, error) {
	if len(hashBytes) != DomainHashSize {
		return nil, errors.Errorf("invalid hash size. want: %d, got: %d", DomainHashSize, len(hashBytes))
	}
	var h DomainHash
	copy(h[:], hashBytes)
	return &h, nil
}

// String returns the hash as a hex string.
func (h DomainHash) String() string {
	return hex.EncodeToString(h[:])
}

// Equal reports whether h equals other.
func (h DomainHash) Equal(other DomainHash) bool {
	return h == other
}

// IsZero reports whether h is the all-zero hash.
func (h DomainHash) IsZero() bool {
	return h == ZeroHash
}

// Less gives DomainHash a total order, used only for deterministic
// tie-breaking (never for consensus decisions, which use chainwork/row id).
func (h DomainHash) Less(other DomainHash) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// DomainCommitmentSize is the size of a serialized (compressed) Pedersen
// commitment. Its cryptographic meaning is out of scope (spec §1); it is
// treated as an opaque comparable key.
const DomainCommitmentSize = 33

// DomainCommitment is an opaque Pedersen commitment to (value, blinding).
type DomainCommitment [DomainCommitmentSize]byte

// String returns the commitment as a hex string.
func (c DomainCommitment) String() string {
	return hex.EncodeToString(c[:])
}
