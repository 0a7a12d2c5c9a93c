// Package serialize is the shared byte-encoding helper the datastructures
// stores use to turn their in-memory shapes into the flat blobs
// infrastructure/db persists. Grounded on the teacher's
// domain/consensus/utils/serialization: element-at-a-time fixed-width
// big-endian encoding, with length prefixes for variable-size fields,
// rather than a generic reflection-based codec, kept small
// because every store's shape is hand-written and stable.
package serialize

import (
	"encoding/binary"

	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/pkg/errors"
)

// ErrMalformed reports that a stored blob could not be decoded, always
// wrapped as a corruption.Error by the calling store.
var ErrMalformed = errors.New("serialize: malformed data")

func AppendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func AppendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func AppendBig(buf []byte, cw *externalapi.DomainChainwork) []byte {
	var raw []byte
	if cw != nil {
		raw = cw.Bytes()
	}
	buf = AppendUint64(buf, uint64(len(raw)))
	return append(buf, raw...)
}

func AppendString(buf []byte, s string) []byte {
	buf = AppendUint64(buf, uint64(len(s)))
	return append(buf, s...)
}

func AppendBytes(buf []byte, b []byte) []byte {
	buf = AppendUint64(buf, uint64(len(b)))
	return append(buf, b...)
}

func AppendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// Reader decodes a blob written with the Append* helpers, accumulating the
// first error encountered so callers can chain reads and check err once.
type Reader struct {
	data []byte
	pos  int
	Err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) need(n int) []byte {
	if r.Err != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.Err = ErrMalformed
		return nil
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *Reader) Uint64() uint64 {
	b := r.need(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *Reader) Uint32() uint32 {
	b := r.need(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *Reader) Big() *externalapi.DomainChainwork {
	n := r.Uint64()
	raw := r.need(int(n))
	cw := &externalapi.DomainChainwork{}
	if raw != nil {
		cw.SetBytes(raw)
	}
	return cw
}

func (r *Reader) Bytes(n int) []byte {
	b := r.need(n)
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r *Reader) BytesPrefixed() []byte {
	n := r.Uint64()
	return r.Bytes(int(n))
}

func (r *Reader) String() string {
	return string(r.BytesPrefixed())
}

func (r *Reader) Bool() bool {
	b := r.need(1)
	return len(b) == 1 && b[0] == 1
}

func (r *Reader) Byte() byte {
	b := r.need(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Hash() externalapi.DomainHash {
	var h externalapi.DomainHash
	copy(h[:], r.Bytes(externalapi.DomainHashSize))
	return h
}
