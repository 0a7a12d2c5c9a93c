package db

import "bytes"

const bucketSeparator = 0x2f // '/'

// Bucket is the concrete DBBucket: a byte path, nestable, comparable by
// bytes.Equal on Path().
type Bucket struct {
	path []byte
}

// MakeBucket returns the top-level bucket rooted at pathPrefix.
func MakeBucket(pathPrefix []byte) *Bucket {
	return &Bucket{path: pathPrefix}
}

// Bucket returns a bucket nested under this one.
func (b *Bucket) Bucket(bucketBytes []byte) DBBucket {
	newPath := make([]byte, 0, len(b.path)+1+len(bucketBytes))
	newPath = append(newPath, b.path...)
	newPath = append(newPath, bucketSeparator)
	newPath = append(newPath, bucketBytes...)
	return &Bucket{path: newPath}
}

// Key returns the key with the given suffix inside this bucket.
func (b *Bucket) Key(suffix []byte) DBKey {
	return &key{bucket: b, suffix: append([]byte(nil), suffix...)}
}

// Path returns the raw byte path of the bucket.
func (b *Bucket) Path() []byte {
	return b.path
}

type key struct {
	bucket *Bucket
	suffix []byte
}

func (k *key) Bytes() []byte {
	full := make([]byte, 0, len(k.bucket.path)+1+len(k.suffix))
	full = append(full, k.bucket.path...)
	full = append(full, bucketSeparator)
	full = append(full, k.suffix...)
	return full
}

func (k *key) Bucket() DBBucket { return k.bucket }
func (k *key) Suffix() []byte   { return k.suffix }

// keyLess orders two raw key byte-slices for cursor iteration.
func keyLess(a, b []byte) bool {
	return bytes.Compare(a, b) < 0
}
