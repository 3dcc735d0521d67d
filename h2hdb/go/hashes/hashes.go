// Package hashes is the registry of the eleven content-digest algorithms a
// file is hashed under at ingest time. Each algorithm gets its own hash
// dictionary table and file-mapping table; only sha512 participates in
// duplicate detection, the rest exist for lookup.
package hashes

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
)

// Algorithm names as they appear in table names, e.g. files_hashs_sha512.
const (
	SHA1     = "sha1"
	SHA224   = "sha224"
	SHA256   = "sha256"
	SHA384   = "sha384"
	SHA512   = "sha512"
	SHA3_224 = "sha3_224"
	SHA3_256 = "sha3_256"
	SHA3_384 = "sha3_384"
	SHA3_512 = "sha3_512"
	BLAKE2B  = "blake2b"
	BLAKE2S  = "blake2s"
)

// Algorithm describes one digest algorithm.
type Algorithm struct {
	// Name is the suffix used in table names.
	Name string

	// Size is the digest width in bytes (the BINARY column width).
	Size int

	// New returns a fresh hash.Hash for the algorithm.
	New func() hash.Hash
}

// All lists every supported algorithm in a fixed order.
var All = []Algorithm{
	{SHA1, sha1.Size, sha1.New},
	{SHA224, sha256.Size224, sha256.New224},
	{SHA256, sha256.Size, sha256.New},
	{SHA384, sha512.Size384, sha512.New384},
	{SHA512, sha512.Size, sha512.New},
	{SHA3_224, 28, sha3.New224},
	{SHA3_256, 32, sha3.New256},
	{SHA3_384, 48, sha3.New384},
	{SHA3_512, 64, sha3.New512},
	{BLAKE2B, blake2b.Size, newBlake2b},
	{BLAKE2S, blake2s.Size, newBlake2s},
}

func newBlake2b() hash.Hash {
	h, _ := blake2b.New512(nil) // only errors with a key
	return h
}

func newBlake2s() hash.Hash {
	h, _ := blake2s.New256(nil) // only errors with a key
	return h
}

// ComputeAll hashes data under every algorithm, returned keyed by algorithm
// name. The data is read once per algorithm from the in-memory buffer.
func ComputeAll(data []byte) map[string][]byte {
	ret := make(map[string][]byte, len(All))
	for _, a := range All {
		h := a.New()
		_, _ = h.Write(data)
		ret[a.Name] = h.Sum(nil)
	}
	return ret
}

// Compute hashes data under the named algorithm. Unknown names return nil.
func Compute(name string, data []byte) []byte {
	for _, a := range All {
		if a.Name == name {
			h := a.New()
			_, _ = h.Write(data)
			return h.Sum(nil)
		}
	}
	return nil
}
