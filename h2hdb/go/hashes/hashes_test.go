package hashes

import (
	"crypto/sha512"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAll_ElevenAlgorithmsWithCorrectWidths(t *testing.T) {
	require.Len(t, All, 11)
	widths := map[string]int{
		SHA1: 20, SHA224: 28, SHA256: 32, SHA384: 48, SHA512: 64,
		SHA3_224: 28, SHA3_256: 32, SHA3_384: 48, SHA3_512: 64,
		BLAKE2B: 64, BLAKE2S: 32,
	}
	for _, a := range All {
		assert.Equal(t, widths[a.Name], a.Size, a.Name)
		digest := a.New()
		digest.Write([]byte("A"))
		assert.Len(t, digest.Sum(nil), a.Size, a.Name)
	}
}

func TestComputeAll_MatchesDirectHash(t *testing.T) {
	data := []byte("some file bytes")
	got := ComputeAll(data)
	require.Len(t, got, 11)
	want := sha512.Sum512(data)
	assert.Equal(t, want[:], got[SHA512])
	for _, a := range All {
		assert.Len(t, got[a.Name], a.Size, a.Name)
	}
}

func TestCompute(t *testing.T) {
	want := sha512.Sum512([]byte("x"))
	assert.Equal(t, want[:], Compute(SHA512, []byte("x")))
	assert.Nil(t, Compute("md5", []byte("x")))
}
