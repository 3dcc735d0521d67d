package namesplit

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_RoundTrip(t *testing.T) {
	for _, name := range []string{
		"",
		"short",
		strings.Repeat("a", PartLength),
		strings.Repeat("a", PartLength+1),
		strings.Repeat("a", MaxNameBytes),
		"MyGallery [12345]",
	} {
		parts, err := Split(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, Concat(parts))
		assert.LessOrEqual(t, len(parts[0]), PartLength)
	}
}

func TestSplit_ExactBoundary(t *testing.T) {
	parts, err := Split(strings.Repeat("x", MaxNameBytes))
	require.NoError(t, err)
	assert.Len(t, parts[0], PartLength)
	assert.Len(t, parts[1], MaxNameBytes-PartLength)
}

func TestSplit_TooLong(t *testing.T) {
	_, err := Split(strings.Repeat("x", MaxNameBytes+1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLong))
}

func TestSplit_MultiByteRunesSplitByBytes(t *testing.T) {
	// 64 four-byte runes == 256 bytes: over the limit even though only 64
	// characters long.
	name := strings.Repeat("\U0001F600", 64)
	_, err := Split(name)
	assert.True(t, errors.Is(err, ErrTooLong))

	// 47 four-byte runes (188 bytes) plus "abcd" straddles the 191-byte
	// boundary mid-rune; the parts still concatenate back exactly.
	name = strings.Repeat("\U0001F600", 47) + "abcd"
	parts, err := Split(name)
	require.NoError(t, err)
	assert.Equal(t, name, Concat(parts))
	assert.Len(t, parts[0], PartLength)
}

func TestCheckLength(t *testing.T) {
	assert.NoError(t, CheckLength(strings.Repeat("a", 191), 191))
	err := CheckLength(strings.Repeat("a", 192), 191)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLong))
}
