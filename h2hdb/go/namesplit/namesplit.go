// Package namesplit decomposes gallery and file names into the fixed-width
// column parts used by composite unique indexes.
//
// MySQL with utf8mb4 limits index prefixes to 191 bytes (767 / 4 on the
// table formats we support), so a 255-byte name is stored as two indexed
// VARCHAR parts plus the original name in a TEXT column. The split is by
// bytes, not runes: the concatenation of the parts must reproduce the
// original name exactly.
package namesplit

import (
	"strings"

	"github.com/pkg/errors"

	"go.h2hdb.org/infra/go/skerr"
)

const (
	// PartLength is the index-prefix limit of the backend in bytes.
	PartLength = 191

	// MaxNameBytes is the declared maximum length of gallery and file names.
	MaxNameBytes = 255

	// NumParts is ceil(MaxNameBytes / PartLength).
	NumParts = 2
)

// ErrTooLong is returned when a name or value exceeds its declared byte
// limit. It aborts the gallery being ingested, nothing more.
var ErrTooLong = errors.New("name exceeds declared byte limit")

// Split breaks name into NumParts byte slices: the first PartLength bytes,
// then the remainder, padded with empty strings. Returns ErrTooLong if name
// exceeds MaxNameBytes.
func Split(name string) ([NumParts]string, error) {
	var parts [NumParts]string
	if len(name) > MaxNameBytes {
		return parts, skerr.Wrapf(ErrTooLong, "name is %d bytes, max %d", len(name), MaxNameBytes)
	}
	for i := 0; i < NumParts; i++ {
		start := i * PartLength
		if start >= len(name) {
			break
		}
		end := start + PartLength
		if end > len(name) {
			end = len(name)
		}
		parts[i] = name[start:end]
	}
	return parts, nil
}

// Concat reassembles the original name from its parts.
func Concat(parts [NumParts]string) string {
	return strings.Join(parts[:], "")
}

// CheckLength returns ErrTooLong if value exceeds max bytes. Used for the
// single-column VARCHAR(191) fields: tag names, tag values, upload accounts.
func CheckLength(value string, max int) error {
	if len(value) > max {
		return skerr.Wrapf(ErrTooLong, "value is %d bytes, max %d", len(value), max)
	}
	return nil
}
