package cbz

import (
	"archive/zip"
	"crypto/sha512"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.h2hdb.org/infra/h2hdb/go/config"
	"go.h2hdb.org/infra/h2hdb/go/galleryinfo"
)

func TestSanitizeName_ShortNameUnchanged(t *testing.T) {
	assert.Equal(t, "G [7]", SanitizeName("G [7]"))
}

func TestSanitizeName_TrimsFromLeft(t *testing.T) {
	long := strings.Repeat("a", 300) + " [7]"
	got := SanitizeName(long)
	assert.Equal(t, 255, len(got)+len(Extension))
	assert.True(t, strings.HasSuffix(got, " [7]"))
}

func TestSanitizeName_MultiByteRunesTrimWhole(t *testing.T) {
	long := strings.Repeat("あ", 100) // 300 bytes
	got := SanitizeName(long)
	assert.True(t, len(got)+len(Extension) <= 255)
	// No torn rune at the front.
	assert.True(t, strings.HasPrefix(got, "あ"))
}

func TestGroupingSubpath(t *testing.T) {
	ts := time.Date(2024, 6, 7, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "", GroupingSubpath(config.GroupingFlat, ts))
	assert.Equal(t, "2024", GroupingSubpath(config.GroupingYear, ts))
	assert.Equal(t, filepath.Join("2024", "06"), GroupingSubpath(config.GroupingYearMonth, ts))
	assert.Equal(t, filepath.Join("2024", "06", "07"), GroupingSubpath(config.GroupingYearMonDay, ts))
}

func TestFit(t *testing.T) {
	big := image.NewRGBA(image.Rect(0, 0, 400, 200))
	small := fit(big, 100)
	assert.Equal(t, 100, small.Bounds().Dx())
	assert.Equal(t, 50, small.Bounds().Dy())

	// Already small enough: untouched.
	assert.Equal(t, big, fit(big, 400))
	// Disabled.
	assert.Equal(t, big, fit(big, 0))
}

func newBuilder(t *testing.T) (*Builder, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.H2HConfig{
		DownloadPath:    filepath.Join(root, "download"),
		CBZPath:         filepath.Join(root, "cbz"),
		CBZTmpDirectory: filepath.Join(root, "tmp"),
		CBZGrouping:     config.GroupingFlat,
		CBZMaxSize:      0,
	}
	require.NoError(t, os.MkdirAll(cfg.DownloadPath, 0755))
	require.NoError(t, os.MkdirAll(cfg.CBZTmpDirectory, 0755))
	return NewBuilder(cfg), cfg.DownloadPath
}

func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestCompress_BuildsArchiveAndSkipsExcluded(t *testing.T) {
	b, download := newBuilder(t)
	folder := filepath.Join(download, "G [7]")
	require.NoError(t, os.MkdirAll(folder, 0755))

	sidecar := []byte("TITLE: G\n")
	require.NoError(t, os.WriteFile(filepath.Join(folder, galleryinfo.FileName), sidecar, 0644))
	writePNG(t, filepath.Join(folder, "001.png"), color.White)

	ad := []byte("advertisement page")
	require.NoError(t, os.WriteFile(filepath.Join(folder, "zzz_ad.txt"), ad, 0644))
	adDigest := sha512.Sum512(ad)
	exclude := NewExcludeSet([][]byte{adDigest[:]})

	wrote, err := b.Compress(folder, time.Now(), exclude, nil)
	require.NoError(t, err)
	assert.True(t, wrote)

	dest := b.ArchivePath("G [7]", time.Now())
	r, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{galleryinfo.FileName, "001.jpg"}, names)

	// The png was re-encoded as jpeg.
	for _, f := range r.File {
		if f.Name != "001.jpg" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		_, err = jpeg.Decode(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
	}
}

func TestCompress_UnchangedArchiveIsSkipped(t *testing.T) {
	b, download := newBuilder(t)
	folder := filepath.Join(download, "G [8]")
	require.NoError(t, os.MkdirAll(folder, 0755))
	sidecar := []byte("TITLE: G8\n")
	require.NoError(t, os.WriteFile(filepath.Join(folder, galleryinfo.FileName), sidecar, 0644))

	digest := sha512.Sum512(sidecar)

	wrote, err := b.Compress(folder, time.Now(), nil, digest[:])
	require.NoError(t, err)
	assert.True(t, wrote)

	// Second run sees a current archive and does nothing.
	wrote, err = b.Compress(folder, time.Now(), nil, digest[:])
	require.NoError(t, err)
	assert.False(t, wrote)

	// A changed sidecar digest forces a rebuild.
	other := sha512.Sum512([]byte("different"))
	wrote, err = b.Compress(folder, time.Now(), nil, other[:])
	require.NoError(t, err)
	assert.True(t, wrote)
}

func TestCompress_AllFilesExcludedWritesNothing(t *testing.T) {
	b, download := newBuilder(t)
	folder := filepath.Join(download, "G [9]")
	require.NoError(t, os.MkdirAll(folder, 0755))
	data := []byte("only page")
	require.NoError(t, os.WriteFile(filepath.Join(folder, "p.txt"), data, 0644))
	digest := sha512.Sum512(data)

	wrote, err := b.Compress(folder, time.Now(), NewExcludeSet([][]byte{digest[:]}), nil)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.NoFileExists(t, b.ArchivePath("G [9]", time.Now()))
}
