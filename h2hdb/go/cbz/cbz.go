// Package cbz repackages a gallery folder as a comic archive: images are
// resized and re-encoded, boilerplate pages (by sha512) are dropped, and
// the result is zipped under cbz_path.
package cbz

import (
	"archive/zip"
	"bytes"
	"crypto/sha512"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/nfnt/resize"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"go.h2hdb.org/infra/go/fileutil"
	"go.h2hdb.org/infra/go/skerr"
	"go.h2hdb.org/infra/go/sklog"
	"go.h2hdb.org/infra/h2hdb/go/config"
	"go.h2hdb.org/infra/h2hdb/go/galleryinfo"
)

const jpegQuality = 90

// Extension is the archive suffix.
const Extension = ".cbz"

// ExcludeSet is the boilerplate filter: raw sha512 digests keyed as
// strings. Files whose digest is in the set are left out of the archive.
type ExcludeSet map[string]bool

// NewExcludeSet builds an ExcludeSet from raw digest values.
func NewExcludeSet(digests [][]byte) ExcludeSet {
	ret := make(ExcludeSet, len(digests))
	for _, d := range digests {
		ret[string(d)] = true
	}
	return ret
}

// Builder writes CBZ archives according to the h2h config.
type Builder struct {
	cfg config.H2HConfig
}

// NewBuilder returns a Builder for the given config.
func NewBuilder(cfg config.H2HConfig) *Builder {
	return &Builder{cfg: cfg}
}

// ArchivePath returns where the archive for a gallery belongs, taking the
// grouping subpath from the gallery's upload time.
func (b *Builder) ArchivePath(galleryName string, uploadTime time.Time) string {
	return filepath.Join(b.cfg.CBZPath, GroupingSubpath(b.cfg.CBZGrouping, uploadTime), SanitizeName(galleryName)+Extension)
}

// Compress builds the archive for the gallery folder, skipping files whose
// sha512 is in exclude. Returns true iff a new or changed archive was
// written. The existing archive is considered current when the sha512 of
// its embedded galleryinfo.txt equals sidecarSHA512.
func (b *Builder) Compress(folder string, uploadTime time.Time, exclude ExcludeSet, sidecarSHA512 []byte) (bool, error) {
	galleryName := filepath.Base(folder)
	dest := b.ArchivePath(galleryName, uploadTime)

	if current, err := archiveIsCurrent(dest, sidecarSHA512); err != nil {
		return false, err
	} else if current {
		return false, nil
	}

	tmpDir := filepath.Join(b.cfg.CBZTmpDirectory, SanitizeName(galleryName))
	if _, err := fileutil.EnsureDirExists(tmpDir); err != nil {
		return false, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			sklog.Warningf("Could not clean tmp dir %s: %s", tmpDir, err)
		}
	}()

	entries, err := os.ReadDir(folder)
	if err != nil {
		return false, skerr.Wrap(err)
	}
	kept := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		src := filepath.Join(folder, e.Name())
		data, err := os.ReadFile(src)
		if err != nil {
			return false, skerr.Wrap(err)
		}
		digest := sha512.Sum512(data)
		if exclude[string(digest[:])] {
			sklog.Debugf("Excluding %s from %s: boilerplate hash.", e.Name(), galleryName)
			continue
		}
		if err := processFile(data, e.Name(), tmpDir, b.cfg.CBZMaxSize); err != nil {
			return false, err
		}
		kept++
	}
	if kept == 0 {
		return false, nil
	}

	if _, err := fileutil.EnsureDirExists(filepath.Dir(dest)); err != nil {
		return false, err
	}
	if err := zipDir(tmpDir, dest); err != nil {
		return false, err
	}
	size := int64(0)
	if fi, err := os.Stat(dest); err == nil {
		size = fi.Size()
	}
	sklog.Infof("Wrote %s (%d files, %s).", dest, kept, humanize.Bytes(uint64(size)))
	return true, nil
}

// archiveIsCurrent reads dest and compares the sha512 of its embedded
// galleryinfo.txt against want. A missing archive is not current.
func archiveIsCurrent(dest string, want []byte) (bool, error) {
	if want == nil || !fileutil.FileExists(dest) {
		return false, nil
	}
	r, err := zip.OpenReader(dest)
	if err != nil {
		// A truncated archive from a crashed run is just rebuilt.
		sklog.Warningf("Unreadable archive %s, rebuilding: %s", dest, err)
		return false, nil
	}
	defer func() { _ = r.Close() }()
	for _, f := range r.File {
		if f.Name != galleryinfo.FileName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return false, skerr.Wrap(err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return false, skerr.Wrap(err)
		}
		got := sha512.Sum512(data)
		return string(got[:]) == string(want), nil
	}
	return false, nil
}

// processFile writes one gallery file into tmpDir, re-encoding raster
// images. jpg/jpeg/png/bmp become resized JPEGs; gif and tiff are re-saved
// in their own format; everything else (ico included, which has no
// encoder) is copied verbatim.
func processFile(data []byte, name, tmpDir string, maxPixel int) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case "jpg", "jpeg", "png", "bmp":
		img, err := decode(data, ext)
		if err != nil {
			sklog.Warningf("Undecodable %s, copying verbatim: %s", name, err)
			return copyVerbatim(data, name, tmpDir)
		}
		img = fit(img, maxPixel)
		img = flattenAlpha(img)
		base := strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
		out, err := os.Create(filepath.Join(tmpDir, base))
		if err != nil {
			return skerr.Wrap(err)
		}
		defer func() { _ = out.Close() }()
		return skerr.Wrap(jpeg.Encode(out, img, &jpeg.Options{Quality: jpegQuality}))
	case "gif":
		img, err := gif.Decode(bytes.NewReader(data))
		if err != nil {
			return copyVerbatim(data, name, tmpDir)
		}
		out, err := os.Create(filepath.Join(tmpDir, name))
		if err != nil {
			return skerr.Wrap(err)
		}
		defer func() { _ = out.Close() }()
		return skerr.Wrap(gif.Encode(out, img, nil))
	case "tif", "tiff":
		img, err := tiff.Decode(bytes.NewReader(data))
		if err != nil {
			return copyVerbatim(data, name, tmpDir)
		}
		out, err := os.Create(filepath.Join(tmpDir, name))
		if err != nil {
			return skerr.Wrap(err)
		}
		defer func() { _ = out.Close() }()
		return skerr.Wrap(tiff.Encode(out, img, nil))
	default:
		return copyVerbatim(data, name, tmpDir)
	}
}

func decode(data []byte, ext string) (image.Image, error) {
	r := bytes.NewReader(data)
	switch ext {
	case "png":
		return png.Decode(r)
	case "bmp":
		return bmp.Decode(r)
	default:
		return jpeg.Decode(r)
	}
}

// fit shrinks img to fit within maxPixel x maxPixel, preserving aspect
// ratio, with Lanczos resampling. maxPixel < 1 disables resizing; images
// already small enough are untouched.
func fit(img image.Image, maxPixel int) image.Image {
	if maxPixel < 1 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= maxPixel && b.Dy() <= maxPixel {
		return img
	}
	return resize.Thumbnail(uint(maxPixel), uint(maxPixel), img, resize.Lanczos3)
}

// flattenAlpha composites img onto a white background if it carries an
// alpha channel; JPEG has no transparency.
func flattenAlpha(img image.Image) image.Image {
	if img.ColorModel() == color.YCbCrModel || img.ColorModel() == color.GrayModel {
		return img
	}
	b := img.Bounds()
	flat := image.NewRGBA(b)
	draw.Draw(flat, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, b, img, b.Min, draw.Over)
	return flat
}

func copyVerbatim(data []byte, name, tmpDir string) error {
	return skerr.Wrap(os.WriteFile(filepath.Join(tmpDir, name), data, 0644))
}

func zipDir(srcDir, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return skerr.Wrap(err)
	}
	defer func() { _ = out.Close() }()
	zw := zip.NewWriter(out)
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return skerr.Wrap(err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		w, err := zw.Create(e.Name())
		if err != nil {
			return skerr.Wrap(err)
		}
		data, err := os.ReadFile(filepath.Join(srcDir, e.Name()))
		if err != nil {
			return skerr.Wrap(err)
		}
		if _, err := w.Write(data); err != nil {
			return skerr.Wrap(err)
		}
	}
	return skerr.Wrap(zw.Close())
}

// SanitizeName left-trims characters from name until its UTF-8 byte length
// plus the ".cbz" suffix fits in 255 bytes.
func SanitizeName(name string) string {
	for len(name)+len(Extension) > 255 {
		_, size := utf8.DecodeRuneInString(name)
		name = name[size:]
	}
	return name
}

// GroupingSubpath maps the configured grouping mode and a gallery's upload
// time to the directory the archive lands in.
func GroupingSubpath(grouping string, uploadTime time.Time) string {
	switch grouping {
	case config.GroupingYear:
		return uploadTime.Format("2006")
	case config.GroupingYearMonth:
		return filepath.Join(uploadTime.Format("2006"), uploadTime.Format("01"))
	case config.GroupingYearMonDay:
		return filepath.Join(uploadTime.Format("2006"), uploadTime.Format("01"), uploadTime.Format("02"))
	default:
		return ""
	}
}
