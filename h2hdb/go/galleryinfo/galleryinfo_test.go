package galleryinfo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sidecar = `Title: Alpha
Upload Time: 2024-01-02 03:04:05
Uploaded By: alice
Downloaded: 2024-06-07 08:09:10
Tags: artist:bob, group:g1, translated
Uploader's Comments:
hello`

func writeGallery(t *testing.T, name string, files map[string][]byte) string {
	t.Helper()
	folder := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.Mkdir(folder, 0755))
	for fn, contents := range files {
		require.NoError(t, os.WriteFile(filepath.Join(folder, fn), contents, 0644))
	}
	return folder
}

func TestParse_FullSidecar(t *testing.T) {
	folder := writeGallery(t, "MyGallery [12345]", map[string][]byte{
		FileName: []byte(sidecar),
		"1.jpg":  []byte("A"),
		"2.jpg":  []byte("B"),
	})
	info, err := Parse(folder)
	require.NoError(t, err)

	assert.Equal(t, "MyGallery [12345]", info.GalleryName)
	assert.Equal(t, uint32(12345), info.GID)
	assert.Equal(t, "Alpha", info.Title)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local), info.UploadTime)
	assert.Equal(t, "alice", info.UploadAccount)
	assert.Equal(t, time.Date(2024, 6, 7, 8, 9, 10, 0, time.Local), info.DownloadTime)
	assert.Equal(t, []TagPair{
		{Name: "artist", Value: "bob"},
		{Name: "group", Value: "g1"},
		{Name: "untagged", Value: "translated"},
	}, info.Tags)
	assert.Equal(t, "hello", info.Comment)
	assert.ElementsMatch(t, []string{"galleryinfo.txt", "1.jpg", "2.jpg"}, info.Files)
}

func TestParse_MissingRequiredKey(t *testing.T) {
	folder := writeGallery(t, "G [1]", map[string][]byte{
		FileName: []byte("Title: x\nTags: a:b\n"),
	})
	_, err := Parse(folder)
	assert.Error(t, err)
}

func TestParse_EmptyComment(t *testing.T) {
	folder := writeGallery(t, "G [1]", map[string][]byte{
		FileName: []byte("Title: x\nUpload Time: 2024-01-02 03:04:05\nUploaded By: u\nDownloaded: 2024-01-03 03:04:05\nTags: a:b\nUploader's Comments:\n"),
	})
	info, err := Parse(folder)
	require.NoError(t, err)
	assert.Equal(t, "", info.Comment)
}

func TestParse_MultiLineComment(t *testing.T) {
	folder := writeGallery(t, "G [1]", map[string][]byte{
		FileName: []byte("Title: x\nUpload Time: 2024-01-02 03:04:05\nUploaded By: u\nDownloaded: 2024-01-03 03:04:05\nTags: a:b\nUploader's Comments:\nline one\nline two"),
	})
	info, err := Parse(folder)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", info.Comment)
}

func TestParseGID(t *testing.T) {
	gid, err := ParseGID("Some Gallery Title [98765]")
	require.NoError(t, err)
	assert.Equal(t, uint32(98765), gid)

	gid, err = ParseGID("12345")
	require.NoError(t, err)
	assert.Equal(t, uint32(12345), gid)

	_, err = ParseGID("No Gid Here")
	assert.Error(t, err)
}

func TestParseTags_Empty(t *testing.T) {
	assert.Empty(t, parseTags(""))
	assert.Empty(t, parseTags("  ,  "))
}
