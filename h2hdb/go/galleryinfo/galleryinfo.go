// Package galleryinfo parses the galleryinfo.txt sidecar that Hentai@Home
// writes next to every downloaded gallery.
//
// The format is line-oriented UTF-8. Lines before "Uploader's Comments" are
// "Key: Value" pairs; everything after that marker is the free-form comment.
// The Tags value is a comma-separated list of name:value pairs where a
// missing name means "untagged".
package galleryinfo

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.h2hdb.org/infra/go/skerr"
)

// FileName is the sidecar's name inside a gallery folder.
const FileName = "galleryinfo.txt"

// TimeLayout is the timestamp format used by the sidecar (local calendar,
// second precision).
const TimeLayout = "2006-01-02 15:04:05"

const commentsMarker = "Uploader's Comments"

// UntaggedName is the tag name used for bare tag values.
const UntaggedName = "untagged"

var gidRe = regexp.MustCompile(`\[(\d+)\]\s*$`)

// TagPair is one name:value tag.
type TagPair struct {
	Name  string
	Value string
}

// GalleryInfo is the parsed sidecar plus the identifiers derived from the
// folder name.
type GalleryInfo struct {
	GalleryName   string
	GID           uint32
	Title         string
	UploadTime    time.Time
	UploadAccount string
	DownloadTime  time.Time
	Tags          []TagPair
	Comment       string

	// Files are the names of all regular files in the gallery folder,
	// including the sidecar itself.
	Files []string
}

// ParseGID extracts the gid from a gallery folder name: the decimal integer
// inside its trailing [...], or the whole name parsed as an integer if there
// are no brackets.
func ParseGID(folderName string) (uint32, error) {
	s := folderName
	if m := gidRe.FindStringSubmatch(folderName); m != nil {
		s = m[1]
	}
	gid, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, skerr.Wrapf(err, "no gid in folder name %q", folderName)
	}
	return uint32(gid), nil
}

// Parse reads and parses folder/galleryinfo.txt and lists the folder's
// files.
func Parse(folder string) (*GalleryInfo, error) {
	f, err := os.Open(filepath.Join(folder, FileName))
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer func() { _ = f.Close() }()

	name := filepath.Base(folder)
	info, err := parse(name, bufio.NewScanner(f))
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			info.Files = append(info.Files, e.Name())
		}
	}
	return info, nil
}

func parse(galleryName string, scanner *bufio.Scanner) (*GalleryInfo, error) {
	gid, err := ParseGID(galleryName)
	if err != nil {
		return nil, err
	}
	info := &GalleryInfo{
		GalleryName: galleryName,
		GID:         gid,
	}

	seen := map[string]bool{}
	var commentLines []string
	inComments := false
	for scanner.Scan() {
		line := scanner.Text()
		if inComments {
			commentLines = append(commentLines, line)
			continue
		}
		if strings.HasPrefix(line, commentsMarker) {
			inComments = true
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		seen[key] = true
		switch key {
		case "Title":
			info.Title = value
		case "Upload Time":
			t, err := time.ParseInLocation(TimeLayout, value, time.Local)
			if err != nil {
				return nil, skerr.Wrapf(err, "bad Upload Time in %s", galleryName)
			}
			info.UploadTime = t
		case "Uploaded By":
			info.UploadAccount = value
		case "Downloaded":
			t, err := time.ParseInLocation(TimeLayout, value, time.Local)
			if err != nil {
				return nil, skerr.Wrapf(err, "bad Downloaded in %s", galleryName)
			}
			info.DownloadTime = t
		case "Tags":
			info.Tags = parseTags(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, skerr.Wrap(err)
	}
	for _, required := range []string{"Title", "Upload Time", "Uploaded By", "Downloaded", "Tags"} {
		if !seen[required] {
			return nil, skerr.Fmt("galleryinfo for %s is missing %q", galleryName, required)
		}
	}
	info.Comment = strings.Join(commentLines, "\n")
	return info, nil
}

func parseTags(s string) []TagPair {
	var tags []TagPair
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, ":")
		if !ok {
			name, value = UntaggedName, name
		}
		tags = append(tags, TagPair{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return tags
}
