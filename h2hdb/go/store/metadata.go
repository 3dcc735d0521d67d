package store

import (
	"context"
	"time"
)

// GalleryMetadata is the derived metadata pushed to the media server for one
// gallery.
type GalleryMetadata struct {
	Title      string
	Summary    string
	UploadTime time.Time
	Tags       []TagPair
}

// GetGalleryMetadata assembles the media-server metadata for a gallery name:
// title, comment (possibly empty), upload time and all tag pairs.
func (s *Store) GetGalleryMetadata(ctx context.Context, name string) (*GalleryMetadata, error) {
	id, err := s.GetGalleryID(ctx, name)
	if err != nil {
		return nil, err
	}
	title, err := s.GetTitle(ctx, id)
	if err != nil {
		return nil, err
	}
	comment, err := s.GetComment(ctx, id)
	if err != nil {
		return nil, err
	}
	uploadTime, err := s.GetUploadTime(ctx, id)
	if err != nil {
		return nil, err
	}
	tags, err := s.GetTagPairs(ctx, id)
	if err != nil {
		return nil, err
	}
	return &GalleryMetadata{
		Title:      title,
		Summary:    comment,
		UploadTime: uploadTime,
		Tags:       tags,
	}, nil
}

// TouchAccessTime sets the access clock of the named gallery, recording
// that a downstream consumer just read it.
func (s *Store) TouchAccessTime(ctx context.Context, name string, t time.Time) error {
	id, err := s.GetGalleryID(ctx, name)
	if err != nil {
		return err
	}
	return s.UpdateAccessTime(ctx, id, t)
}
