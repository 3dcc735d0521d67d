// Package ingest writes galleries into the database and drives the
// periodic pass over the whole download tree.
package ingest

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"go.h2hdb.org/infra/go/skerr"
	"go.h2hdb.org/infra/go/sklog"
	"go.h2hdb.org/infra/h2hdb/go/galleryinfo"
	"go.h2hdb.org/infra/h2hdb/go/hashes"
	"go.h2hdb.org/infra/h2hdb/go/sqldb"
	"go.h2hdb.org/infra/h2hdb/go/store"
)

// Ingestor writes one gallery folder at a time into the database.
type Ingestor struct {
	store *store.Store
}

// NewIngestor returns an Ingestor over the given store.
func NewIngestor(st *store.Store) *Ingestor {
	return &Ingestor{store: st}
}

// InsertGalleryInfo ingests one gallery folder. Returns false without
// touching anything when the stored sha512 of the sidecar matches the one
// on disk (the gallery is unchanged). Otherwise the gallery is tombstoned,
// any previous rows are cascade-deleted, the new rows are written, and the
// tombstone is cleared last. A crash mid-ingest leaves the tombstone in
// place for the next scan to clean up.
func (i *Ingestor) InsertGalleryInfo(ctx context.Context, folder string) (bool, error) {
	info, err := galleryinfo.Parse(folder)
	if err != nil {
		return false, err
	}
	sidecar, err := os.ReadFile(filepath.Join(folder, galleryinfo.FileName))
	if err != nil {
		return false, err
	}
	digest := hashes.Compute(hashes.SHA512, sidecar)

	stored, err := i.store.GetFileHash(ctx, info.GalleryName, galleryinfo.FileName, hashes.SHA512)
	if err == nil && bytes.Equal(stored, digest) {
		return false, nil
	}
	if err != nil && !sqldb.IsNotFound(err) {
		return false, err
	}

	name := info.GalleryName
	if err := i.store.InsertPendingRemoval(ctx, name); err != nil {
		return false, err
	}
	if err := i.store.DeleteGallery(ctx, name); err != nil {
		return false, err
	}
	if err := i.store.InsertGallery(ctx, name); err != nil {
		return false, err
	}
	galleryID, err := i.store.GetGalleryID(ctx, name)
	if err != nil {
		return false, err
	}

	if err := i.insertAttributes(ctx, galleryID, folder, info); err != nil {
		return false, err
	}
	if err := i.insertFiles(ctx, galleryID, folder, info); err != nil {
		return false, err
	}
	tags := make([]store.TagPair, 0, len(info.Tags))
	for _, t := range info.Tags {
		tags = append(tags, store.TagPair{Name: t.Name, Value: t.Value})
	}
	if err := i.store.InsertTags(ctx, galleryID, tags); err != nil {
		return false, err
	}

	if err := i.store.DeletePendingRemoval(ctx, name); err != nil {
		return false, err
	}
	sklog.Infof("Ingested %q (gid %d, %d files).", name, info.GID, len(info.Files))
	return true, nil
}

// insertAttributes writes the gallery's scalar attributes. The inserts are
// independent short statements, so they fan out concurrently and the store's
// connection semaphore paces them. A stat failure on the folder is an error:
// every ingested gallery must carry a modified-time row.
func (i *Ingestor) insertAttributes(ctx context.Context, galleryID uint32, folder string, info *galleryinfo.GalleryInfo) error {
	fi, err := os.Stat(folder)
	if err != nil {
		return skerr.Wrap(err)
	}
	var eg errgroup.Group
	eg.Go(func() error { return i.store.InsertGID(ctx, galleryID, info.GID) })
	eg.Go(func() error { return i.store.InsertTitle(ctx, galleryID, info.Title) })
	eg.Go(func() error { return i.store.InsertUploadTime(ctx, galleryID, info.UploadTime) })
	eg.Go(func() error { return i.store.InsertUploadAccount(ctx, galleryID, info.UploadAccount) })
	eg.Go(func() error { return i.store.InsertDownloadTime(ctx, galleryID, info.DownloadTime) })
	eg.Go(func() error { return i.store.InsertModifiedTime(ctx, galleryID, fi.ModTime()) })
	eg.Go(func() error { return i.store.InsertComment(ctx, galleryID, info.Comment) })
	return eg.Wait()
}

// insertFiles registers every regular file of the gallery and its digests
// under all algorithms, hashing in memory and batching the inserts.
func (i *Ingestor) insertFiles(ctx context.Context, galleryID uint32, folder string, info *galleryinfo.GalleryInfo) error {
	batch := make([]store.FileDigests, 0, len(info.Files))
	for _, name := range info.Files {
		data, err := os.ReadFile(filepath.Join(folder, name))
		if err != nil {
			return err
		}
		fileID, err := i.store.InsertFile(ctx, galleryID, name)
		if err != nil {
			return err
		}
		batch = append(batch, store.FileDigests{FileID: fileID, Digests: hashes.ComputeAll(data)})
	}
	return i.store.InsertFileHashes(ctx, batch)
}
