// Package store implements the per-entity operations over the relational
// schema: galleries and their scalar attributes, files, tags, the
// per-algorithm hash dictionaries and the gid queues.
//
// There are no cross-statement transactions anywhere in this package. The
// unit of atomicity at the gallery grain is the pending_gallery_removals
// tombstone: a partially-written gallery is recognized by its tombstone and
// cascade-deleted on the next run.
package store

import (
	"context"
	"time"

	"go.h2hdb.org/infra/go/skerr"
	"go.h2hdb.org/infra/h2hdb/go/namesplit"
	"go.h2hdb.org/infra/h2hdb/go/sqldb"
)

// TimeLayout is how DATETIME values are passed to and from MySQL: local
// calendar, second precision.
const TimeLayout = "2006-01-02 15:04:05"

// Store exposes the entity tables. All methods are safe for concurrent use;
// single-statement writes plus unique indexes are the concurrency model.
type Store struct {
	db *sqldb.DB
}

// New returns a Store over the given database handle.
func New(db *sqldb.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying handle, for the schema manager and maintenance
// passes.
func (s *Store) DB() *sqldb.DB {
	return s.db
}

func formatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, skerr.Wrap(err)
	}
	return t, nil
}

// InsertGallery inserts the gallery-name row. Fails with ErrDuplicateKey if
// the gallery already exists; callers guarantee absence (a re-ingest deletes
// first).
func (s *Store) InsertGallery(ctx context.Context, name string) error {
	parts, err := namesplit.Split(name)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO galleries_dbids (name_part_1, name_part_2, full_name)
		VALUES (?, ?, ?)`, parts[0], parts[1], name)
	return err
}

// GetGalleryID resolves a gallery name to its surrogate id. ErrNotFound if
// absent.
func (s *Store) GetGalleryID(ctx context.Context, name string) (uint32, error) {
	parts, err := namesplit.Split(name)
	if err != nil {
		return 0, err
	}
	var id uint32
	err = s.db.Get(ctx, &id, `
		SELECT db_gallery_id FROM galleries_dbids
		WHERE name_part_1 = ? AND name_part_2 = ?`, parts[0], parts[1])
	return id, err
}

// GetGalleryName resolves a surrogate id back to the gallery name.
func (s *Store) GetGalleryName(ctx context.Context, id uint32) (string, error) {
	var name string
	err := s.db.Get(ctx, &name, `
		SELECT full_name FROM galleries_dbids WHERE db_gallery_id = ?`, id)
	return name, err
}

// DeleteGallery removes the gallery row; every child row (attributes, files,
// hash mappings, tag associations) cascades away with it. Safe to call when
// the gallery is absent.
func (s *Store) DeleteGallery(ctx context.Context, name string) error {
	parts, err := namesplit.Split(name)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		DELETE FROM galleries_dbids
		WHERE name_part_1 = ? AND name_part_2 = ?`, parts[0], parts[1])
	return err
}

// InsertFile inserts one file row for the gallery and returns its surrogate
// id.
func (s *Store) InsertFile(ctx context.Context, galleryID uint32, name string) (uint32, error) {
	parts, err := namesplit.Split(name)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Exec(ctx, `
		INSERT INTO files_dbids (db_gallery_id, name_part_1, name_part_2, full_name)
		VALUES (?, ?, ?, ?)`, galleryID, parts[0], parts[1], name)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, skerr.Wrap(err)
	}
	return uint32(id), nil
}

// GetFileID resolves (gallery, filename) to the file's surrogate id.
func (s *Store) GetFileID(ctx context.Context, galleryID uint32, name string) (uint32, error) {
	parts, err := namesplit.Split(name)
	if err != nil {
		return 0, err
	}
	var id uint32
	err = s.db.Get(ctx, &id, `
		SELECT db_file_id FROM files_dbids
		WHERE db_gallery_id = ? AND name_part_1 = ? AND name_part_2 = ?`,
		galleryID, parts[0], parts[1])
	return id, err
}

// GetFileNames returns all file names recorded for the gallery.
func (s *Store) GetFileNames(ctx context.Context, galleryID uint32) ([]string, error) {
	var names []string
	err := s.db.Select(ctx, &names, `
		SELECT full_name FROM files_dbids WHERE db_gallery_id = ? ORDER BY db_file_id`, galleryID)
	return names, err
}
