package store

import (
	"context"

	"go.h2hdb.org/infra/h2hdb/go/namesplit"
)

// GIDURL is one row of the todownload queue.
type GIDURL struct {
	GID uint32 `db:"gid"`
	URL string `db:"url"`
}

// InsertRemovedGID marks a gid as permanently gone upstream. Idempotent.
func (s *Store) InsertRemovedGID(ctx context.Context, gid uint32) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO removed_galleries_gids (gid) VALUES (?)
		ON DUPLICATE KEY UPDATE gid = gid`, gid)
	return err
}

// CheckRemovedGID reports whether the gid is known-removed. Absence is
// false, not an error.
func (s *Store) CheckRemovedGID(ctx context.Context, gid uint32) (bool, error) {
	var n int
	if err := s.db.Get(ctx, &n, `
		SELECT COUNT(*) FROM removed_galleries_gids WHERE gid = ?`, gid); err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertTodeleteGID schedules a gid for deletion. Idempotent.
func (s *Store) InsertTodeleteGID(ctx context.Context, gid uint32) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO todelete_gids (gid) VALUES (?)
		ON DUPLICATE KEY UPDATE gid = gid`, gid)
	return err
}

// SelectTodeleteGIDs returns every gid scheduled for deletion.
func (s *Store) SelectTodeleteGIDs(ctx context.Context) ([]uint32, error) {
	var gids []uint32
	err := s.db.Select(ctx, &gids, `SELECT gid FROM todelete_gids ORDER BY gid`)
	return gids, err
}

// RemoveTodeleteGID unschedules a gid.
func (s *Store) RemoveTodeleteGID(ctx context.Context, gid uint32) error {
	_, err := s.db.Exec(ctx, `DELETE FROM todelete_gids WHERE gid = ?`, gid)
	return err
}

// InsertTodownloadGID schedules a gid for fetching. At most one row per
// gid: re-inserting keeps the existing URL unless it was empty, in which
// case the new URL upgrades it.
func (s *Store) InsertTodownloadGID(ctx context.Context, gid uint32, url string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO todownload_gids (gid, url) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE url = IF(url = '', VALUES(url), url)`, gid, url)
	return err
}

// GetTodownloadGIDs returns the fetch queue.
func (s *Store) GetTodownloadGIDs(ctx context.Context) ([]GIDURL, error) {
	var rows []GIDURL
	err := s.db.Select(ctx, &rows, `SELECT gid, url FROM todownload_gids ORDER BY gid`)
	return rows, err
}

// RemoveTodownloadGID unschedules a gid from fetching.
func (s *Store) RemoveTodownloadGID(ctx context.Context, gid uint32) error {
	_, err := s.db.Exec(ctx, `DELETE FROM todownload_gids WHERE gid = ?`, gid)
	return err
}

// SelectPendingDownloadGIDs returns the gids the retry-policy view considers
// due for a refetch.
func (s *Store) SelectPendingDownloadGIDs(ctx context.Context) ([]uint32, error) {
	var gids []uint32
	err := s.db.Select(ctx, &gids, `SELECT gid FROM pending_download_gids`)
	return gids, err
}

// InsertPendingRemoval writes the ingest tombstone for a gallery name.
// Idempotent: the scanner may have written it already.
func (s *Store) InsertPendingRemoval(ctx context.Context, name string) error {
	parts, err := namesplit.Split(name)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO pending_gallery_removals (name_part_1, name_part_2, full_name)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE name_part_1 = name_part_1`, parts[0], parts[1], name)
	return err
}

// SelectPendingRemovals returns every tombstoned gallery name.
func (s *Store) SelectPendingRemovals(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.Select(ctx, &names, `
		SELECT full_name FROM pending_gallery_removals ORDER BY name_part_1, name_part_2`)
	return names, err
}

// DeletePendingRemoval clears the tombstone; the final step of a successful
// ingest.
func (s *Store) DeletePendingRemoval(ctx context.Context, name string) error {
	parts, err := namesplit.Split(name)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		DELETE FROM pending_gallery_removals
		WHERE name_part_1 = ? AND name_part_2 = ?`, parts[0], parts[1])
	return err
}
