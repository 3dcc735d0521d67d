package store

import (
	"context"
	"time"

	"go.h2hdb.org/infra/go/skerr"
	"go.h2hdb.org/infra/go/util"
	"go.h2hdb.org/infra/h2hdb/go/namesplit"
	"go.h2hdb.org/infra/h2hdb/go/sqldb"
)

// The per-attribute time tables. Everything below goes through
// insertTime/getTime with a whitelisted table name; no caller input ever
// reaches the table-name position.
const (
	tableUploadTimes     = "galleries_upload_times"
	tableDownloadTimes   = "galleries_download_times"
	tableModifiedTimes   = "galleries_modified_times"
	tableAccessTimes     = "galleries_access_times"
	tableRedownloadTimes = "galleries_redownload_times"
)

var timeTables = []string{
	tableUploadTimes, tableDownloadTimes, tableModifiedTimes,
	tableAccessTimes, tableRedownloadTimes,
}

func (s *Store) insertTime(ctx context.Context, table string, galleryID uint32, t time.Time) error {
	if !util.In(table, timeTables) {
		return skerr.Fmt("unknown time table %q", table)
	}
	_, err := s.db.Exec(ctx,
		"INSERT INTO "+table+" (db_gallery_id, time) VALUES (?, ?)",
		galleryID, formatTime(t))
	return err
}

func (s *Store) getTime(ctx context.Context, table string, galleryID uint32) (time.Time, error) {
	if !util.In(table, timeTables) {
		return time.Time{}, skerr.Fmt("unknown time table %q", table)
	}
	var raw string
	if err := s.db.Get(ctx, &raw,
		"SELECT time FROM "+table+" WHERE db_gallery_id = ?", galleryID); err != nil {
		return time.Time{}, err
	}
	return parseTime(raw)
}

func (s *Store) updateTime(ctx context.Context, table string, galleryID uint32, t time.Time) error {
	if !util.In(table, timeTables) {
		return skerr.Fmt("unknown time table %q", table)
	}
	_, err := s.db.Exec(ctx,
		"UPDATE "+table+" SET time = ? WHERE db_gallery_id = ?",
		formatTime(t), galleryID)
	return err
}

// InsertGID records the gallery's public id.
func (s *Store) InsertGID(ctx context.Context, galleryID uint32, gid uint32) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO galleries_gids (db_gallery_id, gid) VALUES (?, ?)`, galleryID, gid)
	return err
}

// GetGID returns the gallery's public id.
func (s *Store) GetGID(ctx context.Context, galleryID uint32) (uint32, error) {
	var gid uint32
	err := s.db.Get(ctx, &gid, `
		SELECT gid FROM galleries_gids WHERE db_gallery_id = ?`, galleryID)
	return gid, err
}

// GetGIDByGalleryName resolves a gallery name straight to its public id.
func (s *Store) GetGIDByGalleryName(ctx context.Context, name string) (uint32, error) {
	id, err := s.GetGalleryID(ctx, name)
	if err != nil {
		return 0, err
	}
	return s.GetGID(ctx, id)
}

// CheckGID reports whether any gallery carries the given public id. Absence
// is false, not an error.
func (s *Store) CheckGID(ctx context.Context, gid uint32) (bool, error) {
	var n int
	if err := s.db.Get(ctx, &n, `
		SELECT COUNT(*) FROM galleries_gids WHERE gid = ?`, gid); err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertTitle records the gallery title.
func (s *Store) InsertTitle(ctx context.Context, galleryID uint32, title string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO galleries_titles (db_gallery_id, title) VALUES (?, ?)`, galleryID, title)
	return err
}

// GetTitle returns the gallery title.
func (s *Store) GetTitle(ctx context.Context, galleryID uint32) (string, error) {
	var title string
	err := s.db.Get(ctx, &title, `
		SELECT title FROM galleries_titles WHERE db_gallery_id = ?`, galleryID)
	return title, err
}

// InsertUploadAccount records the uploader. The account column is a single
// indexed VARCHAR(191); longer values abort the gallery with ErrTooLong.
func (s *Store) InsertUploadAccount(ctx context.Context, galleryID uint32, account string) error {
	if err := namesplit.CheckLength(account, namesplit.PartLength); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO galleries_upload_accounts (db_gallery_id, account) VALUES (?, ?)`,
		galleryID, account)
	return err
}

// GetUploadAccount returns the uploader.
func (s *Store) GetUploadAccount(ctx context.Context, galleryID uint32) (string, error) {
	var account string
	err := s.db.Get(ctx, &account, `
		SELECT account FROM galleries_upload_accounts WHERE db_gallery_id = ?`, galleryID)
	return account, err
}

// InsertComment records the uploader's comment. An empty comment stores
// nothing; GetComment reports absence as "".
func (s *Store) InsertComment(ctx context.Context, galleryID uint32, comment string) error {
	if comment == "" {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO galleries_comments (db_gallery_id, comment) VALUES (?, ?)`,
		galleryID, comment)
	return err
}

// GetComment returns the uploader's comment, or "" when no comment row
// exists.
func (s *Store) GetComment(ctx context.Context, galleryID uint32) (string, error) {
	var comment string
	err := s.db.Get(ctx, &comment, `
		SELECT comment FROM galleries_comments WHERE db_gallery_id = ?`, galleryID)
	if sqldb.IsNotFound(err) {
		return "", nil
	}
	return comment, err
}

// InsertUploadTime records when the gallery was uploaded upstream.
func (s *Store) InsertUploadTime(ctx context.Context, galleryID uint32, t time.Time) error {
	return s.insertTime(ctx, tableUploadTimes, galleryID, t)
}

// GetUploadTime returns the upstream upload time.
func (s *Store) GetUploadTime(ctx context.Context, galleryID uint32) (time.Time, error) {
	return s.getTime(ctx, tableUploadTimes, galleryID)
}

// InsertDownloadTime records when the gallery was downloaded. It also seeds
// the access and redownload clocks, which start equal to the download time.
func (s *Store) InsertDownloadTime(ctx context.Context, galleryID uint32, t time.Time) error {
	if err := s.insertTime(ctx, tableDownloadTimes, galleryID, t); err != nil {
		return err
	}
	if err := s.insertTime(ctx, tableAccessTimes, galleryID, t); err != nil {
		return err
	}
	return s.insertTime(ctx, tableRedownloadTimes, galleryID, t)
}

// GetDownloadTime returns the download time.
func (s *Store) GetDownloadTime(ctx context.Context, galleryID uint32) (time.Time, error) {
	return s.getTime(ctx, tableDownloadTimes, galleryID)
}

// InsertModifiedTime records the gallery folder's modification time.
func (s *Store) InsertModifiedTime(ctx context.Context, galleryID uint32, t time.Time) error {
	return s.insertTime(ctx, tableModifiedTimes, galleryID, t)
}

// UpdateAccessTime touches the access clock.
func (s *Store) UpdateAccessTime(ctx context.Context, galleryID uint32, t time.Time) error {
	return s.updateTime(ctx, tableAccessTimes, galleryID, t)
}

// GetAccessTime returns the access clock.
func (s *Store) GetAccessTime(ctx context.Context, galleryID uint32) (time.Time, error) {
	return s.getTime(ctx, tableAccessTimes, galleryID)
}

// GetRedownloadTime returns the redownload clock.
func (s *Store) GetRedownloadTime(ctx context.Context, galleryID uint32) (time.Time, error) {
	return s.getTime(ctx, tableRedownloadTimes, galleryID)
}

// ResetRedownloadTimes re-synchronizes every redownload clock that has
// drifted from its download time. Runs at the end of an orchestrator pass.
func (s *Store) ResetRedownloadTimes(ctx context.Context) (int64, error) {
	res, err := s.db.Exec(ctx, `
		UPDATE galleries_redownload_times rt
		JOIN galleries_download_times dt ON dt.db_gallery_id = rt.db_gallery_id
		SET rt.time = dt.time
		WHERE rt.time <> dt.time`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return n, skerr.Wrap(err)
}
