package store

import (
	"context"

	"go.h2hdb.org/infra/go/sqlutil"
	"go.h2hdb.org/infra/h2hdb/go/hashes"
)

// FileDigests carries every digest of one file, keyed by algorithm name.
type FileDigests struct {
	FileID  uint32
	Digests map[string][]byte
}

// InsertFileHashes registers the digests of a batch of files in three
// phases per algorithm: find the novel digests, bulk-insert them
// idempotently into the dictionary, then resolve ids and bulk-insert the
// file mappings. Batching per algorithm keeps it to a handful of statements
// per gallery instead of files x algorithms round-trips.
func (s *Store) InsertFileHashes(ctx context.Context, batch []FileDigests) error {
	if len(batch) == 0 {
		return nil
	}
	for _, a := range hashes.All {
		if err := s.insertAlgorithmHashes(ctx, a.Name, batch); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertAlgorithmHashes(ctx context.Context, algo string, batch []FileDigests) error {
	dict := "files_hashs_" + algo + "_dbids"
	mapping := "files_hashs_" + algo

	// Unique digests in this batch. Byte slices keyed as strings.
	uniq := map[string]bool{}
	ordered := make([][]byte, 0, len(batch))
	for _, fd := range batch {
		d := fd.Digests[algo]
		if !uniq[string(d)] {
			uniq[string(d)] = true
			ordered = append(ordered, d)
		}
	}

	// Phase 2: idempotent bulk insert of the whole digest set. ON DUPLICATE
	// KEY UPDATE makes the statement a no-op for digests another ingester
	// (or an earlier gallery) already registered.
	insert := `INSERT INTO ` + dict + ` (hash_value) VALUES ` +
		sqlutil.ValuesPlaceholders(1, len(ordered)) +
		` ON DUPLICATE KEY UPDATE db_hash_id = db_hash_id`
	args := make([]interface{}, len(ordered))
	for i, d := range ordered {
		args[i] = d
	}
	if _, err := s.db.Exec(ctx, insert, args...); err != nil {
		return err
	}

	// Phase 3: resolve every digest to its id and bulk-insert the mappings.
	rows := []struct {
		ID    uint32 `db:"db_hash_id"`
		Value []byte `db:"hash_value"`
	}{}
	query := `SELECT db_hash_id, hash_value FROM ` + dict +
		` WHERE hash_value IN (` + sqlutil.InPlaceholders(len(ordered)) + `)`
	if err := s.db.Select(ctx, &rows, query, args...); err != nil {
		return err
	}
	ids := make(map[string]uint32, len(rows))
	for _, r := range rows {
		ids[string(r.Value)] = r.ID
	}

	mapInsert := `INSERT INTO ` + mapping + ` (db_file_id, db_hash_id) VALUES ` +
		sqlutil.ValuesPlaceholders(2, len(batch)) +
		` ON DUPLICATE KEY UPDATE db_hash_id = VALUES(db_hash_id)`
	mapArgs := make([]interface{}, 0, 2*len(batch))
	for _, fd := range batch {
		mapArgs = append(mapArgs, fd.FileID, ids[string(fd.Digests[algo])])
	}
	_, err := s.db.Exec(ctx, mapInsert, mapArgs...)
	return err
}

// GetFileHash returns the stored digest of (gallery, filename) under the
// given algorithm. ErrNotFound when the file or mapping is absent.
func (s *Store) GetFileHash(ctx context.Context, galleryName, fileName, algo string) ([]byte, error) {
	galleryID, err := s.GetGalleryID(ctx, galleryName)
	if err != nil {
		return nil, err
	}
	fileID, err := s.GetFileID(ctx, galleryID, fileName)
	if err != nil {
		return nil, err
	}
	var value []byte
	err = s.db.Get(ctx, &value, `
		SELECT d.hash_value
		FROM files_hashs_`+algo+` m
		JOIN files_hashs_`+algo+`_dbids d ON d.db_hash_id = m.db_hash_id
		WHERE m.db_file_id = ?`, fileID)
	return value, err
}

// DeleteOrphanHashes reclaims dictionary rows of the given algorithm that no
// mapping references anymore.
func (s *Store) DeleteOrphanHashes(ctx context.Context, algo string) (int64, error) {
	res, err := s.db.Exec(ctx, `
		DELETE d FROM files_hashs_`+algo+`_dbids d
		LEFT JOIN files_hashs_`+algo+` m ON m.db_hash_id = d.db_hash_id
		WHERE m.db_hash_id IS NULL`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountDuplicatedHashes returns the size of the >= 3 references view. The
// orchestrator refetches the exclusion set only when this count grows.
func (s *Store) CountDuplicatedHashes(ctx context.Context) (int, error) {
	var n int
	err := s.db.Get(ctx, &n, `SELECT COUNT(*) FROM duplicated_files_hashs_sha512`)
	return n, err
}

// GetDuplicatedHashValues returns the boilerplate filter: the sha512 digests
// flagged by the artist-ratio view. The archive builder excludes these from
// new CBZs.
func (s *Store) GetDuplicatedHashValues(ctx context.Context) ([][]byte, error) {
	var values [][]byte
	err := s.db.Select(ctx, &values, `
		SELECT hash_value FROM duplicated_hash_values_by_count_artist_ratio`)
	return values, err
}
