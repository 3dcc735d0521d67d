package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.h2hdb.org/infra/h2hdb/go/hashes"
)

func TestInsertFileHashes_ThreePhasesPerAlgorithm(t *testing.T) {
	s, mock := newMock(t)

	batch := []FileDigests{
		{FileID: 1, Digests: hashes.ComputeAll([]byte("A"))},
		{FileID: 2, Digests: hashes.ComputeAll([]byte("B"))},
		{FileID: 3, Digests: hashes.ComputeAll([]byte("A"))}, // same bytes as file 1
	}

	for _, a := range hashes.All {
		dA := hashes.Compute(a.Name, []byte("A"))
		dB := hashes.Compute(a.Name, []byte("B"))
		// Phase 2: one idempotent dictionary insert covering the two unique
		// digests.
		mock.ExpectExec(`INSERT INTO files_hashs_` + a.Name + `_dbids`).
			WithArgs(dA, dB).
			WillReturnResult(sqlmock.NewResult(0, 2))
		// Phase 3: resolve ids, then insert the three mappings.
		mock.ExpectQuery(`SELECT db_hash_id, hash_value FROM files_hashs_` + a.Name + `_dbids`).
			WithArgs(dA, dB).
			WillReturnRows(sqlmock.NewRows([]string{"db_hash_id", "hash_value"}).
				AddRow(10, dA).AddRow(11, dB))
		mock.ExpectExec(`INSERT INTO files_hashs_` + a.Name + ` `).
			WithArgs(uint32(1), uint32(10), uint32(2), uint32(11), uint32(3), uint32(10)).
			WillReturnResult(sqlmock.NewResult(0, 3))
	}

	require.NoError(t, s.InsertFileHashes(context.Background(), batch))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertFileHashes_EmptyBatchIsNoop(t *testing.T) {
	s, mock := newMock(t)
	require.NoError(t, s.InsertFileHashes(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOrphanHashes(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`DELETE d FROM files_hashs_sha512_dbids d`).
		WillReturnResult(sqlmock.NewResult(0, 7))
	n, err := s.DeleteOrphanHashes(context.Background(), "sha512")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountDuplicatedHashes(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`SELECT COUNT.* FROM duplicated_files_hashs_sha512`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	n, err := s.CountDuplicatedHashes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDuplicatedHashValues(t *testing.T) {
	s, mock := newMock(t)
	ad := hashes.Compute(hashes.SHA512, []byte("ad page"))
	mock.ExpectQuery(`SELECT hash_value FROM duplicated_hash_values_by_count_artist_ratio`).
		WillReturnRows(sqlmock.NewRows([]string{"hash_value"}).AddRow(ad))
	values, err := s.GetDuplicatedHashValues(context.Background())
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, ad, values[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFileHash_ResolvesThroughGalleryAndFile(t *testing.T) {
	s, mock := newMock(t)
	digest := hashes.Compute(hashes.SHA512, []byte("sidecar"))
	mock.ExpectQuery(`SELECT db_gallery_id FROM galleries_dbids`).
		WillReturnRows(sqlmock.NewRows([]string{"db_gallery_id"}).AddRow(4))
	mock.ExpectQuery(`SELECT db_file_id FROM files_dbids`).
		WillReturnRows(sqlmock.NewRows([]string{"db_file_id"}).AddRow(44))
	mock.ExpectQuery(`SELECT d.hash_value`).
		WithArgs(uint32(44)).
		WillReturnRows(sqlmock.NewRows([]string{"hash_value"}).AddRow(digest))

	got, err := s.GetFileHash(context.Background(), "G [1]", "galleryinfo.txt", "sha512")
	require.NoError(t, err)
	assert.Equal(t, digest, got)
	require.NoError(t, mock.ExpectationsWereMet())
}
