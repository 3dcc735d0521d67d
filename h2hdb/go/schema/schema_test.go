package schema

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.h2hdb.org/infra/h2hdb/go/sqldb"
)

func TestStatements_AllIdempotent(t *testing.T) {
	stmts := Statements()
	require.NotEmpty(t, stmts)
	for _, s := range stmts {
		trimmed := strings.TrimSpace(s)
		ok := strings.HasPrefix(trimmed, "CREATE TABLE IF NOT EXISTS") ||
			strings.HasPrefix(trimmed, "CREATE OR REPLACE VIEW")
		assert.True(t, ok, "not idempotent: %.60s", trimmed)
	}
}

func TestStatements_CoversEveryTableAndView(t *testing.T) {
	all := strings.Join(Statements(), "\n")
	for _, table := range []string{
		"galleries_dbids", "galleries_gids", "galleries_titles",
		"galleries_upload_accounts", "galleries_comments",
		"galleries_upload_times", "galleries_download_times",
		"galleries_modified_times", "galleries_access_times",
		"galleries_redownload_times",
		"files_dbids", "tag_names", "tag_values", "tag_pairs", "galleries_tags",
		"removed_galleries_gids", "todelete_gids", "todownload_gids",
		"pending_gallery_removals",
	} {
		assert.Contains(t, all, "CREATE TABLE IF NOT EXISTS "+table, table)
	}
	for _, algo := range []string{"sha1", "sha224", "sha256", "sha384", "sha512",
		"sha3_224", "sha3_256", "sha3_384", "sha3_512", "blake2b", "blake2s"} {
		assert.Contains(t, all, "files_hashs_"+algo+"_dbids", algo)
		assert.Contains(t, all, "CREATE TABLE IF NOT EXISTS files_hashs_"+algo+" ", algo)
	}
	for _, view := range []string{
		"galleries_infos", "files_hashs", "duplicated_files_hashs_sha512",
		"duplicate_hash_in_gallery", "duplicated_hash_values_by_count_artist_ratio",
		"pending_download_gids", "todelete_names",
	} {
		assert.Contains(t, all, "CREATE OR REPLACE VIEW "+view, view)
	}
}

func TestStatements_NoWindowFunctions(t *testing.T) {
	// MySQL rejects DISTINCT inside aggregate window functions, so the views
	// must stay window-free; the artist-ratio view gets its per-gallery count
	// from a grouped derived table instead.
	for _, s := range Statements() {
		assert.NotContains(t, s, " OVER (", "%.60s", strings.TrimSpace(s))
	}
	all := strings.Join(Statements(), "\n")
	assert.Contains(t, all, "COUNT(DISTINCT tp.db_tag_value_id) AS gallery_artist_count")
	assert.Contains(t, all, "GROUP BY gt.db_gallery_id")
}

func TestStatements_DigestColumnWidths(t *testing.T) {
	all := strings.Join(Statements(), "\n")
	assert.Contains(t, all, "files_hashs_sha512_dbids")
	assert.Contains(t, all, "BINARY(64)")
	assert.Contains(t, all, "BINARY(20)") // sha1
	assert.Contains(t, all, "BINARY(28)") // sha224 / sha3_224
}

func TestValidateServerSettings(t *testing.T) {
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	db := sqldb.NewForTest(raw)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("character_set_server").
		WillReturnRows(sqlmock.NewRows([]string{"charset", "collation"}).AddRow("utf8mb4", "utf8mb4_bin"))
	require.NoError(t, ValidateServerSettings(context.Background(), db))

	mock.ExpectQuery("character_set_server").
		WillReturnRows(sqlmock.NewRows([]string{"charset", "collation"}).AddRow("latin1", "latin1_swedish_ci"))
	err = ValidateServerSettings(context.Background(), db)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadServerSettings))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMainTables_ExecutesEveryStatement(t *testing.T) {
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	db := sqldb.NewForTest(raw)
	defer func() { _ = db.Close() }()

	for range Statements() {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, CreateMainTables(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}
