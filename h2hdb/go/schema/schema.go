// Package schema owns all DDL: idempotent creation of the tables and views,
// executed in dependency order, plus the server settings check that has to
// pass before any of it runs.
//
// Every table statement uses IF NOT EXISTS and every view uses CREATE OR
// REPLACE, so CreateMainTables is safe to re-run on every process start.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"go.h2hdb.org/infra/go/skerr"
	"go.h2hdb.org/infra/go/sklog"
	"go.h2hdb.org/infra/h2hdb/go/hashes"
	"go.h2hdb.org/infra/h2hdb/go/sqldb"
)

const (
	requiredCharset   = "utf8mb4"
	requiredCollation = "utf8mb4_bin"
)

// ErrBadServerSettings is returned when the MySQL server is not configured
// with the charset/collation the schema depends on. Fatal; surfaced to the
// CLI.
var ErrBadServerSettings = errors.New("database server charset/collation mismatch")

// ValidateServerSettings checks the server-wide character set and collation.
// The 191-byte index prefixes and the binary name comparisons both depend on
// utf8mb4/utf8mb4_bin, so anything else is a configuration error.
func ValidateServerSettings(ctx context.Context, db *sqldb.DB) error {
	var settings struct {
		Charset   string `db:"charset"`
		Collation string `db:"collation"`
	}
	err := db.Get(ctx, &settings, `
		SELECT @@character_set_server AS charset, @@collation_server AS collation`)
	if err != nil {
		return skerr.Wrap(err)
	}
	if settings.Charset != requiredCharset {
		return skerr.Wrapf(ErrBadServerSettings, "character_set_server is %q, want %q", settings.Charset, requiredCharset)
	}
	if settings.Collation != requiredCollation {
		return skerr.Wrapf(ErrBadServerSettings, "collation_server is %q, want %q", settings.Collation, requiredCollation)
	}
	return nil
}

// CreateMainTables creates every table and view, leaves first. Idempotent.
func CreateMainTables(ctx context.Context, db *sqldb.DB) error {
	for _, stmt := range Statements() {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return skerr.Wrapf(err, "creating %.60s", strings.TrimSpace(stmt))
		}
	}
	sklog.Infof("Schema OK: %d statements applied.", len(Statements()))
	return nil
}

// Statements returns the full ordered DDL: tables in dependency order, then
// views.
func Statements() []string {
	stmts := []string{
		// The gallery natural key: folder name split into indexed parts,
		// plus the full name for full-text search. The surrogate id is the
		// FK target for every per-attribute table.
		`CREATE TABLE IF NOT EXISTS galleries_dbids (
			db_gallery_id INT UNSIGNED NOT NULL AUTO_INCREMENT,
			name_part_1 VARCHAR(191) NOT NULL,
			name_part_2 VARCHAR(64) NOT NULL,
			full_name TEXT NOT NULL,
			PRIMARY KEY (db_gallery_id),
			UNIQUE KEY uk_name (name_part_1, name_part_2),
			FULLTEXT KEY ft_full_name (full_name)
		)`,

		`CREATE TABLE IF NOT EXISTS galleries_gids (
			db_gallery_id INT UNSIGNED NOT NULL,
			gid INT UNSIGNED NOT NULL,
			PRIMARY KEY (db_gallery_id),
			KEY idx_gid (gid),
			FOREIGN KEY (db_gallery_id) REFERENCES galleries_dbids (db_gallery_id)
				ON DELETE CASCADE ON UPDATE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS galleries_titles (
			db_gallery_id INT UNSIGNED NOT NULL,
			title TEXT NOT NULL,
			PRIMARY KEY (db_gallery_id),
			FULLTEXT KEY ft_title (title),
			FOREIGN KEY (db_gallery_id) REFERENCES galleries_dbids (db_gallery_id)
				ON DELETE CASCADE ON UPDATE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS galleries_upload_accounts (
			db_gallery_id INT UNSIGNED NOT NULL,
			account VARCHAR(191) NOT NULL,
			PRIMARY KEY (db_gallery_id),
			KEY idx_account (account),
			FOREIGN KEY (db_gallery_id) REFERENCES galleries_dbids (db_gallery_id)
				ON DELETE CASCADE ON UPDATE CASCADE
		)`,

		// A row exists only when the uploader's comment is non-empty.
		`CREATE TABLE IF NOT EXISTS galleries_comments (
			db_gallery_id INT UNSIGNED NOT NULL,
			comment TEXT NOT NULL,
			PRIMARY KEY (db_gallery_id),
			FULLTEXT KEY ft_comment (comment),
			FOREIGN KEY (db_gallery_id) REFERENCES galleries_dbids (db_gallery_id)
				ON DELETE CASCADE ON UPDATE CASCADE
		)`,
	}

	for _, table := range TimeTables {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			db_gallery_id INT UNSIGNED NOT NULL,
			time DATETIME NOT NULL,
			PRIMARY KEY (db_gallery_id),
			KEY idx_time (time),
			FOREIGN KEY (db_gallery_id) REFERENCES galleries_dbids (db_gallery_id)
				ON DELETE CASCADE ON UPDATE CASCADE
		)`, table))
	}

	stmts = append(stmts,
		`CREATE TABLE IF NOT EXISTS files_dbids (
			db_file_id INT UNSIGNED NOT NULL AUTO_INCREMENT,
			db_gallery_id INT UNSIGNED NOT NULL,
			name_part_1 VARCHAR(191) NOT NULL,
			name_part_2 VARCHAR(64) NOT NULL,
			full_name TEXT NOT NULL,
			PRIMARY KEY (db_file_id),
			UNIQUE KEY uk_gallery_name (db_gallery_id, name_part_1, name_part_2),
			FULLTEXT KEY ft_full_name (full_name),
			FOREIGN KEY (db_gallery_id) REFERENCES galleries_dbids (db_gallery_id)
				ON DELETE CASCADE ON UPDATE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS tag_names (
			db_tag_name_id INT UNSIGNED NOT NULL AUTO_INCREMENT,
			name VARCHAR(191) NOT NULL,
			PRIMARY KEY (db_tag_name_id),
			UNIQUE KEY uk_name (name)
		)`,

		`CREATE TABLE IF NOT EXISTS tag_values (
			db_tag_value_id INT UNSIGNED NOT NULL AUTO_INCREMENT,
			value VARCHAR(191) NOT NULL,
			PRIMARY KEY (db_tag_value_id),
			UNIQUE KEY uk_value (value)
		)`,

		`CREATE TABLE IF NOT EXISTS tag_pairs (
			db_tag_pair_id INT UNSIGNED NOT NULL AUTO_INCREMENT,
			db_tag_name_id INT UNSIGNED NOT NULL,
			db_tag_value_id INT UNSIGNED NOT NULL,
			PRIMARY KEY (db_tag_pair_id),
			UNIQUE KEY uk_pair (db_tag_name_id, db_tag_value_id),
			FOREIGN KEY (db_tag_name_id) REFERENCES tag_names (db_tag_name_id)
				ON DELETE CASCADE ON UPDATE CASCADE,
			FOREIGN KEY (db_tag_value_id) REFERENCES tag_values (db_tag_value_id)
				ON DELETE CASCADE ON UPDATE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS galleries_tags (
			db_gallery_id INT UNSIGNED NOT NULL,
			db_tag_pair_id INT UNSIGNED NOT NULL,
			PRIMARY KEY (db_gallery_id, db_tag_pair_id),
			KEY idx_pair (db_tag_pair_id),
			FOREIGN KEY (db_gallery_id) REFERENCES galleries_dbids (db_gallery_id)
				ON DELETE CASCADE ON UPDATE CASCADE,
			FOREIGN KEY (db_tag_pair_id) REFERENCES tag_pairs (db_tag_pair_id)
				ON DELETE CASCADE ON UPDATE CASCADE
		)`,
	)

	// One dictionary table and one file-mapping table per algorithm. The
	// dictionary row is shared across galleries; mappings cascade away with
	// their file.
	for _, a := range hashes.All {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS files_hashs_%s_dbids (
			db_hash_id INT UNSIGNED NOT NULL AUTO_INCREMENT,
			hash_value BINARY(%d) NOT NULL,
			PRIMARY KEY (db_hash_id),
			UNIQUE KEY uk_hash_value (hash_value)
		)`, a.Name, a.Size))
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS files_hashs_%s (
			db_file_id INT UNSIGNED NOT NULL,
			db_hash_id INT UNSIGNED NOT NULL,
			PRIMARY KEY (db_file_id),
			KEY idx_hash (db_hash_id),
			FOREIGN KEY (db_file_id) REFERENCES files_dbids (db_file_id)
				ON DELETE CASCADE ON UPDATE CASCADE,
			FOREIGN KEY (db_hash_id) REFERENCES files_hashs_%s_dbids (db_hash_id)
				ON DELETE CASCADE ON UPDATE CASCADE
		)`, a.Name, a.Name))
	}

	stmts = append(stmts,
		`CREATE TABLE IF NOT EXISTS removed_galleries_gids (
			gid INT UNSIGNED NOT NULL,
			PRIMARY KEY (gid)
		)`,

		`CREATE TABLE IF NOT EXISTS todelete_gids (
			gid INT UNSIGNED NOT NULL,
			PRIMARY KEY (gid)
		)`,

		// url may be empty, meaning "any URL will do".
		`CREATE TABLE IF NOT EXISTS todownload_gids (
			gid INT UNSIGNED NOT NULL,
			url VARCHAR(255) NOT NULL DEFAULT '',
			PRIMARY KEY (gid)
		)`,

		// The in-flight ingest tombstone, keyed by gallery name. A row here
		// means an ingest touching the gallery is running or was
		// interrupted; the scanner drains it before retrying.
		`CREATE TABLE IF NOT EXISTS pending_gallery_removals (
			name_part_1 VARCHAR(191) NOT NULL,
			name_part_2 VARCHAR(64) NOT NULL,
			full_name TEXT NOT NULL,
			PRIMARY KEY (name_part_1, name_part_2)
		)`,
	)

	return append(stmts, views()...)
}

// TimeTables lists the per-attribute datetime tables, one row per gallery
// each.
var TimeTables = []string{
	"galleries_upload_times",
	"galleries_download_times",
	"galleries_modified_times",
	"galleries_access_times",
	"galleries_redownload_times",
}

func views() []string {
	// files_hashs: wide join over every per-algorithm mapping/dictionary
	// pair, returning the raw digest bytes per file.
	var hashJoins, hashCols []string
	for _, a := range hashes.All {
		hashCols = append(hashCols, fmt.Sprintf("%sd.hash_value AS %s", a.Name, a.Name))
		hashJoins = append(hashJoins, fmt.Sprintf(
			"LEFT JOIN files_hashs_%s %sm ON %sm.db_file_id = f.db_file_id "+
				"LEFT JOIN files_hashs_%s_dbids %sd ON %sd.db_hash_id = %sm.db_hash_id",
			a.Name, a.Name, a.Name, a.Name, a.Name, a.Name, a.Name))
	}
	filesHashs := fmt.Sprintf(`CREATE OR REPLACE VIEW files_hashs AS
		SELECT f.db_file_id, f.db_gallery_id, f.full_name, %s
		FROM files_dbids f
		%s`, strings.Join(hashCols, ", "), strings.Join(hashJoins, "\n\t\t"))

	return []string{
		`CREATE OR REPLACE VIEW galleries_infos AS
			SELECT
				d.db_gallery_id,
				d.full_name AS name,
				g.gid,
				t.title,
				a.account AS upload_account,
				ut.time AS upload_time,
				dt.time AS download_time,
				mt.time AS modified_time,
				at2.time AS access_time,
				rt.time AS redownload_time,
				COALESCE(c.comment, '') AS comment
			FROM galleries_dbids d
			JOIN galleries_gids g ON g.db_gallery_id = d.db_gallery_id
			JOIN galleries_titles t ON t.db_gallery_id = d.db_gallery_id
			JOIN galleries_upload_accounts a ON a.db_gallery_id = d.db_gallery_id
			JOIN galleries_upload_times ut ON ut.db_gallery_id = d.db_gallery_id
			JOIN galleries_download_times dt ON dt.db_gallery_id = d.db_gallery_id
			JOIN galleries_modified_times mt ON mt.db_gallery_id = d.db_gallery_id
			JOIN galleries_access_times at2 ON at2.db_gallery_id = d.db_gallery_id
			JOIN galleries_redownload_times rt ON rt.db_gallery_id = d.db_gallery_id
			LEFT JOIN galleries_comments c ON c.db_gallery_id = d.db_gallery_id`,

		filesHashs,

		// Hashes referenced by at least three files anywhere.
		`CREATE OR REPLACE VIEW duplicated_files_hashs_sha512 AS
			SELECT db_hash_id
			FROM files_hashs_sha512
			GROUP BY db_hash_id
			HAVING COUNT(*) >= 3`,

		// Galleries at least 90% of whose files carry a cross-gallery
		// duplicated hash.
		`CREATE OR REPLACE VIEW duplicate_hash_in_gallery AS
			SELECT f.db_gallery_id
			FROM files_dbids f
			JOIN files_hashs_sha512 m ON m.db_file_id = f.db_file_id
			GROUP BY f.db_gallery_id
			HAVING SUM(m.db_hash_id IN (SELECT db_hash_id FROM duplicated_files_hashs_sha512)) / COUNT(*) >= 0.9`,

		// The boilerplate filter: a duplicated hash is flagged when it
		// appears across more than twice as many distinct artists as any one
		// of its galleries contributes. MySQL does not allow DISTINCT inside
		// aggregate window functions, so the per-gallery artist count is a
		// grouped derived table joined back on gallery id.
		`CREATE OR REPLACE VIEW duplicated_hash_values_by_count_artist_ratio AS
			SELECT hd.hash_value
			FROM files_hashs_sha512_dbids hd
			JOIN (
				SELECT
					hg.db_hash_id,
					COUNT(DISTINCT ga.db_tag_value_id) AS artist_count,
					MAX(gc.gallery_artist_count) AS max_gallery_artists
				FROM (
					SELECT m.db_hash_id, f.db_gallery_id
					FROM files_hashs_sha512 m
					JOIN files_dbids f ON f.db_file_id = m.db_file_id
					WHERE m.db_hash_id IN (SELECT db_hash_id FROM duplicated_files_hashs_sha512)
				) hg
				JOIN (
					SELECT gt.db_gallery_id, tp.db_tag_value_id
					FROM galleries_tags gt
					JOIN tag_pairs tp ON tp.db_tag_pair_id = gt.db_tag_pair_id
					JOIN tag_names tn ON tn.db_tag_name_id = tp.db_tag_name_id
					WHERE tn.name = 'artist'
				) ga ON ga.db_gallery_id = hg.db_gallery_id
				JOIN (
					SELECT gt.db_gallery_id, COUNT(DISTINCT tp.db_tag_value_id) AS gallery_artist_count
					FROM galleries_tags gt
					JOIN tag_pairs tp ON tp.db_tag_pair_id = gt.db_tag_pair_id
					JOIN tag_names tn ON tn.db_tag_name_id = tp.db_tag_name_id
					WHERE tn.name = 'artist'
					GROUP BY gt.db_gallery_id
				) gc ON gc.db_gallery_id = hg.db_gallery_id
				GROUP BY hg.db_hash_id
			) ratio ON ratio.db_hash_id = hd.db_hash_id
			WHERE ratio.artist_count / ratio.max_gallery_artists > 2`,

		// Retry policy for the external fetcher: galleries whose download is
		// stale relative to their upload and redownload clocks.
		`CREATE OR REPLACE VIEW pending_download_gids AS
			SELECT g.gid
			FROM galleries_gids g
			JOIN galleries_upload_times ut ON ut.db_gallery_id = g.db_gallery_id
			JOIN galleries_download_times dt ON dt.db_gallery_id = g.db_gallery_id
			JOIN galleries_redownload_times rt ON rt.db_gallery_id = g.db_gallery_id
			WHERE rt.time + INTERVAL 7 DAY <= NOW()
			  AND ut.time + INTERVAL 7 DAY <= NOW()
			  AND rt.time <= ut.time + INTERVAL 1 YEAR
			  AND (dt.time + INTERVAL 7 DAY <= NOW() OR dt.time + INTERVAL 7 DAY <= rt.time)
			ORDER BY ut.time DESC`,

		`CREATE OR REPLACE VIEW todelete_names AS
			SELECT d.full_name AS name
			FROM todelete_gids td
			JOIN galleries_gids g ON g.gid = td.gid
			JOIN galleries_dbids d ON d.db_gallery_id = g.db_gallery_id`,
	}
}
