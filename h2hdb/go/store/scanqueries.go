package store

import (
	"context"

	"go.h2hdb.org/infra/go/sqlutil"
	"go.h2hdb.org/infra/go/util"
	"go.h2hdb.org/infra/h2hdb/go/namesplit"
)

// scratchBatchSize is how many names go into one INSERT while populating the
// scratch table.
const scratchBatchSize = 5000

// A plain table rather than CREATE TEMPORARY TABLE: temporary tables are
// per-connection, and statements here run on whichever pooled connection is
// free. Truncated at the start of every scan instead.
const scratchTableDDL = `CREATE TABLE IF NOT EXISTS tmp_current_galleries (
	name_part_1 VARCHAR(191) NOT NULL,
	name_part_2 VARCHAR(64) NOT NULL,
	PRIMARY KEY (name_part_1, name_part_2)
)`

// ReplaceCurrentGalleries fills the scratch table with the names found on
// disk, in batches of 5000.
func (s *Store) ReplaceCurrentGalleries(ctx context.Context, names []string) error {
	if _, err := s.db.Exec(ctx, scratchTableDDL); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `TRUNCATE TABLE tmp_current_galleries`); err != nil {
		return err
	}
	return util.ChunkIter(len(names), scratchBatchSize, func(start, end int) error {
		chunk := names[start:end]
		query := `INSERT INTO tmp_current_galleries (name_part_1, name_part_2) VALUES ` +
			sqlutil.ValuesPlaceholders(2, len(chunk)) +
			` ON DUPLICATE KEY UPDATE name_part_1 = name_part_1`
		args := make([]interface{}, 0, 2*len(chunk))
		for _, name := range chunk {
			parts, err := namesplit.Split(name)
			if err != nil {
				return err
			}
			args = append(args, parts[0], parts[1])
		}
		_, err := s.db.Exec(ctx, query, args...)
		return err
	})
}

// SelectGalleriesMissingFromDisk anti-joins the gallery table against the
// scratch table: names the database knows but the scan did not find.
func (s *Store) SelectGalleriesMissingFromDisk(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.Select(ctx, &names, `
		SELECT d.full_name
		FROM galleries_dbids d
		LEFT JOIN tmp_current_galleries t
			ON t.name_part_1 = d.name_part_1 AND t.name_part_2 = d.name_part_2
		WHERE t.name_part_1 IS NULL`)
	return names, err
}

// SelectForeignKeyTables enumerates every table referenced by a foreign key
// in the connected schema, for the OPTIMIZE maintenance pass.
func (s *Store) SelectForeignKeyTables(ctx context.Context) ([]string, error) {
	var tables []string
	err := s.db.Select(ctx, &tables, `
		SELECT DISTINCT referenced_table_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE() AND referenced_table_name IS NOT NULL
		ORDER BY referenced_table_name`)
	return tables, err
}

// OptimizeTable runs the backend's OPTIMIZE on one table.
func (s *Store) OptimizeTable(ctx context.Context, table string) error {
	// OPTIMIZE TABLE returns a result set; Select into a throwaway struct.
	var rows []struct {
		Table   string `db:"Table"`
		Op      string `db:"Op"`
		MsgType string `db:"Msg_type"`
		MsgText string `db:"Msg_text"`
	}
	return s.db.Select(ctx, &rows, `OPTIMIZE TABLE `+table)
}
