package store

import (
	"context"

	"go.h2hdb.org/infra/go/sqlutil"
	"go.h2hdb.org/infra/go/util"
	"go.h2hdb.org/infra/h2hdb/go/namesplit"
	"go.h2hdb.org/infra/h2hdb/go/sqldb"
)

// TagPair is one (name, value) tag attached to a gallery.
type TagPair struct {
	Name  string `db:"name"`
	Value string `db:"value"`
}

// maxDictInsertRounds bounds the insert-then-requery fixed point. Two rounds
// suffice unless dictionary rows are being deleted concurrently, which
// nothing in the system does during ingest.
const maxDictInsertRounds = 5

// InsertTags attaches the given tag pairs to the gallery, creating
// dictionary rows for novel names, values and pairs on the way. Tolerates
// concurrent ingesters racing on the dictionaries: a duplicate-key failure
// re-queries the still-missing subset and retries until that subset is
// empty.
func (s *Store) InsertTags(ctx context.Context, galleryID uint32, tags []TagPair) error {
	if len(tags) == 0 {
		return nil
	}
	var names, values []string
	for _, tp := range tags {
		if err := namesplit.CheckLength(tp.Name, namesplit.PartLength); err != nil {
			return err
		}
		if err := namesplit.CheckLength(tp.Value, namesplit.PartLength); err != nil {
			return err
		}
		names = append(names, tp.Name)
		values = append(values, tp.Value)
	}

	nameIDs, err := s.getOrInsertDict(ctx, "tag_names", "db_tag_name_id", "name", util.NewStringSet(names).Keys())
	if err != nil {
		return err
	}
	valueIDs, err := s.getOrInsertDict(ctx, "tag_values", "db_tag_value_id", "value", util.NewStringSet(values).Keys())
	if err != nil {
		return err
	}

	pairIDs, err := s.getOrInsertTagPairs(ctx, tags, nameIDs, valueIDs)
	if err != nil {
		return err
	}

	// Associations: idempotent bulk insert, the pair ids are already
	// resolved.
	query := `INSERT INTO galleries_tags (db_gallery_id, db_tag_pair_id) VALUES ` +
		sqlutil.ValuesPlaceholders(2, len(pairIDs)) +
		` ON DUPLICATE KEY UPDATE db_tag_pair_id = db_tag_pair_id`
	args := make([]interface{}, 0, 2*len(pairIDs))
	for _, pairID := range pairIDs {
		args = append(args, galleryID, pairID)
	}
	_, err = s.db.Exec(ctx, query, args...)
	return err
}

// getOrInsertDict resolves every value in vals to its surrogate id in the
// given dictionary table, inserting the missing ones. The insert-retry loop
// is the §4.3 fixed point: on duplicate-key, requery and retry the subset
// still missing.
func (s *Store) getOrInsertDict(ctx context.Context, table, idCol, valCol string, vals []string) (map[string]uint32, error) {
	ids := make(map[string]uint32, len(vals))
	missing := vals
	for round := 0; len(missing) > 0 && round < maxDictInsertRounds; round++ {
		// Resolve what exists.
		rows := []struct {
			ID  uint32 `db:"id"`
			Val string `db:"val"`
		}{}
		query := `SELECT ` + idCol + ` AS id, ` + valCol + ` AS val FROM ` + table +
			` WHERE ` + valCol + ` IN (` + sqlutil.InPlaceholders(len(missing)) + `)`
		args := make([]interface{}, len(missing))
		for i, v := range missing {
			args[i] = v
		}
		if err := s.db.Select(ctx, &rows, query, args...); err != nil {
			return nil, err
		}
		found := util.StringSet{}
		for _, r := range rows {
			ids[r.Val] = r.ID
			found[r.Val] = true
		}
		var stillMissing []string
		for _, v := range missing {
			if !found[v] {
				stillMissing = append(stillMissing, v)
			}
		}
		missing = stillMissing
		if len(missing) == 0 {
			break
		}

		insert := `INSERT INTO ` + table + ` (` + valCol + `) VALUES ` +
			sqlutil.ValuesPlaceholders(1, len(missing))
		args = make([]interface{}, len(missing))
		for i, v := range missing {
			args[i] = v
		}
		if _, err := s.db.Exec(ctx, insert, args...); err != nil {
			if sqldb.IsDuplicateKey(err) {
				// Another ingester won the race on some subset; loop and
				// re-resolve.
				continue
			}
			return nil, err
		}
	}
	if len(missing) > 0 {
		// Unreachable unless rows are deleted underneath us.
		return nil, sqldb.ErrNotFound
	}
	return ids, nil
}

func (s *Store) getOrInsertTagPairs(ctx context.Context, tags []TagPair, nameIDs, valueIDs map[string]uint32) ([]uint32, error) {
	type pairKey struct{ nameID, valueID uint32 }
	keys := make([]pairKey, len(tags))
	for i, tp := range tags {
		keys[i] = pairKey{nameIDs[tp.Name], valueIDs[tp.Value]}
	}

	resolved := map[pairKey]uint32{}
	missing := keys
	for round := 0; len(missing) > 0 && round < maxDictInsertRounds; round++ {
		rows := []struct {
			ID      uint32 `db:"id"`
			NameID  uint32 `db:"name_id"`
			ValueID uint32 `db:"value_id"`
		}{}
		query := `SELECT db_tag_pair_id AS id, db_tag_name_id AS name_id, db_tag_value_id AS value_id
			FROM tag_pairs WHERE (db_tag_name_id, db_tag_value_id) IN (` +
			sqlutil.ValuesPlaceholders(2, len(missing)) + `)`
		args := make([]interface{}, 0, 2*len(missing))
		for _, k := range missing {
			args = append(args, k.nameID, k.valueID)
		}
		if err := s.db.Select(ctx, &rows, query, args...); err != nil {
			return nil, err
		}
		for _, r := range rows {
			resolved[pairKey{r.NameID, r.ValueID}] = r.ID
		}
		var stillMissing []pairKey
		for _, k := range missing {
			if _, ok := resolved[k]; !ok {
				stillMissing = append(stillMissing, k)
			}
		}
		missing = stillMissing
		if len(missing) == 0 {
			break
		}

		insert := `INSERT INTO tag_pairs (db_tag_name_id, db_tag_value_id) VALUES ` +
			sqlutil.ValuesPlaceholders(2, len(missing))
		args = args[:0]
		for _, k := range missing {
			args = append(args, k.nameID, k.valueID)
		}
		if _, err := s.db.Exec(ctx, insert, args...); err != nil {
			if sqldb.IsDuplicateKey(err) {
				continue
			}
			return nil, err
		}
	}
	if len(missing) > 0 {
		return nil, sqldb.ErrNotFound
	}

	ret := make([]uint32, len(tags))
	for i, k := range keys {
		ret[i] = resolved[k]
	}
	return ret, nil
}

// GetTagPairs returns the gallery's tags, sorted by name then value.
func (s *Store) GetTagPairs(ctx context.Context, galleryID uint32) ([]TagPair, error) {
	var tags []TagPair
	err := s.db.Select(ctx, &tags, `
		SELECT tn.name AS name, tv.value AS value
		FROM galleries_tags gt
		JOIN tag_pairs tp ON tp.db_tag_pair_id = gt.db_tag_pair_id
		JOIN tag_names tn ON tn.db_tag_name_id = tp.db_tag_name_id
		JOIN tag_values tv ON tv.db_tag_value_id = tp.db_tag_value_id
		WHERE gt.db_gallery_id = ?
		ORDER BY tn.name, tv.value`, galleryID)
	return tags, err
}
