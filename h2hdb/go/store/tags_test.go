package store

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.h2hdb.org/infra/h2hdb/go/namesplit"
)

func TestInsertTags_AllDictionariesHit(t *testing.T) {
	s, mock := newMock(t)
	tags := []TagPair{{Name: "artist", Value: "bob"}, {Name: "group", Value: "g1"}}

	// Names: both already present.
	mock.ExpectQuery(`SELECT db_tag_name_id AS id, name AS val FROM tag_names`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "val"}).AddRow(1, "artist").AddRow(2, "group"))
	// Values: both present.
	mock.ExpectQuery(`SELECT db_tag_value_id AS id, value AS val FROM tag_values`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "val"}).AddRow(10, "bob").AddRow(11, "g1"))
	// Pairs: both present.
	mock.ExpectQuery(`SELECT db_tag_pair_id AS id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name_id", "value_id"}).
			AddRow(100, 1, 10).AddRow(101, 2, 11))
	// Associations.
	mock.ExpectExec(`INSERT INTO galleries_tags`).
		WithArgs(uint32(7), uint32(100), uint32(7), uint32(101)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, s.InsertTags(context.Background(), 7, tags))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTags_FixedPointInsertsMissing(t *testing.T) {
	s, mock := newMock(t)
	tags := []TagPair{{Name: "artist", Value: "bob"}}

	// Round 1: name missing, insert it; round 2: resolved.
	mock.ExpectQuery(`FROM tag_names`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "val"}))
	mock.ExpectExec(`INSERT INTO tag_names`).
		WithArgs("artist").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`FROM tag_names`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "val"}).AddRow(1, "artist"))

	// Values: present.
	mock.ExpectQuery(`FROM tag_values`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "val"}).AddRow(10, "bob"))

	// Pairs: missing, our insert loses the race to another ingester
	// (duplicate key), the requery resolves the winner's row.
	mock.ExpectQuery(`FROM tag_pairs`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name_id", "value_id"}))
	mock.ExpectExec(`INSERT INTO tag_pairs`).
		WithArgs(uint32(1), uint32(10)).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectQuery(`FROM tag_pairs`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name_id", "value_id"}).AddRow(100, 1, 10))

	// Associations.
	mock.ExpectExec(`INSERT INTO galleries_tags`).
		WithArgs(uint32(7), uint32(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.InsertTags(context.Background(), 7, tags))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTags_TooLongTagAborts(t *testing.T) {
	s, _ := newMock(t)
	err := s.InsertTags(context.Background(), 7, []TagPair{{Name: strings.Repeat("n", 192), Value: "v"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, namesplit.ErrTooLong))

	err = s.InsertTags(context.Background(), 7, []TagPair{{Name: "n", Value: strings.Repeat("v", 192)}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, namesplit.ErrTooLong))
}

func TestInsertTags_EmptyIsNoop(t *testing.T) {
	s, mock := newMock(t)
	require.NoError(t, s.InsertTags(context.Background(), 7, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTagPairs(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`SELECT tn.name AS name, tv.value AS value`).
		WithArgs(uint32(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "value"}).
			AddRow("artist", "bob").AddRow("group", "g1"))
	tags, err := s.GetTagPairs(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []TagPair{{Name: "artist", Value: "bob"}, {Name: "group", Value: "g1"}}, tags)
	require.NoError(t, mock.ExpectationsWereMet())
}
