package db

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkInsertIgnore_EmptyRows(t *testing.T) {
	n, err := BulkInsertIgnore(context.Background(), nil, InsertConfig{
		Table:   "contacts",
		Columns: []string{"id", "name"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkInsertIgnore_NoColumns(t *testing.T) {
	_, err := BulkInsertIgnore(context.Background(), nil, InsertConfig{Table: "contacts"}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkInsertIgnore_RowWidthMismatch(t *testing.T) {
	_, err := BulkInsertIgnore(context.Background(), nil, InsertConfig{
		Table:   "contacts",
		Columns: []string{"id", "name"},
	}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 0 has 1 values")
}

func TestBulkInsertIgnore_Exec(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO "contacts" \("id", "name"\) VALUES \(\$1, \$2\), \(\$3, \$4\) ON CONFLICT \("id"\) DO NOTHING`).
		WithArgs("a", "Ann", "b", "Bob").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := BulkInsertIgnore(context.Background(), mock, InsertConfig{
		Table:        "contacts",
		Columns:      []string{"id", "name"},
		ConflictKeys: []string{"id"},
	}, [][]any{{"a", "Ann"}, {"b", "Bob"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildInsertIgnore_AnyConflict(t *testing.T) {
	sql, args, err := buildInsertIgnore(InsertConfig{
		Table:   "public.contacts",
		Columns: []string{"id"},
	}, [][]any{{"x"}})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "public"."contacts" ("id") VALUES ($1) ON CONFLICT DO NOTHING`, sql)
	assert.Equal(t, []any{"x"}, args)
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
