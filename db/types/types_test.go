package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/strata/db/types"
)

func TestClassifyProduct(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		product string
		exp     types.DBType
	}{
		{"PostgreSQL 16.2 on x86_64-pc-linux-gnu", types.DBPostgreSQL},
		{"pgx", types.DBPostgreSQL},
		{"sqlite", types.DBSQLite},
		{"3.45.1 SQLite", types.DBSQLite},
		{"8.0.36 MySQL Community Server", types.DBMySQL},
		{"10.11.6-MariaDB", types.DBMySQL},
		{"H2 2.2.224", types.DBH2},
		{"CockroachDB CCL v23.2", types.DBUnknown},
		{"", types.DBUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.product, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.exp, types.ClassifyProduct(tc.product))
		})
	}
}

func TestDBTypeFromString(t *testing.T) {
	t.Parallel()

	for _, val := range []string{"postgresql", "h2", "sqlite", "mysql", "unknown"} {
		dbType, err := types.DBTypeFromString(val)
		require.NoError(t, err)
		assert.Equal(t, types.DBType(val), dbType)
	}

	_, err := types.DBTypeFromString("oracle")
	require.Error(t, err)
}

func TestDBTypeCapabilities(t *testing.T) {
	t.Parallel()

	assert.True(t, types.DBPostgreSQL.SupportsTransactions())
	assert.True(t, types.DBH2.SupportsTransactions())
	assert.True(t, types.DBSQLite.SupportsTransactions())
	assert.True(t, types.DBMySQL.SupportsTransactions())
	assert.False(t, types.DBUnknown.SupportsTransactions())

	assert.True(t, types.DBPostgreSQL.HasAdvisoryLocks())
	assert.False(t, types.DBSQLite.HasAdvisoryLocks())
	assert.False(t, types.DBMySQL.HasAdvisoryLocks())
	assert.False(t, types.DBH2.HasAdvisoryLocks())
}

func TestFilter(t *testing.T) {
	t.Parallel()

	f := types.NewFilter("module = ?", []any{"user"}).
		And(types.NewFilter("status = ?", []any{"success"}))
	assert.Equal(t, "module = ? AND status = ?", f.Where)
	assert.Equal(t, []any{"user", "success"}, f.Args)

	f = types.NewFilter("module = ?", []any{"user"}).
		Or(types.NewFilter("module = ?", []any{"billing"}))
	assert.Equal(t, "module = ? OR module = ?", f.Where)
	assert.Equal(t, []any{"user", "billing"}, f.Args)
}
