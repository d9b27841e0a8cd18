package db

import (
	"context"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/strata/db/types"
)

func TestRebind(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		dbType types.DBType
		query  string
		exp    string
	}{
		{
			"postgres/multiple_placeholders",
			types.DBPostgreSQL,
			"INSERT INTO t (a, b, c) VALUES (?, ?, ?)",
			"INSERT INTO t (a, b, c) VALUES ($1, $2, $3)",
		},
		{
			"postgres/quoted_question_mark",
			types.DBPostgreSQL,
			"SELECT * FROM t WHERE a = '?' AND b = ?",
			"SELECT * FROM t WHERE a = '?' AND b = $1",
		},
		{
			"postgres/no_placeholders",
			types.DBPostgreSQL,
			"SELECT 1",
			"SELECT 1",
		},
		{
			"sqlite/untouched",
			types.DBSQLite,
			"SELECT * FROM t WHERE a = ?",
			"SELECT * FROM t WHERE a = ?",
		},
		{
			"mysql/untouched",
			types.DBMySQL,
			"SELECT * FROM t WHERE a = ?",
			"SELECT * FROM t WHERE a = ?",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.exp, rebind(tc.dbType, tc.query))
		})
	}
}

func TestOpenSQLite(t *testing.T) {
	t.Parallel()

	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d, err := Open(context.Background(), "sqlite",
		fmt.Sprintf("file:strata-db-%x?mode=memory&cache=shared", rndName),
		func() time.Time { return now })
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	assert.Equal(t, types.DBSQLite, d.Type())
	assert.Equal(t, now, d.TimeNow())

	var fk int
	err = d.QueryRowContext(d.NewContext(), `PRAGMA foreign_keys`).Scan(&fk)
	require.NoError(t, err)
	assert.Equal(t, 1, fk)
}
