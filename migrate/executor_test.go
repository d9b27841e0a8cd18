package migrate_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbtypes "go.hackfix.me/strata/db/types"
	"go.hackfix.me/strata/migrate"
)

func TestExecutorValidateSQL(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	exec := migrate.NewExecutor(d, discardLogger())

	testCases := []struct {
		name    string
		content string
		valid   bool
		errSub  string
	}{
		{"ok/create_table", "CREATE TABLE users (id INTEGER PRIMARY KEY)", true, ""},
		{"ok/lowercase", "create index idx_users_name on users (name)", true, ""},
		{"err/empty", "   \n\t  ", false, "empty"},
		{"err/drop_database", "DROP DATABASE prod", false, "dangerous SQL pattern 'DROP DATABASE'"},
		{"err/truncate_all", "truncate all", false, "dangerous SQL pattern 'TRUNCATE ALL'"},
		{"err/no_statement", "-- just a comment", false, "no recognized SQL statement"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			v := exec.ValidateSQL(tc.content)
			assert.Equal(t, tc.valid, v.Valid)
			if tc.errSub != "" {
				require.NotEmpty(t, v.Errors)
				assert.Contains(t, strings.Join(v.Errors, "; "), tc.errSub)
			}
		})
	}
}

func TestExecutorExecuteMigration(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	exec := migrate.NewExecutor(d, discardLogger())
	ctx := t.Context()

	assert.Equal(t, dbtypes.DBSQLite, exec.DBType())
	assert.True(t, exec.SupportsTransactions())

	t.Run("ok/ddl", func(t *testing.T) {
		f := &migrate.File{
			Version: "20240101000000", Name: "create_accounts", Module: "user",
			Content: "CREATE TABLE accounts (id INTEGER PRIMARY KEY, email TEXT NOT NULL)",
		}
		res := exec.ExecuteMigration(ctx, f, migrate.ExecOptions{})
		require.Empty(t, res.Error)
		assert.True(t, res.Success)
		assert.Positive(t, res.Duration)
	})

	t.Run("ok/dml_rows_affected", func(t *testing.T) {
		f := &migrate.File{
			Version: "20240102000000", Name: "seed_accounts", Module: "user",
			Content: "INSERT INTO accounts (email) VALUES ('a@example.com')",
		}
		res := exec.ExecuteMigration(ctx, f, migrate.ExecOptions{})
		require.Empty(t, res.Error)
		assert.True(t, res.Success)
		assert.Equal(t, int64(1), res.RowsAffected)
	})

	t.Run("fail/sql_error_as_data", func(t *testing.T) {
		f := &migrate.File{
			Version: "20240103000000", Name: "create_accounts", Module: "user",
			Content: "CREATE TABLE accounts (id INTEGER PRIMARY KEY)",
		}
		res := exec.ExecuteMigration(ctx, f, migrate.ExecOptions{})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "already exists")
		assert.Positive(t, res.Duration)
		assert.NotZero(t, res.ErrorCode)
	})

	t.Run("fail/validation_skips_driver", func(t *testing.T) {
		f := &migrate.File{
			Version: "20240104000000", Name: "nuke", Module: "user",
			Content: "DROP DATABASE prod",
		}
		res := exec.ExecuteMigration(ctx, f, migrate.ExecOptions{})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "dangerous SQL pattern")
		// Validation failures never reach the driver, so no time is measured.
		assert.Zero(t, res.Duration)
	})
}

func TestExecutorExecuteSQL(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	exec := migrate.NewExecutor(d, discardLogger())
	ctx := t.Context()

	_, err := exec.ExecuteSQL(ctx, "CREATE TABLE things (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	_, err = exec.ExecuteSQL(ctx, "CREATE TABLE things (id INTEGER PRIMARY KEY)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed executing SQL")
}

func TestExecutorExecuteWithRetry(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	exec := migrate.NewExecutor(d, discardLogger())
	ctx := t.Context()

	t.Run("ok/no_retry_needed", func(t *testing.T) {
		f := &migrate.File{
			Version: "20240101000000", Name: "create_widgets", Module: "inventory",
			Content: "CREATE TABLE widgets (id INTEGER PRIMARY KEY)",
		}
		res := exec.ExecuteWithRetry(ctx, f, migrate.ExecOptions{MaxRetries: 3, RetryDelay: time.Millisecond})
		assert.True(t, res.Success)
		assert.Zero(t, res.RetryAttempts)
	})

	t.Run("fail/permanent_error_not_retried", func(t *testing.T) {
		f := &migrate.File{
			Version: "20240102000000", Name: "create_widgets", Module: "inventory",
			Content: "CREATE TABLE widgets (id INTEGER PRIMARY KEY)",
		}
		res := exec.ExecuteWithRetry(ctx, f, migrate.ExecOptions{MaxRetries: 3, RetryDelay: time.Millisecond})
		assert.False(t, res.Success)
		assert.Zero(t, res.RetryAttempts)
	})
}

func TestRequiresTransaction(t *testing.T) {
	t.Parallel()

	largeDDL := "CREATE TABLE t (id INTEGER);\n" + strings.Repeat("ALTER TABLE t ADD COLUMN c INTEGER;\n", 2000)
	require.Greater(t, len(largeDDL), 50000)

	testCases := []struct {
		name    string
		content string
		exp     bool
	}{
		{"small_ddl", "CREATE TABLE t (id INTEGER)", true},
		{"small_dml", "INSERT INTO t VALUES (1)", true},
		{"large_ddl_only", largeDDL, false},
		{"large_with_dml", largeDDL + "INSERT INTO t VALUES (1);", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := &migrate.File{Content: tc.content}
			assert.Equal(t, tc.exp, migrate.RequiresTransaction(f))
		})
	}
}
