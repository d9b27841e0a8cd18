package migrate_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/strata/db"
)

var timeNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func timeNowFn() time.Time {
	return timeNow
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newTestDB opens a uniquely named in-memory SQLite database, to avoid
// clashing between parallel tests.
func newTestDB(t *testing.T) *db.DB {
	t.Helper()

	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)

	// Not using just :memory: to avoid 'no such table' issue.
	// See https://github.com/mattn/go-sqlite3#faq
	d, err := db.Open(context.Background(), "sqlite",
		fmt.Sprintf("file:strata-%x?mode=memory&cache=shared", rndName), timeNowFn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return d
}

// newMigrationsFS builds an in-memory migrations tree from a map of
// {module}/{filename} to SQL content.
func newMigrationsFS(t *testing.T, files map[string]string) vfs.FileSystem {
	t.Helper()

	fsys := memoryfs.New()
	require.NoError(t, fsys.MkdirAll("/migrations", 0o755))
	for path, content := range files {
		full := "/migrations/" + path
		require.NoError(t, fsys.MkdirAll(parentDir(full), 0o755))
		require.NoError(t, vfs.WriteFile(fsys, full, []byte(content), 0o644))
	}

	return fsys
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "/"
}
