package migrate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/strata/migrate"
)

func TestParseFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		filename   string
		expVersion string
		expName    string
		expDown    bool
		expErr     string
	}{
		{
			name:       "ok/up",
			filename:   "20240101120000_create_users.sql",
			expVersion: "20240101120000",
			expName:    "create_users",
		},
		{
			name:       "ok/down",
			filename:   "20240101120000_create_users_down.sql",
			expVersion: "20240101120000",
			expName:    "create_users",
			expDown:    true,
		},
		{
			name:       "ok/name_with_underscores",
			filename:   "20231231235959_add_email_to_users.sql",
			expVersion: "20231231235959",
			expName:    "add_email_to_users",
		},
		{
			name:     "err/missing_extension",
			filename: "20240101120000_create_users",
			expErr:   "missing the .sql extension",
		},
		{
			name:     "err/short_version",
			filename: "2024_create_users.sql",
			expErr:   "invalid version",
		},
		{
			name:     "err/non_numeric_version",
			filename: "2024010112000x_create_users.sql",
			expErr:   "invalid version",
		},
		{
			name:     "err/missing_name",
			filename: "20240101120000.sql",
			expErr:   "doesn't match",
		},
		{
			name:     "err/empty_name",
			filename: "20240101120000_.sql",
			expErr:   "doesn't match",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			parsed, err := migrate.ParseFilename(tt.filename)

			if tt.expErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expVersion, parsed.Version)
			assert.Equal(t, tt.expName, parsed.Name)
			assert.Equal(t, tt.expDown, parsed.Down)
		})
	}
}

func TestChecksum(t *testing.T) {
	t.Parallel()

	content := []byte("CREATE TABLE users (id INTEGER PRIMARY KEY);")

	// Deterministic: purely a function of the bytes.
	assert.Equal(t, migrate.Checksum(content), migrate.Checksum(content))
	assert.Len(t, migrate.Checksum(content), 64)

	edited := []byte("CREATE TABLE users (id INTEGER PRIMARY KEY); -- edited")
	assert.NotEqual(t, migrate.Checksum(content), migrate.Checksum(edited))

	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		migrate.Checksum(nil))
}
