package migrate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/strata/migrate"
)

func upFile(version, name string) *migrate.File {
	return &migrate.File{
		Version: version, Name: name, Module: "user", Direction: migrate.DirectionUp,
	}
}

func appliedRec(version string, status migrate.Status) *migrate.Record {
	return &migrate.Record{Version: version, Module: "user", Status: status}
}

func TestPending(t *testing.T) {
	t.Parallel()

	discovered := []*migrate.File{
		// Deliberately out of order, to verify sorting.
		upFile("20240103000000", "third"),
		upFile("20240101000000", "first"),
		{Version: "20240101000000", Name: "first", Direction: migrate.DirectionDown},
		upFile("20240102000000", "second"),
	}

	tests := []struct {
		name        string
		applied     []*migrate.Record
		expVersions []string
	}{
		{
			name:        "ok/empty_ledger",
			applied:     nil,
			expVersions: []string{"20240101000000", "20240102000000", "20240103000000"},
		},
		{
			name: "ok/partially_applied",
			applied: []*migrate.Record{
				appliedRec("20240101000000", migrate.StatusSuccess),
			},
			expVersions: []string{"20240102000000", "20240103000000"},
		},
		{
			name: "ok/fully_applied",
			applied: []*migrate.Record{
				appliedRec("20240101000000", migrate.StatusSuccess),
				appliedRec("20240102000000", migrate.StatusSuccess),
				appliedRec("20240103000000", migrate.StatusSuccess),
			},
			expVersions: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pending := migrate.Pending(tt.applied, discovered)

			versions := make([]string, 0, len(pending))
			for _, f := range pending {
				versions = append(versions, f.Version)
				assert.Equal(t, migrate.DirectionUp, f.Direction)
			}
			assert.Equal(t, tt.expVersions, versions)
		})
	}
}

func TestSortFilesIdempotent(t *testing.T) {
	t.Parallel()

	files := []*migrate.File{
		upFile("20240103000000", "c"),
		upFile("20240101000000", "a"),
		upFile("20240102000000", "b"),
	}

	once := migrate.SortFiles(files)
	versionsOnce := []string{once[0].Version, once[1].Version, once[2].Version}

	twice := migrate.SortFiles(once)
	versionsTwice := []string{twice[0].Version, twice[1].Version, twice[2].Version}

	assert.Equal(t, []string{"20240101000000", "20240102000000", "20240103000000"}, versionsOnce)
	assert.Equal(t, versionsOnce, versionsTwice)
}

func TestToVersion(t *testing.T) {
	t.Parallel()

	discovered := []*migrate.File{
		upFile("20240101000000", "first"),
		upFile("20240102000000", "second"),
		upFile("20240103000000", "third"),
		upFile("20240104000000", "fourth"),
	}
	applied := []*migrate.Record{
		appliedRec("20240101000000", migrate.StatusSuccess),
		appliedRec("20240102000000", migrate.StatusSuccess),
	}

	t.Run("ok/up_to_target", func(t *testing.T) {
		t.Parallel()

		plan, err := migrate.ToVersion(applied, discovered, "20240103000000")
		require.NoError(t, err)

		assert.Equal(t, migrate.DirectionUp, plan.Direction)
		require.Len(t, plan.Files, 1)
		assert.Equal(t, "20240103000000", plan.Files[0].Version)
		assert.Empty(t, plan.Records)
	})

	t.Run("ok/down_to_target", func(t *testing.T) {
		t.Parallel()

		plan, err := migrate.ToVersion(applied, discovered, "20240101000000")
		require.NoError(t, err)

		assert.Equal(t, migrate.DirectionDown, plan.Direction)
		require.Len(t, plan.Records, 1)
		assert.Equal(t, "20240102000000", plan.Records[0].Version)
		assert.Empty(t, plan.Files)
	})

	t.Run("ok/down_multiple_descending", func(t *testing.T) {
		t.Parallel()

		plan, err := migrate.ToVersion(applied, discovered, "20240100000000")
		require.NoError(t, err)

		assert.Equal(t, migrate.DirectionDown, plan.Direction)
		require.Len(t, plan.Records, 2)
		assert.Equal(t, "20240102000000", plan.Records[0].Version)
		assert.Equal(t, "20240101000000", plan.Records[1].Version)
	})

	t.Run("ok/target_is_current", func(t *testing.T) {
		t.Parallel()

		plan, err := migrate.ToVersion(applied, discovered, "20240102000000")
		require.NoError(t, err)

		assert.Equal(t, migrate.DirectionUp, plan.Direction)
		assert.Empty(t, plan.Files)
	})

	t.Run("err/invalid_target", func(t *testing.T) {
		t.Parallel()

		_, err := migrate.ToVersion(applied, discovered, "2024")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid target version")
	})
}

func TestLastApplied(t *testing.T) {
	t.Parallel()

	assert.Nil(t, migrate.LastApplied(nil))

	applied := []*migrate.Record{
		appliedRec("20240102000000", migrate.StatusSuccess),
		appliedRec("20240103000000", migrate.StatusFailed),
		appliedRec("20240101000000", migrate.StatusSuccess),
	}

	last := migrate.LastApplied(applied)
	require.NotNil(t, last)
	// Failed entries don't count.
	assert.Equal(t, "20240102000000", last.Version)
}
