package store

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Embedded(t *testing.T) {
	t.Parallel()

	all, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, all)

	for i, m := range all {
		assert.NotEmpty(t, m.SQL, m.Version)
		if i > 0 {
			assert.Less(t, all[i-1].Version, m.Version)
		}
	}
	assert.Equal(t, "001_initial_schema.sql", all[0].Version)
}

func TestLoadMigrations_OrdersAndFilters(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"m/010_b.sql":   {Data: []byte("SELECT 10")},
		"m/002_a.sql":   {Data: []byte("SELECT 2")},
		"m/README.md":   {Data: []byte("notes")},
		"m/sub/003.sql": {Data: []byte("SELECT 3")},
	}

	all, err := loadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "002_a.sql", all[0].Version)
	assert.Equal(t, "SELECT 2", all[0].SQL)
	assert.Equal(t, "010_b.sql", all[1].Version)
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	t.Parallel()

	_, err := loadMigrations(fstest.MapFS{}, "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading migrations directory")
}

func TestMigrationStates(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	all := []Migration{{Version: "001.sql"}, {Version: "002.sql"}}

	states := migrationStates(all, map[string]time.Time{
		"001.sql":     at,
		"000_old.sql": at,
	})
	require.Len(t, states, 2)
	assert.False(t, states[0].Pending())
	assert.Equal(t, at, *states[0].AppliedAt)
	assert.True(t, states[1].Pending())
}
