package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/cord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var drivers = []string{DriverBolt, DriverSQLite}

func openStore(t *testing.T, driver, dir string) Store {
	t.Helper()
	store, err := Open(driver, dir)
	require.NoError(t, err)
	return store
}

func TestSnapshotRoundTrip(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			dir := t.TempDir()
			store := openStore(t, driver, dir)

			_, found, err := store.LoadSnapshot()
			require.NoError(t, err)
			assert.False(t, found, "fresh store has no snapshot")

			root := types.MustFromInterface(map[string]interface{}{
				"rooms": map[string]interface{}{"1": map[string]interface{}{"title": "General"}},
				"count": 3,
			})
			require.NoError(t, store.SaveSnapshot(root))
			require.NoError(t, store.SaveSnapshot(root))
			require.NoError(t, store.Close())

			// Reopen to prove durability
			store = openStore(t, driver, dir)
			defer store.Close()

			loaded, found, err := store.LoadSnapshot()
			require.NoError(t, err)
			assert.True(t, found)
			assert.True(t, root.Equal(loaded), "got %s", loaded)
		})
	}
}

func TestRequestLogNewestFirst(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			store := openStore(t, driver, t.TempDir())
			defer store.Close()

			base := time.UnixMilli(1700000000000)
			for i, op := range []string{"read", "write", "delete"} {
				entry := &RequestLogEntry{
					At:        base.Add(time.Duration(i) * time.Second),
					Direction: "in",
					Op:        op,
					Path:      "rooms/1",
					Payload:   `{}`,
				}
				require.NoError(t, store.AppendRequestLog(entry))
				assert.NotZero(t, entry.ID)
			}

			entries, err := store.ListRequestLog(2)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "delete", entries[0].Op)
			assert.Equal(t, "write", entries[1].Op)
			assert.Greater(t, entries[0].ID, entries[1].ID)
			assert.Equal(t, base.Add(2*time.Second).UnixMilli(), entries[0].At.UnixMilli())

			all, err := store.ListRequestLog(0)
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

func TestCorruptSnapshotIsReported(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSQLiteStore(dir)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.db.Exec(`INSERT INTO state (id, data) VALUES (1, '{not json')`)
	require.NoError(t, err)

	_, found, err := store.LoadSnapshot()
	assert.True(t, found)
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestNonObjectSnapshotIsCorrupt(t *testing.T) {
	_, err := decodeSnapshot([]byte(`[1,2,3]`))
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("postgres", t.TempDir())
	assert.Error(t, err)
}

func TestBoltStoreCreatesFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(filepath.Join(dir, "cord.db"))
	assert.NoError(t, err)
}
