package manager

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/cord/pkg/events"
	"github.com/cuemby/cord/pkg/log"
	"github.com/cuemby/cord/pkg/protocol"
	"github.com/cuemby/cord/pkg/storage"
	"github.com/cuemby/cord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, dir string) *Manager {
	t.Helper()
	m, err := NewManager(&Config{
		DataDir:       dir,
		StorageDriver: storage.DriverBolt,
		SaveDelay:     10 * time.Millisecond,
		RequestLog:    true,
	})
	require.NoError(t, err)
	return m
}

func node(t *testing.T, v interface{}) types.Node {
	t.Helper()
	n, err := types.FromInterface(v)
	require.NoError(t, err)
	return n
}

func nextEvent(t *testing.T, sub *events.Subscription) *events.Event {
	t.Helper()
	select {
	case ev := <-sub.C():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no announcement")
		return nil
	}
}

func TestMutationsAnnounceTheirPath(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	defer m.Shutdown()

	sub := m.Broker().Subscribe()
	defer m.Broker().Unsubscribe(sub)

	require.NoError(t, m.Write("/rooms/1/title/", types.String("General")))
	assert.Equal(t, "rooms/1/title", nextEvent(t, sub).Path)

	require.NoError(t, m.Merge("rooms/1", node(t, map[string]interface{}{"topic": "x"})))
	assert.Equal(t, "rooms/1", nextEvent(t, sub).Path)

	require.NoError(t, m.Delete("rooms/404"))
	assert.Equal(t, "rooms/404", nextEvent(t, sub).Path)

	require.NoError(t, m.Batch(map[string]types.Node{"a": types.Number(1), "rooms/1/topic": types.Null()}))
	assert.Equal(t, types.RootPath, nextEvent(t, sub).Path)

	got, found := m.Read("rooms/1", types.Query{})
	require.True(t, found)
	assert.True(t, got.Equal(node(t, map[string]interface{}{"title": "General"})), "got %s", got)
}

func TestFailedMergeDoesNotAnnounce(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	defer m.Shutdown()

	sub := m.Broker().Subscribe()
	defer m.Broker().Unsubscribe(sub)

	err := m.Merge("a", types.Number(3))
	assert.ErrorIs(t, err, types.ErrInvalidPayload)

	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected announcement for %q", ev.Path)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	m := newTestManager(t, dir)
	require.NoError(t, m.Write("rooms/1/title", types.String("General")))
	require.NoError(t, m.Shutdown())

	m = newTestManager(t, dir)
	defer m.Shutdown()

	got, found := m.Read("rooms/1/title", types.Query{})
	require.True(t, found)
	assert.True(t, got.Equal(types.String("General")))
	assert.Equal(t, 3, m.NodeCount())
}

func TestCorruptSnapshotFallsBackToEmptyTree(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)

	m, err := NewManager(&Config{Store: brokenStore{store}})
	require.NoError(t, err)
	defer m.Shutdown()

	_, found := m.Read("anything", types.Query{})
	assert.False(t, found)
	assert.Equal(t, 0, m.NodeCount())

	require.NoError(t, m.Write("a", types.Bool(true)))
	got, found := m.Read("a", types.Query{})
	require.True(t, found)
	assert.True(t, got.Equal(types.Bool(true)))
}

// brokenStore reports every snapshot as unreadable
type brokenStore struct {
	storage.Store
}

func (brokenStore) LoadSnapshot() (types.Node, bool, error) {
	return types.Node{}, true, storage.ErrCorruptSnapshot
}

func TestExecute(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	defer m.Shutdown()

	exec := func(op protocol.Operation, path, payload string) (interface{}, error) {
		return m.Execute(op, path, json.RawMessage(payload))
	}

	_, err := exec(protocol.OpWrite, "rooms", `{"value":{"a":1,"b":2,"c":3}}`)
	require.NoError(t, err)

	res, err := exec(protocol.OpRead, "rooms", `{"query":{"orderBy":"key","limitToLast":2}}`)
	require.NoError(t, err)
	read := res.(protocol.ReadResult)
	assert.True(t, read.Exists)
	assert.Equal(t, []string{"b", "c"}, read.Value.Keys())

	res, err = exec(protocol.OpRead, "missing", ``)
	require.NoError(t, err)
	assert.False(t, res.(protocol.ReadResult).Exists)

	_, err = exec(protocol.OpMerge, "rooms", `{"value":[1,2]}`)
	assert.ErrorIs(t, err, types.ErrInvalidPayload)

	_, err = exec(protocol.OpBatch, "", `{}`)
	assert.ErrorIs(t, err, types.ErrInvalidPayload)

	_, err = exec(protocol.OpWrite, "rooms", `{"value":`)
	assert.ErrorIs(t, err, types.ErrInvalidPayload)

	_, err = exec("truncate", "", ``)
	assert.ErrorIs(t, err, types.ErrUnsupportedOperation)

	res, err = exec(protocol.OpIdentity, "", `{}`)
	require.NoError(t, err)
	id := res.(protocol.IdentityResult).ID
	assert.True(t, ValidIdentity(id))

	res, err = exec(protocol.OpIdentity, "", `{"existing_id":"`+id+`"}`)
	require.NoError(t, err)
	assert.Equal(t, id, res.(protocol.IdentityResult).ID)

	entries, err := m.RequestLog(3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "identity", entries[0].Op)
}

func TestServerTimestampResolvedOnWrite(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	defer m.Shutdown()

	before := time.Now().UnixMilli()
	_, err := m.Execute(protocol.OpWrite, "msg", json.RawMessage(`{"value":{"at":{".sv":"timestamp"}}}`))
	require.NoError(t, err)

	got, _ := m.Read("msg/at", types.Query{})
	ms, ok := got.AsNumber()
	require.True(t, ok, "sentinel replaced by a number, got %s", got)
	assert.GreaterOrEqual(t, int64(ms), before)
}

func TestRequestLogDisabled(t *testing.T) {
	m, err := NewManager(&Config{DataDir: filepath.Join(t.TempDir(), "nested"), StorageDriver: storage.DriverSQLite})
	require.NoError(t, err)
	defer m.Shutdown()

	_, err = m.Execute(protocol.OpDelete, "a", nil)
	require.NoError(t, err)

	entries, err := m.RequestLog(10)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, m.Ping())
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestIdentityAndShutdownAreLogged(t *testing.T) {
	out := &lockedBuffer{}
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: out})
	defer log.Init(log.Config{Output: io.Discard})

	m, err := NewManager(&Config{
		DataDir:       t.TempDir(),
		StorageDriver: storage.DriverBolt,
		SaveDelay:     time.Hour,
	})
	require.NoError(t, err)

	id := m.Identity("")
	assert.Equal(t, id, m.Identity(id))
	assert.Contains(t, out.String(), `"first_seen"`, "reused identity reports when it was first seen")
	assert.Contains(t, out.String(), `"known":1`)

	require.NoError(t, m.Write("x", types.Number(1)))
	require.NoError(t, m.Shutdown())
	assert.Contains(t, out.String(), "Writing pending snapshot")
}
