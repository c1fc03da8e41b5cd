package storage

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/cord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu    sync.Mutex
	saves int
	last  types.Node
	fail  error
}

func (m *memoryStore) LoadSnapshot() (types.Node, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.saves > 0, nil
}

func (m *memoryStore) SaveSnapshot(root types.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.saves++
	m.last = root
	return nil
}

func (m *memoryStore) AppendRequestLog(*RequestLogEntry) error          { return nil }
func (m *memoryStore) ListRequestLog(int) ([]*RequestLogEntry, error) { return nil, nil }
func (m *memoryStore) Close() error                                     { return nil }

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type counterSource struct {
	n atomic.Int64
}

func (c *counterSource) Snapshot() types.Node {
	return types.Object(map[string]types.Node{"n": types.Number(float64(c.n.Load()))})
}

func TestScheduleCoalescesBursts(t *testing.T) {
	store := &memoryStore{}
	src := &counterSource{}
	s := NewSnapshotter(store, src, 20*time.Millisecond)
	defer s.Stop()

	for i := 0; i < 50; i++ {
		src.n.Add(1)
		s.Schedule()
	}

	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, store.count())
	assert.False(t, s.Pending())

	n, _ := store.last.Child("n")
	assert.True(t, n.Equal(types.Number(50)))
}

func TestFlushWritesImmediately(t *testing.T) {
	store := &memoryStore{}
	s := NewSnapshotter(store, &counterSource{}, time.Hour)

	require.NoError(t, s.Flush(), "flush with nothing pending is a no-op")
	assert.Equal(t, 0, store.count())

	s.Schedule()
	require.NoError(t, s.Flush())
	assert.Equal(t, 1, store.count())

	s.Stop()
	s.Schedule()
	assert.False(t, s.Pending(), "schedule after stop is ignored")
}

func TestFailedSaveStaysPending(t *testing.T) {
	store := &memoryStore{fail: errors.New("disk full")}
	s := NewSnapshotter(store, &counterSource{}, time.Hour)
	defer s.Stop()

	s.Schedule()
	assert.Error(t, s.Flush())
	assert.True(t, s.Pending())

	store.mu.Lock()
	store.fail = nil
	store.mu.Unlock()

	require.NoError(t, s.Flush())
	assert.Equal(t, 1, store.count())
}
