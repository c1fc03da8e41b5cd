package pushkey

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlphabetIsSorted(t *testing.T) {
	require.Len(t, Alphabet, 64)
	for i := 1; i < len(Alphabet); i++ {
		assert.Less(t, Alphabet[i-1], Alphabet[i])
	}
}

func TestNextIsStrictlyIncreasing(t *testing.T) {
	g := New()

	prev := g.Next()
	assert.Len(t, prev, Length)
	for i := 0; i < 1000; i++ {
		key := g.Next()
		require.Len(t, key, Length)
		require.Greater(t, key, prev, "key %d not increasing", i)
		prev = key
	}
}

func TestSameMillisecondIncrementsSuffix(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	g := NewWithClock(func() time.Time { return fixed })

	a := g.Next()
	b := g.Next()

	assert.Equal(t, a[:8], b[:8], "timestamp digits should not change")
	assert.Greater(t, b, a)
}

func TestCarryPropagates(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	g := NewWithClock(func() time.Time { return fixed })
	g.random = func(n int) []byte {
		out := make([]byte, n)
		out[n-1] = 63
		out[n-2] = 63
		return out
	}

	a := g.Next()
	b := g.Next()

	assert.Equal(t, "----------zz", a[8:])
	assert.Equal(t, "---------0--", b[8:])
	assert.Greater(t, b, a)
}

func TestOverflowBorrowsNextMillisecond(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	g := NewWithClock(func() time.Time { return fixed })
	g.random = func(n int) []byte {
		out := make([]byte, n)
		for i := range out {
			out[i] = 63
		}
		return out
	}

	a := g.Next()
	b := g.Next()

	require.Greater(t, b, a)
	ta, ok := Time(a)
	require.True(t, ok)
	tb, ok := Time(b)
	require.True(t, ok)
	assert.Equal(t, time.Millisecond, tb.Sub(ta))
}

func TestClockMovingBackwardsKeepsOrder(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	g := NewWithClock(func() time.Time { return now })

	a := g.Next()
	now = now.Add(-5 * time.Second)
	b := g.Next()

	assert.Greater(t, b, a)
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	g := NewWithClock(func() time.Time { return at })

	got, ok := Time(g.Next())
	require.True(t, ok)
	assert.True(t, at.Equal(got))

	_, ok = Time("short")
	assert.False(t, ok)
}

func TestConcurrentKeysAreUniqueAndOrdered(t *testing.T) {
	g := New()
	const workers, perWorker = 8, 250

	var mu sync.Mutex
	var all []string
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perWorker)
			prev := ""
			for i := 0; i < perWorker; i++ {
				k := g.Next()
				if k <= prev {
					t.Errorf("per-goroutine order violated: %q <= %q", k, prev)
				}
				prev = k
				local = append(local, k)
			}
			mu.Lock()
			all = append(all, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	seen := make(map[string]bool, len(all))
	for _, k := range all {
		require.False(t, seen[k], "duplicate key %q", k)
		seen[k] = true
	}
	assert.Len(t, all, workers*perWorker)

	sorted := append([]string(nil), all...)
	sort.Strings(sorted)
	for i := 1; i < len(sorted); i++ {
		assert.NotEqual(t, sorted[i-1], sorted[i])
	}
}
