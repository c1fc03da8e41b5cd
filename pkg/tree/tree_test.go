package tree

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/cord/pkg/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obj(v map[string]interface{}) types.Node {
	return types.MustFromInterface(v)
}

func assertValue(t *testing.T, tr *Tree, path string, want interface{}) {
	t.Helper()
	got, found := tr.Get(path)
	require.True(t, found, "expected value at %q", path)
	if diff := cmp.Diff(want, got.Interface()); diff != "" {
		t.Errorf("Get(%q) mismatch (-want +got):\n%s", path, diff)
	}
}

func TestSetThenGet(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		value types.Node
	}{
		{"string leaf", "rooms/1/title", types.String("General")},
		{"number leaf", "counters/a", types.Number(42)},
		{"bool leaf", "flags/on", types.Bool(true)},
		{"array is atomic", "list", types.Array(types.Number(1), types.String("x"))},
		{"object", "rooms/2", obj(map[string]interface{}{"title": "Random", "members": map[string]interface{}{"u1": true}})},
		{"explicit null", "gone", types.Null()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(types.Null())
			require.NoError(t, tr.Set(tt.path, tt.value))

			got, found := tr.Get(tt.path)
			assert.True(t, found)
			assert.True(t, tt.value.Equal(got), "got %s want %s", got, tt.value)
		})
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	tr := New(obj(map[string]interface{}{"a": map[string]interface{}{"b": 1}}))

	_, found := tr.Get("a/c")
	assert.False(t, found)

	_, found = tr.Get("a/b/c")
	assert.False(t, found, "descending into a scalar is not found")

	_, found = tr.Get("x/y/z")
	assert.False(t, found)
}

func TestGetReturnsIndependentCopy(t *testing.T) {
	tr := New(types.Null())
	require.NoError(t, tr.Set("a", obj(map[string]interface{}{"b": 1})))

	got, _ := tr.Get("a")
	got.SetChild("b", types.Number(99))
	got.SetChild("c", types.Number(100))

	assertValue(t, tr, "a", map[string]interface{}{"b": 1.0})
}

func TestSetDoesNotAliasCallerValue(t *testing.T) {
	tr := New(types.Null())
	v := obj(map[string]interface{}{"b": 1})
	require.NoError(t, tr.Set("a", v))

	v.SetChild("b", types.Number(2))

	assertValue(t, tr, "a", map[string]interface{}{"b": 1.0})
}

func TestSetOverwritesScalarIntermediate(t *testing.T) {
	tr := New(types.Null())
	require.NoError(t, tr.Set("a", types.String("leaf")))
	require.NoError(t, tr.Set("a/b/c", types.Number(1)))

	assertValue(t, tr, "a", map[string]interface{}{"b": map[string]interface{}{"c": 1.0}})
}

func TestSetRoot(t *testing.T) {
	tr := New(obj(map[string]interface{}{"old": 1}))

	require.NoError(t, tr.Set("", obj(map[string]interface{}{"new": 2})))
	assertValue(t, tr, "", map[string]interface{}{"new": 2.0})

	err := tr.Set("/", types.Number(3))
	assert.ErrorIs(t, err, types.ErrInvalidPayload)

	require.NoError(t, tr.Set("", types.Null()))
	assertValue(t, tr, "", map[string]interface{}{})
}

func TestSetRejectsInvalidKeys(t *testing.T) {
	tr := New(types.Null())
	err := tr.Set("a", obj(map[string]interface{}{"x/y": 1}))
	assert.ErrorIs(t, err, types.ErrInvalidPayload)
}

func TestSetResolvesServerTimestamp(t *testing.T) {
	tr := New(types.Null())
	at := time.UnixMilli(1700000000000)
	tr.SetClock(func() time.Time { return at })

	require.NoError(t, tr.Set("msg", obj(map[string]interface{}{
		"text": "hi",
		"ts":   map[string]interface{}{"$op": "now"},
	})))

	assertValue(t, tr, "msg", map[string]interface{}{"text": "hi", "ts": 1700000000000.0})
}

func TestUpdateIsShallow(t *testing.T) {
	tr := New(types.Null())
	require.NoError(t, tr.Set("p", obj(map[string]interface{}{"b": 2})))

	require.NoError(t, tr.Update("p", obj(map[string]interface{}{"a": 1})))
	assertValue(t, tr, "p", map[string]interface{}{"a": 1.0, "b": 2.0})

	require.NoError(t, tr.Update("p", obj(map[string]interface{}{"b": 3})))
	assertValue(t, tr, "p", map[string]interface{}{"a": 1.0, "b": 3.0})

	require.NoError(t, tr.Set("p/nested", obj(map[string]interface{}{"x": 1, "y": 2})))
	require.NoError(t, tr.Update("p", obj(map[string]interface{}{"nested": map[string]interface{}{"x": 5}})))
	assertValue(t, tr, "p/nested", map[string]interface{}{"x": 5.0})
}

func TestUpdateNullRemovesKey(t *testing.T) {
	tr := New(types.Null())
	require.NoError(t, tr.Set("p", obj(map[string]interface{}{"a": 1, "b": 2})))

	require.NoError(t, tr.Update("p", obj(map[string]interface{}{"a": nil})))
	assertValue(t, tr, "p", map[string]interface{}{"b": 2.0})
}

func TestUpdateOnMissingOrScalar(t *testing.T) {
	tr := New(types.Null())

	require.NoError(t, tr.Update("fresh", obj(map[string]interface{}{"a": 1})))
	assertValue(t, tr, "fresh", map[string]interface{}{"a": 1.0})

	require.NoError(t, tr.Set("scalar", types.Number(5)))
	require.NoError(t, tr.Update("scalar", obj(map[string]interface{}{"a": 1})))
	assertValue(t, tr, "scalar", map[string]interface{}{"a": 1.0})
}

func TestUpdateRejectsNonObject(t *testing.T) {
	tr := New(types.Null())

	for _, patch := range []types.Node{types.Number(1), types.String("x"), types.Null(), types.Array()} {
		err := tr.Update("p", patch)
		assert.ErrorIs(t, err, types.ErrInvalidPayload, "patch %s", patch)
	}
	_, found := tr.Get("p")
	assert.False(t, found)
}

func TestRemove(t *testing.T) {
	tr := New(obj(map[string]interface{}{
		"a": map[string]interface{}{"b": 1, "c": 2},
		"s": "scalar",
	}))

	assert.True(t, tr.Remove("a/b"))
	_, found := tr.Get("a/b")
	assert.False(t, found)
	assertValue(t, tr, "a", map[string]interface{}{"c": 2.0})

	assert.False(t, tr.Remove("a/missing"))
	assert.False(t, tr.Remove("x/y/z"))
	assert.False(t, tr.Remove("s/child"), "parent is not an object")

	assert.True(t, tr.Remove(""))
	assertValue(t, tr, "", map[string]interface{}{})
}

func TestBatchUpdate(t *testing.T) {
	tr := New(obj(map[string]interface{}{
		"rooms": map[string]interface{}{"1": map[string]interface{}{"title": "old"}},
		"trash": true,
	}))

	err := tr.BatchUpdate(map[string]types.Node{
		"rooms/1/title": types.String("new"),
		"rooms/2":       obj(map[string]interface{}{"title": "second"}),
		"trash":         types.Null(),
	})
	require.NoError(t, err)

	assertValue(t, tr, "", map[string]interface{}{
		"rooms": map[string]interface{}{
			"1": map[string]interface{}{"title": "new"},
			"2": map[string]interface{}{"title": "second"},
		},
	})
}

func TestBatchUpdateAppliesAncestorsFirst(t *testing.T) {
	tr := New(types.Null())

	err := tr.BatchUpdate(map[string]types.Node{
		"a/b": types.Number(2),
		"a":   obj(map[string]interface{}{"x": 1}),
	})
	require.NoError(t, err)

	assertValue(t, tr, "a", map[string]interface{}{"x": 1.0, "b": 2.0})
}

func TestBatchUpdateIsAllOrNothingOnInvalidInput(t *testing.T) {
	tr := New(obj(map[string]interface{}{"keep": 1}))

	err := tr.BatchUpdate(map[string]types.Node{
		"ok":  types.Number(1),
		"bad": obj(map[string]interface{}{"": 1}),
	})
	assert.ErrorIs(t, err, types.ErrInvalidPayload)

	_, found := tr.Get("ok")
	assert.False(t, found)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	tr := New(types.Null())

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = tr.Set(types.JoinPath("w", string(rune('a'+w)), "n"), types.Number(float64(i)))
				_, _ = tr.Get("w")
			}
		}(w)
	}
	wg.Wait()

	snap := tr.Snapshot()
	w, ok := snap.Child("w")
	require.True(t, ok)
	assert.Equal(t, 4, w.Len())
}
