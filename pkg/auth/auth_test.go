package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/cord/pkg/api"
	"github.com/cuemby/cord/pkg/client"
	"github.com/cuemby/cord/pkg/manager"
	"github.com/cuemby/cord/pkg/protocol"
	"github.com/cuemby/cord/pkg/storage"
	"github.com/cuemby/cord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIssuer answers identity calls like the server does
type fakeIssuer struct {
	mu       sync.Mutex
	calls    int
	existing []string
	next     int
	err      error
}

func (f *fakeIssuer) Call(ctx context.Context, op protocol.Operation, path string, payload, result interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	if op != protocol.OpIdentity {
		return fmt.Errorf("unexpected op %s", op)
	}
	p := payload.(protocol.IdentityPayload)
	f.existing = append(f.existing, p.ExistingID)

	id := p.ExistingID
	if id == "" {
		f.next++
		id = fmt.Sprintf("u_%020d", f.next)
	}
	result.(*protocol.IdentityResult).ID = id
	return nil
}

func TestSignInIsIdempotent(t *testing.T) {
	issuer := &fakeIssuer{}
	a := New(issuer, nil)
	ctx := context.Background()

	assert.Nil(t, a.CurrentUser())

	u1, err := a.SignInAnonymously(ctx)
	require.NoError(t, err)
	u2, err := a.SignInAnonymously(ctx)
	require.NoError(t, err)

	assert.Equal(t, u1.UID, u2.UID)
	assert.True(t, u1.Anonymous)
	assert.Equal(t, 1, issuer.calls, "no second remote issuance")
	assert.Same(t, u1, a.CurrentUser())
}

func TestCachedIdentityIsConfirmed(t *testing.T) {
	issuer := &fakeIssuer{}
	cache := NewFileCache(filepath.Join(t.TempDir(), "nested", "identity.yaml"))
	ctx := context.Background()

	first, err := New(issuer, cache).SignInAnonymously(ctx)
	require.NoError(t, err)

	// A new process with the same cache file
	second, err := New(issuer, cache).SignInAnonymously(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.UID, second.UID)
	assert.Equal(t, []string{"", first.UID}, issuer.existing)
	assert.WithinDuration(t, first.IssuedAt, second.IssuedAt, time.Second)
}

func TestSignOutClearsCache(t *testing.T) {
	issuer := &fakeIssuer{}
	cache := NewFileCache(filepath.Join(t.TempDir(), "identity.yaml"))
	a := New(issuer, cache)
	ctx := context.Background()

	first, err := a.SignInAnonymously(ctx)
	require.NoError(t, err)

	require.NoError(t, a.SignOut())
	assert.Nil(t, a.CurrentUser())
	_, err = os.Stat(cache.Path)
	assert.True(t, os.IsNotExist(err))

	second, err := a.SignInAnonymously(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.UID, second.UID)
}

func TestSignInFailure(t *testing.T) {
	issuer := &fakeIssuer{err: fmt.Errorf("%w: dial refused", types.ErrChannelUnavailable)}
	a := New(issuer, nil)

	_, err := a.SignInAnonymously(context.Background())
	assert.True(t, errors.Is(err, types.ErrChannelUnavailable))
	assert.Nil(t, a.CurrentUser())
}

func TestFileCache(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		u, err := NewFileCache(filepath.Join(dir, "none.yaml")).Load()
		require.NoError(t, err)
		assert.Nil(t, u)
	})

	t.Run("round trip", func(t *testing.T) {
		c := NewFileCache(filepath.Join(dir, "id.yaml"))
		want := &User{UID: "u_abc", Anonymous: true, IssuedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
		require.NoError(t, c.Save(want))

		got, err := c.Load()
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want.UID, got.UID)
		assert.True(t, got.Anonymous)
		assert.True(t, want.IssuedAt.Equal(got.IssuedAt))

		require.NoError(t, c.Clear())
		require.NoError(t, c.Clear())
	})

	t.Run("corrupt file", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("uid: [unterminated"), 0600))

		_, err := NewFileCache(path).Load()
		assert.Error(t, err)

		// An unreadable cache falls back to a fresh identity
		issuer := &fakeIssuer{}
		u, err := New(issuer, NewFileCache(path)).SignInAnonymously(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{""}, issuer.existing)
		assert.NotEmpty(t, u.UID)
	})
}

func TestSignInAgainstServer(t *testing.T) {
	mgr, err := manager.NewManager(&manager.Config{
		DataDir:       t.TempDir(),
		StorageDriver: storage.DriverBolt,
	})
	require.NoError(t, err)
	srv := api.NewServer(mgr, api.Config{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.DisconnectAll()
		ts.Close()
		_ = mgr.Shutdown()
	})

	c, err := client.NewClient(client.Config{URL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"})
	require.NoError(t, err)
	defer c.Close()

	cache := NewFileCache(filepath.Join(t.TempDir(), "identity.yaml"))
	first, err := New(c, cache).SignInAnonymously(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.UID, "u_"))

	second, err := New(c, cache).SignInAnonymously(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.UID, second.UID)
}
