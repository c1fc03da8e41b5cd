// Package auth signs clients in anonymously and remembers the issued
// identity between runs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/cord/pkg/log"
	"github.com/cuemby/cord/pkg/protocol"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// User is a signed-in identity
type User struct {
	UID       string    `yaml:"uid"`
	Anonymous bool      `yaml:"anonymous"`
	IssuedAt  time.Time `yaml:"issuedAt"`
}

// Caller issues RPC calls; *client.Client satisfies it
type Caller interface {
	Call(ctx context.Context, op protocol.Operation, path string, payload, result interface{}) error
}

// Cache stores the identity locally. Load returns nil, nil when nothing
// is cached.
type Cache interface {
	Load() (*User, error)
	Save(u *User) error
	Clear() error
}

// Auth tracks the current user of one client
type Auth struct {
	caller Caller
	cache  Cache
	logger zerolog.Logger

	mu   sync.Mutex
	user *User
}

// New creates an Auth. cache may be nil to keep the identity in memory only.
func New(caller Caller, cache Cache) *Auth {
	return &Auth{
		caller: caller,
		cache:  cache,
		logger: log.WithComponent("auth"),
	}
}

// SignInAnonymously returns the current user, asking the server to confirm
// a cached identity or to issue a new one when this process has none yet.
// Later calls return the same user without a round trip.
func (a *Auth) SignInAnonymously(ctx context.Context) (*User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.user != nil {
		return a.user, nil
	}

	var cached *User
	if a.cache != nil {
		u, err := a.cache.Load()
		if err != nil {
			a.logger.Warn().Err(err).Msg("Ignoring unreadable identity cache")
		}
		cached = u
	}

	payload := protocol.IdentityPayload{}
	if cached != nil {
		payload.ExistingID = cached.UID
	}

	var res protocol.IdentityResult
	if err := a.caller.Call(ctx, protocol.OpIdentity, "", payload, &res); err != nil {
		return nil, fmt.Errorf("anonymous sign-in failed: %w", err)
	}
	if res.ID == "" {
		return nil, errors.New("anonymous sign-in returned no identity")
	}

	if cached != nil && cached.UID == res.ID {
		a.user = cached
		a.logger.Debug().Str("uid", res.ID).Msg("Reusing cached identity")
		return a.user, nil
	}

	a.user = &User{UID: res.ID, Anonymous: true, IssuedAt: time.Now().UTC()}
	a.logger.Info().Str("uid", res.ID).Msg("Signed in anonymously")
	if a.cache != nil {
		if err := a.cache.Save(a.user); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to cache identity")
		}
	}
	return a.user, nil
}

// CurrentUser returns the signed-in user or nil
func (a *Auth) CurrentUser() *User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user
}

// SignOut forgets the current user and clears the cache
func (a *Auth) SignOut() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user = nil
	if a.cache == nil {
		return nil
	}
	return a.cache.Clear()
}

// FileCache keeps the identity in a YAML file
type FileCache struct {
	Path string
}

// NewFileCache creates a cache at path
func NewFileCache(path string) *FileCache {
	return &FileCache{Path: path}
}

// Load reads the cached identity
func (c *FileCache) Load() (*User, error) {
	data, err := os.ReadFile(c.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	var u User
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to parse identity file: %w", err)
	}
	if u.UID == "" {
		return nil, nil
	}
	return &u, nil
}

// Save writes the identity, creating the parent directory
func (c *FileCache) Save(u *User) error {
	if err := os.MkdirAll(filepath.Dir(c.Path), 0700); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}
	data, err := yaml.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}
	tmp := c.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	return os.Rename(tmp, c.Path)
}

// Clear removes the file
func (c *FileCache) Clear() error {
	if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
