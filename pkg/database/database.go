// Package database is the surface application code programs against: path
// references with query builders, reads and writes over the RPC client,
// and listeners kept current by the reconciler.
package database

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/cord/pkg/client"
	"github.com/cuemby/cord/pkg/log"
	"github.com/cuemby/cord/pkg/protocol"
	"github.com/cuemby/cord/pkg/pushkey"
	"github.com/cuemby/cord/pkg/reconciler"
	"github.com/cuemby/cord/pkg/types"
	"github.com/rs/zerolog"
)

// ConnectedPath reports the transport state without a round trip
const ConnectedPath = ".info/connected"

// Config holds database settings
type Config struct {
	Client     client.Config
	Reconciler reconciler.Config
}

// Database binds a client connection to a set of listeners
type Database struct {
	client *client.Client
	rec    *reconciler.Reconciler
	keys   *pushkey.Generator
	logger zerolog.Logger

	mu        sync.Mutex
	listeners map[string][]*reconciler.Subscription
}

// New dials lazily: no connection is made until the first read, write or
// listener
func New(cfg Config) (*Database, error) {
	c, err := client.NewClient(cfg.Client)
	if err != nil {
		return nil, err
	}
	return NewWithClient(c, cfg.Reconciler), nil
}

// NewWithClient builds a database on an existing client. The database
// takes ownership of the client and closes it on Close.
func NewWithClient(c *client.Client, cfg reconciler.Config) *Database {
	db := &Database{
		client:    c,
		keys:      pushkey.New(),
		logger:    log.WithComponent("database"),
		listeners: make(map[string][]*reconciler.Subscription),
	}
	db.rec = reconciler.NewReconciler(&fetcher{db: db}, cfg)
	db.rec.Start()

	c.OnChange(func(path string, _ time.Time) {
		db.rec.Notify(path)
	})
	c.OnStateChange(func(bool) {
		db.rec.Notify(ConnectedPath)
	})
	c.OnReconnect(func() {
		db.logger.Info().Int("listeners", db.rec.Count()).Msg("Reconnected, resyncing listeners")
		db.rec.Resync()
	})
	return db
}

// Client returns the underlying RPC client
func (db *Database) Client() *client.Client {
	return db.client
}

// Ref returns a reference to path
func (db *Database) Ref(path string) *Ref {
	return &Ref{db: db, path: types.NormalizePath(path)}
}

// Connected reports whether the transport is open
func (db *Database) Connected() bool {
	return db.client.Connected()
}

// Close removes every listener and closes the connection
func (db *Database) Close() error {
	db.mu.Lock()
	db.listeners = make(map[string][]*reconciler.Subscription)
	db.mu.Unlock()

	// Closing the client first fails in-flight fetches so Stop returns promptly
	err := db.client.Close()
	db.rec.Stop()
	return err
}

func (db *Database) read(ctx context.Context, path string, query types.Query) (types.Node, bool, error) {
	if isInfoPath(path) {
		if path == ConnectedPath {
			return types.Bool(db.client.Connected()), true, nil
		}
		return types.Null(), false, nil
	}

	var res protocol.ReadResult
	if err := db.client.Call(ctx, protocol.OpRead, path, protocol.ReadPayload{Query: query}, &res); err != nil {
		return types.Null(), false, err
	}
	return res.Value, res.Exists, nil
}

func (db *Database) mutate(ctx context.Context, op protocol.Operation, path string, payload interface{}) error {
	if isInfoPath(path) {
		return fmt.Errorf("%w: %s is read-only", types.ErrUnsupportedOperation, path)
	}
	return db.client.Call(ctx, op, path, payload, nil)
}

func (db *Database) addListener(key string, sub *reconciler.Subscription) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.listeners[key] = append(db.listeners[key], sub)
}

// removeListeners drops the given subscriptions registered under key, or
// all of them when none are given
func (db *Database) removeListeners(key string, subs []*reconciler.Subscription) {
	db.mu.Lock()
	registered := db.listeners[key]
	var keep, drop []*reconciler.Subscription
	if len(subs) == 0 {
		drop = registered
	} else {
		for _, s := range registered {
			if containsSub(subs, s) {
				drop = append(drop, s)
			} else {
				keep = append(keep, s)
			}
		}
	}
	if len(keep) == 0 {
		delete(db.listeners, key)
	} else {
		db.listeners[key] = keep
	}
	db.mu.Unlock()

	for _, s := range drop {
		db.rec.Unsubscribe(s)
	}
}

func containsSub(subs []*reconciler.Subscription, s *reconciler.Subscription) bool {
	for _, c := range subs {
		if c == s {
			return true
		}
	}
	return false
}

func isInfoPath(path string) bool {
	return path == ".info" || strings.HasPrefix(path, ".info/")
}

// fetcher adapts the RPC read to the reconciler
type fetcher struct {
	db *Database
}

func (f *fetcher) Fetch(ctx context.Context, path string, query types.Query) (types.Node, bool, error) {
	return f.db.read(ctx, path, query)
}
