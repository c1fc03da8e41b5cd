package manager

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/cord/pkg/events"
	"github.com/cuemby/cord/pkg/log"
	"github.com/cuemby/cord/pkg/metrics"
	"github.com/cuemby/cord/pkg/protocol"
	"github.com/cuemby/cord/pkg/storage"
	"github.com/cuemby/cord/pkg/tree"
	"github.com/cuemby/cord/pkg/types"
	"github.com/rs/zerolog"
)

// Manager owns the authoritative tree
type Manager struct {
	tree        *tree.Tree
	store       storage.Store
	snapshotter *storage.Snapshotter
	eventBroker *events.Broker
	issuer      *IdentityIssuer
	requestLog  bool
	logger      zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	DataDir       string
	StorageDriver string
	SaveDelay     time.Duration
	RequestLog    bool

	// Store overrides DataDir and StorageDriver when set
	Store storage.Store
}

// NewManager opens storage, restores the last snapshot and starts the
// change broker
func NewManager(cfg *Config) (*Manager, error) {
	logger := log.WithComponent("manager")

	store := cfg.Store
	if store == nil {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %v", err)
		}
		var err error
		store, err = storage.Open(cfg.StorageDriver, cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %v", err)
		}
	}

	root, found, err := store.LoadSnapshot()
	switch {
	case err != nil:
		// A bad snapshot must not prevent startup
		logger.Warn().Err(err).Msg("Failed to load snapshot, starting with an empty tree")
		root = types.EmptyObject()
	case !found:
		logger.Info().Msg("No snapshot found, starting with an empty tree")
		root = types.EmptyObject()
	default:
		logger.Info().Int("keys", root.Len()).Msg("Snapshot restored")
	}

	t := tree.New(root)

	eventBroker := events.NewBroker()
	eventBroker.Start()

	m := &Manager{
		tree:        t,
		store:       store,
		snapshotter: storage.NewSnapshotter(store, t, cfg.SaveDelay),
		eventBroker: eventBroker,
		issuer:      NewIdentityIssuer(),
		requestLog:  cfg.RequestLog,
		logger:      logger,
	}
	metrics.TreeNodesTotal.Set(float64(m.NodeCount()))

	return m, nil
}

// Read returns the value at path filtered by query
func (m *Manager) Read(path string, query types.Query) (types.Node, bool) {
	value, found := m.tree.Get(path)
	if !found {
		return value, false
	}
	return query.Apply(value), true
}

// Write replaces the value at path
func (m *Manager) Write(path string, value types.Node) error {
	if err := m.tree.Set(path, value); err != nil {
		return err
	}
	m.changed(protocol.OpWrite, path)
	return nil
}

// Merge shallow-merges an object into the value at path
func (m *Manager) Merge(path string, patch types.Node) error {
	if err := m.tree.Update(path, patch); err != nil {
		return err
	}
	m.changed(protocol.OpMerge, path)
	return nil
}

// Delete removes the value at path. Deleting a missing path is not an
// error.
func (m *Manager) Delete(path string) error {
	m.tree.Remove(path)
	m.changed(protocol.OpDelete, path)
	return nil
}

// Batch applies several sets and removals atomically and announces the
// root
func (m *Manager) Batch(updates map[string]types.Node) error {
	if err := m.tree.BatchUpdate(updates); err != nil {
		return err
	}
	m.changed(protocol.OpBatch, types.RootPath)
	return nil
}

// Identity reuses existingID when valid, or issues a new identity
func (m *Manager) Identity(existingID string) string {
	id, reused := m.issuer.Issue(existingID)

	ev := m.logger.Info().Str("uid", id).Bool("reused", reused).Int("known", m.issuer.Count())
	if ident, ok := m.issuer.Lookup(id); ok && reused {
		ev = ev.Time("first_seen", ident.IssuedAt)
	}
	ev.Msg("Anonymous identity issued")
	return id
}

func (m *Manager) changed(op protocol.Operation, path string) {
	metrics.TreeMutationsTotal.WithLabelValues(string(op)).Inc()
	m.snapshotter.Schedule()
	m.eventBroker.Announce(path)
}

// Broker returns the change broker sessions subscribe to
func (m *Manager) Broker() *events.Broker {
	return m.eventBroker
}

// RecordRequest appends an inbound request to the request log when
// enabled. Failures are logged and otherwise ignored.
func (m *Manager) RecordRequest(op, path string, payload []byte) {
	if !m.requestLog {
		return
	}
	entry := &storage.RequestLogEntry{
		At:        time.Now(),
		Direction: "in",
		Op:        op,
		Path:      types.NormalizePath(path),
		Payload:   string(payload),
	}
	if err := m.store.AppendRequestLog(entry); err != nil {
		m.logger.Warn().Err(err).Str("op", op).Msg("Failed to append request log")
	}
}

// RequestLog returns the newest request log entries
func (m *Manager) RequestLog(limit int) ([]*storage.RequestLogEntry, error) {
	return m.store.ListRequestLog(limit)
}

// NodeCount returns the number of nodes below the root
func (m *Manager) NodeCount() int {
	return countNodes(m.tree.Snapshot()) - 1
}

func countNodes(n types.Node) int {
	count := 1
	for _, k := range n.Keys() {
		child, _ := n.Child(k)
		count += countNodes(child)
	}
	return count
}

// Ping reports whether storage is usable, for health probes
func (m *Manager) Ping() error {
	if _, err := m.store.ListRequestLog(1); err != nil {
		return fmt.Errorf("storage unavailable: %w", err)
	}
	return nil
}

// Shutdown flushes pending changes and closes storage
func (m *Manager) Shutdown() error {
	m.logger.Info().Msg("Shutting down manager")

	var errs []error
	if m.snapshotter.Pending() {
		m.logger.Info().Msg("Writing pending snapshot")
	}
	if err := m.snapshotter.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("final snapshot: %w", err))
	}
	m.snapshotter.Stop()
	m.eventBroker.Stop()

	if err := m.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
