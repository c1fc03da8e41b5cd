package storage

import (
	"sync"
	"time"

	"github.com/cuemby/cord/pkg/log"
	"github.com/cuemby/cord/pkg/metrics"
	"github.com/cuemby/cord/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultSaveDelay coalesces bursts of mutations into one write
const DefaultSaveDelay = 75 * time.Millisecond

// Source provides the tree to persist
type Source interface {
	Snapshot() types.Node
}

// Snapshotter writes debounced snapshots of a Source to a Store. A failed
// write is logged and retried on the next Schedule or Flush; it never
// affects the in-memory tree.
type Snapshotter struct {
	store  Store
	source Source
	delay  time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	dirty   bool
	stopped bool

	saveMu sync.Mutex
}

// NewSnapshotter creates a snapshotter. A non-positive delay uses
// DefaultSaveDelay.
func NewSnapshotter(store Store, source Source, delay time.Duration) *Snapshotter {
	if delay <= 0 {
		delay = DefaultSaveDelay
	}
	return &Snapshotter{
		store:  store,
		source: source,
		delay:  delay,
		logger: log.WithComponent("snapshotter"),
	}
}

// Schedule marks the tree dirty and arms the save timer if it is not
// already running
func (s *Snapshotter) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.dirty = true
	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, s.fire)
	}
}

func (s *Snapshotter) fire() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()

	_ = s.save()
}

// Flush cancels any pending timer and writes synchronously if the tree is
// dirty
func (s *Snapshotter) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	return s.save()
}

// Stop cancels the pending timer and ignores later Schedule calls. It does
// not write; call Flush first to persist outstanding changes.
func (s *Snapshotter) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Pending reports whether changes are waiting to be written
func (s *Snapshotter) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Snapshotter) save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.dirty = false
	s.mu.Unlock()

	timer := metrics.NewTimer()
	err := s.store.SaveSnapshot(s.source.Snapshot())
	timer.ObserveDuration(metrics.SnapshotSaveDuration)

	if err != nil {
		metrics.SnapshotSavesTotal.WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Msg("Failed to save snapshot; keeping in-memory state")

		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}

	metrics.SnapshotSavesTotal.WithLabelValues("ok").Inc()
	s.logger.Debug().Dur("took", timer.Duration()).Msg("Snapshot saved")
	return nil
}
