package reconciler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/cord/pkg/log"
	"github.com/cuemby/cord/pkg/metrics"
	"github.com/cuemby/cord/pkg/types"
	"github.com/rs/zerolog"
)

// EventClass selects which changes a listener is told about
type EventClass string

const (
	EventValue        EventClass = "value"
	EventChildAdded   EventClass = "child_added"
	EventChildChanged EventClass = "child_changed"
	EventChildRemoved EventClass = "child_removed"
)

// ParseEventClass validates an event class name
func ParseEventClass(s string) (EventClass, error) {
	switch ev := EventClass(s); ev {
	case EventValue, EventChildAdded, EventChildChanged, EventChildRemoved:
		return ev, nil
	default:
		return "", fmt.Errorf("unknown event class %q", s)
	}
}

// Fetcher reads the current value at a path
type Fetcher interface {
	Fetch(ctx context.Context, path string, query types.Query) (value types.Node, found bool, err error)
}

// Handler receives a snapshot. For child events the snapshot is the child.
type Handler func(types.Snapshot)

// Config tunes the reconciler
type Config struct {
	// FetchTimeout bounds each re-read
	FetchTimeout time.Duration
	// ResyncInterval re-runs every subscription periodically; zero disables
	ResyncInterval time.Duration
}

// Reconciler owns the listeners of one client
type Reconciler struct {
	fetcher Fetcher
	cfg     Config
	logger  zerolog.Logger

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64

	// runMu orders wg.Add against Stop's wg.Wait
	runMu    sync.Mutex
	stopping bool
	wg       sync.WaitGroup
	stopCh   chan struct{}
}

// NewReconciler creates a new reconciler
func NewReconciler(fetcher Fetcher, cfg Config) *Reconciler {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	return &Reconciler{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  log.WithComponent("reconciler"),
		subs:    make(map[uint64]*Subscription),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the periodic resync loop when one is configured
func (r *Reconciler) Start() {
	if r.cfg.ResyncInterval <= 0 {
		return
	}
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.stopping {
		return
	}
	r.wg.Add(1)
	go r.run()
}

// Stop stops scheduling passes and waits for running ones to finish. It is
// idempotent.
func (r *Reconciler) Stop() {
	r.runMu.Lock()
	if !r.stopping {
		r.stopping = true
		close(r.stopCh)
	}
	r.runMu.Unlock()

	r.wg.Wait()
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Resync()
		case <-r.stopCh:
			return
		}
	}
}

// Subscribe registers a listener and schedules its initial pass
func (r *Reconciler) Subscribe(path string, query types.Query, event EventClass, handler Handler) *Subscription {
	r.mu.Lock()
	r.nextID++
	sub := &Subscription{
		id:      r.nextID,
		path:    types.NormalizePath(path),
		query:   query,
		event:   event,
		handler: handler,
	}
	sub.active.Store(true)
	r.subs[sub.id] = sub
	r.mu.Unlock()

	r.logger.Debug().Str("path", sub.path).Str("event", string(event)).Msg("Listener added")
	r.schedule(sub)
	return sub
}

// Unsubscribe removes a listener. A pass already running completes but
// delivers nothing further.
func (r *Reconciler) Unsubscribe(sub *Subscription) {
	sub.active.Store(false)

	r.mu.Lock()
	delete(r.subs, sub.id)
	r.mu.Unlock()
}

// Notify schedules a pass for every listener whose path overlaps path
func (r *Reconciler) Notify(path string) {
	path = types.NormalizePath(path)

	r.mu.RLock()
	matched := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		if types.PathsOverlap(sub.path, path) {
			matched = append(matched, sub)
		}
	}
	r.mu.RUnlock()

	for _, sub := range matched {
		r.schedule(sub)
	}
}

// Resync schedules a pass for every listener. It is called after a
// reconnect, since announcements sent while disconnected were lost.
func (r *Reconciler) Resync() {
	r.mu.RLock()
	all := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		all = append(all, sub)
	}
	r.mu.RUnlock()

	for _, sub := range all {
		r.schedule(sub)
	}
}

// Count returns the number of active listeners
func (r *Reconciler) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// schedule runs at most one queued pass per listener; announcements that
// arrive before the pass starts are absorbed by it
func (r *Reconciler) schedule(sub *Subscription) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.stopping || !sub.scheduled.CompareAndSwap(false, true) {
		return
	}
	r.wg.Add(1)
	go r.reconcile(sub)
}

func (r *Reconciler) reconcile(sub *Subscription) {
	defer r.wg.Done()

	sub.mu.Lock()
	defer sub.mu.Unlock()

	// Clear before fetching so a change during the fetch earns another pass
	sub.scheduled.Store(false)
	if !sub.active.Load() {
		return
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)
	metrics.ReconciliationPassesTotal.WithLabelValues(string(sub.event)).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.FetchTimeout)
	value, found, err := r.fetcher.Fetch(ctx, sub.path, sub.query)
	cancel()
	if err != nil {
		r.logger.Warn().Err(err).Str("path", sub.path).Msg("Reconciliation fetch failed")
		return
	}
	if !sub.active.Load() {
		return
	}

	value = sub.query.Apply(value)
	for _, snap := range sub.diff(value, found) {
		if !sub.active.Load() {
			return
		}
		metrics.ReconciliationEventsTotal.WithLabelValues(string(sub.event)).Inc()
		sub.handler(snap)
	}
}

// Subscription is one listener
type Subscription struct {
	id      uint64
	path    string
	query   types.Query
	event   EventClass
	handler Handler

	active    atomic.Bool
	scheduled atomic.Bool

	// guarded by mu
	mu          sync.Mutex
	initialized bool
	value       types.Node
	exists      bool
	children    map[string]types.Node
}

// Path returns the listened path
func (s *Subscription) Path() string { return s.path }

// Query returns the listener's query
func (s *Subscription) Query() types.Query { return s.query }

// Event returns the listener's event class
func (s *Subscription) Event() EventClass { return s.event }

// Active reports whether the listener is still registered
func (s *Subscription) Active() bool { return s.active.Load() }

// diff updates the cached state and returns the snapshots to deliver
func (s *Subscription) diff(value types.Node, found bool) []types.Snapshot {
	exists := found && !value.IsNull()
	initial := !s.initialized
	s.initialized = true

	if s.event == EventValue {
		changed := initial || exists != s.exists || !value.Equal(s.value)
		s.value, s.exists = value, exists
		if !changed {
			return nil
		}
		return []types.Snapshot{types.NewSnapshot(s.path, value, found)}
	}

	next := make(map[string]types.Node)
	if exists {
		for _, k := range value.Keys() {
			next[k], _ = value.Child(k)
		}
	}
	prev := s.children
	s.children = next

	var out []types.Snapshot
	switch s.event {
	case EventChildAdded:
		for _, k := range value.Keys() {
			if _, had := prev[k]; !had {
				out = append(out, types.NewSnapshot(types.JoinPath(s.path, k), next[k], true))
			}
		}
	case EventChildChanged:
		if initial {
			return nil
		}
		for _, k := range value.Keys() {
			if old, had := prev[k]; had && !old.Equal(next[k]) {
				out = append(out, types.NewSnapshot(types.JoinPath(s.path, k), next[k], true))
			}
		}
	case EventChildRemoved:
		if initial {
			return nil
		}
		for _, k := range sortedKeys(prev) {
			if _, still := next[k]; !still {
				// Removed children carry their last known value
				out = append(out, types.NewSnapshot(types.JoinPath(s.path, k), prev[k], true))
			}
		}
	}
	return out
}

func sortedKeys(m map[string]types.Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
