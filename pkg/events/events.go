package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/cord/pkg/metrics"
	"github.com/cuemby/cord/pkg/types"
)

// Event announces that something at or below Path may have changed. It
// carries no data; receivers re-read the path.
type Event struct {
	Path string
	At   time.Time
}

// Subscription receives announcements for one connection
type Subscription struct {
	ch     chan *Event
	lagged atomic.Bool
}

// C returns the channel announcements arrive on. It is closed by
// Unsubscribe.
func (s *Subscription) C() <-chan *Event { return s.ch }

// Lagged reports, and clears, whether announcements were dropped because
// the subscriber fell behind. Callers should treat a lag as a change at
// the root.
func (s *Subscription) Lagged() bool { return s.lagged.Swap(false) }

// Broker fans announcements out to every subscriber
type Broker struct {
	subscribers map[*Subscription]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	bufferSize  int
}

// NewBroker creates a new announcement broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[*Subscription]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
		bufferSize:  64,
	}
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. Subscriptions stay open until unsubscribed.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe registers a new subscriber
func (b *Broker) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{ch: make(chan *Event, b.bufferSize)}
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.subscribers[sub] {
		return
	}
	delete(b.subscribers, sub)
	close(sub.ch)
}

// Announce publishes a change at path stamped with the current time
func (b *Broker) Announce(path string) {
	b.Publish(&Event{Path: types.NormalizePath(path), At: time.Now()})
}

// Publish queues an event for distribution
func (b *Broker) Publish(event *Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	select {
	case b.eventCh <- event:
		metrics.AnnouncementsTotal.Inc()
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub.ch <- event:
		default:
			// Subscriber buffer full; it will announce the root once drained.
			sub.lagged.Store(true)
			metrics.BrokerDroppedTotal.Inc()
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
