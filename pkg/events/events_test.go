package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) *Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBrokerFansOut(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	s1 := b.Subscribe()
	s2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Announce("/rooms//1/")

	for _, sub := range []*Subscription{s1, s2} {
		ev := receive(t, sub)
		assert.Equal(t, "rooms/1", ev.Path)
		assert.False(t, ev.At.IsZero())
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestSlowSubscriberIsMarkedLagged(t *testing.T) {
	b := NewBroker()
	b.bufferSize = 1
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Announce("a")
	b.Announce("b")
	b.Announce("c")

	require.Eventually(t, func() bool {
		return len(b.eventCh) == 0
	}, time.Second, 5*time.Millisecond)

	ev := receive(t, sub)
	assert.Equal(t, "a", ev.Path)
	require.Eventually(t, sub.Lagged, time.Second, 5*time.Millisecond)
	assert.False(t, sub.Lagged(), "lag flag resets after being read")
}

func TestPublishAfterStopDoesNotBlock(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()
	b.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Announce("x")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked after Stop")
	}
}
