/*
Package events provides the in-memory broker that fans change announcements
out to every open connection.

An announcement names a path and a time. It carries no value: receivers
re-read whatever they listen to, so a lost or reordered announcement only
delays convergence.

# Delivery

	Announce(path) → event channel (buffer: 256)
	                      ↓
	               broadcast loop
	                      ↓
	      subscriber channels (buffer: 64 each)

A slow subscriber never stalls the broadcast loop; Publish waits only
while the event channel itself is full. When a subscriber's buffer is full
the announcement is dropped for that subscriber and its Lagged flag is set;
the websocket session then announces the root so the client re-reads
everything it listens to.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub.C() {
			if sub.Lagged() {
				ev = &events.Event{Path: "", At: ev.At}
			}
			notify(ev.Path, ev.At)
		}
	}()

	broker.Announce("rooms/1/title")

Stop ends the broadcast loop. Announcements made after Stop are discarded.
*/
package events
