/*
Package reconciler keeps client-side listeners in step with the server.

Announcements carry no data. Every pass re-reads the subscribed path and
diffs it against the last value the listener saw, so missed or reordered
announcements heal on the next pass.

# Passes

	Notify(path) ─┐
	Resync()     ─┼─▶ schedule(sub) ──▶ reconcile: Fetch → Query.Apply → diff → handler
	Subscribe    ─┘

A listener has at most one queued pass. Notifications that arrive before
it starts are absorbed; one that arrives while it fetches queues exactly
one more. Passes of the same listener never overlap, so handlers see
events in order.

# Events

	value          initial value, then whenever the value changes
	child_added    every initial child, then each new key
	child_changed  each existing key whose value changed
	child_removed  each key that disappeared, with its last known value

A failed fetch delivers nothing and keeps the cached state; the next pass
retries. The database package calls Resync after every reconnect, and
Config.ResyncInterval adds a periodic resync.

Stop blocks until running passes finish. Nothing is scheduled after it.
*/
package reconciler
