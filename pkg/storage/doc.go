/*
Package storage persists tree snapshots and the request log.

Two Store implementations share one contract:

	driver  file                      snapshot             request log
	bolt    <dataDir>/cord.db         bucket snapshot/root bucket request_log (sequence keys)
	sqlite  <dataDir>/cord.sqlite3    table state (id=1)   table request_log

A snapshot is the whole tree encoded as JSON. LoadSnapshot reports
found=false for a fresh data directory and ErrCorruptSnapshot when the
stored bytes do not decode.

# Debounced saves

Snapshotter coalesces mutations into one write:

	Schedule ──▶ dirty=true, arm timer (DefaultSaveDelay) ──▶ save
	Schedule ──▶ timer already armed, nothing to do

A failed save is logged and counted in cord_snapshot_saves_total and the
tree stays dirty, so the next Schedule or Flush writes again. Flush saves
synchronously when dirty; Stop disarms the timer and ignores later
Schedule calls.
*/
package storage
