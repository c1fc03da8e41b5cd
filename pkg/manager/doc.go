/*
Package manager composes the authoritative side of cord.

	        ┌──────────── Manager ────────────┐
	Execute │  tree.Tree  ──Schedule──▶ storage.Snapshotter ──▶ storage.Store
	───────▶│     │                                               │
	        │     └──Announce──▶ events.Broker ──▶ sessions      │
	        │  IdentityIssuer                                     │
	        └────────────────────────────────────────────────────┘

Every mutation follows the same order: apply to the tree, schedule a
debounced save, announce the touched path. Batch announces the root.

NewManager restores the last snapshot. A missing or unreadable snapshot
starts an empty tree and is logged; it never fails startup. Shutdown writes
any pending snapshot before closing the store.

# Operations

Execute maps protocol operations onto the typed methods:

	read      Read(path, query)
	write     Write(path, value)
	merge     Merge(path, object)      shallow; a null child deletes it
	delete    Delete(path)
	batch     Batch(map[path]value)    applied ancestors first, all or nothing
	identity  Identity(existingID)

Errors wrap the sentinels in package types so the transport can map them
to wire codes.

# Identities

IdentityIssuer hands out "u_" followed by 20 hex characters. A well-formed
existing id is returned unchanged, which is how a client keeps its identity
across restarts. Identities are not persisted.
*/
package manager
