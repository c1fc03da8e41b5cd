/*
Package types defines the data model shared by the cord server and its
clients.

A stored value is a Node: a tagged variant of null, boolean, number,
string, array or object. Arrays are leaves; partial updates never descend
into them. Objects map non-empty, slash-free keys to child nodes and the
root of every tree is an object.

Paths are slash-delimited with no leading or trailing slash. The empty
path is the root:

	types.NormalizePath("//rooms/1/")   // "rooms/1"
	types.PathsOverlap("rooms", "rooms/1/title") // true

Writes may contain server-value sentinels, written either as
{"$op":"now"} or {".sv":"timestamp"}. ResolveServerValues replaces them
with the writer's clock in epoch milliseconds before the value is stored.

Query filters object children by key and Snapshot is the read-only view
handed to readers and listeners.
*/
package types
