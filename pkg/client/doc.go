/*
Package client is the caller side of the cord RPC channel.

A Client owns at most one websocket at a time. Every Call gets a ULID
request id and a pending entry with its own timer; the read loop resolves
entries as responses arrive, in any order.

# Failure modes

	no response within RequestTimeout   → that call fails with types.ErrTimeout,
	                                      the connection stays open
	dial error, write error, read error → every pending call fails with
	                                      types.ErrChannelUnavailable
	peer silent for ReadTimeout         → treated as a read error
	context canceled                    → that call returns ctx.Err()

A remote failure is returned as *RemoteError, which unwraps to the matching
sentinel in package types.

Server pings and every received frame extend the read deadline, so
ReadTimeout must be longer than the server's ping interval. Without it a
half-open TCP connection would only ever produce timeouts.

# Reconnection

The connection is dialed lazily by the first call. After a reset the next
call redials; registering an OnReconnect handler makes the client redial
in the background every ReconnectDelay instead.

	c.OnStateChange(func(bool) { ... })  // every connect and every reset
	c.OnReconnect(func() { ... })        // every connect after the first

Handlers run on their own goroutine and may issue calls.
*/
package client
