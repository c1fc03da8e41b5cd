/*
Package api serves a Manager over the network: the websocket RPC channel,
a REST mirror of the same operations and the operational endpoints.

# Routes

	GET    /ws                      websocket RPC channel
	GET    /api/db?path=&orderBy=…  read
	PUT    /api/db?path=            write  (body: {"value": …})
	PATCH  /api/db?path=            merge  (body: {"value": {…}})
	DELETE /api/db?path=            delete
	POST   /api/db/update-root      batch  (body: {"updates": {path: value}})
	POST   /api/auth/anonymous      identity (body: {"existing_id": …})
	GET    /api/log?limit=N         newest request log entries
	GET    /health, /ready, /live   health probes
	GET    /metrics                 Prometheus

A REST body without a value field is rejected with 400 and code
invalid_payload; {"value": null} removes the path.

# Sessions

Each websocket gets a session with one read loop and one write loop:

	peer ──request──▶ read loop ──▶ Manager.Execute ──▶ response ──▶ write loop ──▶ peer
	broker ──announcement──────────────────────────────▶ change ───▶ write loop ──▶ peer

Requests on one session are executed one at a time in arrival order.
Frames above MaxMessageSize close the session. The write loop pings every
PingInterval and the read deadline is twice that, so a peer that stops
answering pings is dropped. A session whose broker subscription lagged announces the root once,
which makes the client re-read every listener.

# Logging

Every request is logged with its op, path and duration: mutations and
failures at info, reads at debug, and anything above SlowRequestThreshold
at warn with slow=true. Requests are also appended to the request log when
the manager has it enabled.

# Usage

	srv := api.NewServer(mgr, api.DefaultConfig())
	go srv.Start("127.0.0.1:8787")
	defer srv.Stop(ctx)

Handler returns the router for embedding, which is how the tests run it
under httptest.
*/
package api
