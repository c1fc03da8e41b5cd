package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/cord/pkg/metrics"
	"github.com/cuemby/cord/pkg/protocol"
	"github.com/cuemby/cord/pkg/types"
	"github.com/gorilla/websocket"
)

type callResult struct {
	msg *protocol.Message
	err error
}

// pendingRequest correlates a request id with its waiting caller
type pendingRequest struct {
	op      protocol.Operation
	started time.Time
	timer   *time.Timer
	done    chan callResult
}

// conn is one websocket plus the requests in flight on it
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:      ws,
		pending: make(map[string]*pendingRequest),
	}
}

// register records a pending request whose timer fails it with
// types.ErrTimeout
func (cn *conn) register(id string, op protocol.Operation, timeout time.Duration) (*pendingRequest, error) {
	cn.mu.Lock()
	defer cn.mu.Unlock()

	if cn.closed {
		return nil, fmt.Errorf("%w: connection closed", types.ErrChannelUnavailable)
	}

	p := &pendingRequest{
		op:      op,
		started: time.Now(),
		done:    make(chan callResult, 1),
	}
	p.timer = time.AfterFunc(timeout, func() {
		if cn.take(id) != nil {
			p.done <- callResult{err: fmt.Errorf("%w: %s after %s", types.ErrTimeout, op, timeout)}
		}
	})
	cn.pending[id] = p
	metrics.ClientPendingRequests.Inc()
	return p, nil
}

// take removes and returns the pending request for id, or nil if it was
// already resolved
func (cn *conn) take(id string) *pendingRequest {
	cn.mu.Lock()
	defer cn.mu.Unlock()

	p, ok := cn.pending[id]
	if !ok {
		return nil
	}
	delete(cn.pending, id)
	p.timer.Stop()
	metrics.ClientPendingRequests.Dec()
	return p
}

func (cn *conn) write(msg *protocol.Message, timeout time.Duration) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	cn.writeMu.Lock()
	defer cn.writeMu.Unlock()

	_ = cn.ws.SetWriteDeadline(time.Now().Add(timeout))
	return cn.ws.WriteMessage(websocket.TextMessage, data)
}

// shutdown closes the socket and fails every pending request with cause.
// It reports false if the connection was already shut down.
func (cn *conn) shutdown(cause error, graceful bool) bool {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return false
	}
	cn.closed = true
	pending := cn.pending
	cn.pending = make(map[string]*pendingRequest)
	cn.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		metrics.ClientPendingRequests.Dec()
		p.done <- callResult{err: cause}
	}

	if graceful {
		cn.writeMu.Lock()
		_ = cn.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		cn.writeMu.Unlock()
	}
	_ = cn.ws.Close()
	return true
}
