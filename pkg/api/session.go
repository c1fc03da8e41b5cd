package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/cord/pkg/events"
	"github.com/cuemby/cord/pkg/log"
	"github.com/cuemby/cord/pkg/protocol"
	"github.com/cuemby/cord/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const sendBufferSize = 64

// session is one websocket connection. Requests are handled in arrival
// order by the read loop; a single writer goroutine owns the connection's
// write side.
type session struct {
	id     string
	server *Server
	conn   *websocket.Conn
	sub    *events.Subscription
	send   chan *protocol.Message
	logger zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade")
		return
	}

	id := ulid.Make().String()
	sess := &session{
		id:     id,
		server: s,
		conn:   conn,
		sub:    s.manager.Broker().Subscribe(),
		send:   make(chan *protocol.Message, sendBufferSize),
		logger: log.WithConnID("api", id),
		done:   make(chan struct{}),
	}
	s.addSession(sess)
	sess.logger.Info().Str("remote", r.RemoteAddr).Msg("Session opened")

	go sess.writeLoop()
	go sess.forwardChanges()
	sess.readLoop()
}

func (sess *session) pongWait() time.Duration {
	return 2 * sess.server.cfg.PingInterval
}

func (sess *session) readLoop() {
	defer sess.close(websocket.CloseNormalClosure, "")

	sess.conn.SetReadLimit(sess.server.cfg.MaxMessageSize)
	_ = sess.conn.SetReadDeadline(time.Now().Add(sess.pongWait()))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(sess.pongWait()))
	})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.logger.Info().Err(err).Msg("Session read failed")
			}
			return
		}
		// Any inbound traffic proves the peer is alive
		_ = sess.conn.SetReadDeadline(time.Now().Add(sess.pongWait()))

		msg, err := protocol.Decode(data)
		if err != nil {
			sess.logger.Warn().Err(err).Msg("Dropping malformed frame")
			sess.enqueue(protocol.NewErrorResponse("", err))
			continue
		}
		if msg.Type != protocol.TypeRequest {
			continue
		}
		sess.enqueue(sess.handle(msg))
	}
}

func (sess *session) handle(msg *protocol.Message) *protocol.Message {
	op, err := protocol.ParseOperation(string(msg.Op))
	if err != nil {
		sess.logger.Warn().Str("op", string(msg.Op)).Msg("Unsupported operation")
		return protocol.NewErrorResponse(msg.RequestID, err)
	}

	result, err := sess.server.execute(sess.logger, op, types.NormalizePath(msg.Path), msg.Payload)
	if err != nil {
		return protocol.NewErrorResponse(msg.RequestID, err)
	}
	resp, err := protocol.NewResponse(msg.RequestID, result)
	if err != nil {
		return protocol.NewErrorResponse(msg.RequestID, err)
	}
	return resp
}

// forwardChanges relays broker announcements to the peer. A lagging
// subscription lost announcements, so the root is announced instead.
func (sess *session) forwardChanges() {
	for {
		select {
		case ev, ok := <-sess.sub.C():
			if !ok {
				return
			}
			path := ev.Path
			if sess.sub.Lagged() {
				path = types.RootPath
			}
			sess.enqueue(protocol.NewChange(path, ev.At))
		case <-sess.done:
			return
		}
	}
}

func (sess *session) enqueue(msg *protocol.Message) {
	select {
	case sess.send <- msg:
	case <-sess.done:
	}
}

func (sess *session) writeLoop() {
	ticker := time.NewTicker(sess.server.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-sess.send:
			data, err := protocol.Encode(msg)
			if err != nil {
				sess.logger.Error().Err(err).Msg("Failed to encode frame")
				continue
			}
			_ = sess.conn.SetWriteDeadline(time.Now().Add(sess.server.cfg.WriteTimeout))
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// A write deadline cannot be recovered from
				sess.logger.Info().Err(err).Msg("Session write failed")
				sess.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(sess.server.cfg.WriteTimeout)
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				sess.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-sess.done:
			return
		}
	}
}

func (sess *session) close(code int, reason string) {
	sess.closeOnce.Do(func() {
		close(sess.done)
		sess.server.manager.Broker().Unsubscribe(sess.sub)
		sess.server.removeSession(sess)

		if code != websocket.CloseAbnormalClosure {
			deadline := time.Now().Add(time.Second)
			_ = sess.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		}
		_ = sess.conn.Close()
		sess.logger.Info().Msg("Session closed")
	})
}
