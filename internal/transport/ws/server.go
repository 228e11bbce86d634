// Package ws adapts the engine to websocket transport: one reader loop and
// one writer goroutine per connection, with the engine's out channel in
// between. Transport concurrency ends here; everything the reader learns is
// marshaled onto the engine loop through its channels.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"zone.camp/internal/protocol"
	"zone.camp/internal/server"
)

type Server struct {
	engine *server.Engine
	log    *log.Logger

	pingInterval time.Duration

	upgrader websocket.Upgrader
}

func NewServer(engine *server.Engine, pingInterval time.Duration, logger *log.Logger) *Server {
	return &Server{
		engine:       engine,
		log:          logger,
		pingInterval: pingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// clientKinds is the closed inbound set; anything else is dropped at the
// edge.
var clientKinds = map[string]bool{
	protocol.KindHeartbeat:   true,
	protocol.KindChat:        true,
	protocol.KindUser:        true,
	protocol.KindAuth:        true,
	protocol.KindCommand:     true,
	protocol.KindBlock:       true,
	protocol.KindEcho:        true,
	protocol.KindSkip:        true,
	protocol.KindUnqueue:     true,
	protocol.KindQueueByID:   true,
	protocol.KindQueueByPath: true,
	protocol.KindQueueLucky:  true,
	protocol.KindQueueBanger: true,
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		sock, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}

		conn := &server.Conn{
			Out:   make(chan []byte, 64),
			NetID: s.engine.ResolveNetID(r.RemoteAddr),
		}

		// forcedCode remembers a server-intentional close so the engine sees
		// the meaningful code rather than the transport error.
		var forcedCode atomic.Int64
		conn.ForceClose = func(code int, reason string) {
			forcedCode.Store(int64(code))
			deadline := time.Now().Add(time.Second)
			_ = sock.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
			_ = sock.Close()
		}

		done := make(chan struct{})
		defer close(done)
		go s.writeLoop(sock, conn, done)

		// Ban check happens before any identity resolution.
		openResp := make(chan server.OpenResponse, 1)
		s.engine.Opens() <- server.OpenRequest{Conn: conn, Resp: openResp}
		if (<-openResp).Banned {
			conn.Out <- protocol.Encode(protocol.RejectMsg{Type: protocol.KindReject, Code: protocol.ErrBanned, Text: "you are banned"})
			conn.ForceClose(protocol.CloseBanned, "banned")
			return
		}

		if !s.handshake(sock, conn) {
			_ = sock.Close()
			return
		}

		code := s.readLoop(sock, conn)
		if forced := forcedCode.Load(); forced != 0 {
			code = int(forced)
		}
		s.engine.Closes() <- server.CloseNote{Conn: conn, Code: code}
	}
}

// handshake reads messages until a join succeeds. An auth rejection keeps
// the connection open for a retry with corrected credentials; a ban or a
// transport error ends it.
func (s *Server) handshake(sock *websocket.Conn, conn *server.Conn) bool {
	for {
		_ = sock.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, raw, err := sock.ReadMessage()
		if err != nil {
			return false
		}
		base, err := protocol.DecodeBase(raw)
		if err != nil || base.Type != protocol.KindJoin {
			continue
		}
		var join protocol.JoinMsg
		if err := json.Unmarshal(raw, &join); err != nil {
			continue
		}

		resp := make(chan server.JoinResult, 1)
		s.engine.Joins() <- server.JoinRequest{Conn: conn, Msg: join, Resp: resp}
		result := <-resp
		if result.OK {
			return true
		}

		conn.Out <- protocol.Encode(result.Reject)
		if result.CloseCode != 0 {
			conn.ForceClose(result.CloseCode, result.Reject.Text)
			return false
		}
	}
}

// readLoop feeds the engine inbox until the socket dies, returning the close
// code observed.
func (s *Server) readLoop(sock *websocket.Conn, conn *server.Conn) int {
	readWait := 3 * s.pingInterval
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_ = sock.SetReadDeadline(time.Now().Add(readWait))
		_, raw, err := sock.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				return ce.Code
			}
			return websocket.CloseAbnormalClosure
		}
		base, err := protocol.DecodeBase(raw)
		if err != nil || !clientKinds[base.Type] {
			continue
		}
		s.engine.Inbox() <- server.Inbound{Conn: conn, Type: base.Type, Raw: raw}
	}
}

// writeLoop drains the out channel and keeps the socket alive with pings.
func (s *Server) writeLoop(sock *websocket.Conn, conn *server.Conn, done <-chan struct{}) {
	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case b := <-conn.Out:
			_ = sock.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := sock.WriteMessage(websocket.TextMessage, b); err != nil {
				_ = sock.Close()
				return
			}
		case <-ping.C:
			_ = sock.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = sock.Close()
				return
			}
		}
	}
}
