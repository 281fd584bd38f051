package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hivemind/orchestrator/internal/event"
)

// streamBuffer bounds the per-client send queue; a client that cannot
// keep up is dropped rather than allowed to back-pressure the kernel.
const streamBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamGate signals stream shutdown. Both the kernel subscriber (on
// overflow) and the reader (on disconnect) may trip it concurrently, so
// the close is guarded by a Once.
type streamGate struct {
	done chan struct{}
	once sync.Once
}

func newStreamGate() *streamGate {
	return &streamGate{done: make(chan struct{})}
}

func (g *streamGate) close() {
	g.once.Do(func() { close(g.done) })
}

// handleStream upgrades to a websocket and forwards every kernel event,
// optionally filtered by a `?pattern=` wildcard subscription.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var pattern = r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = event.MatchAll
	}

	var conn, err = upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	var send = make(chan *event.Envelope, streamBuffer)
	var gate = newStreamGate()

	unsubscribe, err := s.kernel.Subscribe(pattern, func(ev *event.Envelope) {
		select {
		case send <- ev:
		default:
			// Slow client: drop the connection, never the kernel.
			gate.close()
		}
	})
	if err != nil {
		conn.WriteJSON(map[string]string{"error": err.Error()})
		conn.Close()
		return
	}

	go s.streamWriter(conn, send, gate, unsubscribe)
	go s.streamReader(conn, gate)
}

func (s *Server) streamWriter(conn *websocket.Conn, send <-chan *event.Envelope, gate *streamGate, unsubscribe func()) {
	defer func() {
		unsubscribe()
		conn.Close()
	}()
	var ping = time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-gate.done:
			return
		case ev := <-send:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// streamReader discards inbound frames and trips the gate on disconnect.
func (s *Server) streamReader(conn *websocket.Conn, gate *streamGate) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			gate.close()
			return
		}
	}
}
