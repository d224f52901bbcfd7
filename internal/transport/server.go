// Package transport implements the duplex message channel between the
// companion and the browser-side agent: a websocket server that keeps exactly
// one active peer, and a reconnecting client for the side that dials.
package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// CloseReplaced is sent to a displaced peer when a newer connection takes over.
const CloseReplaced = 4000

const writeTimeout = 10 * time.Second

type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventMessage
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind    EventKind
	PeerID  string
	Message Inbound
}

type ServerConfig struct {
	Logger *zap.Logger
	// NotifyDisplaced sends a close frame to a peer replaced by a newer one.
	NotifyDisplaced bool
	// EventBuffer sizes the events channel.
	EventBuffer int
}

type peer struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (p *peer) write(v any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteJSON(v)
}

func (p *peer) closeWith(code int, reason string) {
	p.writeMu.Lock()
	_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	p.writeMu.Unlock()
	_ = p.conn.Close()
}

type Server struct {
	log      *zap.Logger
	notify   bool
	upgrader websocket.Upgrader

	events chan Event
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	active *peer
	wg     sync.WaitGroup
}

func NewServer(cfg ServerConfig) *Server {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = 64
	}
	return &Server{
		log:    log,
		notify: cfg.NotifyDisplaced,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// Browser extensions connect with a chrome-extension:// origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		events: make(chan Event, buf),
		done:   make(chan struct{}),
	}
}

// Events delivers connection lifecycle and inbound messages. Disconnected is
// only emitted for the peer that was active when it went away.
func (s *Server) Events() <-chan Event { return s.events }

func (s *Server) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Connected reports whether a peer is currently attached.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Send writes v to the active peer. Without an open peer the message is
// dropped; Send never queues or retries.
func (s *Server) Send(v any) bool {
	s.mu.Lock()
	p := s.active
	s.mu.Unlock()
	if p == nil {
		s.log.Debug("send dropped: no peer", zap.Any("message", v))
		return false
	}
	if err := p.write(v); err != nil {
		s.log.Warn("send failed", zap.String("peer", p.id), zap.Error(err))
		return false
	}
	s.log.Debug("sent", zap.String("peer", p.id), zap.Any("message", v))
	return true
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "expected websocket upgrade", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	p := &peer{id: uuid.NewString(), conn: conn}

	s.mu.Lock()
	displaced := s.active
	s.active = p
	s.mu.Unlock()

	if displaced != nil {
		s.log.Info("peer replaced", zap.String("old", displaced.id), zap.String("new", p.id))
		if s.notify {
			displaced.closeWith(CloseReplaced, "replaced by newer peer")
		} else {
			_ = displaced.conn.Close()
		}
	}

	s.log.Info("peer connected", zap.String("peer", p.id), zap.String("remote", r.RemoteAddr))
	if !s.emit(Event{Kind: EventConnected, PeerID: p.id}) {
		_ = conn.Close()
		return
	}

	s.readLoop(p)

	s.mu.Lock()
	lost := s.active == p
	if lost {
		s.active = nil
	}
	s.mu.Unlock()
	_ = conn.Close()

	if lost {
		s.log.Info("peer disconnected", zap.String("peer", p.id))
		s.emit(Event{Kind: EventDisconnected, PeerID: p.id})
	}
}

func (s *Server) readLoop(p *peer) {
	for {
		mt, data, err := p.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !isClosedConn(err) {
				s.log.Warn("read failed", zap.String("peer", p.id), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		msg, err := ParseInbound(data)
		if err != nil {
			s.log.Warn("ignoring inbound message", zap.String("peer", p.id), zap.Error(err), zap.ByteString("data", truncate(data, 256)))
			continue
		}
		if msg.Skipped > 0 {
			s.log.Warn("snapshot tabs without id skipped", zap.String("peer", p.id), zap.Int("count", msg.Skipped))
		}
		if !s.emit(Event{Kind: EventMessage, PeerID: p.id, Message: msg}) {
			return
		}
	}
}

// Close detaches the active peer and stops event delivery. It waits for
// connection handlers to return or for ctx to end.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	s.once.Do(func() { close(s.done) })
	p := s.active
	s.active = nil
	s.mu.Unlock()
	if p != nil {
		p.closeWith(websocket.CloseGoingAway, "server shutting down")
	}

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection")
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
