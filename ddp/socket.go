package ddp

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// wireConn is the subset of *websocket.Conn that Socket depends on, so tests
// can substitute a fake transport without dialing a real network socket.
type wireConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a wireConn to a DDP endpoint. The production implementation
// wraps gorilla/websocket; tests inject a fake.
type Dialer interface {
	Dial(ctx context.Context, url string) (wireConn, error)
}

// GorillaDialer dials with github.com/gorilla/websocket, the transport the
// teacher uses for its own real-time Rivian connection (internal/rivian/websocket.go).
type GorillaDialer struct {
	Dialer websocket.Dialer
}

// Dial opens a websocket connection and adapts it to wireConn.
func (d GorillaDialer) Dial(ctx context.Context, url string) (wireConn, error) {
	dialer := d.Dialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return conn, nil
}

// SocketEvent names the events Socket emits; consumers subscribe through
// OnOpen, OnClose, OnMessage, OnRawOut and OnError.
type SocketEvent string

const (
	EventOpen      SocketEvent = "open"
	EventClose     SocketEvent = "close"
	EventMessageIn SocketEvent = "message:in"
	EventMessageOut SocketEvent = "message:out"
	EventError     SocketEvent = "error"
)

// SocketError is the sanitized shape Socket emits on EventError; it never
// leaks a non-serializable native error value (spec.md §4.1).
type SocketError struct {
	IsRaw   bool   `json:"isRaw"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Socket wraps at most one live text-frame WebSocket connection at a time,
// parsing and stringifying EJSON frames and emitting lifecycle events.
// open() is idempotent; close() marks the socket as closing so a racing
// send becomes a no-op, and a later open() dials a fresh connection
// (spec.md §4.1).
type Socket struct {
	dialer Dialer
	url    string
	log    FieldLogger

	mu      sync.Mutex
	conn    wireConn
	closing bool

	onOpen      func()
	onClose     func()
	onMessage   func(frame)
	onError     func(SocketError)
	onRawOut    func(frame)
}

// NewSocket creates a Socket bound to url, dialed with dialer.
func NewSocket(url string, dialer Dialer, log FieldLogger) *Socket {
	return &Socket{url: url, dialer: dialer, log: log}
}

// OnOpen registers the handler invoked after a successful dial.
func (s *Socket) OnOpen(fn func())          { s.onOpen = fn }
// OnClose registers the handler invoked once the connection ends.
func (s *Socket) OnClose(fn func())         { s.onClose = fn }
// OnMessage registers the handler invoked for every parsed inbound frame.
func (s *Socket) OnMessage(fn func(frame))  { s.onMessage = fn }
// OnError registers the handler invoked for sanitized transport errors.
func (s *Socket) OnError(fn func(SocketError)) { s.onError = fn }
// OnRawOut registers the handler invoked for every frame actually written,
// primarily so the verbose/private logging policy can observe outbound traffic.
func (s *Socket) OnRawOut(fn func(frame)) { s.onRawOut = fn }

// Open dials the endpoint if not already connected. Calling Open on an
// already-open socket is a no-op, matching spec.md §4.1.
func (s *Socket) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = false
	s.mu.Unlock()

	conn, err := s.dialer.Dial(ctx, s.url)
	if err != nil {
		s.emitError("dial_error", err)
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if s.log != nil {
		s.log.Infof("socket opened to %s", s.url)
	}
	if s.onOpen != nil {
		s.onOpen()
	}

	go s.readLoop(conn)
	return nil
}

// Close ends the connection. Any send racing with Close becomes a no-op.
// A subsequent Open is allowed, per spec.md §4.1.
func (s *Socket) Close() error {
	s.mu.Lock()
	s.closing = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Send encodes msg as EJSON and writes it as a text frame. A send that races
// with Close is silently dropped.
func (s *Socket) Send(msg frame) error {
	s.mu.Lock()
	conn := s.conn
	closing := s.closing
	s.mu.Unlock()

	if closing || conn == nil {
		return nil
	}

	data, err := marshalFrame(msg)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.emitError("write_error", err)
		return err
	}
	if s.onRawOut != nil {
		s.onRawOut(msg)
	}
	return nil
}

func (s *Socket) readLoop(conn wireConn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			wasClosing := s.closing
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()

			if !wasClosing {
				s.emitError("websocket_error", err)
			}
			if s.onClose != nil {
				s.onClose()
			}
			return
		}

		msg, ok := unmarshalFrame(data)
		if !ok {
			// Malformed/partial frames are dropped silently (spec.md §4.1, §7).
			continue
		}
		if s.onMessage != nil {
			s.onMessage(msg)
		}
	}
}

func (s *Socket) emitError(kind string, err error) {
	se := SocketError{IsRaw: true, Type: kind, Message: err.Error()}
	if s.log != nil {
		s.log.Warnf("socket error (%s): %v", kind, err)
	}
	if s.onError != nil {
		s.onError(se)
	}
}
