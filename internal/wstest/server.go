// Package wstest provides an in-process channel server for tests.
//
// The server speaks the listen/ignore protocol over WebSocket. It records every
// request it receives and can publish inbound envelopes to the connections
// that listen on a channel.
package wstest

import (
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chanmux/chanmux-go/pkg/wire"
)

// Request is one decoded client request.
type Request struct {
	Event    wire.Event
	Listener wire.Listener
}

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	// listener ID -> channel
	listeners map[uuid.UUID]uuid.UUID
}

func (p *peer) write(mt int, data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(mt, data)
}

// Server is a WebSocket channel server backed by httptest.
type Server struct {
	codec    wire.Codec
	upgrader websocket.Upgrader
	http     *httptest.Server

	mu       sync.Mutex
	peers    map[*peer]struct{}
	requests []Request
	accepted int
	reject   bool
	header   http.Header
	wg       sync.WaitGroup
}

// NewServer starts a server that decodes requests with codec.
func NewServer(codec wire.Codec) *Server {
	s := newServer(codec)
	s.http = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// NewTLSServer starts a wss:// server with a self-signed certificate.
// Certificate returns it for client verification.
func NewTLSServer(codec wire.Codec) *Server {
	s := newServer(codec)
	s.http = httptest.NewTLSServer(http.HandlerFunc(s.handle))
	return s
}

func newServer(codec wire.Codec) *Server {
	return &Server{
		codec: codec,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		peers: make(map[*peer]struct{}),
	}
}

// URL returns the ws:// or wss:// address of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http")
}

// Certificate returns the TLS server certificate, or nil for a plain server.
func (s *Server) Certificate() *x509.Certificate {
	return s.http.Certificate()
}

// SetReject makes the server refuse new handshakes while on.
func (s *Server) SetReject(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = on
}

// Accepted returns the number of accepted connections so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// LastHeader returns the request header of the most recent handshake.
func (s *Server) LastHeader() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header.Clone()
}

// Requests returns a copy of all requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// CountRequests returns how many requests of the given event named channel.
func (s *Server) CountRequests(event wire.Event, channel uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Event == event && r.Listener.ChannelID == channel {
			n++
		}
	}
	return n
}

// Listening returns the number of live listeners on channel across all
// connections.
func (s *Server) Listening(channel uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for p := range s.peers {
		for _, ch := range p.listeners {
			if ch == channel {
				n++
			}
		}
	}
	return n
}

// Publish sends payload on channel to every connection with at least one
// listener on it. It returns the number of connections written to.
func (s *Server) Publish(channel uuid.UUID, payload []byte) int {
	data, err := s.codec.EncodeInbound(&wire.Inbound{ChannelID: channel, Payload: payload})
	if err != nil {
		return 0
	}
	mt := websocket.BinaryMessage
	if s.codec.Name() == "json" {
		mt = websocket.TextMessage
	}

	s.mu.Lock()
	var targets []*peer
	for p := range s.peers {
		for _, ch := range p.listeners {
			if ch == channel {
				targets = append(targets, p)
				break
			}
		}
	}
	s.mu.Unlock()

	n := 0
	for _, p := range targets {
		if p.write(mt, data) == nil {
			n++
		}
	}
	return n
}

// SendRaw writes a raw frame to every connection.
func (s *Server) SendRaw(text bool, data []byte) {
	mt := websocket.BinaryMessage
	if text {
		mt = websocket.TextMessage
	}
	s.mu.Lock()
	targets := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		targets = append(targets, p)
	}
	s.mu.Unlock()

	for _, p := range targets {
		_ = p.write(mt, data)
	}
}

// DropAll closes every connection without a close handshake.
func (s *Server) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.peers {
		_ = p.conn.Close()
	}
}

// Close drops all connections and stops the server.
func (s *Server) Close() {
	s.DropAll()
	s.http.Close()
	s.DropAll()
	s.wg.Wait()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reject := s.reject
	s.mu.Unlock()
	if reject {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p := &peer{conn: conn, listeners: make(map[uuid.UUID]uuid.UUID)}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.accepted++
	s.header = r.Header.Clone()
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		out, err := s.codec.DecodeOutbound(data)
		if err != nil {
			continue
		}
		l, err := wire.DecodeListener(s.codec, out)
		if err != nil {
			continue
		}

		s.mu.Lock()
		s.requests = append(s.requests, Request{Event: out.Event, Listener: l})
		switch out.Event {
		case wire.EventListen:
			p.listeners[l.ID] = l.ChannelID
		case wire.EventIgnore:
			delete(p.listeners, l.ID)
		}
		s.mu.Unlock()
	}
}
