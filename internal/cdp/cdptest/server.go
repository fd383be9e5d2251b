// Package cdptest provides an in-process CDP peer for tests: an HTTP
// discovery endpoint and a WebSocket endpoint backed by httptest.
package cdptest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

// PageID is the id of the page target every Server lists by default.
const PageID = "PAGE1"

// Target is a discovery entry served from /json/list.
type Target struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Title        string `json:"title,omitempty"`
	URL          string `json:"url,omitempty"`
	WebSocketURL string `json:"webSocketDebuggerUrl,omitempty"`
}

// Request is a command frame as received by the peer.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Handler drives one accepted WebSocket session. The socket is closed
// when the handler returns.
type Handler func(p *Peer)

// Server is a fake browser exposing discovery and a page socket.
type Server struct {
	*httptest.Server

	handler Handler

	mu      sync.Mutex
	targets []Target
	list    []byte // raw /json/list body, overrides targets when set
}

// NewServer starts a Server that runs handler for every socket session.
// The server is closed when the test ends.
func NewServer(t testing.TB, handler Handler) *Server {
	t.Helper()

	s := &Server{handler: handler}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", s.serveList)
	mux.HandleFunc("/json/version", s.serveVersion)
	mux.HandleFunc("/devtools/page/", s.serveSocket)
	mux.HandleFunc("/devtools/denied", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	s.Server = httptest.NewServer(mux)
	s.targets = []Target{
		{ID: "SW1", Type: "service_worker", WebSocketURL: s.WebSocketURL("SW1")},
		{ID: PageID, Type: "page", Title: "Test Page", URL: "about:blank", WebSocketURL: s.WebSocketURL(PageID)},
	}
	t.Cleanup(s.Close)
	return s
}

// WebSocketURL returns the socket address of the page with the given id.
func (s *Server) WebSocketURL(id string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/devtools/page/" + id
}

// DeniedURL returns a socket address whose handshake is refused.
func (s *Server) DeniedURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/devtools/denied"
}

// SetTargets replaces the discovery list.
func (s *Server) SetTargets(targets []Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = targets
	s.list = nil
}

// SetListBody serves body verbatim from /json/list.
func (s *Server) SetListBody(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = []byte(body)
}

func (s *Server) serveList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	targets, list := s.targets, s.list
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if list != nil {
		_, _ = w.Write(list)
		return
	}
	_ = json.NewEncoder(w).Encode(targets)
}

func (s *Server) serveVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"Browser":              "Chrome/120.0.0.0",
		"Protocol-Version":     "1.3",
		"webSocketDebuggerUrl": s.WebSocketURL("browser"),
	})
}

func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(-1)

	if s.handler != nil {
		s.handler(&Peer{ctx: r.Context(), conn: conn})
	}
}

// Peer is the browser side of one socket session.
type Peer struct {
	ctx  context.Context
	conn *websocket.Conn
}

// ReadRequest reads the next command frame.
func (p *Peer) ReadRequest() (Request, error) {
	var req Request
	_, data, err := p.conn.Read(p.ctx)
	if err != nil {
		return req, err
	}
	err = json.Unmarshal(data, &req)
	return req, err
}

// ReadRaw reads the next frame without decoding it.
func (p *Peer) ReadRaw() ([]byte, error) {
	_, data, err := p.conn.Read(p.ctx)
	return data, err
}

// WriteText sends s as a text frame.
func (p *Peer) WriteText(s string) error {
	return p.conn.Write(p.ctx, websocket.MessageText, []byte(s))
}

// WriteBinary sends b as a binary frame.
func (p *Peer) WriteBinary(b []byte) error {
	return p.conn.Write(p.ctx, websocket.MessageBinary, b)
}

// WriteJSON sends v encoded as a text frame.
func (p *Peer) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.conn.Write(p.ctx, websocket.MessageText, data)
}

// Reply sends a success response for id.
func (p *Peer) Reply(id int64, result any) error {
	return p.WriteJSON(map[string]any{"id": id, "result": result})
}

// ReplyError sends an error response for id.
func (p *Peer) ReplyError(id int64, code int, message string) error {
	return p.WriteJSON(map[string]any{
		"id":    id,
		"error": map[string]any{"code": code, "message": message},
	})
}

// Emit sends an event frame.
func (p *Peer) Emit(method string, params any) error {
	return p.WriteJSON(map[string]any{"method": method, "params": params})
}

// Close closes the session with a normal closure.
func (p *Peer) Close(reason string) error {
	return p.conn.Close(websocket.StatusNormalClosure, reason)
}

// Echo replies to every command with its own params as the result.
func Echo(p *Peer) {
	for {
		req, err := p.ReadRequest()
		if err != nil {
			return
		}
		if err := p.Reply(req.ID, req.Params); err != nil {
			return
		}
	}
}
