// ABOUTME: Reference relay server for local sessions and integration tests
// ABOUTME: Serves the catalog and session endpoints and the websocket channel
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/warpsong/warpsong-go/internal/api"
	"github.com/warpsong/warpsong-go/pkg/protocol"
	"github.com/warpsong/warpsong-go/pkg/stem"
	"golang.org/x/sync/errgroup"
)

const (
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// Config holds relay configuration
type Config struct {
	Addr     string
	Catalog  []stem.Stem
	StemsDir string // served under /stems/ when set
	Now      func() time.Time
}

// Mashup is a saved slot selection
type Mashup struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StemIDs   []string  `json:"stemIds"`
	IsPublic  bool      `json:"isPublic"`
	CreatedAt time.Time `json:"createdAt"`
}

// Server is the relay
type Server struct {
	config   Config
	hub      *Hub
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	mu      sync.Mutex
	mashups []Mashup
	conns   map[*websocket.Conn]struct{}

	wg sync.WaitGroup
}

// New creates a relay server
func New(config Config) *Server {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Addr == "" {
		config.Addr = ":8927"
	}

	s := &Server{
		config: config,
		hub:    NewHub(config.Now),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux:   http.NewServeMux(),
		conns: make(map[*websocket.Conn]struct{}),
	}

	s.mux.HandleFunc("GET /api/stems", s.handleCatalog)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreate)
	s.mux.HandleFunc("POST /api/sessions/join", s.handleJoin)
	s.mux.HandleFunc("POST /api/mashups", s.handleMashup)
	s.mux.HandleFunc("GET "+protocol.WSPath, s.handleWebSocket)
	if config.StemsDir != "" {
		s.mux.Handle("GET /stems/", http.StripPrefix("/stems/", http.FileServer(http.Dir(config.StemsDir))))
	}
	return s
}

// Handler returns the relay's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Hub returns the session hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Mashups returns the saved mashups
func (s *Server) Mashups() []Mashup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Mashup(nil), s.mashups...)
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	httpServer := &http.Server{Handler: s.mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Relay listening on %s", ln.Addr())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		s.closeConns()
		s.wg.Wait()
		return err
	})
	return g.Wait()
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	base := &url.URL{Scheme: "http", Host: r.Host, Path: "/stems/"}
	out := make([]stem.Stem, 0, len(s.config.Catalog))
	for _, st := range s.config.Catalog {
		if u, err := url.Parse(st.SourceURL); err == nil && !u.IsAbs() {
			st.SourceURL = base.ResolveReference(u).String()
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	code, err := s.hub.CreateSession()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, api.CreateResponse{SessionCode: code})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req api.JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	code, err := protocol.NormalizeSessionCode(req.SessionCode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.hub.Lookup(code)
	if errors.Is(err, ErrUnknownSession) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMashup(w http.ResponseWriter, r *http.Request) {
	var req api.MashupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" || len(req.StemIDs) == 0 {
		http.Error(w, "name and stemIds are required", http.StatusBadRequest)
		return
	}

	m := Mashup{
		ID:        uuid.New().String(),
		Name:      req.Name,
		StemIDs:   req.StemIDs,
		IsPublic:  req.IsPublic,
		CreatedAt: s.config.Now().UTC(),
	}
	s.mu.Lock()
	s.mashups = append(s.mashups, m)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, m)
}

// handleWebSocket upgrades a participant connection and pumps it through the hub
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	code, err := protocol.NormalizeSessionCode(r.URL.Query().Get("session"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	participant := strings.TrimSpace(r.URL.Query().Get("participant"))
	if participant == "" {
		http.Error(w, "missing participant", http.StatusBadRequest)
		return
	}

	peer, err := s.hub.Connect(code, participant)
	switch {
	case errors.Is(err, ErrUnknownSession):
		http.Error(w, "session not found", http.StatusNotFound)
		return
	case errors.Is(err, ErrDuplicatePeer):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		s.hub.Disconnect(peer)
		return
	}
	log.Printf("Participant %s connected to %s from %s", participant, code, r.RemoteAddr)
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.peerWriter(conn, peer)
	}()

	s.peerReader(conn, peer)
}

func (s *Server) peerReader(conn *websocket.Conn, peer *Peer) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.hub.Disconnect(peer)
		conn.Close()
		log.Printf("Participant %s disconnected", peer.ID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Printf("Participant %s: %v", peer.ID, err)
			continue
		}
		s.hub.Handle(peer, msg.Event)
	}
}

// peerWriter sends routed messages to the participant
func (s *Server) peerWriter(conn *websocket.Conn, peer *Peer) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-peer.Messages():
			if !ok {
				return
			}
			data, err := protocol.Encode(msg.SessionCode, msg.From, msg.Event)
			if err != nil {
				log.Printf("Error encoding %s: %v", msg.Event.Kind(), err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("Error writing to %s: %v", peer.ID, err)
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// closeConns drops every live channel connection
func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}
