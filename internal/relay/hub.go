// ABOUTME: Session rooms and message routing for the reference relay
// ABOUTME: Tracks rosters, ready sets and slot assignments; fans protocol events out to peers
package relay

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/warpsong/warpsong-go/internal/api"
	"github.com/warpsong/warpsong-go/pkg/protocol"
	"github.com/warpsong/warpsong-go/pkg/stem"
)

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	peerBuffer   = 64
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrDuplicatePeer  = errors.New("participant already connected")
)

// Peer is one participant's outbound queue
type Peer struct {
	ID   string
	code string
	out  chan protocol.Message

	mu      sync.Mutex
	closed  bool
	dropped int
}

// Messages delivers routed messages. Closed when the peer disconnects.
func (p *Peer) Messages() <-chan protocol.Message {
	return p.out
}

// Dropped returns how many messages were discarded because the peer fell behind
func (p *Peer) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Peer) deliver(msg protocol.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.out <- msg:
	default:
		p.dropped++
		log.Printf("Peer %s send buffer full, dropping %s", p.ID, msg.Event.Kind())
	}
}

func (p *Peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.out)
	}
}

type room struct {
	code   string
	peers  map[string]*Peer
	joined map[string]bool
	ready  map[string]bool
	slots  map[stem.Category]stem.Stem

	// shared transport; startAt is relay micros and only meaningful while playing
	tempo   float64
	playing bool
	startAt int64
}

// Hub owns every session room
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*room
	now      func() time.Time
}

// NewHub creates an empty hub. now may be nil for the wall clock.
func NewHub(now func() time.Time) *Hub {
	if now == nil {
		now = time.Now
	}
	return &Hub{
		sessions: make(map[string]*room),
		now:      now,
	}
}

// Sessions returns how many rooms are open
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// CreateSession opens a room under a fresh code
func (h *Hub) CreateSession() (string, error) {
	for attempt := 0; attempt < 32; attempt++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		if err := h.OpenSession(code); err == nil {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free session code")
}

// OpenSession opens a room under code. It fails if the code is taken.
func (h *Hub) OpenSession(code string) error {
	code, err := protocol.NormalizeSessionCode(code)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, taken := h.sessions[code]; taken {
		return fmt.Errorf("session %s already exists", code)
	}
	h.sessions[code] = &room{
		code:   code,
		peers:  make(map[string]*Peer),
		joined: make(map[string]bool),
		ready:  make(map[string]bool),
		slots:  make(map[stem.Category]stem.Stem),
	}
	log.Printf("Session %s created", code)
	return nil
}

// Lookup reports a room's roster and slot assignments
func (h *Hub) Lookup(code string) (*api.JoinResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.sessions[code]
	if !ok {
		return nil, fmt.Errorf("%s: %w", code, ErrUnknownSession)
	}

	resp := &api.JoinResponse{
		Participants: sortedKeys(r.joined),
		Tempo:        r.tempo,
		IsPlaying:    r.playing,
	}
	if r.playing {
		resp.StartAt = r.startAt
	}
	for _, c := range stem.Categories {
		if s, ok := r.slots[c]; ok {
			resp.SlotAssignments = append(resp.SlotAssignments, api.SlotAssignment{Stem: s, Category: c})
		}
	}
	return resp, nil
}

// Connect registers a peer in a room. It joins the roster once it sends join-session.
func (h *Hub) Connect(code, participantID string) (*Peer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.sessions[code]
	if !ok {
		return nil, fmt.Errorf("%s: %w", code, ErrUnknownSession)
	}
	if _, exists := r.peers[participantID]; exists {
		return nil, fmt.Errorf("%s: %w", participantID, ErrDuplicatePeer)
	}

	p := &Peer{ID: participantID, code: code, out: make(chan protocol.Message, peerBuffer)}
	r.peers[participantID] = p
	return p, nil
}

// Disconnect removes a peer and tells the others it left
func (h *Hub) Disconnect(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.sessions[p.code]
	if !ok || r.peers[p.ID] != p {
		return
	}
	delete(r.peers, p.ID)
	p.close()
	h.leaveLocked(r, p.ID)
	h.closeIfEmptyLocked(r)
}

// Handle routes one event sent by peer p
func (h *Hub) Handle(p *Peer, ev protocol.Event) {
	received := h.now().UnixMicro()

	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.sessions[p.code]
	if !ok || r.peers[p.ID] != p {
		return
	}

	switch m := ev.(type) {
	case protocol.JoinSession:
		r.joined[p.ID] = true
		log.Printf("Session %s: %s joined (%d participants)", r.code, p.ID, len(r.joined))
		h.broadcastLocked(r, p.ID, protocol.ParticipantJoined{ParticipantID: p.ID, Participants: sortedKeys(r.joined)}, "")
		p.deliver(h.message(r, "", protocol.ReadyRosterUpdate{Ready: sortedKeys(r.ready)}))

	case protocol.LeaveSession:
		h.leaveLocked(r, p.ID)

	case protocol.UserReady:
		if !r.joined[p.ID] {
			return
		}
		r.ready[p.ID] = true
		h.broadcastLocked(r, "", protocol.ReadyRosterUpdate{Ready: sortedKeys(r.ready)}, "")

	case protocol.SelectStem:
		slot, _ := stem.ParseCategory(string(m.Category))
		s := stem.Stem{ID: m.StemID, Category: slot}
		if m.Stem != nil {
			s = *m.Stem
		}
		r.slots[slot] = s
		h.broadcastLocked(r, p.ID, protocol.StemSelected{StemID: m.StemID, Category: slot, Stem: m.Stem}, p.ID)

	case protocol.PlaybackControl:
		r.playing = m.IsPlaying
		r.startAt = m.StartAt
		if m.IsPlaying && m.StartAt == 0 {
			r.startAt = received
		}
		h.broadcastLocked(r, p.ID, ev, p.ID)

	case protocol.TempoChange:
		r.tempo = m.BPM
		h.broadcastLocked(r, p.ID, ev, p.ID)

	case protocol.ClientTime:
		p.deliver(h.message(r, "", protocol.ServerTime{
			ClientTransmitted: m.ClientTransmitted,
			ServerReceived:    received,
			ServerTransmitted: h.now().UnixMicro(),
		}))

	default:
		log.Printf("Session %s: ignoring %s from %s", r.code, ev.Kind(), p.ID)
	}
}

func (h *Hub) leaveLocked(r *room, id string) {
	if !r.joined[id] {
		return
	}
	delete(r.joined, id)
	delete(r.ready, id)
	log.Printf("Session %s: %s left (%d participants)", r.code, id, len(r.joined))
	h.broadcastLocked(r, id, protocol.ParticipantLeft{ParticipantID: id, Participants: sortedKeys(r.joined)}, id)
}

// closeIfEmptyLocked frees the code of a room nobody is connected to
func (h *Hub) closeIfEmptyLocked(r *room) {
	if len(r.joined) > 0 || len(r.peers) > 0 {
		return
	}
	if h.sessions[r.code] == r {
		delete(h.sessions, r.code)
		log.Printf("Session %s closed", r.code)
	}
}

// broadcastLocked delivers ev to every joined peer except skip
func (h *Hub) broadcastLocked(r *room, from string, ev protocol.Event, skip string) {
	msg := h.message(r, from, ev)
	for id, p := range r.peers {
		if id == skip || !r.joined[id] {
			continue
		}
		p.deliver(msg)
	}
}

func (h *Hub) message(r *room, from string, ev protocol.Event) protocol.Message {
	return protocol.Message{SessionCode: r.code, From: from, Event: ev}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func randomCode() (string, error) {
	b := make([]byte, protocol.SessionCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session code: %w", err)
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b), nil
}
