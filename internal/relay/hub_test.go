// ABOUTME: Tests for session rooms and routing
// ABOUTME: Tests roster broadcasts, readiness, selection relay and time replies
package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/warpsong/warpsong-go/pkg/protocol"
	"github.com/warpsong/warpsong-go/pkg/stem"
)

func next(t *testing.T, p *Peer) protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-p.Messages():
		if !ok {
			t.Fatalf("%s: peer closed", p.ID)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("%s: no message", p.ID)
	}
	return protocol.Message{}
}

func expectNone(t *testing.T, p *Peer) {
	t.Helper()
	select {
	case msg := <-p.Messages():
		t.Fatalf("%s: unexpected %s", p.ID, msg.Event.Kind())
	default:
	}
}

func joinedPair(t *testing.T) (*Hub, *Peer, *Peer) {
	t.Helper()
	h := NewHub(nil)
	if err := h.OpenSession("abcd"); err != nil {
		t.Fatalf("open: %v", err)
	}

	a, err := h.Connect("ABCD", "a")
	if err != nil {
		t.Fatalf("connect a: %v", err)
	}
	h.Handle(a, protocol.JoinSession{ParticipantID: "a"})
	next(t, a) // participant-joined
	next(t, a) // ready roster

	b, err := h.Connect("ABCD", "b")
	if err != nil {
		t.Fatalf("connect b: %v", err)
	}
	h.Handle(b, protocol.JoinSession{ParticipantID: "b"})
	return h, a, b
}

func TestCreateSessionCodes(t *testing.T) {
	h := NewHub(nil)
	code, err := h.CreateSession()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := protocol.NormalizeSessionCode(code); err != nil {
		t.Errorf("generated code %q is invalid: %v", code, err)
	}
	if err := h.OpenSession(code); err == nil {
		t.Error("expected duplicate code to be refused")
	}
	if _, err := h.Lookup("QQQQ"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession, got %v", err)
	}
	if _, err := h.Connect("QQQQ", "a"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession on connect, got %v", err)
	}
}

func TestJoinBroadcastsRoster(t *testing.T) {
	h, a, b := joinedPair(t)

	msg := next(t, a)
	joined, ok := msg.Event.(protocol.ParticipantJoined)
	if !ok || joined.ParticipantID != "b" || len(joined.Participants) != 2 {
		t.Fatalf("expected participant-joined for b with two participants, got %+v", msg.Event)
	}
	if _, ok := next(t, b).Event.(protocol.ParticipantJoined); !ok {
		t.Error("expected joiner to receive its own participant-joined")
	}
	if _, ok := next(t, b).Event.(protocol.ReadyRosterUpdate); !ok {
		t.Error("expected joiner to receive the ready roster")
	}

	if _, err := h.Connect("ABCD", "a"); !errors.Is(err, ErrDuplicatePeer) {
		t.Errorf("expected ErrDuplicatePeer, got %v", err)
	}

	resp, err := h.Lookup("ABCD")
	if err != nil || len(resp.Participants) != 2 {
		t.Errorf("expected two participants, got %+v (%v)", resp, err)
	}
}

func TestSelectionIsRelayedAndRecorded(t *testing.T) {
	h, a, b := joinedPair(t)
	next(t, a)
	next(t, b)
	next(t, b)

	kick := stem.Stem{ID: "kick01", Category: stem.Drums}
	h.Handle(a, protocol.SelectStem{StemID: "kick01", Category: stem.Drums, Stem: &kick})

	msg := next(t, b)
	sel, ok := msg.Event.(protocol.StemSelected)
	if !ok || sel.StemID != "kick01" || msg.From != "a" {
		t.Fatalf("expected stem-selected from a, got %+v", msg)
	}
	expectNone(t, a)

	resp, _ := h.Lookup("ABCD")
	if len(resp.SlotAssignments) != 1 || resp.SlotAssignments[0].Stem.ID != "kick01" {
		t.Errorf("expected recorded drums assignment, got %+v", resp.SlotAssignments)
	}
}

func TestReadyAndTransportRouting(t *testing.T) {
	h, a, b := joinedPair(t)
	next(t, a)
	next(t, b)
	next(t, b)

	h.Handle(a, protocol.UserReady{ParticipantID: "a"})
	for _, p := range []*Peer{a, b} {
		upd, ok := next(t, p).Event.(protocol.ReadyRosterUpdate)
		if !ok || len(upd.Ready) != 1 || upd.Ready[0] != "a" {
			t.Errorf("%s: expected ready roster [a], got %+v", p.ID, upd)
		}
	}

	h.Handle(b, protocol.PlaybackControl{IsPlaying: true, StartAt: 42})
	if pc, ok := next(t, a).Event.(protocol.PlaybackControl); !ok || pc.StartAt != 42 {
		t.Errorf("expected playback-control at a, got %+v", pc)
	}
	h.Handle(b, protocol.TempoChange{BPM: 140})
	if _, ok := next(t, a).Event.(protocol.TempoChange); !ok {
		t.Error("expected tempo-change at a")
	}
	expectNone(t, b)
}

func TestClientTimeAnsweredToSenderOnly(t *testing.T) {
	now := time.UnixMicro(5_000_000)
	h := NewHub(func() time.Time { return now })
	h.OpenSession("ABCD")
	a, _ := h.Connect("ABCD", "a")
	b, _ := h.Connect("ABCD", "b")
	h.Handle(a, protocol.JoinSession{ParticipantID: "a"})
	h.Handle(b, protocol.JoinSession{ParticipantID: "b"})
	for len(a.Messages()) > 0 {
		<-a.Messages()
	}
	for len(b.Messages()) > 0 {
		<-b.Messages()
	}

	h.Handle(a, protocol.ClientTime{ClientTransmitted: 1234})
	st, ok := next(t, a).Event.(protocol.ServerTime)
	if !ok {
		t.Fatal("expected server-time")
	}
	if st.ClientTransmitted != 1234 || st.ServerReceived != 5_000_000 || st.ServerTransmitted != 5_000_000 {
		t.Errorf("unexpected server-time %+v", st)
	}
	expectNone(t, b)
}

func TestDisconnectBroadcastsLeave(t *testing.T) {
	h, a, b := joinedPair(t)
	next(t, a)

	h.Handle(b, protocol.UserReady{ParticipantID: "b"})
	next(t, a)

	h.Disconnect(b)
	left, ok := next(t, a).Event.(protocol.ParticipantLeft)
	if !ok || left.ParticipantID != "b" || len(left.Participants) != 1 {
		t.Fatalf("expected participant-left for b, got %+v", left)
	}
	resp, _ := h.Lookup("ABCD")
	if len(resp.Participants) != 1 || resp.Participants[0] != "a" {
		t.Errorf("expected roster [a], got %v", resp.Participants)
	}

	// the id is free again
	if _, err := h.Connect("ABCD", "b"); err != nil {
		t.Errorf("expected reconnect to succeed, got %v", err)
	}
}

func TestSlowPeerDropsInsteadOfBlocking(t *testing.T) {
	h, a, b := joinedPair(t)
	next(t, a)

	for i := 0; i < peerBuffer+10; i++ {
		h.Handle(a, protocol.TempoChange{BPM: 120})
	}
	if b.Dropped() == 0 {
		t.Error("expected drops for a peer that never reads")
	}
}

func TestLookupCarriesSharedTransport(t *testing.T) {
	now := time.UnixMicro(7_000_000)
	h := NewHub(func() time.Time { return now })
	h.OpenSession("ABCD")
	a, _ := h.Connect("ABCD", "a")
	h.Handle(a, protocol.JoinSession{ParticipantID: "a"})

	resp, _ := h.Lookup("ABCD")
	if resp.Tempo != 0 || resp.IsPlaying {
		t.Errorf("expected no transport state in a fresh room, got %+v", resp)
	}

	h.Handle(a, protocol.TempoChange{BPM: 90})
	h.Handle(a, protocol.PlaybackControl{IsPlaying: true})
	resp, _ = h.Lookup("ABCD")
	if resp.Tempo != 90 || !resp.IsPlaying || resp.StartAt != 7_000_000 {
		t.Errorf("expected tempo 90 playing since 7s, got %+v", resp)
	}

	h.Handle(a, protocol.PlaybackControl{IsPlaying: true, StartAt: 9_000_000})
	if resp, _ = h.Lookup("ABCD"); resp.StartAt != 9_000_000 {
		t.Errorf("expected the sender's start instant, got %d", resp.StartAt)
	}

	h.Handle(a, protocol.PlaybackControl{IsPlaying: false})
	resp, _ = h.Lookup("ABCD")
	if resp.IsPlaying || resp.StartAt != 0 || resp.Tempo != 90 {
		t.Errorf("expected stopped at tempo 90, got %+v", resp)
	}
}

func TestEmptyRoomIsClosed(t *testing.T) {
	h, a, b := joinedPair(t)

	h.Disconnect(a)
	if h.Sessions() != 1 {
		t.Fatalf("expected the room to stay open while b is connected")
	}
	h.Disconnect(b)
	if h.Sessions() != 0 {
		t.Errorf("expected the room closed, %d open", h.Sessions())
	}
	if _, err := h.Lookup("ABCD"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession, got %v", err)
	}
	if err := h.OpenSession("ABCD"); err != nil {
		t.Errorf("expected the code to be reusable, got %v", err)
	}
}

func TestRoomClosedAfterOnlyPeerDisconnects(t *testing.T) {
	h := NewHub(nil)
	code, _ := h.CreateSession()
	p, err := h.Connect(code, "a")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if h.Sessions() != 1 {
		t.Fatal("expected one open room")
	}
	h.Disconnect(p)
	if h.Sessions() != 0 {
		t.Error("expected the room closed once its only peer disconnects")
	}
}
