// ABOUTME: WarpSong channel message type definitions
// ABOUTME: A closed set of event kinds, each with its own payload struct and validation
package protocol

import (
	"fmt"
	"math"
	"strings"

	"github.com/warpsong/warpsong-go/pkg/stem"
)

// Kind names an event on the wire
type Kind string

const (
	KindJoinSession       Kind = "join-session"
	KindLeaveSession      Kind = "leave-session"
	KindParticipantJoined Kind = "participant-joined"
	KindParticipantLeft   Kind = "participant-left"
	KindUserReady         Kind = "user-ready"
	KindReadyRosterUpdate Kind = "ready-roster-update"
	KindSelectStem        Kind = "select-stem"
	KindStemSelected      Kind = "stem-selected"
	KindPlaybackControl   Kind = "playback-control"
	KindTempoChange       Kind = "tempo-change"
	KindClientTime        Kind = "client-time"
	KindServerTime        Kind = "server-time"
)

// Event is one member of the message union
type Event interface {
	Kind() Kind
	Validate() error
}

// Message is a decoded envelope
type Message struct {
	SessionCode string
	From        string
	Event       Event
}

// JoinSession announces a participant on the channel
type JoinSession struct {
	ParticipantID string `json:"participantId"`
}

func (JoinSession) Kind() Kind { return KindJoinSession }

func (m JoinSession) Validate() error {
	return requireID(KindJoinSession, m.ParticipantID)
}

// LeaveSession announces a voluntary departure
type LeaveSession struct {
	ParticipantID string `json:"participantId"`
}

func (LeaveSession) Kind() Kind { return KindLeaveSession }

func (m LeaveSession) Validate() error {
	return requireID(KindLeaveSession, m.ParticipantID)
}

// ParticipantJoined carries the joiner and the full roster after the join
type ParticipantJoined struct {
	ParticipantID string   `json:"participantId"`
	Participants  []string `json:"participants"`
}

func (ParticipantJoined) Kind() Kind { return KindParticipantJoined }

func (m ParticipantJoined) Validate() error {
	return requireID(KindParticipantJoined, m.ParticipantID)
}

// ParticipantLeft carries the leaver and the remaining roster
type ParticipantLeft struct {
	ParticipantID string   `json:"participantId"`
	Participants  []string `json:"participants"`
}

func (ParticipantLeft) Kind() Kind { return KindParticipantLeft }

func (m ParticipantLeft) Validate() error {
	return requireID(KindParticipantLeft, m.ParticipantID)
}

// UserReady signals that a participant's audio is activated
type UserReady struct {
	ParticipantID string `json:"participantId"`
}

func (UserReady) Kind() Kind { return KindUserReady }

func (m UserReady) Validate() error {
	return requireID(KindUserReady, m.ParticipantID)
}

// ReadyRosterUpdate replaces the ready set
type ReadyRosterUpdate struct {
	Ready []string `json:"readyParticipants"`
}

func (ReadyRosterUpdate) Kind() Kind { return KindReadyRosterUpdate }

func (m ReadyRosterUpdate) Validate() error {
	for _, id := range m.Ready {
		if strings.TrimSpace(id) == "" {
			return &ProtocolError{Kind: KindReadyRosterUpdate, Reason: "empty participant id in ready roster"}
		}
	}
	return nil
}

// SelectStem is a participant's own slot choice
type SelectStem struct {
	StemID   string        `json:"stemId"`
	Category stem.Category `json:"category"`
	Stem     *stem.Stem    `json:"stem,omitempty"`
}

func (SelectStem) Kind() Kind { return KindSelectStem }

func (m SelectStem) Validate() error {
	return validateSelection(KindSelectStem, m.StemID, m.Category, m.Stem)
}

// StemSelected is a slot choice relayed to the other participants
type StemSelected struct {
	StemID   string        `json:"stemId"`
	Category stem.Category `json:"category"`
	Stem     *stem.Stem    `json:"stem,omitempty"`
}

func (StemSelected) Kind() Kind { return KindStemSelected }

func (m StemSelected) Validate() error {
	return validateSelection(KindStemSelected, m.StemID, m.Category, m.Stem)
}

// PlaybackControl starts or stops the shared transport. StartAt is the relay
// clock instant (microseconds) at which position 0 sounds; 0 means as soon as possible.
type PlaybackControl struct {
	IsPlaying bool  `json:"isPlaying"`
	StartAt   int64 `json:"startAt,omitempty"`
}

func (PlaybackControl) Kind() Kind { return KindPlaybackControl }

func (m PlaybackControl) Validate() error {
	if m.StartAt < 0 {
		return &ProtocolError{Kind: KindPlaybackControl, Reason: "negative startAt"}
	}
	return nil
}

// TempoChange sets the shared tempo. Out-of-range values are clamped by the receiver.
type TempoChange struct {
	BPM float64 `json:"bpm"`
}

func (TempoChange) Kind() Kind { return KindTempoChange }

func (m TempoChange) Validate() error {
	if math.IsNaN(m.BPM) || math.IsInf(m.BPM, 0) || m.BPM <= 0 {
		return &ProtocolError{Kind: KindTempoChange, Reason: fmt.Sprintf("invalid bpm %v", m.BPM)}
	}
	return nil
}

// ClientTime is the first half of a clock sync round trip
type ClientTime struct {
	ClientTransmitted int64 `json:"clientTransmitted"`
}

func (ClientTime) Kind() Kind { return KindClientTime }

func (ClientTime) Validate() error { return nil }

// ServerTime answers a ClientTime with the relay's receive and transmit instants
type ServerTime struct {
	ClientTransmitted int64 `json:"clientTransmitted"`
	ServerReceived    int64 `json:"serverReceived"`
	ServerTransmitted int64 `json:"serverTransmitted"`
}

func (ServerTime) Kind() Kind { return KindServerTime }

func (m ServerTime) Validate() error {
	if m.ServerTransmitted < m.ServerReceived {
		return &ProtocolError{Kind: KindServerTime, Reason: "server transmitted before it received"}
	}
	return nil
}

func requireID(kind Kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return &ProtocolError{Kind: kind, Reason: "missing participantId"}
	}
	return nil
}

func validateSelection(kind Kind, stemID string, category stem.Category, s *stem.Stem) error {
	if stem.NormalizeID(stemID) == "" {
		return &ProtocolError{Kind: kind, Reason: "missing stemId"}
	}
	slot, err := stem.ParseCategory(string(category))
	if err != nil {
		return &ProtocolError{Kind: kind, Reason: fmt.Sprintf("unknown category %q", category)}
	}
	if s != nil {
		if stem.NormalizeID(s.ID) != stem.NormalizeID(stemID) {
			return &ProtocolError{Kind: kind, Reason: "stem identifier does not match stemId"}
		}
		if c, err := stem.ParseCategory(string(s.Category)); err != nil || c != slot {
			return &ProtocolError{Kind: kind, Reason: "stem category does not match category"}
		}
	}
	return nil
}
