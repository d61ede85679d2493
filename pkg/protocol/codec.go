// ABOUTME: JSON envelope encoding and decoding
// ABOUTME: Decodes only registered kinds, checks required fields, then validates per kind
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the wire frame of every channel message
type Envelope struct {
	Type        Kind            `json:"type"`
	SessionCode string          `json:"sessionCode,omitempty"`
	From        string          `json:"from,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

type kindCodec struct {
	required []string
	decode   func(raw json.RawMessage) (Event, error)
}

var registry = map[Kind]kindCodec{
	KindJoinSession:       {[]string{"participantId"}, decodeAs[JoinSession]},
	KindLeaveSession:      {[]string{"participantId"}, decodeAs[LeaveSession]},
	KindParticipantJoined: {[]string{"participantId"}, decodeAs[ParticipantJoined]},
	KindParticipantLeft:   {[]string{"participantId"}, decodeAs[ParticipantLeft]},
	KindUserReady:         {[]string{"participantId"}, decodeAs[UserReady]},
	KindReadyRosterUpdate: {[]string{"readyParticipants"}, decodeAs[ReadyRosterUpdate]},
	KindSelectStem:        {[]string{"stemId", "category"}, decodeAs[SelectStem]},
	KindStemSelected:      {[]string{"stemId", "category"}, decodeAs[StemSelected]},
	KindPlaybackControl:   {[]string{"isPlaying"}, decodeAs[PlaybackControl]},
	KindTempoChange:       {[]string{"bpm"}, decodeAs[TempoChange]},
	KindClientTime:        {[]string{"clientTransmitted"}, decodeAs[ClientTime]},
	KindServerTime:        {[]string{"clientTransmitted", "serverReceived", "serverTransmitted"}, decodeAs[ServerTime]},
}

func decodeAs[T Event](raw json.RawMessage) (Event, error) {
	var ev T
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Known reports whether kind is part of the protocol
func Known(kind Kind) bool {
	_, ok := registry[kind]
	return ok
}

// Encode validates ev and wraps it in an envelope
func Encode(sessionCode, from string, ev Event) ([]byte, error) {
	if ev == nil {
		return nil, &ProtocolError{Reason: "nil event"}
	}
	if !Known(ev.Kind()) {
		return nil, &ProtocolError{Kind: ev.Kind(), Reason: "unknown message kind"}
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, &ProtocolError{Kind: ev.Kind(), Reason: "failed to encode payload", Err: err}
	}

	return json.Marshal(Envelope{
		Type:        ev.Kind(),
		SessionCode: sessionCode,
		From:        from,
		Payload:     payload,
	})
}

// Decode parses and validates one envelope
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, &ProtocolError{Reason: "malformed envelope", Err: err}
	}

	codec, ok := registry[env.Type]
	if !ok {
		return Message{}, &ProtocolError{Kind: env.Type, Reason: "unknown message kind"}
	}

	var fields map[string]json.RawMessage
	if len(env.Payload) == 0 || json.Unmarshal(env.Payload, &fields) != nil || fields == nil {
		return Message{}, &ProtocolError{Kind: env.Type, Reason: "payload must be a JSON object"}
	}
	for _, name := range codec.required {
		if _, ok := fields[name]; !ok {
			return Message{}, &ProtocolError{Kind: env.Type, Reason: fmt.Sprintf("missing field %q", name)}
		}
	}

	ev, err := codec.decode(env.Payload)
	if err != nil {
		return Message{}, &ProtocolError{Kind: env.Type, Reason: "malformed payload", Err: err}
	}
	if err := ev.Validate(); err != nil {
		return Message{}, err
	}

	return Message{SessionCode: env.SessionCode, From: env.From, Event: ev}, nil
}
