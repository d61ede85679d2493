// ABOUTME: WarpSong wire protocol package
// ABOUTME: Defines channel messages, envelope codec and the WebSocket connection
// Package protocol implements the real-time session channel.
//
// Every message is a JSON envelope {type, sessionCode, from, payload} whose
// type selects one member of a closed set of events. Decode rejects unknown
// kinds, missing required fields and invalid payloads with a *ProtocolError.
//
// Example:
//
//	conn, err := protocol.Dial(ctx, "ws://localhost:8927", "ABCD", participantID, nil)
//	err = conn.Send(protocol.UserReady{ParticipantID: participantID})
//	for msg := range conn.Events() {
//		log.Printf("%s from %s", msg.Event.Kind(), msg.From)
//	}
package protocol
