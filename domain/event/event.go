// Package event defines the server-to-client events fanned out by the
// coordinator. Each event knows its wire type; the transport wraps the
// marshaled struct as the frame payload.
package event

import "meeting-server/domain"

type DomainEvent interface {
	Kind() string
}

// Init is the snapshot handed to a joiner before anyone else hears
// about the join.
type Init struct {
	domain.PublicState
}

func (Init) Kind() string { return "init" }

type ParticipantJoined struct {
	domain.Participant
}

func (ParticipantJoined) Kind() string { return "participant-joined" }

type ParticipantLeft struct {
	ParticipantID string `json:"participantId"`
}

func (ParticipantLeft) Kind() string { return "participant-left" }

// ParticipantUpdated carries the delta only, never the full record.
type ParticipantUpdated struct {
	ParticipantID string `json:"participantId"`
	domain.StateDelta
}

func (ParticipantUpdated) Kind() string { return "participant-updated" }

type ChatPosted struct {
	// Room routes the event to the archive; it is not part of the
	// wire payload, clients already know which meeting they are in.
	Room domain.RoomID `json:"-"`
	domain.Message
}

func (ChatPosted) Kind() string { return "chat-message" }

type Reaction struct {
	ParticipantID string `json:"participantId"`
	Emoji         string `json:"emoji"`
}

func (Reaction) Kind() string { return "emoji-reaction" }

type RecordingStarted struct {
	ParticipantID string `json:"participantId"`
}

func (RecordingStarted) Kind() string { return "recording-started" }

type RecordingStopped struct {
	ParticipantID string `json:"participantId"`
}

func (RecordingStopped) Kind() string { return "recording-stopped" }

type SignalForwarded struct {
	domain.SignalEnvelope
}

func (SignalForwarded) Kind() string { return "webrtc-signal" }

// Rejection is surfaced to a single requester when its own operation
// was refused. It is never broadcast.
type Rejection struct {
	Reason string `json:"reason"`
}

func (Rejection) Kind() string { return "error" }
