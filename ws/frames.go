package ws

import (
	"encoding/json"

	"meeting-server/domain"
	"meeting-server/domain/event"
)

// Frame is the wire shape of every message in both directions: a type
// discriminator and an opaque payload decoded per type.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client-to-server frame types. Server-to-client types are the event
// kinds, see domain/event.
const (
	frameInit           = "init"
	frameSignal         = "webrtc-signal"
	frameChat           = "chat-message"
	frameUpdateState    = "update-state"
	frameReaction       = "emoji-reaction"
	frameStartRecording = "start-recording"
	frameStopRecording  = "stop-recording"
)

type initPayload struct {
	HostID   string                `json:"hostId"`
	Settings *domain.SettingsPatch `json:"settings,omitempty"`
}

type chatPayload struct {
	Body     string             `json:"body"`
	Kind     domain.MessageKind `json:"kind,omitempty"`
	FileURL  string             `json:"fileUrl,omitempty"`
	FileName string             `json:"fileName,omitempty"`
	FileSize int64              `json:"fileSize,omitempty"`
}

type reactionPayload struct {
	Emoji string `json:"emoji"`
}

// encodeEvent wraps a domain event into its outbound frame.
func encodeEvent(e event.DomainEvent) (*Frame, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: e.Kind(), Payload: payload}, nil
}
