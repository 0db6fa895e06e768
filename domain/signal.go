package domain

import "encoding/json"

type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	}
	return false
}

// SignalEnvelope is a point-to-point WebRTC handshake message.
// The coordinator only reads Kind and To for routing. Payload stays
// opaque end to end, it is forwarded byte for byte.
type SignalEnvelope struct {
	Kind    SignalKind      `json:"kind"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload"`
}
