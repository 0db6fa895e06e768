// Package domain contains core concepts of the meeting coordinator.
// This file defines Message events and related rules.
// Messages are immutable and validated by the domain.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	MessageText  MessageKind = "text"
	MessageFile  MessageKind = "file"
	MessageEmoji MessageKind = "emoji"
)

func (k MessageKind) Valid() bool {
	switch k {
	case MessageText, MessageFile, MessageEmoji:
		return true
	}
	return false
}

// Message represents an immutable chat event, appended in room order
// and never deleted before the room itself is torn down.
type Message struct {
	ID              uuid.UUID   `json:"id"`
	ParticipantID   string      `json:"participantId"`
	ParticipantName string      `json:"participantName"`
	Body            string      `json:"body"`
	Kind            MessageKind `json:"kind"`
	FileURL         string      `json:"fileUrl,omitempty"`
	FileName        string      `json:"fileName,omitempty"`
	FileSize        int64       `json:"fileSize,omitempty"`
	CreatedAt       time.Time   `json:"timestamp"`
}
