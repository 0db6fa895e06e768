// Package domain contains core concepts of the meeting coordinator.
// This file defines Participant entities and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

// Identity is the caller-supplied identity of one connection attempt.
// A user opening several tabs holds several participant IDs, so ID is
// unique per connection, not per user.
type Identity struct {
	ID     string `json:"participantId" validate:"required"`
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty" validate:"omitempty,email"`
}

// Guest reports whether the identity carries no user account.
func (i Identity) Guest() bool {
	return i.UserID == ""
}

// Participant is one connected identity within a room.
// Mutated only by the owning room worker.
type Participant struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId,omitempty"`
	Name          string    `json:"name"`
	Email         string    `json:"email,omitempty"`
	IsGuest       bool      `json:"isGuest"`
	JoinedAt      time.Time `json:"joinedAt"`
	AudioEnabled  bool      `json:"audioEnabled"`
	VideoEnabled  bool      `json:"videoEnabled"`
	ScreenSharing bool      `json:"screenSharing"`
}

// StateDelta carries only the toggles present in an update-state request.
// Nil fields are left untouched.
type StateDelta struct {
	AudioEnabled  *bool `json:"audioEnabled,omitempty"`
	VideoEnabled  *bool `json:"videoEnabled,omitempty"`
	ScreenSharing *bool `json:"screenSharing,omitempty"`
}

// Empty reports whether the delta changes nothing.
func (d StateDelta) Empty() bool {
	return d.AudioEnabled == nil && d.VideoEnabled == nil && d.ScreenSharing == nil
}
