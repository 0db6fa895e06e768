package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"meeting-server/errors"
)

type RoomID string

// Settings are the per-room policies, merged over defaults at init time.
type Settings struct {
	MaxParticipants  int  `json:"maxParticipants"`
	AllowChat        bool `json:"allowChat"`
	AllowScreenShare bool `json:"allowScreenShare"`
	AllowFileShare   bool `json:"allowFileShare"`
}

func DefaultSettings() Settings {
	return Settings{
		MaxParticipants:  16,
		AllowChat:        true,
		AllowScreenShare: true,
		AllowFileShare:   true,
	}
}

// SettingsPatch overrides only the fields present in an init request.
type SettingsPatch struct {
	MaxParticipants  *int  `json:"maxParticipants,omitempty" validate:"omitempty,gte=2"`
	AllowChat        *bool `json:"allowChat,omitempty"`
	AllowScreenShare *bool `json:"allowScreenShare,omitempty"`
	AllowFileShare   *bool `json:"allowFileShare,omitempty"`
}

func (p SettingsPatch) ApplyTo(s Settings) Settings {
	if p.MaxParticipants != nil {
		s.MaxParticipants = *p.MaxParticipants
	}
	if p.AllowChat != nil {
		s.AllowChat = *p.AllowChat
	}
	if p.AllowScreenShare != nil {
		s.AllowScreenShare = *p.AllowScreenShare
	}
	if p.AllowFileShare != nil {
		s.AllowFileShare = *p.AllowFileShare
	}
	return s
}

// PublicState is the projection sent to clients. It never carries
// connection handles or anything else internal to the runtime.
type PublicState struct {
	ID           RoomID        `json:"id"`
	HostID       string        `json:"hostId"`
	Participants []Participant `json:"participants"`
	Messages     []Message     `json:"messages"`
	IsRecording  bool          `json:"isRecording"`
	StartedAt    *time.Time    `json:"startedAt,omitempty"`
	Settings     Settings      `json:"settings"`
}

// Room is the authoritative in-memory state of one meeting.
// It holds no synchronization on purpose: the owning room worker is the
// only writer, everything else sees copies through Snapshot.
type Room struct {
	ID           RoomID
	HostID       string
	participants map[string]*Participant
	messages     []Message
	isRecording  bool
	startedAt    time.Time
	settings     Settings
	initialized  bool
}

func NewRoom(id RoomID) *Room {
	return &Room{
		ID:           id,
		participants: make(map[string]*Participant),
		settings:     DefaultSettings(),
	}
}

// Init records the host and settings on first call. Calling it again on
// an active room is a no-op, it never re-initializes.
func (r *Room) Init(hostID string, patch SettingsPatch, now time.Time) bool {
	if r.initialized {
		return false
	}
	r.HostID = hostID
	r.settings = patch.ApplyTo(DefaultSettings())
	r.startedAt = now
	r.initialized = true
	return true
}

func (r *Room) Settings() Settings { return r.settings }

func (r *Room) Len() int { return len(r.participants) }

func (r *Room) Has(participantID string) bool {
	_, ok := r.participants[participantID]
	return ok
}

// ParticipantIDs returns the current membership set, used to check the
// registry/participants invariant in tests.
func (r *Room) ParticipantIDs() []string {
	return lo.Keys(r.participants)
}

// AddParticipant inserts a new participant with audio and video enabled.
func (r *Room) AddParticipant(identity Identity, now time.Time) (Participant, error) {
	if len(r.participants) >= r.settings.MaxParticipants {
		return Participant{}, errors.ErrCapacityExceeded
	}
	p := &Participant{
		ID:           identity.ID,
		UserID:       identity.UserID,
		Name:         identity.Name,
		Email:        identity.Email,
		IsGuest:      identity.Guest(),
		JoinedAt:     now,
		AudioEnabled: true,
		VideoEnabled: true,
	}
	r.participants[p.ID] = p
	return *p, nil
}

// RemoveParticipant deletes a participant. Removing an absent ID is a
// no-op, disconnects race with explicit leaves and both paths land here.
func (r *Room) RemoveParticipant(participantID string) (Participant, bool) {
	p, ok := r.participants[participantID]
	if !ok {
		return Participant{}, false
	}
	delete(r.participants, participantID)
	return *p, true
}

// ApplyDelta updates only the toggles present in the delta.
// Turning screen share on while the room forbids it is rejected.
func (r *Room) ApplyDelta(participantID string, delta StateDelta) error {
	p, ok := r.participants[participantID]
	if !ok {
		return errors.ErrNotFound
	}
	if delta.ScreenSharing != nil && *delta.ScreenSharing && !r.settings.AllowScreenShare {
		return errors.ErrForbidden
	}
	if delta.AudioEnabled != nil {
		p.AudioEnabled = *delta.AudioEnabled
	}
	if delta.VideoEnabled != nil {
		p.VideoEnabled = *delta.VideoEnabled
	}
	if delta.ScreenSharing != nil {
		p.ScreenSharing = *delta.ScreenSharing
	}
	return nil
}

// AppendMessage validates chat policy and appends an immutable message.
func (r *Room) AppendMessage(participantID string, body string, kind MessageKind,
	fileURL, fileName string, fileSize int64, now time.Time) (Message, error) {
	if !r.settings.AllowChat {
		return Message{}, errors.ErrChatDisabled
	}
	if kind == MessageFile && !r.settings.AllowFileShare {
		return Message{}, errors.ErrChatDisabled
	}
	p, ok := r.participants[participantID]
	if !ok {
		return Message{}, errors.ErrNotFound
	}
	if !kind.Valid() {
		kind = MessageText
	}
	msg := Message{
		ID:              uuid.New(),
		ParticipantID:   p.ID,
		ParticipantName: p.Name,
		Body:            body,
		Kind:            kind,
		FileURL:         fileURL,
		FileName:        fileName,
		FileSize:        fileSize,
		CreatedAt:       now,
	}
	r.messages = append(r.messages, msg)
	return msg, nil
}

func (r *Room) MessageCount() int { return len(r.messages) }

// IsHost reports whether the participant may control recording.
// The host is the hostId itself or any participant logged in as that user.
func (r *Room) IsHost(participantID string) bool {
	if participantID == r.HostID {
		return true
	}
	p, ok := r.participants[participantID]
	return ok && p.UserID != "" && p.UserID == r.HostID
}

// SetRecording flips the recording flag. Only the host may call it.
// The returned bool tells whether the flag actually changed.
func (r *Room) SetRecording(participantID string, desired bool) (bool, error) {
	if !r.IsHost(participantID) {
		return false, errors.ErrForbidden
	}
	if r.isRecording == desired {
		return false, nil
	}
	r.isRecording = desired
	return true, nil
}

func (r *Room) IsRecording() bool { return r.isRecording }

// Clear drops every participant and the chat history. Used on teardown.
func (r *Room) Clear() {
	r.participants = make(map[string]*Participant)
	r.messages = nil
	r.isRecording = false
}

// Snapshot copies the room into its public projection.
// Participants are ordered by join time so two snapshots of the same
// state compare equal.
func (r *Room) Snapshot() PublicState {
	participants := lo.Map(lo.Values(r.participants), func(p *Participant, _ int) Participant {
		return *p
	})
	sort.Slice(participants, func(i, j int) bool {
		if participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].ID < participants[j].ID
		}
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})

	var startedAt *time.Time
	if r.initialized {
		startedAt = lo.ToPtr(r.startedAt)
	}
	return PublicState{
		ID:           r.ID,
		HostID:       r.HostID,
		Participants: participants,
		Messages:     append(make([]Message, 0, len(r.messages)), r.messages...),
		IsRecording:  r.isRecording,
		StartedAt:    startedAt,
		Settings:     r.settings,
	}
}
