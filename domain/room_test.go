package domain

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"meeting-server/errors"
)

func TestRoom_Init_IsIdempotent(t *testing.T) {
	req := require.New(t)
	room := NewRoom("m1")
	now := time.Now().UTC()

	// Given a room initialized with custom settings
	first := room.Init("h1", SettingsPatch{MaxParticipants: lo.ToPtr(3)}, now)
	req.True(first)
	req.Equal("h1", room.HostID)
	req.Equal(3, room.Settings().MaxParticipants)

	// When init is called again with another host
	second := room.Init("h2", SettingsPatch{MaxParticipants: lo.ToPtr(10)}, now.Add(time.Minute))

	// Then nothing changed, an active room is never re-initialized
	req.False(second)
	req.Equal("h1", room.HostID)
	req.Equal(3, room.Settings().MaxParticipants)
}

func TestRoom_AddParticipant_DefaultsAndCapacity(t *testing.T) {
	req := require.New(t)
	room := NewRoom("m1")
	now := time.Now().UTC()
	room.Init("h1", SettingsPatch{MaxParticipants: lo.ToPtr(2)}, now)

	// When two participants join
	p1, err := room.AddParticipant(Identity{ID: "p1", UserID: "h1", Name: "Alice"}, now)
	req.NoError(err)
	_, err = room.AddParticipant(Identity{ID: "p2", Name: "Bob"}, now)
	req.NoError(err)

	// Then they joined with audio and video enabled
	req.True(p1.AudioEnabled)
	req.True(p1.VideoEnabled)
	req.False(p1.ScreenSharing)
	req.False(p1.IsGuest)
	req.True(room.Has("p2"))

	// And the third join is refused, the room untouched
	_, err = room.AddParticipant(Identity{ID: "p3", Name: "Clara"}, now)
	req.ErrorIs(err, errors.ErrCapacityExceeded)
	req.Equal(2, room.Len())
}

func TestRoom_RemoveParticipant_AbsentIsNoop(t *testing.T) {
	req := require.New(t)
	room := NewRoom("m1")
	now := time.Now().UTC()
	room.AddParticipant(Identity{ID: "p1", Name: "Alice"}, now)

	_, removed := room.RemoveParticipant("p1")
	req.True(removed)

	// A repeated leave races with a disconnect and must not error
	_, removed = room.RemoveParticipant("p1")
	req.False(removed)
	req.Equal(0, room.Len())
}

func TestRoom_ApplyDelta_PartialOnly(t *testing.T) {
	req := require.New(t)
	room := NewRoom("m1")
	now := time.Now().UTC()
	room.AddParticipant(Identity{ID: "p1", Name: "Alice"}, now)

	// When only audio is toggled
	err := room.ApplyDelta("p1", StateDelta{AudioEnabled: lo.ToPtr(false)})
	req.NoError(err)

	// Then video stays untouched
	state := room.Snapshot()
	req.False(state.Participants[0].AudioEnabled)
	req.True(state.Participants[0].VideoEnabled)

	// And an absent participant is reported, the race is the caller's business
	err = room.ApplyDelta("ghost", StateDelta{AudioEnabled: lo.ToPtr(true)})
	req.ErrorIs(err, errors.ErrNotFound)
}

func TestRoom_ApplyDelta_ScreenShareGate(t *testing.T) {
	req := require.New(t)
	room := NewRoom("m1")
	now := time.Now().UTC()
	room.Init("h1", SettingsPatch{AllowScreenShare: lo.ToPtr(false)}, now)
	room.AddParticipant(Identity{ID: "p1", Name: "Alice"}, now)

	err := room.ApplyDelta("p1", StateDelta{ScreenSharing: lo.ToPtr(true)})
	req.ErrorIs(err, errors.ErrForbidden)

	// Turning it off is always allowed
	err = room.ApplyDelta("p1", StateDelta{ScreenSharing: lo.ToPtr(false)})
	req.NoError(err)
}

func TestRoom_AppendMessage_ChatPolicy(t *testing.T) {
	req := require.New(t)
	now := time.Now().UTC()

	t.Run("chat disabled", func(t *testing.T) {
		room := NewRoom("m1")
		room.Init("h1", SettingsPatch{AllowChat: lo.ToPtr(false)}, now)
		room.AddParticipant(Identity{ID: "p1", Name: "Alice"}, now)

		_, err := room.AppendMessage("p1", "hello", MessageText, "", "", 0, now)
		req.ErrorIs(err, errors.ErrChatDisabled)
		req.Equal(0, room.MessageCount())
	})

	t.Run("file share disabled", func(t *testing.T) {
		room := NewRoom("m1")
		room.Init("h1", SettingsPatch{AllowFileShare: lo.ToPtr(false)}, now)
		room.AddParticipant(Identity{ID: "p1", Name: "Alice"}, now)

		_, err := room.AppendMessage("p1", "", MessageFile, "https://files/x", "x.pdf", 42, now)
		req.ErrorIs(err, errors.ErrChatDisabled)

		// Plain text still goes through
		msg, err := room.AppendMessage("p1", "hello", MessageText, "", "", 0, now)
		req.NoError(err)
		req.Equal("Alice", msg.ParticipantName)
		req.Equal(1, room.MessageCount())
	})

	t.Run("absent sender", func(t *testing.T) {
		room := NewRoom("m1")
		_, err := room.AppendMessage("ghost", "hello", MessageText, "", "", 0, now)
		req.ErrorIs(err, errors.ErrNotFound)
	})
}

func TestRoom_SetRecording_HostOnly(t *testing.T) {
	req := require.New(t)
	room := NewRoom("m1")
	now := time.Now().UTC()
	room.Init("h1", SettingsPatch{}, now)
	room.AddParticipant(Identity{ID: "p1", UserID: "h1", Name: "Alice"}, now)
	room.AddParticipant(Identity{ID: "p2", Name: "Bob"}, now)

	// Given a guest asking to record
	_, err := room.SetRecording("p2", true)
	req.ErrorIs(err, errors.ErrForbidden)
	req.False(room.IsRecording())

	// When the host user asks through its own participant id
	changed, err := room.SetRecording("p1", true)
	req.NoError(err)
	req.True(changed)
	req.True(room.IsRecording())

	// Then asking again changes nothing
	changed, err = room.SetRecording("p1", true)
	req.NoError(err)
	req.False(changed)
}

func TestRoom_Snapshot_IsDetachedAndOrdered(t *testing.T) {
	req := require.New(t)
	room := NewRoom("m1")
	now := time.Now().UTC()
	room.Init("h1", SettingsPatch{}, now)
	room.AddParticipant(Identity{ID: "p2", Name: "Bob"}, now.Add(time.Second))
	room.AddParticipant(Identity{ID: "p1", Name: "Alice"}, now)

	state := room.Snapshot()

	// Participants come out in join order
	req.Equal([]string{"p1", "p2"}, lo.Map(state.Participants, func(p Participant, _ int) string {
		return p.ID
	}))
	req.NotNil(state.StartedAt)

	// Mutating the snapshot must not touch the room
	state.Participants[0].Name = "Mallory"
	req.Equal("Alice", room.Snapshot().Participants[0].Name)
}
