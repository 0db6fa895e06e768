package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"meeting-server/errors"
)

func TestRegistry_RegisterAndResolve(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	session := &fakeSession{}

	// Given no participant is connected
	req.Equal(0, registry.Len())

	// When a participant registers
	err := registry.Register(session, "p1")

	// Then it resolves both ways
	req.NoError(err)
	resolved, ok := registry.Resolve("p1")
	req.True(ok)
	req.Same(session, resolved.(*fakeSession))
	req.Equal([]string{"p1"}, registry.Participants())
}

func TestRegistry_Register_DuplicateIsRefused(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	req.NoError(registry.Register(&fakeSession{}, "p1"))

	// A second connection reusing the id is refused, the first stays
	err := registry.Register(&fakeSession{}, "p1")
	req.ErrorIs(err, errors.ErrDuplicateParticipant)
	req.Equal(1, registry.Len())
}

func TestRegistry_Resolve_AbsentIsNotAnError(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	_, ok := registry.Resolve("ghost")
	req.False(ok)
}

func TestRegistry_ReleaseSession_FeedsLeaveExactlyOnce(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	session := &fakeSession{}
	req.NoError(registry.Register(session, "p1"))

	// When the connection closes
	participantID, ok := registry.ReleaseSession(session)
	req.True(ok)
	req.Equal("p1", participantID)

	// Then a second close of the same connection finds nothing
	_, ok = registry.ReleaseSession(session)
	req.False(ok)
	req.Equal(0, registry.Len())
}

func TestRegistry_SinksExcept(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	s1, s2, s3 := &fakeSession{}, &fakeSession{}, &fakeSession{}
	req.NoError(registry.Register(s1, "p1"))
	req.NoError(registry.Register(s2, "p2"))
	req.NoError(registry.Register(s3, "p3"))

	// Excluding the sender leaves the two others
	req.Len(registry.SinksExcept("p2"), 2)

	// An empty exclusion returns everyone
	req.Len(registry.SinksExcept(""), 3)
}

func TestRegistry_Clear_ReturnsSessionsForTeardown(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	req.NoError(registry.Register(&fakeSession{}, "p1"))
	req.NoError(registry.Register(&fakeSession{}, "p2"))

	sessions := registry.Clear()

	req.Len(sessions, 2)
	req.Equal(0, registry.Len())
	req.Empty(registry.Participants())
}
