package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"meeting-server/contract"
	"meeting-server/domain"
	"meeting-server/domain/event"
	"meeting-server/errors"
)

// command is one queued room operation. fail answers the caller when
// the handler could not, so a panic never leaves a goroutine hanging.
type command interface {
	fail(err error)
}

type initCmd struct {
	hostID string
	patch  domain.SettingsPatch
	reply  chan error
}

func (c initCmd) fail(err error) { c.reply <- err }

type joinReply struct {
	state domain.PublicState
	err   error
}

type joinCmd struct {
	session  contract.Session
	identity domain.Identity
	reply    chan joinReply
}

func (c joinCmd) fail(err error) { c.reply <- joinReply{err: err} }

type leaveCmd struct {
	participantID string
	reply         chan struct{}
}

func (c leaveCmd) fail(error) { c.reply <- struct{}{} }

type disconnectCmd struct {
	session contract.Session
	reply   chan struct{}
}

func (c disconnectCmd) fail(error) { c.reply <- struct{}{} }

type updateCmd struct {
	participantID string
	delta         domain.StateDelta
	reply         chan error
}

func (c updateCmd) fail(err error) { c.reply <- err }

// ChatInput is the inbound side of postChatMessage.
type ChatInput struct {
	Body     string
	Kind     domain.MessageKind
	FileURL  string
	FileName string
	FileSize int64
}

type chatReply struct {
	message domain.Message
	err     error
}

type chatCmd struct {
	participantID string
	input         ChatInput
	reply         chan chatReply
}

func (c chatCmd) fail(err error) { c.reply <- chatReply{err: err} }

type signalCmd struct {
	from     string
	envelope domain.SignalEnvelope
	reply    chan struct{}
}

func (c signalCmd) fail(error) { c.reply <- struct{}{} }

type reactCmd struct {
	participantID string
	emoji         string
	reply         chan error
}

func (c reactCmd) fail(err error) { c.reply <- err }

type recordCmd struct {
	participantID string
	desired       bool
	reply         chan error
}

func (c recordCmd) fail(err error) { c.reply <- err }

type endCmd struct {
	reply chan struct{}
}

func (c endCmd) fail(error) { c.reply <- struct{}{} }

type snapshotCmd struct {
	reply chan domain.PublicState
}

func (c snapshotCmd) fail(error) { c.reply <- domain.PublicState{} }

// RoomWorker serializes every state transition of one room. It is the
// only component allowed to touch the Room and the session registry, so
// concurrent frames from different connections never race on state.
//
// Each queued operation runs to completion, broadcast enqueue included,
// before the next one starts. Workers of different rooms run fully
// independently.
type RoomWorker struct {
	room     *domain.Room
	registry *Registry
	fanout   *Fanout
	relay    *Relay
	commands chan command
	done     chan struct{}
	onStop   func()
	stopOnce sync.Once
	log      *slog.Logger
}

func NewRoomWorker(log *slog.Logger, room *domain.Room, registry *Registry,
	fanout *Fanout, relay *Relay, bufferSize int, onStop func()) *RoomWorker {
	return &RoomWorker{
		room:     room,
		registry: registry,
		fanout:   fanout,
		relay:    relay,
		commands: make(chan command, bufferSize),
		done:     make(chan struct{}),
		onStop:   onStop,
		log:      log.With("room", string(room.ID)),
	}
}

func (w *RoomWorker) ID() domain.RoomID { return w.room.ID }

// Done is closed once the worker stopped accepting commands.
func (w *RoomWorker) Done() <-chan struct{} { return w.done }

// Run drains the mailbox until the room empties, is ended, or the
// context is canceled. It exits nil on normal teardown so a supervisor
// never restarts a finished room.
func (w *RoomWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.teardown()
			w.stop()
			return ctx.Err()
		case cmd := <-w.commands:
			if stop := w.handle(cmd); stop {
				w.stop()
				return nil
			}
		}
	}
}

// handle applies one command. A panic inside a handler is contained
// here: the fault is logged, the caller is answered, and the worker
// stays alive for subsequent commands.
func (w *RoomWorker) handle(cmd command) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Recovered from command handler", "panic", r)
			cmd.fail(errors.ErrWorkerPanic)
		}
	}()

	switch c := cmd.(type) {
	case initCmd:
		if w.room.Init(c.hostID, c.patch, time.Now().UTC()) {
			w.log.Info("Room initialized", "host", c.hostID)
		}
		c.reply <- nil

	case joinCmd:
		c.reply <- w.join(c)

	case leaveCmd:
		stop = w.leave(c.participantID)
		c.reply <- struct{}{}

	case disconnectCmd:
		if participantID, ok := w.registry.ReleaseSession(c.session); ok {
			stop = w.leave(participantID)
		}
		c.reply <- struct{}{}

	case updateCmd:
		err := w.room.ApplyDelta(c.participantID, c.delta)
		if err == nil && !c.delta.Empty() {
			w.fanout.Broadcast(event.ParticipantUpdated{
				ParticipantID: c.participantID,
				StateDelta:    c.delta,
			}, c.participantID)
		}
		c.reply <- err

	case chatCmd:
		message, err := w.room.AppendMessage(c.participantID, c.input.Body, c.input.Kind,
			c.input.FileURL, c.input.FileName, c.input.FileSize, time.Now().UTC())
		if err == nil {
			// Everyone renders from this single echo, the sender included.
			w.fanout.Broadcast(event.ChatPosted{Room: w.room.ID, Message: message}, "")
		}
		c.reply <- chatReply{message: message, err: err}

	case signalCmd:
		w.signal(c)
		c.reply <- struct{}{}

	case reactCmd:
		var err error
		if !w.room.Has(c.participantID) {
			err = errors.ErrNotFound
		} else {
			w.fanout.Broadcast(event.Reaction{ParticipantID: c.participantID, Emoji: c.emoji}, "")
		}
		c.reply <- err

	case recordCmd:
		changed, err := w.room.SetRecording(c.participantID, c.desired)
		if err == nil && changed {
			if c.desired {
				w.fanout.Broadcast(event.RecordingStarted{ParticipantID: c.participantID}, "")
			} else {
				w.fanout.Broadcast(event.RecordingStopped{ParticipantID: c.participantID}, "")
			}
		}
		c.reply <- err

	case endCmd:
		w.teardown()
		c.reply <- struct{}{}
		stop = true

	case snapshotCmd:
		c.reply <- w.room.Snapshot()
	}
	return stop
}

// join registers the connection, inserts the participant, and hands the
// joiner its snapshot before anyone else is notified.
func (w *RoomWorker) join(c joinCmd) joinReply {
	if err := w.registry.Register(c.session, c.identity.ID); err != nil {
		return joinReply{err: err}
	}
	participant, err := w.room.AddParticipant(c.identity, time.Now().UTC())
	if err != nil {
		w.registry.Release(c.identity.ID)
		return joinReply{err: err}
	}

	state := w.room.Snapshot()
	w.fanout.Deliver(c.session, event.Init{PublicState: state})
	w.fanout.Broadcast(event.ParticipantJoined{Participant: participant}, participant.ID)
	w.log.Debug("Participant joined", "participant", participant.ID, "count", w.room.Len())
	return joinReply{state: state}
}

// leave is idempotent: a second leave for the same ID finds nothing and
// produces no broadcast. Returns true once the room emptied.
func (w *RoomWorker) leave(participantID string) bool {
	w.registry.Release(participantID)
	participant, removed := w.room.RemoveParticipant(participantID)
	if !removed {
		return false
	}
	w.fanout.Broadcast(event.ParticipantLeft{ParticipantID: participant.ID}, participant.ID)
	w.log.Debug("Participant left", "participant", participant.ID, "count", w.room.Len())

	if w.room.Len() == 0 {
		w.room.Clear()
		return true
	}
	return false
}

func (w *RoomWorker) signal(c signalCmd) {
	// The sender identity comes from the connection, never the payload.
	c.envelope.From = c.from
	if !c.envelope.Kind.Valid() {
		w.log.Debug(fmt.Sprintf("Dropping signal with unknown kind %q", c.envelope.Kind))
		return
	}
	if !w.room.Has(c.from) {
		// In-flight frame from a connection already marked left.
		w.log.Debug("Dropping signal from absent participant", "participant", c.from)
		return
	}
	w.relay.Deliver(c.envelope)
}

// teardown closes every connection with a normal-closure code and wipes
// the room.
func (w *RoomWorker) teardown() {
	for _, session := range w.registry.Clear() {
		session.Shutdown()
	}
	w.room.Clear()
	w.log.Info("Room ended")
}

// stop rejects queued commands, runs the eviction hook once, and only
// then closes done so late enqueuers see the room as closed.
func (w *RoomWorker) stop() {
	w.stopOnce.Do(func() {
		for {
			select {
			case cmd := <-w.commands:
				cmd.fail(errors.ErrRoomClosed)
				continue
			default:
			}
			break
		}
		if w.onStop != nil {
			w.onStop()
		}
		close(w.done)
	})
}

func (w *RoomWorker) enqueue(ctx context.Context, cmd command) error {
	select {
	case w.commands <- cmd:
		return nil
	case <-w.done:
		return errors.ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await resolves an error-typed reply, falling back to ErrRoomClosed if
// the worker stopped with the command still queued.
func (w *RoomWorker) await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-w.done:
		select {
		case err := <-reply:
			return err
		default:
			return errors.ErrRoomClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Init records host and settings once. Re-initializing an active room
// is a no-op.
func (w *RoomWorker) Init(ctx context.Context, hostID string, patch domain.SettingsPatch) error {
	cmd := initCmd{hostID: hostID, patch: patch, reply: make(chan error, 1)}
	if err := w.enqueue(ctx, cmd); err != nil {
		return err
	}
	return w.await(ctx, cmd.reply)
}

// Join admits a session and returns the snapshot the joiner was sent.
func (w *RoomWorker) Join(ctx context.Context, session contract.Session, identity domain.Identity) (domain.PublicState, error) {
	cmd := joinCmd{session: session, identity: identity, reply: make(chan joinReply, 1)}
	if err := w.enqueue(ctx, cmd); err != nil {
		return domain.PublicState{}, err
	}
	select {
	case rep := <-cmd.reply:
		return rep.state, rep.err
	case <-w.done:
		select {
		case rep := <-cmd.reply:
			return rep.state, rep.err
		default:
			return domain.PublicState{}, errors.ErrRoomClosed
		}
	case <-ctx.Done():
		return domain.PublicState{}, ctx.Err()
	}
}

// Leave removes the participant. Leaving an already-closed room or an
// already-absent ID succeeds, disconnect races are expected.
func (w *RoomWorker) Leave(ctx context.Context, participantID string) error {
	cmd := leaveCmd{participantID: participantID, reply: make(chan struct{}, 1)}
	if err := w.enqueue(ctx, cmd); err != nil {
		if stderrors.Is(err, errors.ErrRoomClosed) {
			return nil
		}
		return err
	}
	select {
	case <-cmd.reply:
		return nil
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect unbinds a closed connection and leaves on its behalf. The
// registry resolves which participant the connection owned, so a close
// racing an in-flight frame can never produce a second leave.
func (w *RoomWorker) Disconnect(ctx context.Context, session contract.Session) error {
	cmd := disconnectCmd{session: session, reply: make(chan struct{}, 1)}
	if err := w.enqueue(ctx, cmd); err != nil {
		if stderrors.Is(err, errors.ErrRoomClosed) {
			return nil
		}
		return err
	}
	select {
	case <-cmd.reply:
		return nil
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateState applies a partial toggle update and broadcasts the delta.
func (w *RoomWorker) UpdateState(ctx context.Context, participantID string, delta domain.StateDelta) error {
	cmd := updateCmd{participantID: participantID, delta: delta, reply: make(chan error, 1)}
	if err := w.enqueue(ctx, cmd); err != nil {
		return err
	}
	return w.await(ctx, cmd.reply)
}

// PostChat appends a message and echoes it to the whole room.
func (w *RoomWorker) PostChat(ctx context.Context, participantID string, input ChatInput) (domain.Message, error) {
	cmd := chatCmd{participantID: participantID, input: input, reply: make(chan chatReply, 1)}
	if err := w.enqueue(ctx, cmd); err != nil {
		return domain.Message{}, err
	}
	select {
	case rep := <-cmd.reply:
		return rep.message, rep.err
	case <-w.done:
		select {
		case rep := <-cmd.reply:
			return rep.message, rep.err
		default:
			return domain.Message{}, errors.ErrRoomClosed
		}
	case <-ctx.Done():
		return domain.Message{}, ctx.Err()
	}
}

// Signal relays a point-to-point envelope. Routing failures are
// silent, the other side may simply have left already.
func (w *RoomWorker) Signal(ctx context.Context, from string, envelope domain.SignalEnvelope) error {
	cmd := signalCmd{from: from, envelope: envelope, reply: make(chan struct{}, 1)}
	if err := w.enqueue(ctx, cmd); err != nil {
		return err
	}
	select {
	case <-cmd.reply:
		return nil
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// React fans an emoji reaction out to the whole room.
func (w *RoomWorker) React(ctx context.Context, participantID, emoji string) error {
	cmd := reactCmd{participantID: participantID, emoji: emoji, reply: make(chan error, 1)}
	if err := w.enqueue(ctx, cmd); err != nil {
		return err
	}
	return w.await(ctx, cmd.reply)
}

// SetRecording toggles recording. Host only.
func (w *RoomWorker) SetRecording(ctx context.Context, participantID string, desired bool) error {
	cmd := recordCmd{participantID: participantID, desired: desired, reply: make(chan error, 1)}
	if err := w.enqueue(ctx, cmd); err != nil {
		return err
	}
	return w.await(ctx, cmd.reply)
}

// End closes every connection and stops the worker. Authorization is
// the caller's responsibility.
func (w *RoomWorker) End(ctx context.Context) error {
	cmd := endCmd{reply: make(chan struct{}, 1)}
	if err := w.enqueue(ctx, cmd); err != nil {
		if stderrors.Is(err, errors.ErrRoomClosed) {
			return nil
		}
		return err
	}
	select {
	case <-cmd.reply:
		return nil
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the public projection of the room.
func (w *RoomWorker) Snapshot(ctx context.Context) (domain.PublicState, error) {
	cmd := snapshotCmd{reply: make(chan domain.PublicState, 1)}
	if err := w.enqueue(ctx, cmd); err != nil {
		return domain.PublicState{}, err
	}
	select {
	case state := <-cmd.reply:
		return state, nil
	case <-w.done:
		select {
		case state := <-cmd.reply:
			return state, nil
		default:
			return domain.PublicState{}, errors.ErrRoomClosed
		}
	case <-ctx.Done():
		return domain.PublicState{}, ctx.Err()
	}
}
