package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"meeting-server/contract"
	"meeting-server/domain"
	"meeting-server/runtime/workers"
)

// HistoryStore is the archived-chat surface Rooms needs at eviction
// time: a meeting's history is garbage-collected with the meeting.
type HistoryStore interface {
	DropRoom(roomID domain.RoomID) error
}

// Rooms is the process-wide registry of live room workers, with lazy
// creation and eviction once a room empties or is ended. It is injected
// rather than ambient so tests can run isolated registries.
type Rooms struct {
	mu          sync.Mutex
	log         *slog.Logger
	supervisor  *workers.Supervisor
	rooms       map[domain.RoomID]*RoomWorker
	mailboxSize int
	sinkTimeout time.Duration
	history     HistoryStore
	permanent   []contract.EventSink
	ctx         context.Context
}

// NewRooms wires the per-room components. history may be nil when no
// archive is configured; permanent sinks receive every room event.
func NewRooms(log *slog.Logger, supervisor *workers.Supervisor, mailboxSize int,
	sinkTimeout time.Duration, history HistoryStore, permanent ...contract.EventSink) *Rooms {
	return &Rooms{
		log:         log,
		supervisor:  supervisor,
		rooms:       make(map[domain.RoomID]*RoomWorker),
		mailboxSize: mailboxSize,
		sinkTimeout: sinkTimeout,
		history:     history,
		permanent:   permanent,
	}
}

// Start records the context newly spawned workers run under.
// Must be called before the first Get.
func (r *Rooms) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = ctx
}

// Get returns the worker for a meeting ID, creating and supervising it
// on first reference. Lookup and creation are atomic, two concurrent
// first-joins can never spawn two workers for one ID.
func (r *Rooms) Get(id domain.RoomID) *RoomWorker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if worker, ok := r.rooms[id]; ok {
		return worker
	}

	ctx := r.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	registry := NewRegistry()
	fanout := NewFanout(r.log, registry, r.sinkTimeout, r.permanent...)
	relay := NewRelay(r.log, registry, fanout)
	room := domain.NewRoom(id)

	var worker *RoomWorker
	worker = NewRoomWorker(r.log, room, registry, fanout, relay, r.mailboxSize, func() {
		r.evict(id, worker)
	})
	r.rooms[id] = worker
	r.supervisor.Start(ctx, worker)
	r.log.Info(fmt.Sprintf("Room %s created", id))
	return worker
}

// Lookup returns an existing worker without creating one.
func (r *Rooms) Lookup(id domain.RoomID) (*RoomWorker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	worker, ok := r.rooms[id]
	return worker, ok
}

func (r *Rooms) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// evict removes the entry if it still maps to this worker, then drops
// the room's archived history. A successor room under the same ID is
// left alone.
func (r *Rooms) evict(id domain.RoomID, worker *RoomWorker) {
	r.mu.Lock()
	if current, ok := r.rooms[id]; ok && current == worker {
		delete(r.rooms, id)
	}
	r.mu.Unlock()

	if r.history != nil {
		if err := r.history.DropRoom(id); err != nil {
			r.log.Warn(fmt.Sprintf("Failed to drop archived history of room %s", id), "error", err)
		}
	}
	r.log.Info(fmt.Sprintf("Room %s evicted", id))
}

// Shutdown ends every live room, closing all connections normally.
func (r *Rooms) Shutdown(ctx context.Context) {
	r.mu.Lock()
	live := make([]*RoomWorker, 0, len(r.rooms))
	for _, worker := range r.rooms {
		live = append(live, worker)
	}
	r.mu.Unlock()

	for _, worker := range live {
		if err := worker.End(ctx); err != nil {
			r.log.Warn(fmt.Sprintf("Failed to end room %s", worker.ID()), "error", err)
		}
	}
}
