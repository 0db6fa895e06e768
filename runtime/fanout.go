package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"meeting-server/contract"
	"meeting-server/domain/event"
)

// Fanout broadcasts room events to every live session and to the
// permanent sinks (archive, projections).
//
// It provides best-effort fan-out with no guarantees regarding delivery,
// durability, or retries. A failing or slow sink is logged and skipped,
// one stalled connection must never block the room.
//
// Delivery is synchronous so that, for a single session, events are
// enqueued in the order the room worker applied them.
type Fanout struct {
	log         *slog.Logger
	registry    *Registry
	permanent   []contract.EventSink
	sinkTimeout time.Duration
}

func NewFanout(log *slog.Logger, registry *Registry, sinkTimeout time.Duration,
	permanent ...contract.EventSink) *Fanout {
	return &Fanout{log: log, registry: registry, permanent: permanent, sinkTimeout: sinkTimeout}
}

// Broadcast fans an event out to all sessions in the room except the
// optional excluded participant. Permanent sinks always receive it.
func (f *Fanout) Broadcast(e event.DomainEvent, excludeParticipantID string) {
	for _, session := range f.registry.SinksExcept(excludeParticipantID) {
		f.deliver(session, e)
	}
	for _, sink := range f.permanent {
		f.deliver(sink, e)
	}
}

// Deliver sends an event to one sink only. Used for requester-only
// replies and rejections.
func (f *Fanout) Deliver(sink contract.EventSink, e event.DomainEvent) {
	f.deliver(sink, e)
}

func (f *Fanout) deliver(sink contract.EventSink, e event.DomainEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), f.sinkTimeout)
	defer cancel()
	if err := sink.Consume(ctx, e); err != nil {
		f.log.Warn(fmt.Sprintf("Sink failed to consume %s event", e.Kind()), "error", err)
	}
}
