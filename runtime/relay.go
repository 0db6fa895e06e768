package runtime

import (
	"fmt"
	"log/slog"

	"meeting-server/domain"
	"meeting-server/domain/event"
)

// Relay routes point-to-point signaling envelopes. It never broadcasts:
// leaking an offer or candidate to an unrelated participant would be a
// privacy bug, not just a correctness one.
type Relay struct {
	log      *slog.Logger
	registry *Registry
	fanout   *Fanout
}

func NewRelay(log *slog.Logger, registry *Registry, fanout *Fanout) *Relay {
	return &Relay{log: log, registry: registry, fanout: fanout}
}

// Deliver forwards the envelope to its single target. A missing target
// is an expected race with a leave: logged, dropped, the sender is not
// told.
func (r *Relay) Deliver(envelope domain.SignalEnvelope) {
	session, ok := r.registry.Resolve(envelope.To)
	if !ok {
		r.log.Debug(fmt.Sprintf("Dropping %s signal to absent participant %s", envelope.Kind, envelope.To))
		return
	}
	r.fanout.Deliver(session, event.SignalForwarded{SignalEnvelope: envelope})
}
