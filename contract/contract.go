package contract

import (
	"context"
	"reflect"

	"meeting-server/domain/event"
)

// EventSink consumes one event. Implementations must not block longer
// than the context allows; the fanout treats a sink failure as local to
// that sink.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// Session is one live participant connection. Shutdown closes the
// transport with a normal-closure code and is safe to call twice.
type Session interface {
	EventSink
	Shutdown()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
