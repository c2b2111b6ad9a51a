package core

import "pkt.systems/carousel/schema"

// EventSink receives state events from the scheduler loop.
// Implementations must not block.
type EventSink interface {
	OnStateEvent(event schema.StateEvent)
}
