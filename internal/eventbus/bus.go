package eventbus

import (
	"context"
	"sync"

	"pkt.systems/carousel/schema"
	"pkt.systems/pslog"
)

const defaultDepth = 256

// Bus fans scheduler events out to subscribers. Publishing never blocks;
// a subscriber that falls behind misses events.
type Bus struct {
	mu    sync.Mutex
	subs  map[chan schema.StateEvent]map[schema.EventType]bool
	last  *schema.StateEvent
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[chan schema.StateEvent]map[schema.EventType]bool),
		log:   logger,
		depth: defaultDepth,
	}
}

// Subscribe registers a subscriber and returns a channel + cancel.
// With no types given every event is delivered.
func (b *Bus) Subscribe(types ...schema.EventType) (<-chan schema.StateEvent, func()) {
	if b == nil {
		return nil, func() {}
	}
	var filter map[schema.EventType]bool
	if len(types) > 0 {
		filter = make(map[schema.EventType]bool, len(types))
		for _, kind := range types {
			filter[kind] = true
		}
	}
	ch := make(chan schema.StateEvent, b.depth)
	b.mu.Lock()
	b.subs[ch] = filter
	count := len(b.subs)
	b.mu.Unlock()
	b.log.Debug("eventbus subscribe", "subs", count, "types", len(types))

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
			b.log.Debug("eventbus unsubscribe")
		})
	}
}

// Last returns the most recent event whose snapshot reflects current state.
func (b *Bus) Last() (schema.StateEvent, bool) {
	if b == nil {
		return schema.StateEvent{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return schema.StateEvent{}, false
	}
	return *b.last, true
}

// OnStateEvent publishes a scheduler event.
func (b *Bus) OnStateEvent(event schema.StateEvent) {
	if b == nil {
		return
	}
	b.mu.Lock()
	stored := event
	b.last = &stored
	subs := make([]chan schema.StateEvent, 0, len(b.subs))
	for sub, filter := range b.subs {
		if filter != nil && !filter[event.Type] {
			continue
		}
		subs = append(subs, sub)
	}
	// Sends happen under the lock so cancel cannot close a channel mid-send.
	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 {
		b.log.Trace("eventbus dropped", "count", dropped, "type", event.Type)
	}
}
