package carousel

import (
	"pkt.systems/carousel/core"
	"pkt.systems/carousel/httpapi"
	"pkt.systems/carousel/internal/eventbus"
	"pkt.systems/carousel/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

// newEventFanout returns nil when neither sink is enabled so the scheduler
// never holds a typed nil.
func newEventFanout(hub *httpapi.Hub, bus *eventbus.Bus) core.EventSink {
	sinks := make([]core.EventSink, 0, 2)
	if hub != nil {
		sinks = append(sinks, hub)
	}
	if bus != nil {
		sinks = append(sinks, bus)
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	}
	return eventFanout{sinks: sinks}
}

func (f eventFanout) OnStateEvent(event schema.StateEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnStateEvent(event)
	}
}
