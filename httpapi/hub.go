package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/carousel/internal/logx"
	"pkt.systems/carousel/schema"
)

// StreamEvent is sent to SSE clients.
type StreamEvent struct {
	Seq       uint64                `json:"seq"`
	Type      string                `json:"type"`
	Reason    string                `json:"reason,omitempty"`
	State     *schema.StateSnapshot `json:"state,omitempty"`
	Panes     []int                 `json:"panes,omitempty"`
	Error     string                `json:"error,omitempty"`
	Snapshot  *SnapshotPayload      `json:"snapshot,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// SnapshotPayload seeds client state on connect.
type SnapshotPayload struct {
	State     *schema.StateSnapshot `json:"state,omitempty"`
	Config    schema.RotationConfig `json:"config"`
	Selected  int                   `json:"selected"`
	LoadError string                `json:"load_error,omitempty"`
}

// Hub keeps a bounded, sequenced history of scheduler events and
// broadcasts them to stream subscribers.
type Hub struct {
	mu          sync.Mutex
	seq         uint64
	history     []StreamEvent
	subs        map[chan StreamEvent]struct{}
	historySize int
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = 256
	}
	return &Hub{
		subs:        make(map[chan StreamEvent]struct{}),
		historySize: historySize,
	}
}

// OnStateEvent implements core.EventSink.
func (h *Hub) OnStateEvent(event schema.StateEvent) {
	state := event.State
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	logx.WithComponent(context.Background(), "hub").Trace("hub state event", "type", event.Type, "reason", event.Reason)
	h.publish(StreamEvent{
		Type:      string(event.Type),
		Reason:    event.Reason,
		State:     &state,
		Panes:     event.Panes,
		Error:     event.Error,
		Timestamp: ts,
	})
}

// Subscribe registers a subscriber. It returns the channel, an idempotent
// unsubscribe, the sequence number at subscription time and the history.
func (h *Hub) Subscribe() (<-chan StreamEvent, func(), uint64, []StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan StreamEvent, 256)
	h.subs[ch] = struct{}{}
	history := append([]StreamEvent(nil), h.history...)
	seq := h.seq
	log := logx.WithComponent(context.Background(), "hub")
	log.Info("hub subscribe", "subs", len(h.subs), "history", len(history))
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			remaining := len(h.subs)
			h.mu.Unlock()
			log.Info("hub unsubscribe", "subs", remaining)
		})
	}
	return ch, unsub, seq, history
}

// Replay returns events after the provided seq.
func (h *Hub) Replay(after uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := make([]StreamEvent, 0, len(h.history))
	for _, event := range h.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	logx.WithComponent(context.Background(), "hub").Debug("hub replay", "after", after, "count", len(events))
	return events
}

func (h *Hub) publish(event StreamEvent) {
	h.mu.Lock()
	h.seq++
	event.Seq = h.seq
	h.history = append(h.history, event)
	if len(h.history) > h.historySize {
		h.history = h.history[len(h.history)-h.historySize:]
	}
	// Sends stay under the lock so unsubscribe cannot close a channel mid-send.
	dropped := 0
	for sub := range h.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()

	if dropped > 0 {
		logx.WithComponent(context.Background(), "hub").Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
}
