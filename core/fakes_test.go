package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"pkt.systems/carousel/internal/panes"
	"pkt.systems/carousel/schema"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	live := !t.stopped && !t.fired
	t.stopped = true
	return live
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	timer := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, fn: fn}
	c.timers = append(c.timers, timer)
	return timer
}

// popDue marks the earliest live timer due at or before limit as fired and
// moves the clock to its deadline.
func (c *fakeClock) popDue(limit time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	live := make([]*fakeTimer, 0, len(c.timers))
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired && !timer.at.After(limit) {
			live = append(live, timer)
		}
	}
	if len(live) == 0 {
		return nil
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].at.Equal(live[j].at) {
			return live[i].seq < live[j].seq
		}
		return live[i].at.Before(live[j].at)
	})
	next := live[0]
	next.fired = true
	c.now = next.at
	return next
}

func (c *fakeClock) set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *fakeClock) all() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeTimer(nil), c.timers...)
}

type fakeHandle struct {
	host    *fakeHost
	address string
	reloads int
}

func (h *fakeHandle) Navigate(address string) error {
	h.host.mu.Lock()
	defer h.host.mu.Unlock()
	h.address = address
	return nil
}

func (h *fakeHandle) Reload() error {
	h.host.mu.Lock()
	defer h.host.mu.Unlock()
	h.reloads++
	return h.host.reloadErr
}

type fakeHost struct {
	mu        sync.Mutex
	handles   []*fakeHandle
	destroyed int
	reloadErr error
}

func (h *fakeHost) CreatePane(_ context.Context, address string) (panes.PaneHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle := &fakeHandle{host: h, address: address}
	h.handles = append(h.handles, handle)
	return handle, nil
}

func (h *fakeHost) DestroyPane(context.Context, panes.PaneHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed++
	return nil
}

// reloads returns reload counts by creation order.
func (h *fakeHost) reloads() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int, len(h.handles))
	for i, handle := range h.handles {
		out[i] = handle.reloads
	}
	return out
}

type renderCall struct {
	from int
	to   int
}

type indicatorCall struct {
	pane int
	text string
}

type fakeRenderer struct {
	mu         sync.Mutex
	manual     bool
	fail       error
	calls      []renderCall
	waiting    []func(error)
	indicators []indicatorCall
}

func (r *fakeRenderer) Transition(_ context.Context, from, to *panes.Pane, done func(error)) {
	r.mu.Lock()
	call := renderCall{from: -1, to: to.Index}
	if from != nil {
		call.from = from.Index
	}
	r.calls = append(r.calls, call)
	if r.manual {
		r.waiting = append(r.waiting, done)
		r.mu.Unlock()
		return
	}
	fail := r.fail
	r.mu.Unlock()
	done(fail)
}

func (r *fakeRenderer) SetIndicator(_ context.Context, pane *panes.Pane, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indicators = append(r.indicators, indicatorCall{pane: pane.Index, text: text})
}

func (r *fakeRenderer) indicatorCalls() []indicatorCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]indicatorCall(nil), r.indicators...)
}

// lastIndicator returns the most recent text sent to pane.
func (r *fakeRenderer) lastIndicator(pane int) (string, bool) {
	calls := r.indicatorCalls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].pane == pane {
			return calls[i].text, true
		}
	}
	return "", false
}

func (r *fakeRenderer) setFail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

func (r *fakeRenderer) transitions() []renderCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]renderCall(nil), r.calls...)
}

// completeNext signals completion of the oldest waiting transition.
func (r *fakeRenderer) completeNext(t *testing.T, err error) {
	t.Helper()
	r.mu.Lock()
	if len(r.waiting) == 0 {
		r.mu.Unlock()
		t.Fatalf("no transition waiting for completion")
	}
	done := r.waiting[0]
	r.waiting = r.waiting[1:]
	r.mu.Unlock()
	done(err)
}

type fakeStore struct {
	mu    sync.Mutex
	saved []schema.RefreshDirective
	err   error
}

func (s *fakeStore) SaveDirective(_ context.Context, directive schema.RefreshDirective) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, directive)
	return s.err
}

func (s *fakeStore) directives() []schema.RefreshDirective {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.RefreshDirective(nil), s.saved...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []schema.StateEvent
}

func (s *recordingSink) OnStateEvent(event schema.StateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) ofType(kind schema.EventType) []schema.StateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schema.StateEvent
	for _, event := range s.events {
		if event.Type == kind {
			out = append(out, event)
		}
	}
	return out
}

type bindCall struct {
	shortcuts map[string]string
	count     int
}

type fakeBinder struct {
	mu    sync.Mutex
	calls []bindCall
}

func (b *fakeBinder) Rebuild(shortcuts map[string]string, paneCount int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, bindCall{shortcuts: shortcuts, count: paneCount})
}

func (b *fakeBinder) last() bindCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.calls) == 0 {
		return bindCall{count: -1}
	}
	return b.calls[len(b.calls)-1]
}

const testLead = 3000 * time.Millisecond

type harness struct {
	t        *testing.T
	clock    *fakeClock
	host     *fakeHost
	renderer *fakeRenderer
	store    *fakeStore
	sink     *recordingSink
	binder   *fakeBinder
	sched    *Scheduler
	done     chan error
}

func newHarness(t *testing.T, cfg schema.RotationConfig, manual bool) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    newFakeClock(),
		host:     &fakeHost{},
		renderer: &fakeRenderer{manual: manual},
		store:    &fakeStore{},
		sink:     &recordingSink{},
		binder:   &fakeBinder{},
		done:     make(chan error, 1),
	}
	sched, err := NewScheduler(cfg, SchedulerDeps{
		Host:        h.host,
		Renderer:    h.renderer,
		Store:       h.store,
		EventSink:   h.sink,
		Shortcuts:   h.binder,
		Clock:       h.clock,
		RefreshLead: testLead,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	h.sched = sched
	go func() { h.done <- sched.Run(context.Background()) }()
	t.Cleanup(func() {
		sched.Close()
		if err := <-h.done; err != nil {
			t.Errorf("run: %v", err)
		}
	})
	h.sync()
	return h
}

func (h *harness) sync() {
	h.t.Helper()
	if _, err := h.sched.State(); err != nil {
		h.t.Fatalf("sync: %v", err)
	}
}

// advance fires every timer due within d in deadline order, draining the loop after each.
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	target := h.clock.Now().Add(d)
	for {
		timer := h.clock.popDue(target)
		if timer == nil {
			break
		}
		timer.fn()
		h.sync()
	}
	h.clock.set(target)
	h.sync()
}

func (h *harness) state() schema.StateSnapshot {
	h.t.Helper()
	snap, err := h.sched.State()
	if err != nil {
		h.t.Fatalf("state: %v", err)
	}
	return snap
}

func (h *harness) complete(err error) {
	h.t.Helper()
	h.renderer.completeNext(h.t, err)
	h.sync()
}

func rotationConfig(pages ...string) schema.RotationConfig {
	cfg := schema.DefaultRotationConfig()
	cfg.Pages = pages
	return cfg
}

var errSurfaceNotReady = errors.New("surface not ready")
