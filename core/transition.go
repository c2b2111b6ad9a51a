package core

import (
	"sync"

	"pkt.systems/carousel/schema"
)

type origin string

const (
	originRotation origin = "rotate"
	originJump     origin = "jump"
)

type request struct {
	target int
	origin origin
}

// transition is one renderer invocation. done may arrive from any goroutine,
// including synchronously from inside Renderer.Transition.
type transition struct {
	id     uint64
	from   int
	target int
	origin origin

	mu       sync.Mutex
	calling  bool
	fired    bool
	syncDone bool
	syncErr  error
}

// requestTransition starts a transition or coalesces it into the pending slot.
func (s *Scheduler) requestTransition(target int, o origin) {
	if s.inflight != nil {
		if s.pending != nil {
			s.logger.Debug("scheduler transition coalesced", "dropped", s.pending.target, "target", target)
		}
		s.pending = &request{target: target, origin: o}
		return
	}
	s.startTransition(request{target: target, origin: o})
}

func (s *Scheduler) startTransition(req request) {
	to, err := s.registry.ByIndex(req.target)
	if err != nil {
		s.reportError("transition", err)
		s.settle(req.origin)
		s.startPending()
		return
	}
	from, err := s.registry.ByIndex(s.current)
	if err != nil {
		from = nil
	}
	if req.target == s.current && from != nil {
		s.logger.Debug("scheduler transition skipped", "target", req.target, "origin", req.origin)
		s.settle(req.origin)
		s.startPending()
		return
	}
	s.seq++
	t := &transition{id: s.seq, from: s.current, target: req.target, origin: req.origin}
	s.inflight = t
	s.logger.Debug("scheduler transition start", "from", t.from, "to", t.target, "origin", t.origin, "transition", t.id)

	t.mu.Lock()
	t.calling = true
	t.mu.Unlock()
	s.renderer.Transition(s.ctx, from, to, s.completion(t))
	t.mu.Lock()
	t.calling = false
	done, doneErr := t.syncDone, t.syncErr
	t.mu.Unlock()
	if done {
		s.finishTransition(t, doneErr)
	}
}

func (s *Scheduler) completion(t *transition) func(error) {
	return func(err error) {
		t.mu.Lock()
		if t.fired {
			t.mu.Unlock()
			return
		}
		t.fired = true
		if t.calling {
			t.syncDone = true
			t.syncErr = err
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
		s.post(func() { s.finishTransition(t, err) })
	}
}

func (s *Scheduler) finishTransition(t *transition, err error) {
	if s.inflight == nil || s.inflight.id != t.id {
		s.logger.Debug("scheduler transition stale", "transition", t.id)
		return
	}
	s.inflight = nil
	switch {
	case err != nil:
		s.reportError("transition", &schema.RenderError{From: t.from, To: t.target, Err: err})
	case t.target >= s.registry.Count():
		s.logger.Info("scheduler transition dropped", "target", t.target, "pane_count", s.registry.Count())
	default:
		s.current = t.target
		s.logger.Info("scheduler "+string(t.origin)+" ok", "from", t.from, "current", s.current)
		s.showIndicator()
		s.publish(schema.EventState, string(t.origin))
	}
	s.settle(t.origin)
	s.startPending()
}

// settle runs the phase bookkeeping owed to a finished request.
func (s *Scheduler) settle(o origin) {
	if o == originJump && s.phase == schema.PhaseCooldownPaused && s.pending == nil {
		s.enterCooldown()
	}
}

func (s *Scheduler) startPending() {
	if s.inflight != nil || s.pending == nil {
		return
	}
	req := *s.pending
	s.pending = nil
	s.startTransition(req)
}

// base is the pane that will be visible once the in-flight transition lands.
func (s *Scheduler) base() int {
	if s.pending != nil {
		return s.pending.target
	}
	if s.inflight != nil {
		return s.inflight.target
	}
	return s.current
}
