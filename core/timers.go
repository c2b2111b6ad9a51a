package core

import "time"

// slot holds at most one live timer. The token invalidates callbacks that
// were already dispatched when the slot was re-armed or cancelled.
type slot struct {
	timer Timer
	token uint64
}

func (sl *slot) live() bool {
	return sl.timer != nil
}

func (s *Scheduler) arm(sl *slot, d time.Duration, name string, fn func()) {
	s.disarm(sl)
	if d < 0 {
		d = 0
	}
	s.seq++
	token := s.seq
	sl.token = token
	sl.timer = s.clock.AfterFunc(d, func() {
		s.post(func() {
			if sl.token != token {
				s.logger.Trace("scheduler timer stale", "timer", name)
				return
			}
			sl.timer = nil
			sl.token = 0
			fn()
		})
	})
	s.logger.Trace("scheduler timer armed", "timer", name, "after_ms", d.Milliseconds())
}

func (s *Scheduler) disarm(sl *slot) {
	if sl.timer != nil {
		sl.timer.Stop()
	}
	sl.timer = nil
	sl.token = 0
}
