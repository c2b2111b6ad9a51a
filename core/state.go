package core

import (
	"fmt"
	"time"

	"pkt.systems/carousel/internal/logx"
	"pkt.systems/carousel/internal/panes"
	"pkt.systems/carousel/schema"
)

const disabledIndicator = "Rotation is disabled. Use a shortcut to switch pages."

func pausedIndicator(d time.Duration) string {
	return fmt.Sprintf("Screen is paused. Press Ctrl+P to resume, or auto-resume in %.1f seconds.", d.Seconds())
}

func (s *Scheduler) start() {
	if _, err := s.registry.Reconcile(s.ctx, s.cfg.Pages); err != nil {
		s.reportError("reconcile", err)
	}
	s.rebind()
	if s.cfg.IntervalMS > 0 {
		s.enterRunning("start")
	} else {
		s.phase = schema.PhaseManuallyPaused
		s.setIndicator(disabledIndicator)
		s.publish(schema.EventState, "start")
	}
	s.logger.Info("scheduler started", "pane_count", s.registry.Count(), "interval_ms", s.cfg.IntervalMS, "phase", s.phase)
	s.consumeDirective()
}

func (s *Scheduler) enterRunning(reason string) {
	s.disarm(&s.resume)
	s.resumeAt = time.Time{}
	s.phase = schema.PhaseRunning
	s.setIndicator("")
	s.armRotation()
	logx.WithPhase(s.logger, s.phase).Info("scheduler phase change", "reason", reason, "rotating", s.rotation.live())
	s.publish(schema.EventState, reason)
}

func (s *Scheduler) enterManualPause() {
	s.disarm(&s.rotation)
	s.disarm(&s.prerefresh)
	s.phase = schema.PhaseManuallyPaused
	d := s.cfg.PauseDuration()
	s.resumeAt = s.clock.Now().Add(d)
	s.arm(&s.resume, d, "resume", func() { s.enterRunning("pause expired") })
	s.setIndicator(pausedIndicator(d))
	logx.WithPhase(s.logger, s.phase).Info("scheduler phase change", "reason", "pause", "resume_ms", d.Milliseconds())
	s.publish(schema.EventState, "pause")
}

// enterCooldown arms the post-jump auto-resume.
func (s *Scheduler) enterCooldown() {
	s.disarm(&s.rotation)
	s.disarm(&s.prerefresh)
	s.phase = schema.PhaseCooldownPaused
	d := s.cfg.TabPauseDuration()
	s.resumeAt = s.clock.Now().Add(d)
	s.arm(&s.resume, d, "resume", func() { s.enterRunning("cooldown expired") })
	s.setIndicator(pausedIndicator(d))
	logx.WithPhase(s.logger, s.phase).Info("scheduler phase change", "reason", "cooldown", "resume_ms", d.Milliseconds())
	s.publish(schema.EventState, "cooldown")
}

func (s *Scheduler) togglePause() {
	if s.phase == schema.PhaseRunning {
		s.enterManualPause()
		return
	}
	s.enterRunning("resume")
}

func (s *Scheduler) jumpTo(i int) error {
	count := s.registry.Count()
	if i < 0 || i >= count {
		return &schema.IndexError{Index: i, Count: count}
	}
	s.disarm(&s.rotation)
	s.disarm(&s.prerefresh)
	s.disarm(&s.resume)
	s.resumeAt = time.Time{}
	s.phase = schema.PhaseCooldownPaused
	s.logger.Info("scheduler jump start", "target", i, "current", s.current)
	s.publish(schema.EventState, "jump")
	s.requestTransition(i, originJump)
	return nil
}

// armRotation re-arms the running timer set for a full interval.
func (s *Scheduler) armRotation() {
	s.disarm(&s.rotation)
	s.disarm(&s.prerefresh)
	count := s.registry.Count()
	if s.cfg.IntervalMS <= 0 || count == 0 {
		return
	}
	interval := s.cfg.Interval()
	s.arm(&s.rotation, interval, "rotation", s.onRotate)
	if count > 1 {
		s.arm(&s.prerefresh, max(0, interval-s.lead), "prerefresh", s.onPrerefresh)
	}
}

func (s *Scheduler) onRotate() {
	if s.phase != schema.PhaseRunning {
		return
	}
	s.armRotation()
	count := s.registry.Count()
	if count <= 1 {
		s.logger.Trace("scheduler rotate skipped", "pane_count", count)
		return
	}
	s.requestTransition((s.base()+1)%count, originRotation)
}

func (s *Scheduler) onPrerefresh() {
	count := s.registry.Count()
	if s.phase != schema.PhaseRunning || count <= 1 {
		return
	}
	target := (s.base() + 1) % count
	if target == s.current {
		s.logger.Debug("scheduler prerefresh skipped visible", "target", target)
		return
	}
	if s.inflight != nil && s.inflight.target == target {
		s.logger.Debug("scheduler prerefresh skipped in-flight", "target", target)
		return
	}
	_ = s.reload(target, "prerefresh")
}

func (s *Scheduler) applyConfig(cfg schema.RotationConfig) {
	oldCount := s.registry.Count()
	oldAddress := s.currentAddress()
	oldInterval := s.cfg.IntervalMS

	result, err := s.registry.Reconcile(s.ctx, cfg.Pages)
	if err != nil {
		s.reportError("reconcile", err)
	}
	s.cfg = cfg
	count := s.registry.Count()
	if s.current >= count {
		clamped := max(0, count-1)
		s.logger.Info("scheduler current clamped", "from", s.current, "to", clamped, "pane_count", count)
		s.current = clamped
	}
	s.rebind()

	disrupted := count != oldCount || s.currentAddress() != oldAddress || cfg.IntervalMS != oldInterval
	switch {
	case s.phase == schema.PhaseRunning && disrupted:
		s.armRotation()
	case s.phase == schema.PhaseManuallyPaused && !s.resume.live() && cfg.IntervalMS > 0:
		// Rotation was disabled at start and has now been enabled.
		s.enterRunning("interval enabled")
	}
	if disrupted && s.indicator != "" {
		s.showIndicator()
	}
	s.logger.Info("scheduler config applied",
		"pane_count", count,
		"created", len(result.Created),
		"destroyed", len(result.Destroyed),
		"repointed", len(result.Repointed),
		"disrupted", disrupted,
	)
	s.publish(schema.EventConfig, "reload")
	s.consumeDirective()
}

// consumeDirective applies a pending refresh directive, then clears and persists it.
func (s *Scheduler) consumeDirective() {
	directive := s.cfg.Refresh
	if !directive.Pending() {
		return
	}
	if directive.RefreshAll {
		_ = s.reloadAll("directive")
	} else if directive.RefreshPane != nil {
		_ = s.reload(*directive.RefreshPane, "directive")
	}
	s.cfg.Refresh = schema.RefreshDirective{}
	if s.store == nil {
		return
	}
	if err := s.store.SaveDirective(s.ctx, schema.RefreshDirective{}); err != nil {
		s.reportError("directive save", err)
		return
	}
	s.logger.Debug("scheduler directive cleared")
}

func (s *Scheduler) reload(i int, reason string) error {
	pane, err := s.registry.ByIndex(i)
	if err != nil {
		s.reportError("refresh", err)
		return err
	}
	log := logx.WithPane(s.logger, pane.ID, i)
	if err := pane.Handle.Reload(); err != nil {
		log.Warn("scheduler refresh failed", "reason", reason, "err", err)
		s.reportError("refresh", err)
		return err
	}
	log.Debug("scheduler refresh ok", "reason", reason)
	s.restoreIndicator(i)
	s.publishRefresh(reason, i)
	return nil
}

func (s *Scheduler) reloadAll(reason string) error {
	count := s.registry.Count()
	if count == 0 {
		return schema.ErrNoPanes
	}
	var firstErr error
	reloaded := make([]int, 0, count)
	for i := 0; i < count; i++ {
		pane, _ := s.registry.ByIndex(i)
		if err := pane.Handle.Reload(); err != nil {
			logx.WithPane(s.logger, pane.ID, i).Warn("scheduler refresh failed", "reason", reason, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		reloaded = append(reloaded, i)
	}
	if firstErr != nil {
		s.reportError("refresh", firstErr)
	}
	s.logger.Debug("scheduler refresh all ok", "reason", reason, "reloaded", len(reloaded))
	s.restoreIndicator(reloaded...)
	s.publishRefresh(reason, reloaded...)
	return firstErr
}

func (s *Scheduler) rebind() {
	if s.shortcuts == nil {
		return
	}
	s.shortcuts.Rebuild(s.cfg.Shortcuts, s.registry.Count())
}

func (s *Scheduler) setIndicator(text string) {
	if text == s.indicator {
		return
	}
	s.indicator = text
	s.showIndicator()
}

// showIndicator writes the indicator to the visible pane. A pane left
// carrying text from an earlier phase is cleared first.
func (s *Scheduler) showIndicator() {
	pane, err := s.registry.ByIndex(s.current)
	if err != nil {
		return
	}
	if prev := s.marked; prev != nil && prev != pane && s.registered(prev) {
		s.renderer.SetIndicator(s.ctx, prev, "")
	}
	s.marked = nil
	if s.indicator != "" {
		s.marked = pane
	}
	s.renderer.SetIndicator(s.ctx, pane, s.indicator)
}

// restoreIndicator re-sends the indicator after the visible pane reloaded.
func (s *Scheduler) restoreIndicator(reloaded ...int) {
	if s.indicator == "" {
		return
	}
	for _, i := range reloaded {
		if i == s.current {
			s.showIndicator()
			return
		}
	}
}

func (s *Scheduler) registered(pane *panes.Pane) bool {
	current, err := s.registry.ByIndex(pane.Index)
	return err == nil && current == pane
}

func (s *Scheduler) currentAddress() string {
	pane, err := s.registry.ByIndex(s.current)
	if err != nil {
		return ""
	}
	return pane.Address
}

func (s *Scheduler) reportError(op string, err error) {
	s.lastErr = err.Error()
	s.logger.Warn("scheduler "+op+" failed", "err", err)
	if s.sink == nil {
		return
	}
	s.sink.OnStateEvent(schema.StateEvent{
		Type:      schema.EventError,
		Reason:    op,
		State:     s.snapshot(),
		Error:     err.Error(),
		Timestamp: s.clock.Now(),
	})
}

func (s *Scheduler) publish(kind schema.EventType, reason string) {
	if s.sink == nil {
		return
	}
	s.sink.OnStateEvent(schema.StateEvent{
		Type:      kind,
		Reason:    reason,
		State:     s.snapshot(),
		Timestamp: s.clock.Now(),
	})
}

func (s *Scheduler) publishRefresh(reason string, indices ...int) {
	if s.sink == nil {
		return
	}
	s.sink.OnStateEvent(schema.StateEvent{
		Type:      schema.EventRefresh,
		Reason:    reason,
		State:     s.snapshot(),
		Panes:     indices,
		Timestamp: s.clock.Now(),
	})
}

func (s *Scheduler) snapshot() schema.StateSnapshot {
	snap := schema.StateSnapshot{
		Phase:       s.phase,
		Current:     s.current,
		PaneCount:   s.registry.Count(),
		IntervalMS:  s.cfg.IntervalMS,
		Indicator:   s.indicator,
		InFlight:    s.inflight != nil,
		Panes:       s.registry.Snapshot(s.current),
		LastError:   s.lastErr,
		Rotating:    s.rotation.live(),
		RefreshLead: int(s.lead.Milliseconds()),
	}
	if s.resume.live() {
		at := s.resumeAt
		snap.ResumeAt = &at
	}
	return snap
}
