package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/carousel/internal/logx"
	"pkt.systems/carousel/internal/panes"
	"pkt.systems/carousel/schema"
	"pkt.systems/pslog"
)

const opQueueSize = 128

// Scheduler drives pane rotation, pre-refresh, pauses and manual jumps.
//
// All state is owned by a single loop goroutine started by Run. Exported
// methods are safe for concurrent use; each posts its work onto the loop and
// waits for the result.
type Scheduler struct {
	registry  *panes.Registry
	renderer  Renderer
	store     DirectiveStore
	sink      EventSink
	shortcuts ShortcutRebinder
	clock     Clock
	lead      time.Duration
	logger    pslog.Logger

	ops       chan func()
	quit      chan struct{}
	stopped   chan struct{}
	started   atomic.Bool
	closeOnce sync.Once

	// Loop-owned.
	ctx        context.Context
	cfg        schema.RotationConfig
	current    int
	phase      schema.Phase
	rotation   slot
	prerefresh slot
	resume     slot
	resumeAt   time.Time
	indicator  string
	marked     *panes.Pane
	seq        uint64
	inflight   *transition
	pending    *request
	lastErr    string
}

// NewScheduler constructs a scheduler for the initial rotation record.
func NewScheduler(cfg schema.RotationConfig, deps SchedulerDeps) (*Scheduler, error) {
	if deps.Host == nil {
		return nil, errors.New("pane host is required")
	}
	if err := schema.ValidateRotationConfig(cfg); err != nil {
		return nil, err
	}
	if deps.Renderer == nil {
		deps.Renderer = NewInstantRenderer()
	}
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.RefreshLead < 0 {
		deps.RefreshLead = 0
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Scheduler{
		registry:  panes.NewRegistry(deps.Host, logger),
		renderer:  deps.Renderer,
		store:     deps.Store,
		sink:      deps.EventSink,
		shortcuts: deps.Shortcuts,
		clock:     deps.Clock,
		lead:      deps.RefreshLead,
		logger:    logger,
		ops:       make(chan func(), opQueueSize),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		cfg:       cfg.Clone(),
		phase:     schema.PhaseRunning,
	}, nil
}

// Run starts the loop and blocks until ctx is done or Close is called.
// Panes are created from the initial record before the first timer is armed.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler already running")
	}
	defer close(s.stopped)
	s.ctx = logx.ContextWithComponentLogger(ctx, s.logger, "scheduler")
	s.logger = logx.WithComponent(s.ctx, "scheduler")
	s.start()
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-s.quit:
			s.shutdown()
			return nil
		case fn := <-s.ops:
			fn()
		}
	}
}

// Close stops the loop. Pending timers are cancelled and panes destroyed.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	if s.started.Load() {
		<-s.stopped
	}
}

// TogglePause pauses a running scheduler or resumes a paused one.
func (s *Scheduler) TogglePause() (schema.Phase, error) {
	var phase schema.Phase
	err := s.call(func() {
		s.togglePause()
		phase = s.phase
	})
	return phase, err
}

// JumpTo shows pane i and imposes the jump cooldown.
func (s *Scheduler) JumpTo(i int) error {
	var result error
	if err := s.call(func() { result = s.jumpTo(i) }); err != nil {
		return err
	}
	return result
}

// Next jumps to the pane after the current one.
func (s *Scheduler) Next() error {
	var result error
	if err := s.call(func() {
		count := s.registry.Count()
		if count == 0 {
			result = schema.ErrNoPanes
			return
		}
		result = s.jumpTo((s.base() + 1) % count)
	}); err != nil {
		return err
	}
	return result
}

// ApplyConfig reconciles panes and timers against a reloaded record.
func (s *Scheduler) ApplyConfig(cfg schema.RotationConfig) error {
	if err := schema.ValidateRotationConfig(cfg); err != nil {
		return err
	}
	cfg = cfg.Clone()
	return s.call(func() { s.applyConfig(cfg) })
}

// RefreshPane reloads pane i now, in any phase.
func (s *Scheduler) RefreshPane(i int) error {
	var result error
	if err := s.call(func() { result = s.reload(i, "manual") }); err != nil {
		return err
	}
	return result
}

// RefreshAll reloads every pane now, in any phase.
func (s *Scheduler) RefreshAll() error {
	var result error
	if err := s.call(func() { result = s.reloadAll("manual") }); err != nil {
		return err
	}
	return result
}

// State returns a snapshot of the scheduler.
func (s *Scheduler) State() (schema.StateSnapshot, error) {
	var snap schema.StateSnapshot
	err := s.call(func() { snap = s.snapshot() })
	return snap, err
}

// Config returns the record the scheduler is currently applying.
func (s *Scheduler) Config() (schema.RotationConfig, error) {
	var cfg schema.RotationConfig
	err := s.call(func() { cfg = s.cfg.Clone() })
	return cfg, err
}

func (s *Scheduler) call(fn func()) error {
	done := make(chan struct{})
	if !s.post(func() {
		fn()
		close(done)
	}) {
		return schema.ErrSchedulerClosed
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return schema.ErrSchedulerClosed
	}
}

func (s *Scheduler) post(fn func()) bool {
	select {
	case <-s.stopped:
		return false
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.ops <- fn:
		return true
	case <-s.stopped:
		return false
	case <-s.quit:
		return false
	}
}

func (s *Scheduler) shutdown() {
	s.disarm(&s.rotation)
	s.disarm(&s.prerefresh)
	s.disarm(&s.resume)
	s.inflight = nil
	s.pending = nil
	s.marked = nil
	ctx := context.WithoutCancel(s.ctx)
	if err := s.registry.Close(ctx); err != nil {
		s.logger.Warn("scheduler pane close failed", "err", err)
	}
	s.logger.Info("scheduler stopped")
}
