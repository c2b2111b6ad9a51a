package carousel

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"pkt.systems/carousel/core"
	"pkt.systems/carousel/httpapi"
	"pkt.systems/carousel/internal/admin"
	"pkt.systems/carousel/internal/command"
	"pkt.systems/carousel/internal/configstore"
	"pkt.systems/carousel/internal/eventbus"
	"pkt.systems/carousel/internal/panes"
	"pkt.systems/carousel/internal/shortcuts"
	"pkt.systems/carousel/schema"
	"pkt.systems/pslog"
)

// Server composes the kiosk scheduler, the config watch and the operator surfaces.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	RotationFile        string
	RefreshLead         time.Duration
	HTTP                httpapi.Config
	WatchDebounce       time.Duration
	DisableAuditLogging bool
}

// KeySource delivers key combinations pressed in the panes.
type KeySource interface {
	SetKeyHandler(fn func(combo string) bool)
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	// Host is required with WithKiosk.
	Host     panes.PaneHost
	Renderer core.Renderer
	Keys     KeySource
	Clock    core.Clock
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// Listener, when set, serves the HTTP API instead of listening on HTTP.Addr.
	Listener net.Listener
	Logger   pslog.Logger
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableKiosk bool
	enableHTTP  bool
	enableWatch bool
	consoleIn   io.Reader
	consoleOut  io.Writer
}

// WithKiosk enables the rotation scheduler on deps.Host.
func WithKiosk() ServerOption {
	return func(o *serverOptions) { o.enableKiosk = true }
}

// WithHTTP enables the operator HTTP API.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// WithWatch reloads the rotation record when the file changes on disk.
func WithWatch() ServerOption {
	return func(o *serverOptions) { o.enableWatch = true }
}

// WithConsole reads slash commands from in and writes results and state
// events to out.
func WithConsole(in io.Reader, out io.Writer) ServerOption {
	return func(o *serverOptions) {
		o.consoleIn = in
		o.consoleOut = out
	}
}

// New constructs a composable carousel server. With WithKiosk the rotation
// record must load; without it the admin surface degrades to an empty record.
func New(ctx context.Context, cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableKiosk && !options.enableHTTP && options.consoleIn == nil {
		return nil, errors.New("no services enabled")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}

	store, err := configstore.NewWithOptions(cfg.RotationFile, configstore.Options{
		Fs:       deps.Fs,
		Logger:   logger,
		Debounce: cfg.WatchDebounce,
	})
	if err != nil {
		return nil, err
	}

	var hub *httpapi.Hub
	var bus *eventbus.Bus
	if options.enableHTTP {
		hub = httpapi.NewHub(cfg.HTTP.HubHistory)
	}
	if options.consoleIn != nil {
		bus = eventbus.New(logger)
	}

	srv := &compositeServer{
		cfg:      cfg,
		options:  options,
		store:    store,
		bus:      bus,
		listener: deps.Listener,
		logger:   logger,
	}

	if options.enableKiosk {
		if deps.Host == nil {
			return nil, errors.New("pane host dependency is required")
		}
		initial, err := store.Load(ctx)
		if err != nil {
			logger.Error("server config load failed", "err", err)
			return nil, err
		}
		binder := shortcuts.NewBinder(logger)
		scheduler, err := core.NewScheduler(initial, core.SchedulerDeps{
			Host:        deps.Host,
			Renderer:    deps.Renderer,
			Store:       store,
			EventSink:   newEventFanout(hub, bus),
			Shortcuts:   binder,
			Clock:       deps.Clock,
			RefreshLead: cfg.RefreshLead,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		binder.SetTarget(scheduler)
		srv.bindings = binder.Bindings
		if deps.Keys != nil {
			deps.Keys.SetKeyHandler(binder.Dispatch)
		}
		srv.scheduler = scheduler
	}

	srv.admin = admin.New(ctx, store, logger)
	if srv.scheduler != nil {
		srv.admin.Attach(srv.scheduler)
	}
	var cmdScheduler command.Scheduler
	var httpScheduler httpapi.Scheduler
	if srv.scheduler != nil {
		cmdScheduler = srv.scheduler
		httpScheduler = srv.scheduler
	}
	srv.handler = command.NewHandler(cmdScheduler, srv.admin, command.HandlerConfig{
		Quit:                srv.quit,
		DisableAuditLogging: cfg.DisableAuditLogging,
	})
	if options.enableHTTP {
		httpCfg := cfg.HTTP
		if httpCfg.Quit == nil {
			httpCfg.Quit = srv.quit
		}
		if httpCfg.Bindings == nil {
			httpCfg.Bindings = srv.bindings
		}
		srv.httpSrv = httpapi.NewServer(httpCfg, httpScheduler, srv.admin, srv.handler, hub)
	}
	return srv, nil
}

type compositeServer struct {
	cfg       ServerConfig
	options   serverOptions
	store     *configstore.Store
	scheduler *core.Scheduler
	admin     *admin.Service
	handler   *command.Handler
	httpSrv   *httpapi.Server
	bus       *eventbus.Bus
	bindings  func() map[string]shortcuts.Action
	listener  net.Listener
	logger    pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	started bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(pslog.ContextWithLogger(ctx, s.logger))
	s.done = make(chan struct{})
	s.started = true
	runCtx := s.ctx
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"kiosk", s.scheduler != nil,
		"http", s.httpSrv != nil,
		"watch", s.options.enableWatch,
		"console", s.options.consoleIn != nil,
		"rotation_file", s.store.Path(),
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_path", s.cfg.HTTP.BasePath,
	)

	g, gctx := errgroup.WithContext(runCtx)
	if s.scheduler != nil {
		g.Go(func() error {
			if err := s.scheduler.Run(gctx); err != nil {
				log.Error("scheduler failed", "err", err)
				return err
			}
			return nil
		})
	}
	if s.options.enableWatch {
		g.Go(func() error {
			if err := s.store.Watch(gctx, s.reload); err != nil {
				log.Error("config watch failed", "err", err)
				return err
			}
			return nil
		})
	}
	if s.httpSrv != nil {
		g.Go(func() error {
			var err error
			if s.listener != nil {
				err = httpapi.Serve(gctx, s.listener, s.httpSrv.Handler())
			} else {
				err = httpapi.ListenAndServe(gctx, s.cfg.HTTP.Addr, s.httpSrv.Handler())
			}
			if err != nil {
				log.Error("http server failed", "err", err)
				return err
			}
			return nil
		})
	}
	if s.options.consoleIn != nil {
		c := newConsole(s.options.consoleIn, s.options.consoleOut, s.handler, s.bus)
		g.Go(func() error { return c.run(gctx) })
	}
	go func() {
		err := g.Wait()
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.cancel()
		close(s.done)
	}()
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	done := s.done
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}
	<-done
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		s.logger.Error("server stopped", "err", s.err)
	}
	return s.err
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-done:
		log.Info("server stopped")
		return nil
	}
}

func (s *compositeServer) quit() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	s.logger.Info("server quit requested")
	if cancel != nil {
		cancel()
	}
}

// reload adopts a record the watch loaded from disk. A broken file keeps the
// last good record running, and unsaved admin edits win over the file.
func (s *compositeServer) reload(cfg schema.RotationConfig, err error) {
	if err != nil {
		s.logger.Warn("server config reload failed", "err", err)
		return
	}
	effective, adopted := s.admin.Sync(cfg)
	if !adopted {
		s.logger.Warn("server config reload kept unsaved edits", "pages", len(effective.Pages))
	}
	if s.scheduler == nil {
		s.logger.Info("server config reload ok", "pages", len(effective.Pages))
		return
	}
	if err := s.scheduler.ApplyConfig(effective); err != nil {
		s.logger.Warn("server config apply failed", "err", err)
		return
	}
	s.logger.Info("server config reload ok", "pages", len(effective.Pages))
}
