package chromehost

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"pkt.systems/carousel/internal/panes"
	"pkt.systems/pslog"
)

const defaultCommandTimeout = 30 * time.Second

// Options configures the browser process.
type Options struct {
	ExecPath     string
	ProfileDir   string
	Headless     bool
	Kiosk        bool
	WindowWidth  int
	WindowHeight int
	Flags        []string
	// CommandTimeout bounds each CDP round-trip issued on behalf of a pane.
	CommandTimeout time.Duration
	Logger         pslog.Logger
}

// Browser owns one Chrome process. Every pane is a tab in that process, so
// all panes share the profile (cookies, storage, logins).
type Browser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	rootCtx     context.Context
	rootCancel  context.CancelFunc
	timeout     time.Duration
	log         pslog.Logger

	mu     sync.Mutex
	keys   func(combo string) bool
	tabs   map[*Tab]struct{}
	closed bool
}

// Launch starts Chrome and waits for the browser to come up.
func Launch(ctx context.Context, opts Options) (*Browser, error) {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	logger = logger.With("component", "chrome")
	if opts.ProfileDir != "" {
		if err := os.MkdirAll(opts.ProfileDir, 0o700); err != nil {
			return nil, fmt.Errorf("ensure profile dir %s: %w", opts.ProfileDir, err)
		}
	}
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	// The browser must outlive any single request context; it is torn down by Close.
	base := context.WithoutCancel(ctx)
	allocCtx, allocCancel := chromedp.NewExecAllocator(base, allocatorOptions(opts)...)
	rootCtx, rootCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) { logger.Debug("chrome log", "msg", fmt.Sprintf(format, args...)) }),
		chromedp.WithErrorf(func(format string, args ...any) { logger.Warn("chrome error", "msg", fmt.Sprintf(format, args...)) }),
	)
	// The first Run starts the process; a deadline on it would kill the browser.
	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Run(rootCtx) }()
	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	case <-time.After(timeout):
		err = fmt.Errorf("timed out after %s", timeout)
	}
	if err != nil {
		rootCancel()
		allocCancel()
		logger.Error("chrome launch failed", "err", err)
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	logger.Info("chrome launch ok", "headless", opts.Headless, "kiosk", opts.Kiosk, "profile_dir", opts.ProfileDir)
	return &Browser{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		rootCtx:     rootCtx,
		rootCancel:  rootCancel,
		timeout:     timeout,
		log:         logger,
		tabs:        make(map[*Tab]struct{}),
	}, nil
}

func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	out = append(out, chromedp.Flag("headless", opts.Headless))
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.ProfileDir != "" {
		out = append(out, chromedp.UserDataDir(opts.ProfileDir))
	}
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		out = append(out, chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight))
	}
	if opts.Kiosk && !opts.Headless {
		out = append(out,
			chromedp.Flag("kiosk", true),
			chromedp.Flag("noerrdialogs", true),
			chromedp.Flag("disable-infobars", true),
		)
	}
	for _, flag := range opts.Flags {
		name, value, ok := parseFlag(flag)
		if !ok {
			continue
		}
		out = append(out, chromedp.Flag(name, value))
	}
	return out
}

// parseFlag accepts "--name", "--name=value" and "name=value".
func parseFlag(raw string) (string, any, bool) {
	trimmed := strings.TrimLeft(strings.TrimSpace(raw), "-")
	if trimmed == "" {
		return "", nil, false
	}
	name, value, hasValue := strings.Cut(trimmed, "=")
	if !hasValue {
		return name, true, true
	}
	switch strings.ToLower(value) {
	case "true":
		return name, true, true
	case "false":
		return name, false, true
	}
	return name, value, true
}

// SetKeyHandler installs the receiver for canonical key combinations
// captured in any pane. fn reports whether the combination was bound.
func (b *Browser) SetKeyHandler(fn func(combo string) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = fn
}

func (b *Browser) dispatchKey(tab *Tab, payload string) {
	b.mu.Lock()
	fn := b.keys
	b.mu.Unlock()
	combo, ok := comboFromPayload(payload)
	if !ok {
		tab.log.Debug("chrome key ignored", "payload", payload)
		return
	}
	if fn == nil {
		return
	}
	bound := fn(combo)
	tab.log.Debug("chrome key", "combo", combo, "bound", bound)
}

// CreatePane opens a new tab showing address.
func (b *Browser) CreatePane(ctx context.Context, address string) (panes.PaneHandle, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.New("browser closed")
	}
	b.mu.Unlock()

	tab, err := openTab(ctx, b, address)
	if err != nil {
		b.log.Warn("chrome pane create failed", "address", address, "err", err)
		return nil, err
	}
	b.mu.Lock()
	b.tabs[tab] = struct{}{}
	b.mu.Unlock()
	tab.log.Info("chrome pane create ok")
	return tab, nil
}

// DestroyPane closes the tab behind handle.
func (b *Browser) DestroyPane(ctx context.Context, handle panes.PaneHandle) error {
	tab, ok := handle.(*Tab)
	if !ok {
		return fmt.Errorf("pane handle %T does not belong to this browser", handle)
	}
	b.mu.Lock()
	delete(b.tabs, tab)
	b.mu.Unlock()
	if err := tab.close(ctx); err != nil {
		tab.log.Warn("chrome pane destroy failed", "err", err)
		return err
	}
	tab.log.Info("chrome pane destroy ok")
	return nil
}

// Close closes every tab and stops the browser process.
func (b *Browser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	tabs := b.tabs
	b.tabs = map[*Tab]struct{}{}
	b.mu.Unlock()

	for tab := range tabs {
		tab.mu.Lock()
		tab.closed = true
		tab.mu.Unlock()
		tab.cancel()
	}
	err := chromedp.Cancel(b.rootCtx)
	b.rootCancel()
	b.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		b.log.Warn("chrome close failed", "err", err)
		return err
	}
	b.log.Info("chrome close ok")
	return nil
}
