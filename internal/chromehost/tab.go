package chromehost

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"pkt.systems/pslog"
)

const tabQueueDepth = 16

var errTabClosed = errors.New("tab closed")

type tabJob struct {
	name   string
	action chromedp.Action
	// load marks jobs that replace the document.
	load bool
}

// Tab is one pane: a browser tab with its own load queue. Navigations,
// reloads and indicator updates run in order on the tab's worker, and the
// indicator is put back after every load.
type Tab struct {
	browser *Browser
	ctx     context.Context
	cancel  context.CancelFunc
	log     pslog.Logger
	queue   chan tabJob
	done    chan struct{}

	mu        sync.Mutex
	closed    bool
	address   string
	indicator string
}

func openTab(ctx context.Context, b *Browser, address string) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(b.rootCtx)
	t := &Tab{
		browser: b,
		ctx:     tabCtx,
		cancel:  cancel,
		log:     b.log,
		queue:   make(chan tabJob, tabQueueDepth),
		done:    make(chan struct{}),
		address: address,
	}
	chromedp.ListenTarget(tabCtx, func(ev any) {
		if called, ok := ev.(*runtime.EventBindingCalled); ok && called.Name == keyBinding {
			go b.dispatchKey(t, called.Payload)
		}
	})

	// The first Run allocates the target and binds its lifetime to tabCtx,
	// so it must not carry a deadline.
	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Run(tabCtx, installPageScripts()) }()
	select {
	case err := <-errCh:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("open tab: %w", err)
		}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	case <-time.After(b.timeout):
		cancel()
		return nil, fmt.Errorf("open tab: timed out after %s", b.timeout)
	}
	if c := chromedp.FromContext(tabCtx); c != nil && c.Target != nil {
		t.log = b.log.With("target", string(c.Target.TargetID))
	}
	go t.work()
	if err := t.Navigate(address); err != nil {
		cancel()
		return nil, err
	}
	return t, nil
}

func installPageScripts() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := runtime.AddBinding(keyBinding).Do(ctx); err != nil {
			return fmt.Errorf("add key binding: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(keyCaptureScript).Do(ctx); err != nil {
			return fmt.Errorf("install key capture: %w", err)
		}
		return nil
	})
}

// Navigate queues a navigation to address.
func (t *Tab) Navigate(address string) error {
	if err := t.enqueue(tabJob{name: "navigate", action: chromedp.Navigate(address), load: true}); err != nil {
		return err
	}
	t.mu.Lock()
	t.address = address
	t.mu.Unlock()
	return nil
}

// Reload queues a reload of the current document.
func (t *Tab) Reload() error {
	return t.enqueue(tabJob{name: "reload", action: chromedp.Reload(), load: true})
}

// SetIndicator queues an overlay update. Empty text removes the overlay.
func (t *Tab) SetIndicator(text string) error {
	job, err := indicatorJob(text)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.indicator = text
	t.mu.Unlock()
	return t.enqueue(job)
}

// Indicator returns the overlay text the tab keeps showing.
func (t *Tab) Indicator() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.indicator
}

// followUp returns the job that restores the overlay after job replaced the document.
func (t *Tab) followUp(job tabJob) (tabJob, bool) {
	if !job.load {
		return tabJob{}, false
	}
	text := t.Indicator()
	if text == "" {
		return tabJob{}, false
	}
	restore, err := indicatorJob(text)
	if err != nil {
		return tabJob{}, false
	}
	restore.name = "indicator restore"
	return restore, true
}

func indicatorJob(text string) (tabJob, error) {
	script, err := indicatorScript(text)
	if err != nil {
		return tabJob{}, err
	}
	return tabJob{name: "indicator", action: chromedp.Evaluate(script, nil)}, nil
}

// Address returns the last address navigated to.
func (t *Tab) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.address
}

func (t *Tab) enqueue(job tabJob) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTabClosed
	}
	select {
	case t.queue <- job:
		return nil
	default:
		return fmt.Errorf("tab %s queue full", job.name)
	}
}

func (t *Tab) work() {
	defer close(t.done)
	for {
		select {
		case <-t.ctx.Done():
			return
		case job := <-t.queue:
			if !t.runJob(job) {
				return
			}
			if restore, ok := t.followUp(job); ok {
				if !t.runJob(restore) {
					return
				}
			}
		}
	}
}

// runJob reports false once the tab context is gone.
func (t *Tab) runJob(job tabJob) bool {
	start := time.Now()
	if err := t.run(job.action); err != nil {
		if t.ctx.Err() != nil {
			return false
		}
		t.log.Warn("chrome pane "+job.name+" failed", "err", err)
		return true
	}
	t.log.Debug("chrome pane "+job.name+" ok", "duration_ms", time.Since(start).Milliseconds())
	return true
}

// run executes actions on the tab with the browser's command timeout.
func (t *Tab) run(actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(t.ctx, t.browser.timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

func (t *Tab) close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Cancel(t.ctx) }()
	select {
	case err := <-errCh:
		t.cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-ctx.Done():
		t.cancel()
		return ctx.Err()
	}
}
