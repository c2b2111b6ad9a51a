package chromehost

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"pkt.systems/carousel/internal/logx"
	"pkt.systems/carousel/internal/panes"
	"pkt.systems/pslog"
)

// Transition styles.
const (
	StyleInstant = "instant"
	StyleSlide   = "slide"
)

// Renderer switches the visible tab. It implements core.Renderer.
type Renderer struct {
	style    string
	duration time.Duration
	log      pslog.Logger

	mu       sync.Mutex
	inFlight bool
}

// NewRenderer constructs a renderer. Unknown styles fall back to instant.
func NewRenderer(style string, duration time.Duration, logger pslog.Logger) *Renderer {
	if style != StyleSlide {
		style = StyleInstant
	}
	if duration < 0 {
		duration = 0
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Renderer{style: style, duration: duration, log: logger.With("component", "renderer")}
}

// Transition brings to to the front. done is always called from a separate goroutine.
func (r *Renderer) Transition(ctx context.Context, from, to *panes.Pane, done func(error)) {
	tab, err := tabOf(to)
	if err != nil {
		go done(err)
		return
	}
	r.mu.Lock()
	if r.inFlight {
		r.mu.Unlock()
		go done(fmt.Errorf("transition already in flight"))
		return
	}
	r.inFlight = true
	r.mu.Unlock()

	log := logx.WithPane(r.log, to.ID, to.Index)
	if from != nil {
		log = log.With("from", from.Index)
	}
	go func() {
		start := time.Now()
		err := r.activate(ctx, tab)
		r.mu.Lock()
		r.inFlight = false
		r.mu.Unlock()
		if err != nil {
			log.Warn("renderer transition failed", "style", r.style, "err", err)
		} else {
			log.Debug("renderer transition ok", "style", r.style, "duration_ms", time.Since(start).Milliseconds())
		}
		done(err)
	}()
}

func (r *Renderer) activate(ctx context.Context, tab *Tab) error {
	if r.style != StyleSlide || r.duration == 0 {
		return tab.runWith(ctx, page.BringToFront())
	}
	ms := r.duration.Milliseconds()
	if err := tab.runWith(ctx,
		chromedp.Evaluate(slidePrepareScript, nil),
		page.BringToFront(),
		chromedp.Evaluate(fmt.Sprintf(slideStartScript, ms), nil),
	); err != nil {
		return err
	}
	timer := time.NewTimer(r.duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return tab.runWith(ctx, chromedp.Evaluate(slideClearScript, nil))
}

// SetIndicator shows text in an overlay on pane, or removes the overlay when
// text is empty. The tab keeps the text across later loads.
func (r *Renderer) SetIndicator(_ context.Context, pane *panes.Pane, text string) {
	tab, err := tabOf(pane)
	if err != nil {
		return
	}
	log := logx.WithPane(r.log, pane.ID, pane.Index)
	if err := tab.SetIndicator(text); err != nil {
		log.Warn("renderer indicator failed", "err", err)
		return
	}
	log.Trace("renderer indicator queued", "visible", text != "")
}

func tabOf(pane *panes.Pane) (*Tab, error) {
	if pane == nil {
		return nil, fmt.Errorf("no pane")
	}
	tab, ok := pane.Handle.(*Tab)
	if !ok {
		return nil, fmt.Errorf("pane handle %T is not a chrome tab", pane.Handle)
	}
	return tab, nil
}

// runWith runs actions on the tab, abandoning them when ctx is done.
func (t *Tab) runWith(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(t.ctx, t.browser.timeout)
	defer cancel()
	if ctx != nil {
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
	}
	return chromedp.Run(runCtx, actions...)
}

const indicatorID = "__carousel_indicator"

func indicatorScript(text string) (string, error) {
	encoded, err := json.Marshal(text)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => {
  const text = %s;
  let el = document.getElementById(%q);
  if (!text) { if (el) { el.remove(); } return; }
  if (!el) {
    el = document.createElement("div");
    el.id = %q;
    el.style.cssText = "position:fixed;left:50%%;bottom:32px;transform:translateX(-50%%);z-index:2147483647;" +
      "padding:12px 20px;border-radius:8px;background:rgba(0,0,0,0.75);color:#fff;" +
      "font:16px/1.4 sans-serif;pointer-events:none;";
    (document.body || document.documentElement).appendChild(el);
  }
  el.textContent = text;
})()`, encoded, indicatorID, indicatorID), nil
}

const slidePrepareScript = `(() => {
  const el = document.documentElement;
  el.style.transition = "none";
  el.style.transform = "translateX(100%)";
  void el.offsetWidth;
})()`

const slideStartScript = `(() => {
  const el = document.documentElement;
  el.style.transition = "transform %dms ease-out";
  el.style.transform = "translateX(0)";
})()`

const slideClearScript = `(() => {
  const el = document.documentElement;
  el.style.transition = "";
  el.style.transform = "";
})()`
