package carousel

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"pkt.systems/carousel/core"
	"pkt.systems/carousel/httpapi"
	"pkt.systems/carousel/internal/eventbus"
	"pkt.systems/carousel/internal/panes"
	"pkt.systems/carousel/schema"
)

const testRotationFile = "/kiosk/urls.json"

type stubHandle struct {
	mu      sync.Mutex
	address string
	reloads int
}

func (h *stubHandle) Navigate(address string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.address = address
	return nil
}

func (h *stubHandle) Reload() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reloads++
	return nil
}

type stubHost struct {
	mu        sync.Mutex
	created   int
	destroyed int
}

func (h *stubHost) CreatePane(_ context.Context, address string) (panes.PaneHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created++
	return &stubHandle{address: address}, nil
}

func (h *stubHost) DestroyPane(context.Context, panes.PaneHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed++
	return nil
}

func (h *stubHost) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.created, h.destroyed
}

type stubKeys struct {
	fn func(string) bool
}

func (k *stubKeys) SetKeyHandler(fn func(combo string) bool) { k.fn = fn }

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func memFs(t *testing.T, record string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	if record == "" {
		return fs
	}
	if err := afero.WriteFile(fs, testRotationFile, []byte(record), 0o644); err != nil {
		t.Fatalf("write record: %v", err)
	}
	return fs
}

func newKiosk(t *testing.T, host *stubHost, keys KeySource, opts ...ServerOption) *compositeServer {
	t.Helper()
	fs := memFs(t, `{"urls":["https://a.example","https://b.example"],"interval":60000}`)
	srv, err := New(context.Background(), ServerConfig{
		RotationFile: testRotationFile,
		RefreshLead:  3 * time.Second,
	}, ServerDeps{
		Host:     host,
		Renderer: core.NewInstantRenderer(),
		Keys:     keys,
		Fs:       fs,
	}, append([]ServerOption{WithKiosk()}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv.(*compositeServer)
}

func stopServer(t *testing.T, srv Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := srv.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestNewRequiresAService(t *testing.T) {
	if _, err := New(context.Background(), ServerConfig{RotationFile: testRotationFile}, ServerDeps{Fs: memFs(t, "")}); err == nil {
		t.Fatalf("expected error without services")
	}
}

func TestNewKioskFailsWithoutRecord(t *testing.T) {
	_, err := New(context.Background(), ServerConfig{RotationFile: testRotationFile}, ServerDeps{
		Host: &stubHost{},
		Fs:   memFs(t, ""),
	}, WithKiosk())
	if !errors.Is(err, schema.ErrConfigNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNewKioskRequiresHost(t *testing.T) {
	_, err := New(context.Background(), ServerConfig{RotationFile: testRotationFile}, ServerDeps{
		Fs: memFs(t, `{"urls":["https://a.example"]}`),
	}, WithKiosk())
	if err == nil {
		t.Fatalf("expected error without pane host")
	}
}

func TestAdminModeDegradesAndRejectsSchedulerCalls(t *testing.T) {
	srv, err := New(context.Background(), ServerConfig{RotationFile: testRotationFile}, ServerDeps{Fs: memFs(t, "")}, WithHTTP())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cs := srv.(*compositeServer)
	if !errors.Is(cs.admin.LoadError(), schema.ErrConfigNotFound) {
		t.Fatalf("expected load error, got %v", cs.admin.LoadError())
	}
	rec := httptest.NewRecorder()
	cs.httpSrv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = httptest.NewRecorder()
	cs.httpSrv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected config to be served, got %d", rec.Code)
	}
}

func TestKioskStartBuildsPanesAndStopTearsDown(t *testing.T) {
	host := &stubHost{}
	keys := &stubKeys{}
	srv := newKiosk(t, host, keys)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	state, err := srv.scheduler.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.PaneCount != 2 || state.Phase != schema.PhaseRunning {
		t.Fatalf("unexpected state: %+v", state)
	}
	if keys.fn == nil {
		t.Fatalf("expected key handler to be installed")
	}
	if !keys.fn("ctrl+p") {
		t.Fatalf("expected pause binding to dispatch")
	}
	state, err = srv.scheduler.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.Phase != schema.PhaseManuallyPaused {
		t.Fatalf("expected manual pause after Ctrl+P, got %s", state.Phase)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected second Start to fail")
	}

	stopServer(t, srv)
	created, destroyed := host.counts()
	if created != 2 || destroyed != 2 {
		t.Fatalf("expected 2 created and destroyed panes, got %d/%d", created, destroyed)
	}
	if _, err := srv.scheduler.State(); !errors.Is(err, schema.ErrSchedulerClosed) {
		t.Fatalf("expected closed scheduler, got %v", err)
	}
}

func TestReloadAppliesRecord(t *testing.T) {
	host := &stubHost{}
	srv := newKiosk(t, host, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopServer(t, srv)

	cfg := schema.DefaultRotationConfig()
	cfg.Pages = []string{"https://a.example", "https://b.example", "https://c.example"}
	srv.reload(cfg, nil)
	state, err := srv.scheduler.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.PaneCount != 3 {
		t.Fatalf("expected 3 panes, got %d", state.PaneCount)
	}
	if got := len(srv.admin.Config().Pages); got != 3 {
		t.Fatalf("expected admin to follow reload, got %d pages", got)
	}

	srv.reload(schema.RotationConfig{}, errors.New("broken"))
	state, err = srv.scheduler.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.PaneCount != 3 {
		t.Fatalf("expected failed reload to keep record, got %d panes", state.PaneCount)
	}
}

func TestAdminEditReachesSchedulerDirectly(t *testing.T) {
	srv := newKiosk(t, &stubHost{}, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopServer(t, srv)

	if _, err := srv.admin.AddPage(context.Background(), "https://c.example"); err != nil {
		t.Fatalf("add page: %v", err)
	}
	state, err := srv.scheduler.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.PaneCount != 3 {
		t.Fatalf("expected added page without a reload, got %d panes", state.PaneCount)
	}
}

func TestUnsavedAdminEditSurvivesReload(t *testing.T) {
	record := `{"urls":["https://a.example","https://b.example"],"interval":60000}`
	srv, err := New(context.Background(), ServerConfig{
		RotationFile: testRotationFile,
		RefreshLead:  3 * time.Second,
	}, ServerDeps{
		Host: &stubHost{},
		Fs:   afero.NewReadOnlyFs(memFs(t, record)),
	}, WithKiosk())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cs := srv.(*compositeServer)
	if err := cs.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopServer(t, cs)

	if err := cs.admin.EditPage(context.Background(), 0, "https://z.example"); err == nil {
		t.Fatalf("expected save to fail on a read-only filesystem")
	}
	cfg, err := cs.scheduler.Config()
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.Pages[0] != "https://z.example" {
		t.Fatalf("unsaved edit did not reach scheduler: %v", cfg.Pages)
	}

	disk, err := cs.store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cs.reload(disk, nil)
	cfg, err = cs.scheduler.Config()
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.Pages[0] != "https://z.example" || cs.admin.Config().Pages[0] != "https://z.example" {
		t.Fatalf("reload dropped unsaved edit: scheduler=%v admin=%v", cfg.Pages, cs.admin.Config().Pages)
	}
}

func TestQuitStopsServer(t *testing.T) {
	srv := newKiosk(t, &stubHost{}, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv.quit()
	done := make(chan error, 1)
	go func() { done <- srv.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not stop after quit")
	}
}

func TestConsoleRunsCommandsAndPrintsEvents(t *testing.T) {
	out := &lockedBuffer{}
	srv := newKiosk(t, &stubHost{}, nil, WithConsole(strings.NewReader("/pause\nhello\n/nope\n"), out))
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopServer(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for {
		text := out.String()
		if strings.Contains(text, "rotation paused") &&
			strings.Contains(text, "commands start with /") &&
			strings.Contains(text, "unknown command") &&
			strings.Contains(text, string(schema.PhaseManuallyPaused)) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("console output incomplete:\n%s", text)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFormatEvent(t *testing.T) {
	cases := []struct {
		event schema.StateEvent
		want  string
	}{
		{
			schema.StateEvent{Type: schema.EventState, Reason: "rotate", State: schema.StateSnapshot{Phase: schema.PhaseRunning, Current: 1, PaneCount: 3}},
			"* running page 2/3 (rotate)",
		},
		{
			schema.StateEvent{Type: schema.EventState, Reason: "pause", State: schema.StateSnapshot{Phase: schema.PhaseManuallyPaused, PaneCount: 2, Indicator: "Paused for 10s"}},
			"* manual_paused page 1/2 (pause) Paused for 10s",
		},
		{
			schema.StateEvent{Type: schema.EventState, Reason: "config", State: schema.StateSnapshot{Phase: schema.PhaseRunning}},
			"* running no pages (config)",
		},
		{
			schema.StateEvent{Type: schema.EventRefresh, Reason: "directive", Panes: []int{0, 2}},
			"~ refresh 1,3 (directive)",
		},
		{
			schema.StateEvent{Type: schema.EventError, Reason: "transition", Error: "boom"},
			"! transition: boom",
		},
	}
	for _, tc := range cases {
		if got := formatEvent(tc.event); got != tc.want {
			t.Fatalf("formatEvent(%s) = %q, want %q", tc.event.Type, got, tc.want)
		}
	}
}

func TestEventFanout(t *testing.T) {
	if sink := newEventFanout(nil, nil); sink != nil {
		t.Fatalf("expected nil sink, got %T", sink)
	}
	hub := httpapi.NewHub(8)
	if sink := newEventFanout(hub, nil); sink != core.EventSink(hub) {
		t.Fatalf("expected hub to be used directly, got %T", sink)
	}
	bus := eventbus.New(nil)
	events, cancel := bus.Subscribe()
	defer cancel()
	sink := newEventFanout(hub, bus)
	sink.OnStateEvent(schema.StateEvent{Type: schema.EventState, Reason: "rotate"})
	select {
	case ev := <-events:
		if ev.Reason != "rotate" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("bus did not receive event")
	}
	if replay := hub.Replay(0); len(replay) != 1 {
		t.Fatalf("expected hub history of 1, got %d", len(replay))
	}
}
