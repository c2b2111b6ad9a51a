package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/carousel"
	"pkt.systems/carousel/internal/chromehost"
	"pkt.systems/carousel/internal/configstore"
	"pkt.systems/carousel/schema"
)

func requireLong(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

func requireChrome(t *testing.T) string {
	t.Helper()
	if path := os.Getenv("CAROUSEL_CHROME"); path != "" {
		return path
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("chrome not available")
	return ""
}

// pageSite serves numbered pages and counts loads per path.
type pageSite struct {
	server *httptest.Server
	mu     sync.Mutex
	loads  map[string]int
}

func newPageSite(t *testing.T) *pageSite {
	t.Helper()
	site := &pageSite{loads: make(map[string]int)}
	site.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/favicon.ico" {
			http.NotFound(w, r)
			return
		}
		site.mu.Lock()
		site.loads[r.URL.Path]++
		site.mu.Unlock()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = fmt.Fprintf(w, "<!doctype html><title>%s</title><h1>%s</h1>", r.URL.Path, r.URL.Path)
	}))
	t.Cleanup(site.server.Close)
	return site
}

func (s *pageSite) url(path string) string {
	return s.server.URL + path
}

func (s *pageSite) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads[path]
}

type kiosk struct {
	server  carousel.Server
	store   *configstore.Store
	baseURL string
}

func startKiosk(t *testing.T, pages []string, intervalMS int) *kiosk {
	t.Helper()
	execPath := requireChrome(t)
	dir := t.TempDir()
	rotationFile := filepath.Join(dir, "urls.json")
	store, err := configstore.New(rotationFile)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	record := schema.DefaultRotationConfig()
	record.Pages = pages
	record.IntervalMS = intervalMS
	if err := store.Save(context.Background(), record); err != nil {
		t.Fatalf("save record: %v", err)
	}

	browser, err := chromehost.Launch(context.Background(), chromehost.Options{
		ExecPath:       execPath,
		ProfileDir:     filepath.Join(dir, "profile"),
		Headless:       true,
		WindowWidth:    800,
		WindowHeight:   600,
		Flags:          []string{"--disable-gpu", "--no-sandbox"},
		CommandTimeout: 15 * time.Second,
	})
	if err != nil {
		t.Fatalf("launch chrome: %v", err)
	}
	t.Cleanup(func() { _ = browser.Close() })

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv, err := carousel.New(context.Background(), carousel.ServerConfig{
		RotationFile:  rotationFile,
		RefreshLead:   500 * time.Millisecond,
		WatchDebounce: 50 * time.Millisecond,
	}, carousel.ServerDeps{
		Host:     browser,
		Renderer: chromehost.NewRenderer(chromehost.StyleInstant, 0, nil),
		Keys:     browser,
		Listener: listener,
	}, carousel.WithKiosk(), carousel.WithWatch(), carousel.WithHTTP())
	if err != nil {
		_ = listener.Close()
		t.Fatalf("new server: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return &kiosk{server: srv, store: store, baseURL: "http://" + listener.Addr().String()}
}

func (k *kiosk) state(t *testing.T) schema.StateSnapshot {
	t.Helper()
	resp, err := http.Get(k.baseURL + "/api/state")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get state: status %d", resp.StatusCode)
	}
	var state schema.StateSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return state
}

func (k *kiosk) post(t *testing.T, path string, body string) int {
	t.Helper()
	resp, err := http.Post(k.baseURL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	_ = resp.Body.Close()
	return resp.StatusCode
}

func waitFor(t *testing.T, timeout time.Duration, what string, ok func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ok() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
