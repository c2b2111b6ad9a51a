package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/afero"

	"pkt.systems/carousel/schema"
)

const rotationPath = "/kiosk/urls.json"

func newMemStore(t *testing.T, content string) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	if content != "" {
		if err := afero.WriteFile(fs, rotationPath, []byte(content), 0o644); err != nil {
			t.Fatalf("write record: %v", err)
		}
	}
	store, err := NewWithOptions(rotationPath, Options{Fs: fs})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, fs
}

func readRecord(t *testing.T, fs afero.Fs) map[string]any {
	t.Helper()
	data, err := afero.ReadFile(fs, rotationPath)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return out
}

func TestLoadAppliesDefaults(t *testing.T) {
	store, _ := newMemStore(t, `{"urls": ["https://a.example", "https://b.example"]}`)
	cfg, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.IntervalMS != schema.DefaultIntervalMS {
		t.Fatalf("expected default interval, got %d", cfg.IntervalMS)
	}
	if cfg.PauseDurationMS != schema.DefaultPauseDurationMS || cfg.TabPauseDurationMS != schema.DefaultTabPauseDurationMS {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
	if cfg.Refresh.Pending() {
		t.Fatalf("expected empty directive, got %+v", cfg.Refresh)
	}
	if len(cfg.Pages) != 2 || cfg.Pages[1] != "https://b.example" {
		t.Fatalf("unexpected pages: %v", cfg.Pages)
	}
}

func TestLoadFullRecord(t *testing.T) {
	store, _ := newMemStore(t, `{
    "urls": ["https://a.example"],
    "interval": 0,
    "pause_duration": 2000,
    "tab_pause_duration": 30000,
    "refresh_command": {"refresh_tab": 0, "refresh_all": true},
    "shortcuts": {"0": "Ctrl+1"}
}`)
	cfg, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.IntervalMS != 0 || cfg.PauseDurationMS != 2000 || cfg.TabPauseDurationMS != 30000 {
		t.Fatalf("unexpected numbers: %+v", cfg)
	}
	if cfg.Refresh.RefreshPane == nil || *cfg.Refresh.RefreshPane != 0 || !cfg.Refresh.RefreshAll {
		t.Fatalf("unexpected directive: %+v", cfg.Refresh)
	}
	if cfg.Shortcuts["0"] != "Ctrl+1" {
		t.Fatalf("unexpected shortcuts: %v", cfg.Shortcuts)
	}
}

func TestLoadErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    error
	}{
		{"missing", "", schema.ErrConfigNotFound},
		{"syntax", `{"urls": [`, schema.ErrConfigParse},
		{"blank", "   \n", schema.ErrConfigParse},
		{"not-object", `["https://a.example"]`, schema.ErrConfigInvalid},
		{"no-urls", `{"interval": 5000}`, schema.ErrConfigInvalid},
		{"non-string-url", `{"urls": ["https://a.example", 42]}`, schema.ErrConfigInvalid},
		{"string-interval", `{"urls": [], "interval": "5s"}`, schema.ErrConfigInvalid},
		{"short-pause", `{"urls": [], "pause_duration": 10}`, schema.ErrConfigInvalid},
		{"bad-shortcut-key", `{"urls": [], "shortcuts": {"first": "Ctrl+1"}}`, schema.ErrConfigInvalid},
		{"bad-directive", `{"urls": [], "refresh_command": {"refresh_tab": "one"}}`, schema.ErrConfigInvalid},
	}
	for _, tc := range cases {
		store, _ := newMemStore(t, tc.content)
		_, err := store.Load(context.Background())
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		var cfgErr *schema.ConfigError
		if !errors.As(err, &cfgErr) || cfgErr.Path != rotationPath {
			t.Fatalf("%s: expected ConfigError with path, got %v", tc.name, err)
		}
	}
}

func TestSaveDirectivePreservesOtherFields(t *testing.T) {
	store, fs := newMemStore(t, `{
    "urls": ["https://a.example", "https://b.example"],
    "interval": 7000,
    "refresh_command": {"refresh_tab": 1, "refresh_all": false},
    "shortcuts": {"1": "Ctrl+2"},
    "operator_note": "lobby screen"
}`)
	if err := store.SaveDirective(context.Background(), schema.RefreshDirective{}); err != nil {
		t.Fatalf("save directive: %v", err)
	}
	record := readRecord(t, fs)
	directive, ok := record["refresh_command"].(map[string]any)
	if !ok {
		t.Fatalf("missing refresh_command: %v", record)
	}
	if directive["refresh_tab"] != nil || directive["refresh_all"] != false {
		t.Fatalf("expected cleared directive, got %v", directive)
	}
	if record["interval"] != float64(7000) {
		t.Fatalf("expected interval preserved, got %v", record["interval"])
	}
	if record["operator_note"] != "lobby screen" {
		t.Fatalf("expected unknown key preserved, got %v", record)
	}
	urls, _ := record["urls"].([]any)
	if len(urls) != 2 {
		t.Fatalf("expected urls preserved, got %v", record["urls"])
	}
}

func TestSaveDirectiveSeesConcurrentSettingsEdit(t *testing.T) {
	store, _ := newMemStore(t, `{"urls": ["https://a.example"], "refresh_command": {"refresh_tab": 0, "refresh_all": false}}`)
	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Another process adds a page after we loaded.
	edited := loaded.Clone()
	edited.Pages = append(edited.Pages, "https://b.example")
	if err := store.SaveSettings(context.Background(), edited); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	if err := store.SaveDirective(context.Background(), schema.RefreshDirective{}); err != nil {
		t.Fatalf("save directive: %v", err)
	}
	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reflect.DeepEqual(got.Pages, []string{"https://a.example", "https://b.example"}) {
		t.Fatalf("directive write clobbered pages: %v", got.Pages)
	}
	if got.Refresh.Pending() {
		t.Fatalf("expected directive cleared, got %+v", got.Refresh)
	}
}

func TestSaveSettingsKeepsDirective(t *testing.T) {
	store, _ := newMemStore(t, `{"urls": ["https://a.example"], "refresh_command": {"refresh_tab": null, "refresh_all": true}}`)
	cfg := schema.DefaultRotationConfig()
	cfg.Pages = []string{"https://c.example"}
	cfg.IntervalMS = 9000
	if err := store.SaveSettings(context.Background(), cfg); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Refresh.RefreshAll {
		t.Fatalf("settings write clobbered directive: %+v", got.Refresh)
	}
	if got.IntervalMS != 9000 || got.Pages[0] != "https://c.example" {
		t.Fatalf("settings not written: %+v", got)
	}
}

func TestSaveRejectsInvalidRecord(t *testing.T) {
	store, fs := newMemStore(t, "")
	cfg := schema.DefaultRotationConfig()
	cfg.PauseDurationMS = 5
	if err := store.Save(context.Background(), cfg); !errors.Is(err, schema.ErrConfigInvalid) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if exists, _ := afero.Exists(fs, rotationPath); exists {
		t.Fatalf("expected no file written")
	}
}

func TestSaveDirectiveRefusesCorruptRecord(t *testing.T) {
	store, fs := newMemStore(t, `{"urls": [`)
	if err := store.SaveDirective(context.Background(), schema.RefreshDirective{}); !errors.Is(err, schema.ErrConfigParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
	data, _ := afero.ReadFile(fs, rotationPath)
	if string(data) != `{"urls": [` {
		t.Fatalf("corrupt record was overwritten: %q", data)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, _ := newMemStore(t, "")
	idx := 2
	cfg := schema.RotationConfig{
		Pages:              []string{"https://a.example", "https://b.example", "https://c.example"},
		IntervalMS:         4000,
		PauseDurationMS:    1000,
		TabPauseDurationMS: 13000,
		Refresh:            schema.RefreshDirective{RefreshPane: &idx},
		Shortcuts:          map[string]string{"0": "Ctrl+1", "2": "Ctrl+3"},
	}
	if err := store.Save(context.Background(), cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg, got) {
		t.Fatalf("round trip mismatch:\nwant: %+v\ngot:  %+v", cfg, got)
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "urls.json")
	if err := os.WriteFile(path, []byte(`{"urls": ["https://a.example"]}`), 0o644); err != nil {
		t.Fatalf("write record: %v", err)
	}
	store, err := NewWithOptions(path, Options{Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan schema.RotationConfig, 8)
	done := make(chan error, 1)
	go func() {
		done <- store.Watch(ctx, func(cfg schema.RotationConfig, err error) {
			if err == nil {
				reloads <- cfg
			}
		})
	}()

	// Give the watcher time to register before writing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		cfg := schema.DefaultRotationConfig()
		cfg.Pages = []string{"https://a.example", "https://b.example"}
		if err := store.SaveSettings(context.Background(), cfg); err != nil {
			t.Fatalf("save settings: %v", err)
		}
		select {
		case got := <-reloads:
			if len(got.Pages) != 2 {
				t.Fatalf("expected reloaded pages, got %v", got.Pages)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("watch returned error: %v", err)
			}
			return
		case <-time.After(200 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for reload")
		}
	}
}
