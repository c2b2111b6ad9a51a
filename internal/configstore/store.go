package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"pkt.systems/carousel/schema"
	"pkt.systems/pslog"
)

const (
	keyURLs             = "urls"
	keyInterval         = "interval"
	keyPauseDuration    = "pause_duration"
	keyTabPauseDuration = "tab_pause_duration"
	keyRefreshCommand   = "refresh_command"
	keyShortcuts        = "shortcuts"
)

const defaultDebounce = 150 * time.Millisecond

// Options configures a Store.
type Options struct {
	// Fs defaults to the OS filesystem. Watch requires the OS filesystem.
	Fs       afero.Fs
	Logger   pslog.Logger
	Debounce time.Duration
}

// Store reads and writes the rotation record.
type Store struct {
	path     string
	fs       afero.Fs
	log      pslog.Logger
	debounce time.Duration
	mu       sync.Mutex
}

// New constructs a store on the OS filesystem.
func New(path string) (*Store, error) {
	return NewWithOptions(path, Options{})
}

// NewWithOptions constructs a store with explicit dependencies.
func NewWithOptions(path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("rotation file path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	logger := opts.Logger
	if logger != nil {
		logger = logger.With("rotation_file", abs)
	}
	return &Store{path: abs, fs: opts.Fs, log: logger, debounce: opts.Debounce}, nil
}

// Path returns the absolute path of the rotation record.
func (s *Store) Path() string {
	return s.path
}

// Load reads and validates the rotation record.
func (s *Store) Load(ctx context.Context) (schema.RotationConfig, error) {
	log := s.logger(ctx)
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("config load missing")
		} else {
			log.Warn("config load failed", "err", err)
		}
		return schema.RotationConfig{}, &schema.ConfigError{Kind: schema.ErrConfigNotFound, Path: s.path, Err: err}
	}
	cfg, err := Decode(s.path, data)
	if err != nil {
		log.Warn("config load failed", "err", err)
		return schema.RotationConfig{}, err
	}
	log.Debug("config load ok", "pages", len(cfg.Pages), "interval", cfg.IntervalMS)
	return cfg, nil
}

// Save writes the full record, replacing any existing file.
func (s *Store) Save(ctx context.Context, cfg schema.RotationConfig) error {
	if err := schema.ValidateRotationConfig(cfg); err != nil {
		return schema.Invalid(s.path, "%v", err)
	}
	return s.update(ctx, "save", true, func(raw map[string]json.RawMessage) error {
		if err := putSettings(raw, cfg); err != nil {
			return err
		}
		return put(raw, keyRefreshCommand, cfg.Refresh)
	})
}

// SaveSettings rewrites the page, interval, duration and shortcut fields.
// The refresh directive and unknown keys are taken from the file as it is right now.
func (s *Store) SaveSettings(ctx context.Context, cfg schema.RotationConfig) error {
	if err := schema.ValidateRotationConfig(cfg); err != nil {
		return schema.Invalid(s.path, "%v", err)
	}
	return s.update(ctx, "save settings", true, func(raw map[string]json.RawMessage) error {
		return putSettings(raw, cfg)
	})
}

// SaveDirective rewrites only the refresh directive, preserving every other field.
func (s *Store) SaveDirective(ctx context.Context, directive schema.RefreshDirective) error {
	return s.update(ctx, "save directive", false, func(raw map[string]json.RawMessage) error {
		return put(raw, keyRefreshCommand, directive)
	})
}

func (s *Store) update(ctx context.Context, op string, overwriteCorrupt bool, mutate func(map[string]json.RawMessage) error) error {
	log := s.logger(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.readRaw()
	if err != nil {
		if !overwriteCorrupt || !errors.Is(err, schema.ErrConfigParse) {
			log.Warn("config "+op+" failed", "err", err)
			return err
		}
		log.Warn("config "+op+" replacing unreadable record", "err", err)
		raw = map[string]json.RawMessage{}
	}
	if err := mutate(raw); err != nil {
		log.Warn("config "+op+" failed", "err", err)
		return err
	}
	data, err := json.MarshalIndent(raw, "", "    ")
	if err != nil {
		log.Warn("config "+op+" failed", "err", err)
		return err
	}
	if err := s.writeAtomic(append(data, '\n')); err != nil {
		log.Warn("config "+op+" failed", "err", err)
		return err
	}
	log.Debug("config " + op + " ok")
	return nil
}

func (s *Store) readRaw() (map[string]json.RawMessage, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, err
	}
	raw := map[string]json.RawMessage{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return raw, nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &schema.ConfigError{Kind: schema.ErrConfigParse, Path: s.path, Err: err}
	}
	return raw, nil
}

func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := afero.TempFile(s.fs, dir, ".rotation-*.json")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(name)
		return err
	}
	if err := s.fs.Chmod(name, 0o644); err != nil {
		_ = s.fs.Remove(name)
		return err
	}
	if err := s.fs.Rename(name, s.path); err != nil {
		_ = s.fs.Remove(name)
		return err
	}
	return nil
}

func (s *Store) logger(ctx context.Context) pslog.Logger {
	if s.log != nil {
		return s.log
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return pslog.Ctx(ctx).With("rotation_file", s.path)
}

func putSettings(raw map[string]json.RawMessage, cfg schema.RotationConfig) error {
	pages := cfg.Pages
	if pages == nil {
		pages = []string{}
	}
	shortcuts := cfg.Shortcuts
	if shortcuts == nil {
		shortcuts = map[string]string{}
	}
	if err := put(raw, keyURLs, pages); err != nil {
		return err
	}
	if err := put(raw, keyInterval, cfg.IntervalMS); err != nil {
		return err
	}
	if err := put(raw, keyPauseDuration, cfg.PauseDurationMS); err != nil {
		return err
	}
	if err := put(raw, keyTabPauseDuration, cfg.TabPauseDurationMS); err != nil {
		return err
	}
	return put(raw, keyShortcuts, shortcuts)
}

func put(raw map[string]json.RawMessage, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	raw[key] = data
	return nil
}
