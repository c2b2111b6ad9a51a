package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("rotation_file", cfg.RotationFile)
	v.SetDefault("profile_dir", cfg.ProfileDir)
	v.SetDefault("refresh_lead_ms", cfg.RefreshLeadMS)
	v.SetDefault("chrome.exec_path", cfg.Chrome.ExecPath)
	v.SetDefault("chrome.headless", cfg.Chrome.Headless)
	v.SetDefault("chrome.kiosk", cfg.Chrome.Kiosk)
	v.SetDefault("chrome.window_width", cfg.Chrome.WindowWidth)
	v.SetDefault("chrome.window_height", cfg.Chrome.WindowHeight)
	v.SetDefault("chrome.flags", cfg.Chrome.Flags)
	v.SetDefault("transition.style", cfg.Transition.Style)
	v.SetDefault("transition.duration_ms", cfg.Transition.DurationMS)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("logging.disable_audit_trails", cfg.Logging.DisableAuditTrails)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		// IsSet also reports defaults; only the file counts here.
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	// SetConfigFile bypasses viper's search and surfaces the raw stat error.
	return errors.Is(err, fs.ErrNotExist)
}

// Validate checks a loaded config for values the kiosk cannot run with.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.RotationFile) == "" {
		return fmt.Errorf("rotation_file is required")
	}
	if cfg.RefreshLeadMS < 0 {
		return fmt.Errorf("refresh_lead_ms must be >= 0, got %d", cfg.RefreshLeadMS)
	}
	switch cfg.Transition.Style {
	case TransitionInstant, TransitionSlide:
	default:
		return fmt.Errorf("unsupported transition.style %q", cfg.Transition.Style)
	}
	if cfg.Transition.DurationMS < 0 {
		return fmt.Errorf("transition.duration_ms must be >= 0, got %d", cfg.Transition.DurationMS)
	}
	if cfg.Chrome.WindowWidth <= 0 || cfg.Chrome.WindowHeight <= 0 {
		return fmt.Errorf("chrome.window_width and chrome.window_height must be positive")
	}
	basePath := strings.TrimSpace(cfg.HTTP.BasePath)
	if basePath != "" {
		if strings.Contains(basePath, "://") {
			return fmt.Errorf("http.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(basePath, "?#") {
			return fmt.Errorf("http.base_path must not include query or fragment")
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.RotationFile = expandEnv(cfg.RotationFile)
	cfg.ProfileDir = expandEnv(cfg.ProfileDir)
	cfg.Chrome.ExecPath = expandEnv(cfg.Chrome.ExecPath)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "HOME":
		if home, err := os.UserHomeDir(); err == nil {
			return home, true
		}
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
