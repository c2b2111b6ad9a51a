package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/carousel/schema"
)

// Config is the top-level process configuration.
type Config struct {
	ConfigVersion int              `mapstructure:"config_version" yaml:"config_version"`
	RotationFile  string           `mapstructure:"rotation_file" yaml:"rotation_file"`
	ProfileDir    string           `mapstructure:"profile_dir" yaml:"profile_dir"`
	RefreshLeadMS int              `mapstructure:"refresh_lead_ms" yaml:"refresh_lead_ms"`
	Chrome        ChromeConfig     `mapstructure:"chrome" yaml:"chrome"`
	Transition    TransitionConfig `mapstructure:"transition" yaml:"transition"`
	HTTP          HTTPConfig       `mapstructure:"http" yaml:"http"`
	Logging       LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// ChromeConfig controls the browser process backing the panes.
type ChromeConfig struct {
	ExecPath     string   `mapstructure:"exec_path" yaml:"exec_path"`
	Headless     bool     `mapstructure:"headless" yaml:"headless"`
	Kiosk        bool     `mapstructure:"kiosk" yaml:"kiosk"`
	WindowWidth  int      `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight int      `mapstructure:"window_height" yaml:"window_height"`
	Flags        []string `mapstructure:"flags" yaml:"flags"`
}

// TransitionConfig selects how panes are swapped.
type TransitionConfig struct {
	Style      string `mapstructure:"style" yaml:"style"`
	DurationMS int    `mapstructure:"duration_ms" yaml:"duration_ms"`
}

// HTTPConfig configures the operator HTTP API.
type HTTPConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// LoggingConfig controls audit logging behavior. Level and mode come from
// LOG_LEVEL and LOG_MODE.
type LoggingConfig struct {
	DisableAuditTrails bool `mapstructure:"disable_audit_trails" yaml:"disable_audit_trails"`
}

// Transition styles.
const (
	TransitionInstant = "instant"
	TransitionSlide   = "slide"
)

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		RotationFile:  filepath.Join(home, ".carousel", "urls.json"),
		ProfileDir:    filepath.Join(home, ".carousel", "profile"),
		RefreshLeadMS: schema.DefaultRefreshLeadMS,
		Chrome: ChromeConfig{
			Headless:     false,
			Kiosk:        true,
			WindowWidth:  1920,
			WindowHeight: 1080,
			Flags:        []string{},
		},
		Transition: TransitionConfig{
			Style:      TransitionSlide,
			DurationMS: 600,
		},
		HTTP: HTTPConfig{
			Addr:     "127.0.0.1:27490",
			BasePath: "",
		},
		Logging: LoggingConfig{
			DisableAuditTrails: false,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".carousel", "carousel.yaml"), nil
}
