package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultIntervalMS is the rotation interval used when the record omits it.
	DefaultIntervalMS = 5000
	// DefaultPauseDurationMS is the manual pause auto-resume delay.
	DefaultPauseDurationMS = 10000
	// DefaultTabPauseDurationMS is the cooldown after a manual jump.
	DefaultTabPauseDurationMS = 15000
	// MinPauseDurationMS is the lower bound for both pause durations.
	MinPauseDurationMS = 1000
	// DefaultRefreshLeadMS is how long before an advance the next pane is reloaded.
	DefaultRefreshLeadMS = 3000
)

// DefaultRotationConfig returns a record with defaults and no pages.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		Pages:              []string{},
		IntervalMS:         DefaultIntervalMS,
		PauseDurationMS:    DefaultPauseDurationMS,
		TabPauseDurationMS: DefaultTabPauseDurationMS,
		Shortcuts:          map[string]string{},
	}
}

// ValidateRotationConfig checks bounds on a decoded record.
func ValidateRotationConfig(cfg RotationConfig) error {
	if cfg.IntervalMS < 0 {
		return fmt.Errorf("interval must be >= 0, got %d", cfg.IntervalMS)
	}
	if cfg.PauseDurationMS < MinPauseDurationMS {
		return fmt.Errorf("pause_duration must be >= %d, got %d", MinPauseDurationMS, cfg.PauseDurationMS)
	}
	if cfg.TabPauseDurationMS < MinPauseDurationMS {
		return fmt.Errorf("tab_pause_duration must be >= %d, got %d", MinPauseDurationMS, cfg.TabPauseDurationMS)
	}
	for i, page := range cfg.Pages {
		if strings.TrimSpace(page) == "" {
			return fmt.Errorf("urls[%d] is empty", i)
		}
	}
	for key, combo := range cfg.Shortcuts {
		if _, err := ShortcutIndex(key); err != nil {
			return err
		}
		if strings.TrimSpace(combo) == "" {
			return fmt.Errorf("shortcuts[%q] is empty", key)
		}
	}
	if idx := cfg.Refresh.RefreshPane; idx != nil && *idx < 0 {
		return fmt.Errorf("refresh_command.refresh_tab must be >= 0, got %d", *idx)
	}
	return nil
}

// ShortcutIndex parses a shortcuts map key into a pane index.
func ShortcutIndex(key string) (int, error) {
	idx, err := strconv.Atoi(strings.TrimSpace(key))
	if err != nil {
		return 0, fmt.Errorf("shortcut key %q is not an index", key)
	}
	if idx < 0 {
		return 0, errors.New("shortcut key must be >= 0")
	}
	return idx, nil
}

// ShortcutKey formats a pane index as a shortcuts map key.
func ShortcutKey(idx int) string {
	return strconv.Itoa(idx)
}
