package schema

import "time"

// PaneID identifies a pane for logging and event correlation.
type PaneID string

// Phase is the scheduler phase.
type Phase string

const (
	// PhaseRunning rotates panes on the configured interval (idle when the interval is 0).
	PhaseRunning Phase = "running"
	// PhaseManuallyPaused is entered by an operator pause toggle.
	PhaseManuallyPaused Phase = "manual_paused"
	// PhaseCooldownPaused follows a manual jump to a pane.
	PhaseCooldownPaused Phase = "cooldown_paused"
)

// RefreshDirective is a one-shot, persisted instruction to reload panes.
type RefreshDirective struct {
	RefreshPane *int `json:"refresh_tab"`
	RefreshAll  bool `json:"refresh_all"`
}

// Pending reports whether the directive asks for any reload.
func (d RefreshDirective) Pending() bool {
	return d.RefreshPane != nil || d.RefreshAll
}

// RotationConfig is the hot-reloadable rotation record.
type RotationConfig struct {
	Pages              []string          `json:"urls"`
	IntervalMS         int               `json:"interval"`
	PauseDurationMS    int               `json:"pause_duration"`
	TabPauseDurationMS int               `json:"tab_pause_duration"`
	Refresh            RefreshDirective  `json:"refresh_command"`
	Shortcuts          map[string]string `json:"shortcuts"`
}

// Interval returns the rotation interval as a duration.
func (c RotationConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// PauseDuration returns the manual pause auto-resume delay.
func (c RotationConfig) PauseDuration() time.Duration {
	return time.Duration(c.PauseDurationMS) * time.Millisecond
}

// TabPauseDuration returns the cooldown after a manual jump.
func (c RotationConfig) TabPauseDuration() time.Duration {
	return time.Duration(c.TabPauseDurationMS) * time.Millisecond
}

// Clone returns a deep copy of the record.
func (c RotationConfig) Clone() RotationConfig {
	out := c
	out.Pages = append([]string(nil), c.Pages...)
	if c.Shortcuts != nil {
		out.Shortcuts = make(map[string]string, len(c.Shortcuts))
		for k, v := range c.Shortcuts {
			out.Shortcuts[k] = v
		}
	}
	if c.Refresh.RefreshPane != nil {
		idx := *c.Refresh.RefreshPane
		out.Refresh.RefreshPane = &idx
	}
	return out
}

// PaneSnapshot is a transport-friendly view of a pane.
type PaneSnapshot struct {
	ID      PaneID `json:"id"`
	Index   int    `json:"index"`
	Address string `json:"address"`
	Active  bool   `json:"active"`
}

// StateSnapshot is a read-only view of the scheduler state.
type StateSnapshot struct {
	Phase       Phase          `json:"phase"`
	Current     int            `json:"current"`
	PaneCount   int            `json:"pane_count"`
	IntervalMS  int            `json:"interval"`
	ResumeAt    *time.Time     `json:"resume_at,omitempty"`
	Indicator   string         `json:"indicator,omitempty"`
	InFlight    bool           `json:"in_flight"`
	Panes       []PaneSnapshot `json:"panes,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	Rotating    bool           `json:"rotating"`
	RefreshLead int            `json:"refresh_lead_ms"`
}
