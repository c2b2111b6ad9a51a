package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound indicates the rotation record does not exist.
	ErrConfigNotFound = errors.New("config not found")
	// ErrConfigParse indicates the rotation record is not valid JSON.
	ErrConfigParse = errors.New("config parse error")
	// ErrConfigInvalid indicates the rotation record is semantically invalid.
	ErrConfigInvalid = errors.New("config validation error")
	// ErrPaneIndex indicates an index outside the current pane range.
	ErrPaneIndex = errors.New("pane index out of range")
	// ErrRender indicates a transition did not complete.
	ErrRender = errors.New("render failed")
	// ErrNoPanes indicates an operation needs at least one pane.
	ErrNoPanes = errors.New("no panes")
	// ErrSchedulerClosed indicates the scheduler loop has stopped.
	ErrSchedulerClosed = errors.New("scheduler closed")
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
)

// ConfigError reports a failure to load the rotation record.
type ConfigError struct {
	Kind error
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IndexError reports an index outside [0, Count).
type IndexError struct {
	Index int
	Count int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%v: %d not in [0, %d)", ErrPaneIndex, e.Index, e.Count)
}

// Unwrap returns ErrPaneIndex.
func (e *IndexError) Unwrap() error { return ErrPaneIndex }

// RenderError reports a transition that failed to complete.
type RenderError struct {
	From int
	To   int
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("%v: %d -> %d: %v", ErrRender, e.From, e.To, e.Err)
}

// Unwrap exposes ErrRender and the cause.
func (e *RenderError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRender}
	}
	return []error{ErrRender, e.Err}
}

// Invalid builds a validation ConfigError.
func Invalid(path, format string, args ...any) *ConfigError {
	return &ConfigError{Kind: ErrConfigInvalid, Path: path, Err: fmt.Errorf(format, args...)}
}
