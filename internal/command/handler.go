package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pkt.systems/carousel/internal/logx"
	"pkt.systems/carousel/internal/version"
	"pkt.systems/carousel/schema"
)

// ErrNoScheduler is returned for scheduler commands when the process runs without a kiosk.
var ErrNoScheduler = errors.New("scheduler not running")

// Scheduler is the subset of the rotation scheduler the commands drive.
type Scheduler interface {
	TogglePause() (schema.Phase, error)
	JumpTo(i int) error
	Next() error
	State() (schema.StateSnapshot, error)
}

// Admin is the subset of the admin surface the commands drive.
type Admin interface {
	Config() schema.RotationConfig
	Selected() int
	Select(i int) error
	EditPage(ctx context.Context, i int, address string) error
	AddPage(ctx context.Context, address string) (int, error)
	DeletePage(ctx context.Context, i int) error
	RefreshPage(ctx context.Context, i int) error
	RefreshAll(ctx context.Context) error
	SetInterval(ctx context.Context, ms int) error
	SetPauseDuration(ctx context.Context, ms int) error
	SetTabPauseDuration(ctx context.Context, ms int) error
	SetShortcut(ctx context.Context, i int, combo string) error
}

// HandlerConfig configures slash command behavior.
type HandlerConfig struct {
	// Quit is invoked by /quit.
	Quit                func()
	DisableAuditLogging bool
	Now                 func() time.Time
}

// Result is the output of a handled command.
type Result struct {
	Lines []string `json:"lines"`
	Quit  bool     `json:"quit,omitempty"`
}

// Handler routes slash commands to the scheduler and admin surface.
// Page numbers on the command line are 1-based.
type Handler struct {
	scheduler Scheduler
	admin     Admin
	cfg       HandlerConfig
}

// NewHandler constructs a command handler. scheduler may be nil.
func NewHandler(scheduler Scheduler, admin Admin, cfg HandlerConfig) *Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{scheduler: scheduler, admin: admin, cfg: cfg}
}

// Handle inspects input and executes slash commands.
func (h *Handler) Handle(ctx context.Context, input string) (Result, bool, error) {
	if ctx == nil {
		return Result{}, false, errors.New("missing context")
	}
	log := logx.WithComponent(ctx, "command").With("input_len", len(input))
	cmd, ok := Parse(input)
	if !ok {
		return Result{}, false, nil
	}
	if !h.cfg.DisableAuditLogging {
		log.Debug("audit command", "command_type", "slash", "command", strings.TrimSpace(input))
	}
	log = log.With("command", cmd.Name, "args", len(cmd.Args))
	log.Info("command slash request")

	var res Result
	var err error
	switch cmd.Name {
	case "":
		log.Warn("command slash rejected", "reason", "empty")
		return Result{}, true, fmt.Errorf("%w: invalid command", schema.ErrInvalidRequest)
	case "pause":
		res, err = h.handlePause()
	case "jump":
		res, err = h.handleJump(cmd)
	case "next":
		res, err = h.handleNext()
	case "edit":
		res, err = h.handleEdit(ctx, cmd)
	case "add":
		res, err = h.handleAdd(ctx, cmd)
	case "delete", "rm":
		res, err = h.handleDelete(ctx, cmd)
	case "refresh":
		res, err = h.handleRefresh(ctx, cmd)
	case "refreshall":
		res, err = h.handleRefreshAll(ctx)
	case "pauseduration":
		res, err = h.handleDuration(ctx, cmd, "pause duration", h.admin.SetPauseDuration)
	case "tabpause":
		res, err = h.handleDuration(ctx, cmd, "tab pause duration", h.admin.SetTabPauseDuration)
	case "interval":
		res, err = h.handleDuration(ctx, cmd, "interval", h.admin.SetInterval)
	case "select":
		res, err = h.handleSelect(cmd)
	case "shortcut":
		res, err = h.handleShortcut(ctx, cmd)
	case "pages":
		res = h.handlePages()
	case "status":
		res, err = h.handleStatus()
	case "help":
		res = Result{Lines: helpLines()}
	case "version":
		res = Result{Lines: []string{version.Get().String()}}
	case "quit", "exit":
		if h.cfg.Quit != nil {
			h.cfg.Quit()
		}
		res = Result{Lines: []string{"quitting"}, Quit: true}
	default:
		log.Warn("command slash rejected", "reason", "unknown")
		return Result{}, true, fmt.Errorf("%w: unknown command: /%s", schema.ErrInvalidRequest, cmd.Name)
	}
	if err != nil {
		log.Warn("command slash failed", "err", err)
		return Result{}, true, err
	}
	log.Info("command slash completed")
	return res, true, nil
}

func (h *Handler) handlePause() (Result, error) {
	if h.scheduler == nil {
		return Result{}, ErrNoScheduler
	}
	phase, err := h.scheduler.TogglePause()
	if err != nil {
		return Result{}, err
	}
	if phase == schema.PhaseRunning {
		return Result{Lines: []string{"rotation resumed"}}, nil
	}
	return Result{Lines: []string{"rotation paused"}}, nil
}

func (h *Handler) handleJump(cmd Command) (Result, error) {
	if h.scheduler == nil {
		return Result{}, ErrNoScheduler
	}
	if len(cmd.Args) != 1 {
		return Result{}, fmt.Errorf("%w: usage: /jump <page>", schema.ErrInvalidRequest)
	}
	idx, err := parsePage(cmd.Args[0])
	if err != nil {
		return Result{}, err
	}
	if err := h.scheduler.JumpTo(idx); err != nil {
		return Result{}, err
	}
	return Result{Lines: []string{fmt.Sprintf("showing page %d", idx+1)}}, nil
}

func (h *Handler) handleNext() (Result, error) {
	if h.scheduler == nil {
		return Result{}, ErrNoScheduler
	}
	if err := h.scheduler.Next(); err != nil {
		return Result{}, err
	}
	return Result{Lines: []string{"showing next page"}}, nil
}

func (h *Handler) handleEdit(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Remainder == "" {
		return Result{}, fmt.Errorf("%w: usage: /edit <url>", schema.ErrInvalidRequest)
	}
	idx := h.admin.Selected()
	if err := h.admin.EditPage(ctx, idx, cmd.Remainder); err != nil {
		return Result{}, err
	}
	return Result{Lines: []string{fmt.Sprintf("page %d updated", idx+1)}}, nil
}

func (h *Handler) handleAdd(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Remainder == "" {
		return Result{}, fmt.Errorf("%w: usage: /add <url>", schema.ErrInvalidRequest)
	}
	idx, err := h.admin.AddPage(ctx, cmd.Remainder)
	if err != nil {
		return Result{}, err
	}
	return Result{Lines: []string{fmt.Sprintf("page %d added", idx+1)}}, nil
}

func (h *Handler) handleDelete(ctx context.Context, cmd Command) (Result, error) {
	idx, err := h.pageOrSelected(cmd)
	if err != nil {
		return Result{}, err
	}
	if err := h.admin.DeletePage(ctx, idx); err != nil {
		return Result{}, err
	}
	return Result{Lines: []string{fmt.Sprintf("page %d deleted", idx+1)}}, nil
}

func (h *Handler) handleRefresh(ctx context.Context, cmd Command) (Result, error) {
	idx, err := h.pageOrSelected(cmd)
	if err != nil {
		return Result{}, err
	}
	if err := h.admin.RefreshPage(ctx, idx); err != nil {
		return Result{}, err
	}
	return Result{Lines: []string{fmt.Sprintf("refresh requested for page %d", idx+1)}}, nil
}

func (h *Handler) handleRefreshAll(ctx context.Context) (Result, error) {
	if err := h.admin.RefreshAll(ctx); err != nil {
		return Result{}, err
	}
	return Result{Lines: []string{"refresh requested for all pages"}}, nil
}

func (h *Handler) handleDuration(ctx context.Context, cmd Command, label string, set func(context.Context, int) error) (Result, error) {
	if len(cmd.Args) != 1 {
		return Result{}, fmt.Errorf("%w: usage: /%s <milliseconds>", schema.ErrInvalidRequest, cmd.Name)
	}
	ms, err := strconv.Atoi(cmd.Args[0])
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s is not a number of milliseconds", schema.ErrInvalidRequest, cmd.Args[0])
	}
	if err := set(ctx, ms); err != nil {
		return Result{}, err
	}
	return Result{Lines: []string{fmt.Sprintf("%s set to %d ms", label, ms)}}, nil
}

func (h *Handler) handleSelect(cmd Command) (Result, error) {
	if len(cmd.Args) != 1 {
		return Result{}, fmt.Errorf("%w: usage: /select <page>", schema.ErrInvalidRequest)
	}
	idx, err := parsePage(cmd.Args[0])
	if err != nil {
		return Result{}, err
	}
	if err := h.admin.Select(idx); err != nil {
		return Result{}, err
	}
	return Result{Lines: []string{fmt.Sprintf("page %d selected", idx+1)}}, nil
}

func (h *Handler) handleShortcut(ctx context.Context, cmd Command) (Result, error) {
	if len(cmd.Args) < 1 || len(cmd.Args) > 2 {
		return Result{}, fmt.Errorf("%w: usage: /shortcut <page> [combo]", schema.ErrInvalidRequest)
	}
	idx, err := parsePage(cmd.Args[0])
	if err != nil {
		return Result{}, err
	}
	combo := ""
	if len(cmd.Args) == 2 {
		combo = cmd.Args[1]
	}
	if err := h.admin.SetShortcut(ctx, idx, combo); err != nil {
		return Result{}, err
	}
	if combo == "" {
		return Result{Lines: []string{fmt.Sprintf("shortcut for page %d removed", idx+1)}}, nil
	}
	return Result{Lines: []string{fmt.Sprintf("shortcut for page %d set", idx+1)}}, nil
}

func (h *Handler) handlePages() Result {
	cfg := h.admin.Config()
	selected := h.admin.Selected()
	if len(cfg.Pages) == 0 {
		return Result{Lines: []string{"no pages configured"}}
	}
	lines := make([]string, 0, len(cfg.Pages))
	for i, page := range cfg.Pages {
		marker := " "
		if i == selected {
			marker = "*"
		}
		line := fmt.Sprintf("%s %d. %s", marker, i+1, page)
		if combo := cfg.Shortcuts[schema.ShortcutKey(i)]; combo != "" {
			line += " [" + combo + "]"
		}
		lines = append(lines, line)
	}
	return Result{Lines: lines}
}

func (h *Handler) handleStatus() (Result, error) {
	cfg := h.admin.Config()
	lines := []string{
		fmt.Sprintf("pages: %d", len(cfg.Pages)),
		fmt.Sprintf("interval: %d ms", cfg.IntervalMS),
		fmt.Sprintf("pause duration: %d ms", cfg.PauseDurationMS),
		fmt.Sprintf("tab pause duration: %d ms", cfg.TabPauseDurationMS),
	}
	if h.scheduler == nil {
		return Result{Lines: append(lines, "scheduler: not running")}, nil
	}
	state, err := h.scheduler.State()
	if err != nil {
		return Result{}, err
	}
	lines = append(lines,
		fmt.Sprintf("phase: %s", state.Phase),
		fmt.Sprintf("showing: page %d of %d", state.Current+1, state.PaneCount),
	)
	if state.ResumeAt != nil {
		remaining := state.ResumeAt.Sub(h.cfg.Now()).Round(100 * time.Millisecond)
		lines = append(lines, fmt.Sprintf("resumes in: %s", max(remaining, 0)))
	}
	if state.LastError != "" {
		lines = append(lines, "last error: "+state.LastError)
	}
	return Result{Lines: lines}, nil
}

func (h *Handler) pageOrSelected(cmd Command) (int, error) {
	if len(cmd.Args) == 0 {
		return h.admin.Selected(), nil
	}
	if len(cmd.Args) > 1 {
		return 0, fmt.Errorf("%w: usage: /%s [page]", schema.ErrInvalidRequest, cmd.Name)
	}
	return parsePage(cmd.Args[0])
}

func parsePage(arg string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: page must be a number starting at 1, got %q", schema.ErrInvalidRequest, arg)
	}
	return n - 1, nil
}

func helpLines() []string {
	return []string{
		"Commands",
		"/pause - toggle rotation pause",
		"/jump <page> - show a page and pause rotation for the tab pause duration",
		"/next - show the next page",
		"/select <page> - select the page /edit, /delete and /refresh act on",
		"/edit <url> - change the selected page's address",
		"/add <url> - append a page",
		"/delete [page] - remove a page",
		"/refresh [page] - reload a page on the kiosk",
		"/refreshall - reload every page on the kiosk",
		"/interval <ms> - set the rotation interval (0 disables rotation)",
		"/pauseduration <ms> - set the manual pause duration",
		"/tabpause <ms> - set the cooldown after a jump",
		"/shortcut <page> [combo] - bind or unbind a key combination",
		"/pages - list pages",
		"/status - show rotation status",
		"/version - show version information",
		"/quit - exit",
	}
}
