package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/carousel/internal/command"
	"pkt.systems/carousel/internal/logx"
	"pkt.systems/carousel/internal/version"
	"pkt.systems/carousel/schema"
)

// Scheduler is the rotation scheduler surface the API drives.
type Scheduler interface {
	command.Scheduler
}

// Admin is the editing surface the API drives.
type Admin interface {
	command.Admin
	LoadError() error
	Replace(ctx context.Context, cfg schema.RotationConfig) error
}

// CommandHandler routes slash commands.
type CommandHandler interface {
	Handle(ctx context.Context, input string) (command.Result, bool, error)
}

// Server serves the operator HTTP API.
type Server struct {
	cfg        Config
	scheduler  Scheduler
	admin      Admin
	cmdHandler CommandHandler
	hub        *Hub
	basePath   string
}

// NewServer constructs an HTTP server. scheduler may be nil when the process
// only edits the record; scheduler endpoints then answer 503.
func NewServer(cfg Config, scheduler Scheduler, admin Admin, handler CommandHandler, hub *Hub) *Server {
	if hub == nil {
		hub = NewHub(cfg.HubHistory)
	}
	return &Server{
		cfg:        cfg,
		scheduler:  scheduler,
		admin:      admin,
		cmdHandler: handler,
		hub:        hub,
		basePath:   cfg.mountPath(),
	}
}

// Hub returns the event hub feeding /api/stream.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.requireScheduler(s.handleState))
	mux.HandleFunc("POST /api/pause", s.requireScheduler(s.handlePause))
	mux.HandleFunc("POST /api/jump", s.requireScheduler(s.handleJump))
	mux.HandleFunc("POST /api/next", s.requireScheduler(s.handleNext))
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("PUT /api/config", s.handlePutConfig)
	mux.HandleFunc("POST /api/pages", s.handleAddPage)
	mux.HandleFunc("PUT /api/pages/{index}", s.handleEditPage)
	mux.HandleFunc("DELETE /api/pages/{index}", s.handleDeletePage)
	mux.HandleFunc("GET /api/shortcuts", s.handleBindings)
	mux.HandleFunc("PUT /api/shortcuts/{index}", s.handleShortcut)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("PUT /api/durations", s.handleDurations)
	mux.HandleFunc("POST /api/command", s.handleCommand)
	mux.HandleFunc("POST /api/quit", s.handleQuit)
	mux.HandleFunc("GET /api/stream", s.handleStream)
	mux.HandleFunc("GET /api/version", s.handleVersion)

	handler := withRequestLogging(mux)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}

func (s *Server) requireScheduler(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.scheduler == nil {
			logx.Ctx(r.Context()).Warn("http scheduler unavailable", "path", r.URL.Path)
			writeError(w, http.StatusServiceUnavailable, command.ErrNoScheduler)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.scheduler.State()
	if err != nil {
		logx.Ctx(r.Context()).Warn("http state failed", "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	note(r, "phase", string(state.Phase), "current", state.Current)
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	phase, err := s.scheduler.TogglePause()
	if err != nil {
		log.Warn("http pause failed", "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	note(r, "phase", string(phase))
	writeJSON(w, http.StatusOK, map[string]any{"phase": phase})
	log.Info("http pause ok", "phase", phase)
}

func (s *Server) handleJump(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	var payload struct {
		Index *int `json:"index"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http jump decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Index == nil {
		writeError(w, http.StatusBadRequest, errors.New("index is required"))
		return
	}
	if err := s.scheduler.JumpTo(*payload.Index); err != nil {
		log.Warn("http jump failed", "index", *payload.Index, "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	note(r, "pane", *payload.Index)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	log.Info("http jump ok", "index", *payload.Index)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	if err := s.scheduler.Next(); err != nil {
		log.Warn("http next failed", "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	log.Info("http next ok")
}

type configPayload struct {
	Config    schema.RotationConfig `json:"config"`
	Selected  int                   `json:"selected"`
	LoadError string                `json:"load_error,omitempty"`
}

func (s *Server) configView() configPayload {
	view := configPayload{
		Config:   s.admin.Config(),
		Selected: s.admin.Selected(),
	}
	if err := s.admin.LoadError(); err != nil {
		view.LoadError = err.Error()
	}
	return view
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.configView())
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	var payload struct {
		Pages              *[]string          `json:"urls"`
		IntervalMS         *int               `json:"interval"`
		PauseDurationMS    *int               `json:"pause_duration"`
		TabPauseDurationMS *int               `json:"tab_pause_duration"`
		Shortcuts          *map[string]string `json:"shortcuts"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http config decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	next := s.admin.Config()
	if payload.Pages != nil {
		next.Pages = append([]string{}, (*payload.Pages)...)
	}
	if payload.IntervalMS != nil {
		next.IntervalMS = *payload.IntervalMS
	}
	if payload.PauseDurationMS != nil {
		next.PauseDurationMS = *payload.PauseDurationMS
	}
	if payload.TabPauseDurationMS != nil {
		next.TabPauseDurationMS = *payload.TabPauseDurationMS
	}
	if payload.Shortcuts != nil {
		next.Shortcuts = *payload.Shortcuts
	}
	if err := s.admin.Replace(r.Context(), next); err != nil {
		log.Warn("http config replace failed", "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.configView())
	log.Info("http config replace ok", "pages", len(next.Pages))
}

func (s *Server) handleAddPage(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	var payload struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http add page decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	index, err := s.admin.AddPage(r.Context(), payload.URL)
	if err != nil {
		log.Warn("http add page failed", "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	note(r, "pane", index)
	writeJSON(w, http.StatusCreated, map[string]any{"index": index})
	log.Info("http add page ok", "index", index)
}

func (s *Server) handleEditPage(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	index, err := pathIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http edit page decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.admin.EditPage(r.Context(), index, payload.URL); err != nil {
		log.Warn("http edit page failed", "index", index, "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	note(r, "pane", index)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	log.Info("http edit page ok", "index", index)
}

func (s *Server) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	index, err := pathIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.admin.DeletePage(r.Context(), index); err != nil {
		log.Warn("http delete page failed", "index", index, "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	note(r, "pane", index)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	log.Info("http delete page ok", "index", index)
}

func (s *Server) handleShortcut(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	index, err := pathIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Combo string `json:"combo"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http shortcut decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.admin.SetShortcut(r.Context(), index, payload.Combo); err != nil {
		log.Warn("http shortcut failed", "index", index, "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	log.Info("http shortcut ok", "index", index)
}

func (s *Server) handleBindings(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Bindings == nil {
		writeError(w, http.StatusServiceUnavailable, command.ErrNoScheduler)
		return
	}
	bindings := s.cfg.Bindings()
	note(r, "bindings", len(bindings))
	writeJSON(w, http.StatusOK, map[string]any{"bindings": bindings})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	var payload struct {
		Index *int `json:"index"`
		All   bool `json:"all"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http refresh decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var err error
	switch {
	case payload.All:
		err = s.admin.RefreshAll(r.Context())
	case payload.Index != nil:
		err = s.admin.RefreshPage(r.Context(), *payload.Index)
	default:
		err = fmt.Errorf("%w: index or all is required", schema.ErrInvalidRequest)
	}
	if err != nil {
		log.Warn("http refresh failed", "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	if payload.All {
		note(r, "refresh_all", true)
	} else {
		note(r, "pane", *payload.Index)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
	log.Info("http refresh ok", "all", payload.All, "index", payload.Index)
}

func (s *Server) handleDurations(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	var payload struct {
		IntervalMS         *int `json:"interval"`
		PauseDurationMS    *int `json:"pause_duration"`
		TabPauseDurationMS *int `json:"tab_pause_duration"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http durations decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx := r.Context()
	steps := []struct {
		value *int
		set   func(context.Context, int) error
	}{
		{payload.IntervalMS, s.admin.SetInterval},
		{payload.PauseDurationMS, s.admin.SetPauseDuration},
		{payload.TabPauseDurationMS, s.admin.SetTabPauseDuration},
	}
	for _, step := range steps {
		if step.value == nil {
			continue
		}
		if err := step.set(ctx, *step.value); err != nil {
			log.Warn("http durations failed", "err", err)
			writeError(w, errorStatus(err), err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.configView())
	log.Info("http durations ok")
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	var payload struct {
		Input string `json:"input"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http command decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.cmdHandler == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("command handler unavailable"))
		return
	}
	log = log.With("input_len", len(payload.Input))
	result, handled, err := s.cmdHandler.Handle(r.Context(), payload.Input)
	if err != nil {
		log.Warn("http command failed", "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	if !handled {
		writeError(w, http.StatusBadRequest, errors.New("not a command; try /help"))
		log.Warn("http command rejected", "reason", "not a command")
		return
	}
	writeJSON(w, http.StatusOK, result)
	log.Info("http command ok", "lines", len(result.Lines))
}

func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	if s.cfg.Quit == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("quit unavailable"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
	log.Info("http quit requested")
	s.cfg.Quit()
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.Ctx(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))

	// Subscribe before the snapshot so nothing published in between is lost.
	ch, unsubscribe, seq, _ := s.hub.Subscribe()
	defer unsubscribe()

	snapshot := s.buildSnapshot()
	_ = writeSSEvent(w, StreamEvent{
		Type:      "snapshot",
		Snapshot:  &snapshot,
		Timestamp: time.Now(),
	})
	flusher.Flush()

	replayCount := 0
	if lastID > 0 {
		for _, event := range s.hub.Replay(lastID) {
			if event.Seq > seq {
				break
			}
			_ = writeSSEvent(w, event)
			replayCount++
		}
		flusher.Flush()
	}

	notify := r.Context().Done()
	log.Info("http stream opened", "last_id", lastID, "replay", replayCount)
	for {
		select {
		case <-notify:
			log.Info("http stream closed")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) buildSnapshot() SnapshotPayload {
	view := s.configView()
	snapshot := SnapshotPayload{
		Config:    view.Config,
		Selected:  view.Selected,
		LoadError: view.LoadError,
	}
	if s.scheduler != nil {
		if state, err := s.scheduler.State(); err == nil {
			snapshot.State = &state
		}
	}
	return snapshot
}

func pathIndex(r *http.Request) (int, error) {
	raw := r.PathValue("index")
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: index %q is not a number", schema.ErrInvalidRequest, raw)
	}
	return index, nil
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, command.ErrNoScheduler), errors.Is(err, schema.ErrSchedulerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, schema.ErrPaneIndex):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrNoPanes):
		return http.StatusConflict
	case errors.Is(err, schema.ErrInvalidRequest), errors.Is(err, schema.ErrConfigInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", event.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
