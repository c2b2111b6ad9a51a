package httpapi

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"pkt.systems/carousel/internal/logx"
)

// statusWriter remembers what a handler wrote so the access line can report it.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

// Flush keeps /api/stream working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type notesKey struct{}

// requestNotes carries kiosk fields (phase, pane, bindings) from a handler
// to the access line.
type requestNotes struct {
	mu     sync.Mutex
	fields []any
}

// note adds key/value pairs to the access line of r.
func note(r *http.Request, kv ...any) {
	notes, ok := r.Context().Value(notesKey{}).(*requestNotes)
	if !ok {
		return
	}
	notes.mu.Lock()
	notes.fields = append(notes.fields, kv...)
	notes.mu.Unlock()
}

func (n *requestNotes) list() []any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]any(nil), n.fields...)
}

// withRequestLogging attaches an http component logger to the request and
// logs one line per completed request. Server errors log at warn.
func withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logx.ContextWithComponentLogger(r.Context(), logx.Ctx(r.Context()).With("remote", clientIP(r)), "http")
		notes := &requestNotes{}
		ctx = context.WithValue(ctx, notesKey{}, notes)
		logger := logx.Ctx(ctx)
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r.WithContext(ctx))
		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		fields := []any{"method", r.Method, "path", r.URL.Path, "status", status, "bytes", sw.bytes, "duration_ms", time.Since(start).Milliseconds()}
		fields = append(fields, notes.list()...)
		if status >= http.StatusInternalServerError {
			logger.Warn("http request", fields...)
			return
		}
		logger.Info("http request", fields...)
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	return r.RemoteAddr
}
