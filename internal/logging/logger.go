package logging

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// Environment is stamped on every request log line.
type Environment struct {
	Service string
	Version string
	Commit  string
	Region  string
	NodeID  string
}

func (e Environment) attrs() []any {
	return []any{
		slog.String("service", e.Service),
		slog.String("version", e.Version),
		slog.String("commit", e.Commit),
		slog.String("region", e.Region),
		slog.String("node_id", e.NodeID),
	}
}

type ctxKey struct{}

// requestFields collects handler-supplied attributes for one request.
type requestFields struct {
	mu     sync.Mutex
	values map[string]any
}

func (f *requestFields) set(key string, value any) {
	f.mu.Lock()
	f.values[key] = value
	f.mu.Unlock()
}

// attrs returns the collected fields sorted by key.
func (f *requestFields) attrs() []slog.Attr {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]slog.Attr, 0, len(f.values))
	for k, v := range f.values {
		out = append(out, slog.Any(k, v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// NewJSONLogger writes JSON lines to stdout at the named level.
func NewJSONLogger(level string) *slog.Logger {
	return NewJSONLoggerTo(os.Stdout, level)
}

func NewJSONLoggerTo(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps debug, info, warn and error onto slog levels. Anything
// else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Middleware emits one "http_request" line per request, with the request
// attributes grouped under "event". A panic in next is answered with 500,
// logged, and then re-raised unless it is http.ErrAbortHandler.
func Middleware(logger *slog.Logger, env Environment) func(http.Handler) http.Handler {
	base := logger.With(env.attrs()...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = "req_" + uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)

			fields := &requestFields{values: map[string]any{}}
			r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, fields))
			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

			recovered := serveRecovering(sw, r, next, fields)

			attrs := []slog.Attr{
				slog.String("request_id", reqID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("user_agent", r.UserAgent()),
				slog.Int("status_code", sw.statusCode),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.Int("response_size", sw.bytes),
				slog.String("outcome", outcome(sw.statusCode)),
			}
			attrs = append(attrs, fields.attrs()...)
			level := slog.LevelInfo
			if sw.statusCode >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			base.LogAttrs(r.Context(), level, "http_request", slog.Attr{Key: "event", Value: slog.GroupValue(attrs...)})

			if recovered != nil && recovered != http.ErrAbortHandler {
				panic(recovered)
			}
		})
	}
}

func serveRecovering(sw *statusWriter, r *http.Request, next http.Handler, fields *requestFields) (recovered any) {
	defer func() {
		if recovered = recover(); recovered != nil {
			sw.statusCode = http.StatusInternalServerError
			http.Error(sw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			fields.set("panic", true)
			fields.set("stack", string(debug.Stack()))
		}
	}()
	next.ServeHTTP(sw, r)
	return nil
}

func outcome(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "error"
	case status >= http.StatusBadRequest:
		return "rejected"
	}
	return "success"
}

// AddField attaches a key to the current request's log line. It is a no-op
// outside Middleware.
func AddField(ctx context.Context, key string, value any) {
	if fields, ok := ctx.Value(ctxKey{}).(*requestFields); ok && fields != nil {
		fields.set(key, value)
	}
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}
