package gateway

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/soyeahso/vlowchat/internal/channel/widget"
	"github.com/soyeahso/vlowchat/internal/logging"
)

// withMiddleware wraps a handler with the standard middleware chain.
func withMiddleware(handler http.Handler, log *logging.Logger, timeout time.Duration) http.Handler {
	h := handler
	h = timeoutMiddleware(h, timeout)
	h = requestIDMiddleware(h)
	h = recoverMiddleware(h, log)
	h = loggingMiddleware(h, log)
	return h
}

// loggingMiddleware logs each HTTP request.
func loggingMiddleware(next http.Handler, log *logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Str("request_id", w.Header().Get("X-Request-ID")).
			Msg("http request")
	})
}

// recoverMiddleware turns a handler panic into a 500.
func recoverMiddleware(next http.Handler, log *logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				log.Error().Interface("panic", v).Str("path", r.URL.Path).Msg("handler panicked")
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error", Code: "internal_error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware adds a unique request ID to each request/response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

// timeoutMiddleware bounds each request's context. The realtime socket is
// long-lived and exempt.
func timeoutMiddleware(next http.Handler, timeout time.Duration) http.Handler {
	if timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// widgetCORS answers preflight and sets CORS headers for the widget
// endpoint. Any origin passes here; the per-workspace origin list is
// enforced by the handler once the workspace is known.
func widgetCORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool { return origin != "" },
		AllowedMethods:  []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders:  []string{"Content-Type", widget.SecretHeader, "X-Request-ID"},
		ExposedHeaders:  []string{"Retry-After", "X-Request-ID"},
		MaxAge:          86400,
	})
}

// apiCORS allows the configured agent UI origins. With none configured,
// cross-origin calls get no CORS headers.
func apiCORS(allowed []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"Retry-After", "X-Request-ID", "Content-Disposition"},
		MaxAge:         86400,
	}
	if len(allowed) == 0 {
		// An empty list means "allow all" to the cors package.
		opts.AllowOriginFunc = func(*http.Request, string) bool { return false }
	}
	return cors.Handler(opts)
}

// statusWriter wraps ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
