// Package web exposes upload sessions to a local frontend over HTTP and
// WebSocket. Each WebSocket connection is the presentation surface of one
// session.
package web

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"time"

	"github.com/mordilloSan/go-logger/logger"

	"odmclient/internal/session"
)

// BuildRouter constructs and returns the bridge HTTP handler.
func BuildRouter(registry *session.Registry) http.Handler {
	mux := http.NewServeMux()

	// Apply middleware chain
	var handler http.Handler = mux
	handler = OriginMiddleware(handler)
	handler = LoggerMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	h := &sessionHandlers{registry: registry}
	mux.HandleFunc("POST /api/sessions", h.create)
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("GET /api/sessions/{id}", h.get)
	mux.HandleFunc("POST /api/sessions/{id}/cancel", h.cancel)
	mux.HandleFunc("POST /api/sessions/{id}/minimize", h.minimize)
	mux.HandleFunc("POST /api/sessions/{id}/commit", h.retryCommit)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.dismiss)
	mux.HandleFunc("GET /ws/sessions/{id}", h.attach)

	return handler
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack passes the connection through for WebSocket upgrades.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// isLoopbackOrigin accepts requests without an Origin (non-browser
// clients) and pages served from this machine.
func isLoopbackOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// OriginMiddleware rejects browser requests coming from other sites. The
// bridge has no login of its own and acts with the user's token.
func OriginMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); !isLoopbackOrigin(origin) {
			logger.WarnKV("cross-site request rejected", "origin", origin, "path", r.URL.Path)
			WriteError(w, http.StatusForbidden, "origin not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoggerMiddleware logs every request at debug level.
func LoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.DebugKV("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

// RecoveryMiddleware turns a panicking handler into a 500 response.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Errorf("panic serving %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				WriteError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
