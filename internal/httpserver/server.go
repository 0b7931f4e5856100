package httpserver

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/oodaa/signal-relay/internal/config"
	"github.com/oodaa/signal-relay/internal/metrics"
	"github.com/oodaa/signal-relay/internal/relay"
)

var ErrServerClosed = http.ErrServerClosed

const serviceName = "oodaa-signal-relay"

// Server is the relay's HTTP surface: the websocket signaling endpoint plus
// the observability endpoints around it.
type Server struct {
	log *slog.Logger
	cfg config.Config
	hub *relay.Hub

	started time.Time

	mux *http.ServeMux
	srv *http.Server
}

func New(cfg config.Config, logger *slog.Logger, hub *relay.Hub, signal http.Handler) *Server {
	s := &Server{
		log:     logger,
		cfg:     cfg,
		hub:     hub,
		started: time.Now(),
		mux:     http.NewServeMux(),
	}

	s.registerRoutes(signal)

	handler := chain(s.mux,
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
	)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// No global read/write timeouts: /ws connections are long-lived.
	}

	return s
}

func (s *Server) Serve(l net.Listener) error {
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.srv.Close()
}

func (s *Server) registerRoutes(signal http.Handler) {
	s.mux.Handle("GET /ws", s.withOriginPolicy(signal.ServeHTTP))

	s.mux.HandleFunc("GET /health", s.withOriginPolicy(s.handleHealth))
	s.mux.HandleFunc("GET /{$}", s.withOriginPolicy(s.handleHealth))
	s.mux.HandleFunc("GET /stats", s.withOriginPolicy(s.handleStats))

	// Browser preflight requests arrive as OPTIONS and are answered entirely
	// by the origin middleware.
	for _, pattern := range []string{"OPTIONS /ws", "OPTIONS /health", "OPTIONS /{$}", "OPTIONS /stats"} {
		s.mux.HandleFunc(pattern, s.withOriginPolicy(handleNonPreflightOptions))
	}

	s.mux.Handle("GET /metrics", metrics.PrometheusHandler(s.hub.Metrics()))
}

func handleNonPreflightOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	clients, users := s.hub.Counts()
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"service":          serviceName,
		"connectedClients": clients,
		"connectedUsers":   users,
		"uptime":           time.Since(s.started).Seconds(),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	clients, users := s.hub.Counts()
	WriteJSON(w, http.StatusOK, map[string]any{
		"connectedClients": clients,
		"connectedUsers":   users,
		"uptime":           time.Since(s.started).Seconds(),
		"memory": map[string]any{
			"heapAlloc":  mem.HeapAlloc,
			"heapSys":    mem.HeapSys,
			"totalAlloc": mem.TotalAlloc,
			"numGC":      mem.NumGC,
			"goroutines": runtime.NumGoroutine(),
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type Middleware func(http.Handler) http.Handler

func chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	h := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func recoverMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in http handler", "recover", rec, "stack", string(debug.Stack()))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				var buf [16]byte
				if _, err := rand.Read(buf[:]); err == nil {
					reqID = hex.EncodeToString(buf[:])
				}
			}
			if reqID != "" {
				r.Header.Set("X-Request-ID", reqID)
				w.Header().Set("X-Request-ID", reqID)
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack passes through so the websocket upgrade works behind the logger.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.ResponseWriter.(http.Hijacker).Hijack()
}

func requestLoggerMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", r.Header.Get("X-Request-ID"),
			)
		})
	}
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
