package relay

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/oodaa/signal-relay/internal/metrics"
	"github.com/oodaa/signal-relay/internal/ratelimit"
)

// ServerConfig wires together the runtime dependencies for the websocket
// signaling surface.
type ServerConfig struct {
	Hub *Hub

	// Admission gates connection attempts per source address before any
	// session work. Nil disables admission control.
	Admission *ratelimit.AddressLimiter

	// MaxMessageBytes caps a single inbound frame. <= 0 means unlimited.
	MaxMessageBytes int64

	Logger *slog.Logger
}

// Server upgrades admitted HTTP requests to websocket connections and hands
// them to the hub.
type Server struct {
	hub             *Hub
	admission       *ratelimit.AddressLimiter
	maxMessageBytes int64
	log             *slog.Logger
	upgrader        websocket.Upgrader
}

func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:             cfg.Hub,
		admission:       cfg.Admission,
		maxMessageBytes: cfg.MaxMessageBytes,
		log:             logger,
		upgrader: websocket.Upgrader{
			// Origin checks are enforced by the outer httpserver origin
			// middleware. For tests that mount this handler directly, accept
			// all origins here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	addr := sourceAddress(r.RemoteAddr)
	if s.admission != nil && !s.admission.Admit(addr) {
		s.hub.metrics.Inc(metrics.ConnectionsRejected)
		s.log.Info("connection refused by admission filter", "source", addr)
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := newClient(s.hub, conn, uuid.NewString(), s.maxMessageBytes)
	s.hub.add(client)
	s.log.Debug("client connected", "client_id", client.ID(), "source", addr)

	_ = client.send(Envelope{
		Type:     TypeConnected,
		ClientID: client.ID(),
		Message:  "connected to signaling relay",
	})

	client.Run()
	s.log.Debug("client disconnected", "client_id", client.ID())
}

// sourceAddress strips the ephemeral port so admission buckets key on the
// address alone.
func sourceAddress(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
