package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/oodaa/signal-relay/internal/metrics"
	"github.com/oodaa/signal-relay/internal/ratelimit"
)

// Hub owns the connection registry and the identity directory. All shared
// mutable state (both maps plus each client's identity fields) is guarded by
// a single mutex, which is what makes bind/unbind atomic with respect to
// concurrent registrations, closes, and reaper sweeps.
//
// The mutex is never held across a transport write: every method collects
// its targets under the lock and sends after releasing it.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	clock   ratelimit.Clock

	mu      sync.Mutex
	clients map[string]*Client // connection id -> live connection
	users   map[string]*Client // user id -> bound connection
}

func NewHub(logger *slog.Logger, m *metrics.Metrics, clock ratelimit.Clock) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	return &Hub{
		log:     logger,
		metrics: m,
		clock:   clock,
		clients: make(map[string]*Client),
		users:   make(map[string]*Client),
	}
}

func (h *Hub) Metrics() *metrics.Metrics { return h.metrics }

// Counts returns the number of live connections and bound identities.
func (h *Hub) Counts() (clients, users int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients), len(h.users)
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.metrics.Inc(metrics.ConnectionsAccepted)
}

// remove detaches a closing connection. The identity directory entry is
// deleted only if it still points at this connection, so a stale close can
// never tear down a fresher binding created by a reconnect. The offline
// broadcast fires at most once per binding because the directory check and
// the delete happen under the same lock hold.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)

	wasBound := c.registered && h.users[c.userID] == c
	var (
		userID  string
		targets []*Client
	)
	if wasBound {
		userID = c.userID
		delete(h.users, c.userID)
		targets = h.boundTargetsLocked(userID)
	}
	c.registered = false
	h.mu.Unlock()

	if wasBound {
		h.broadcastStatus(targets, userID, false, nil)
	}
}

// bind maps userID to c, evicting any prior holder (last-writer-wins). It
// returns the registered reply for c, the evicted connection (nil if none),
// and the bound connections to notify of the new presence.
func (h *Hub) bind(c *Client, userID string, userInfo json.RawMessage) (reply Envelope, evicted *Client, targets []*Client, err error) {
	now := h.clock.Now()

	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return Envelope{}, nil, nil, ErrConnectionClosed
	}

	if c.registered && c.userID != userID {
		h.mu.Unlock()
		return Envelope{}, nil, nil, ErrAlreadyRegistered
	}

	refresh := c.registered && c.userID == userID

	if prior := h.users[userID]; prior != nil && prior != c {
		evicted = prior
	}
	h.users[userID] = c
	c.userID = userID
	c.userInfo = userInfo
	c.registered = true
	c.lastSeen = now
	if !refresh {
		c.boundAt = now
	}

	reply = Envelope{
		Type:        TypeRegistered,
		UserID:      userID,
		OnlineUsers: h.onlineUsersLocked(userID),
	}
	if !refresh {
		targets = h.boundTargetsLocked(userID)
	}
	h.mu.Unlock()

	return reply, evicted, targets, nil
}

// identity snapshots the sender's bound identity for stamping onto forwarded
// envelopes. registered is false for unbound connections.
func (h *Hub) identity(c *Client) (userID string, userInfo json.RawMessage, registered bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !c.registered {
		return "", nil, false
	}
	return c.userID, c.userInfo, true
}

// resolve returns the connection currently bound to userID, or nil.
func (h *Hub) resolve(userID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.users[userID]
}

// OnlineUsers lists every bound identity except excludeUserID.
func (h *Hub) OnlineUsers(excludeUserID string) []User {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.onlineUsersLocked(excludeUserID)
}

func (h *Hub) onlineUsersLocked(excludeUserID string) []User {
	out := make([]User, 0, len(h.users))
	for userID, c := range h.users {
		if userID == excludeUserID {
			continue
		}
		out = append(out, User{UserID: userID, UserInfo: c.userInfo})
	}
	return out
}

// boundTargetsLocked returns every bound connection except the one holding
// subjectUserID. Unregistered connections never receive presence events.
func (h *Hub) boundTargetsLocked(subjectUserID string) []*Client {
	targets := make([]*Client, 0, len(h.users))
	for userID, c := range h.users {
		if userID == subjectUserID {
			continue
		}
		targets = append(targets, c)
	}
	return targets
}

func (h *Hub) broadcastStatus(targets []*Client, userID string, online bool, userInfo json.RawMessage) {
	if len(targets) > 0 {
		h.metrics.Inc(metrics.StatusBroadcasts)
	}
	env := Envelope{
		Type:     TypeUserStatus,
		UserID:   userID,
		IsOnline: ptr(online),
		UserInfo: userInfo,
	}
	for _, t := range targets {
		if err := t.send(env); err != nil {
			h.log.Warn("presence broadcast failed", "target", t.id, "err", err)
			go t.Close()
		}
	}
}

// touch refreshes the last-seen timestamp of a connection's session.
func (h *Hub) touch(c *Client) {
	h.mu.Lock()
	c.lastSeen = h.clock.Now()
	h.mu.Unlock()
}

// ReapStale force-closes every bound connection whose session has been
// silent for longer than timeout, driving the normal close path (directory
// unbind plus a single offline broadcast). Each candidate is re-checked
// under the lock immediately before eviction so a racing real disconnect or
// reconnect wins cleanly.
func (h *Hub) ReapStale(timeout time.Duration) int {
	now := h.clock.Now()

	h.mu.Lock()
	var stale []*Client
	for _, c := range h.users {
		if now.Sub(c.lastSeen) > timeout {
			stale = append(stale, c)
		}
	}
	h.mu.Unlock()

	reaped := 0
	for _, c := range stale {
		h.mu.Lock()
		_, live := h.clients[c.id]
		evict := live && c.registered && h.users[c.userID] == c && h.clock.Now().Sub(c.lastSeen) > timeout
		userID := c.userID
		h.mu.Unlock()
		if !evict {
			continue
		}

		h.log.Info("reaping stale session", "user_id", userID, "client_id", c.id)
		h.metrics.Inc(metrics.SessionsReaped)
		c.Close()
		reaped++
	}
	return reaped
}

// CloseAll force-closes every live connection. Used during shutdown after
// the listener has stopped accepting.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}

func ptr[T any](v T) *T { return &v }
