package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oodaa/signal-relay/internal/metrics"
)

const writeWait = 1 * time.Second

// Client is one live websocket connection and its session state.
//
// The identity fields are owned by the Hub and guarded by its mutex; the
// transport side (reads from the loop goroutine, writes serialized by
// writeMu) never touches them directly.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	log  *slog.Logger
	id   string

	maxMessageBytes int64

	// Guarded by hub.mu.
	userID      string
	userInfo    json.RawMessage
	registered  bool
	connectedAt time.Time
	boundAt     time.Time
	lastSeen    time.Time

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, id string, maxMessageBytes int64) *Client {
	now := hub.clock.Now()
	return &Client{
		hub:             hub,
		conn:            conn,
		log:             hub.log.With("client_id", id),
		id:              id,
		maxMessageBytes: maxMessageBytes,
		connectedAt:     now,
		lastSeen:        now,
	}
}

// ID returns the server-generated connection identifier.
func (c *Client) ID() string { return c.id }

// Run processes the connection's inbound frames until the transport closes,
// then completes the close path (directory unbind plus offline broadcast)
// before returning.
func (c *Client) Run() {
	defer c.Close()

	if c.maxMessageBytes > 0 {
		c.conn.SetReadLimit(c.maxMessageBytes)
	}

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			c.hub.metrics.Inc(metrics.MalformedEnvelopes)
			c.sendError("invalid message format")
			continue
		}

		env, err := ParseEnvelope(data)
		if err != nil {
			if errors.Is(err, ErrUnknownType) {
				c.hub.metrics.Inc(metrics.UnknownTypes)
				c.log.Debug("ignoring unrecognized message type", "err", err)
				continue
			}
			c.hub.metrics.Inc(metrics.MalformedEnvelopes)
			c.sendError(errorReplyText(err))
			continue
		}

		c.handle(env)
	}
}

func (c *Client) handle(env Envelope) {
	switch env.Type {
	case TypeRegister:
		c.handleRegister(env)
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeContactRequest, TypeContactAccepted:
		c.handleSignal(env)
	case TypeMessage:
		c.handleDirectMessage(env)
	case TypeGetOnlineUsers:
		c.handleGetOnlineUsers()
	case TypePing:
		c.handlePing()
	default:
		// ParseEnvelope only admits the types above.
		c.hub.metrics.Inc(metrics.UnknownTypes)
	}
}

func (c *Client) handleRegister(env Envelope) {
	reply, evicted, targets, err := c.hub.bind(c, env.UserID, env.UserInfo)
	if err != nil {
		if errors.Is(err, ErrAlreadyRegistered) {
			c.sendError(err.Error())
		}
		return
	}

	// The evicted connection's teardown runs to completion first. Its
	// directory entry already points at this connection, so the eviction
	// produces no offline broadcast for the identity that just came online.
	if evicted != nil {
		c.log.Info("replacing previous connection for user", "user_id", env.UserID, "evicted_client_id", evicted.id)
		c.hub.metrics.Inc(metrics.BindingsEvicted)
		evicted.Close()
	}

	c.hub.metrics.Inc(metrics.Registrations)
	c.log.Info("user registered", "user_id", env.UserID)

	if err := c.send(reply); err != nil {
		return
	}
	c.hub.broadcastStatus(targets, env.UserID, true, env.UserInfo)
}

// handleSignal forwards negotiation and contact envelopes. The target must
// be online; a resolution miss earns the sender an error reply naming the
// missing target.
func (c *Client) handleSignal(env Envelope) {
	fromUserID, fromUserInfo, registered := c.hub.identity(c)
	if !registered {
		c.hub.metrics.Inc(metrics.NotRegistered)
		c.sendError(ErrNotRegistered.Error())
		return
	}

	target := c.hub.resolve(env.TargetUserID)
	if target == nil {
		c.hub.metrics.Inc(metrics.TargetOffline)
		c.sendError(fmt.Sprintf("User %s is not online", env.TargetUserID))
		return
	}

	out := Envelope{
		Type:         env.Type,
		FromUserID:   fromUserID,
		FromUserInfo: fromUserInfo,
	}
	forwardPayload(&out, env)
	c.deliver(target, out)
}

// handleDirectMessage forwards an opaque application envelope. Unlike the
// negotiation types, an offline target drops the envelope silently: there is
// no offline queue.
func (c *Client) handleDirectMessage(env Envelope) {
	fromUserID, fromUserInfo, registered := c.hub.identity(c)
	if !registered {
		c.hub.metrics.Inc(metrics.NotRegistered)
		c.sendError(ErrNotRegistered.Error())
		return
	}

	target := c.hub.resolve(env.TargetUserID)
	if target == nil {
		c.hub.metrics.Inc(metrics.TargetOffline)
		c.log.Debug("dropping message for offline user", "target_user_id", env.TargetUserID)
		return
	}

	c.deliver(target, Envelope{
		Type:         TypeMessage,
		FromUserID:   fromUserID,
		FromUserInfo: fromUserInfo,
		MessageData:  env.MessageData,
	})
}

// deliver performs the at-most-once best-effort write to the target. A write
// failure is logged and treated as the target disconnecting; the sender is
// not told.
func (c *Client) deliver(target *Client, env Envelope) {
	if err := target.send(env); err != nil {
		c.hub.metrics.Inc(metrics.DeliveryFailures)
		c.log.Warn("delivery failed", "type", string(env.Type), "target_client_id", target.id, "err", err)
		go target.Close()
		return
	}
	c.hub.metrics.Inc(metrics.EnvelopesForwarded)
}

func (c *Client) handleGetOnlineUsers() {
	// Permitted pre-registration: an anonymous connection may ask who is
	// online, it just isn't listed itself.
	userID, _, _ := c.hub.identity(c)
	_ = c.send(Envelope{
		Type:  TypeOnlineUsers,
		Users: c.hub.OnlineUsers(userID),
	})
}

func (c *Client) handlePing() {
	c.hub.touch(c)
	_ = c.send(Envelope{
		Type:      TypePong,
		Timestamp: c.hub.clock.Now().UnixMilli(),
	})
}

func (c *Client) send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) sendError(message string) {
	_ = c.send(Envelope{
		Type:    TypeError,
		Message: message,
	})
}

// Close tears the connection down exactly once: the registry removal (and
// with it any directory unbind and offline broadcast) completes before the
// underlying transport is closed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	})
}

func errorReplyText(err error) string {
	if errors.Is(err, ErrInvalidUserID) {
		return "Invalid user ID"
	}
	return err.Error()
}
