package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType enumerates every envelope type the relay understands, in both
// directions. Anything else is ignored (logged, no reply).
type MessageType string

// Client-to-server types.
const (
	TypeRegister        MessageType = "register"
	TypeOffer           MessageType = "offer"
	TypeAnswer          MessageType = "answer"
	TypeICECandidate    MessageType = "ice-candidate"
	TypeMessage         MessageType = "message"
	TypeContactRequest  MessageType = "contact-request"
	TypeContactAccepted MessageType = "contact-accepted"
	TypeGetOnlineUsers  MessageType = "get-online-users"
	TypePing            MessageType = "ping"
)

// Server-to-client types.
const (
	TypeConnected   MessageType = "connected"
	TypeRegistered  MessageType = "registered"
	TypeOnlineUsers MessageType = "online-users"
	TypeUserStatus  MessageType = "user-status"
	TypePong        MessageType = "pong"
	TypeError       MessageType = "error"
)

// MaxUserIDLength bounds the externally supplied user identifier.
const MaxUserIDLength = 50

var (
	ErrUnknownType   = errors.New("unknown message type")
	ErrInvalidUserID = errors.New("invalid user id")
)

// User is a roster entry: a bound identity plus its opaque info blob.
type User struct {
	UserID   string          `json:"userId"`
	UserInfo json.RawMessage `json:"userInfo,omitempty"`
}

// Envelope is the single wire shape for every frame in both directions.
// Only the fields relevant to a given Type are populated; payload-bearing
// fields are raw JSON the relay never interprets.
//
// Unlike stricter protocols, unknown JSON fields are tolerated on inbound
// envelopes so older and newer clients can interoperate.
type Envelope struct {
	Type MessageType `json:"type"`

	// Registration / identity.
	UserID   string          `json:"userId,omitempty"`
	UserInfo json.RawMessage `json:"userInfo,omitempty"`

	// Routing. TargetUserID is client-supplied; FromUserID/FromUserInfo are
	// always stamped by the server from the sending connection's bound
	// identity and never trusted from the client.
	TargetUserID string          `json:"targetUserId,omitempty"`
	FromUserID   string          `json:"fromUserId,omitempty"`
	FromUserInfo json.RawMessage `json:"fromUserInfo,omitempty"`

	// Opaque payloads, forwarded verbatim.
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
	MessageData  json.RawMessage `json:"messageData,omitempty"`
	RequestData  json.RawMessage `json:"requestData,omitempty"`
	AccepterInfo json.RawMessage `json:"accepterInfo,omitempty"`

	// Server-to-client fields.
	ClientID    string `json:"clientId,omitempty"`
	OnlineUsers []User `json:"onlineUsers,omitempty"`
	Users       []User `json:"users,omitempty"`
	IsOnline    *bool  `json:"isOnline,omitempty"`
	Message     string `json:"message,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// ParseEnvelope decodes an inbound frame and checks the fields required by
// its type. ErrUnknownType identifies types outside the recognized set;
// the caller ignores those rather than erroring back to the client.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.New("invalid message format")
	}
	if err := env.validateInbound(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) validateInbound() error {
	switch e.Type {
	case TypeRegister:
		return ValidateUserID(e.UserID)
	case TypeOffer:
		return e.requireTarget("offer", len(e.Offer) != 0)
	case TypeAnswer:
		return e.requireTarget("answer", len(e.Answer) != 0)
	case TypeICECandidate:
		return e.requireTarget("candidate", len(e.Candidate) != 0)
	case TypeMessage:
		return e.requireTarget("messageData", len(e.MessageData) != 0)
	case TypeContactRequest:
		return e.requireTarget("requestData", len(e.RequestData) != 0)
	case TypeContactAccepted:
		return e.requireTarget("accepterInfo", len(e.AccepterInfo) != 0)
	case TypeGetOnlineUsers, TypePing:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
}

func (e Envelope) requireTarget(payloadField string, havePayload bool) error {
	if e.TargetUserID == "" {
		return fmt.Errorf("%s message missing targetUserId", e.Type)
	}
	if !havePayload {
		return fmt.Errorf("%s message missing %s", e.Type, payloadField)
	}
	return nil
}

// ValidateUserID enforces the identifier contract: non-empty, at most
// MaxUserIDLength bytes.
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(userID) > MaxUserIDLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidUserID, MaxUserIDLength)
	}
	return nil
}

// forwardPayload copies the payload field matching the envelope type from an
// inbound envelope into the envelope delivered to the target.
func forwardPayload(dst *Envelope, src Envelope) {
	switch src.Type {
	case TypeOffer:
		dst.Offer = src.Offer
	case TypeAnswer:
		dst.Answer = src.Answer
	case TypeICECandidate:
		dst.Candidate = src.Candidate
	case TypeMessage:
		dst.MessageData = src.MessageData
	case TypeContactRequest:
		dst.RequestData = src.RequestData
	case TypeContactAccepted:
		dst.AccepterInfo = src.AccepterInfo
	}
}
