package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// WebSocket message types from client.
const (
	MsgTypeChatOpen    = "chat.open"
	MsgTypeMessageSend = "message.send"
	MsgTypeMessageRead = "message.read"
	MsgTypePing        = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeSessionReady  = "session.ready"
	MsgTypeMessageNew    = "message.new"
	MsgTypeReadUpdate    = "message.read.update"
	MsgTypeMessageStatus = "message.status"
	MsgTypeMemberAdded   = "chat.member.added"
	MsgTypePong          = "pong"
	MsgTypeError         = "error"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// InboundFrame is the closed set of frames a client may send on the
// session-multiplexed endpoint. DecodeInbound is the only constructor,
// so a handler switch over the variants covers every case.
type InboundFrame interface {
	inbound()
}

type ChatOpenFrame struct {
	Type   string `json:"type"`
	ChatID int64  `json:"chat_id"`
	UserID int64  `json:"user_id"`
}

type MessageSendFrame struct {
	Type     string `json:"type"`
	ChatID   int64  `json:"chat_id"`
	SenderID int64  `json:"sender_id"`
	MsgType  string `json:"msg_type"`
	Content  string `json:"content"`
	MediaURL string `json:"media_url"`
}

type MessageReadFrame struct {
	Type      string `json:"type"`
	ChatID    int64  `json:"chat_id"`
	MessageID string `json:"message_id"`
}

type PingFrame struct {
	Type string `json:"type"`
}

func (*ChatOpenFrame) inbound()    {}
func (*MessageSendFrame) inbound() {}
func (*MessageReadFrame) inbound() {}
func (*PingFrame) inbound()        {}

// DecodeInbound parses a raw frame into its typed variant. The tag is
// inspected once; unknown tags and malformed payloads are errors, not
// fatal conditions.
func DecodeInbound(data []byte) (InboundFrame, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid message format: %w", err)
	}

	var frame InboundFrame
	switch base.Type {
	case MsgTypeChatOpen:
		frame = &ChatOpenFrame{}
	case MsgTypeMessageSend:
		frame = &MessageSendFrame{}
	case MsgTypeMessageRead:
		frame = &MessageReadFrame{}
	case MsgTypePing:
		return &PingFrame{Type: MsgTypePing}, nil
	default:
		return nil, fmt.Errorf("unknown message type: %q", base.Type)
	}

	if err := json.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("invalid %s message: %w", base.Type, err)
	}
	return frame, nil
}

// LegacyFrame is the inbound shape of the path-bound endpoint. A frame
// with Type "control" and Content "quit" is an explicit disconnect.
type LegacyFrame struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	MediaURL string `json:"media_url"`
}

const (
	LegacyTypeControl = "control"
	LegacyQuit        = "quit"
)

// Server -> Client messages

type SessionReadyMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// MessagePayload is the persisted message as broadcast to recipients.
// ReadBy and ReadCount start empty: nobody has read a brand new message.
type MessagePayload struct {
	ID             string    `json:"id"`
	ChatID         int64     `json:"chat_id"`
	SenderID       int64     `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	Type           string    `json:"type"`
	Content        string    `json:"content,omitempty"`
	MediaURL       string    `json:"media_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ReadBy         []int64   `json:"read_by"`
	ReadCount      int       `json:"read_count"`
}

type MessageNewMessage struct {
	Type    string          `json:"type"`
	ChatID  int64           `json:"chat_id"`
	Message *MessagePayload `json:"message"`
}

type ReadUpdateMessage struct {
	Type      string  `json:"type"`
	ChatID    int64   `json:"chat_id"`
	MessageID string  `json:"message_id"`
	ReadBy    []int64 `json:"read_by"`
	ReadCount int     `json:"read_count"`
}

type MessageStatusMessage struct {
	Type      string `json:"type"`
	ChatID    int64  `json:"chat_id"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type MemberAddedMessage struct {
	Type      string `json:"type"`
	ChatID    int64  `json:"chat_id"`
	ChatTitle string `json:"chat_title,omitempty"`
	ChatType  string `json:"chat_type"`
}

type PongMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewErrorMessage(reason string) *ErrorMessage {
	return &ErrorMessage{Type: MsgTypeError, Error: reason}
}

// LegacyBroadcast is the flat broadcast object of the path-bound
// endpoint, kept byte-compatible with older clients.
type LegacyBroadcast struct {
	ChatID    int64  `json:"chat_id"`
	SenderID  int64  `json:"sender_id"`
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	MediaURL  string `json:"media_url,omitempty"`
	MessageID string `json:"message_id"`
}

// LegacyError matches the bare error object older clients expect.
type LegacyError struct {
	Error string `json:"error"`
}
