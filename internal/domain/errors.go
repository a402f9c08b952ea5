package domain

import (
	"errors"
	"fmt"
)

// Handshake rejection causes. The two must stay distinguishable all the
// way to the websocket close frame: an unknown session means the server
// restarted and the client may silently reconnect, a token mismatch means
// the client has to log in again.
var (
	ErrUnknownSession = errors.New("unknown session")
	ErrTokenMismatch  = errors.New("token mismatch")
)

// ValidationError reports a missing or malformed field in an inbound
// frame. It is sent back to the offending connection and never kills
// the receive loop.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid or missing field: %s", e.Field)
}

// NotFoundError reports a chat or user lookup miss.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// NotAMemberError reports a membership check failure on chat.open or the
// legacy endpoint.
type NotAMemberError struct {
	ChatID int64
	UserID int64
}

func (e *NotAMemberError) Error() string {
	return fmt.Sprintf("user %d is not a member of chat %d", e.UserID, e.ChatID)
}
