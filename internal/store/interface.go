package store

import (
	"context"

	"github.com/wazzap/chat-backend/internal/domain"
)

// ChatStore is the persistence collaborator consumed by the realtime
// dispatcher. Calls may block on storage I/O; the dispatcher runs them
// through the worker pool, never on a pump goroutine directly.
type ChatStore interface {
	GetChat(ctx context.Context, chatID int64) (*domain.Chat, error)
	GetChatMembers(ctx context.Context, chatID int64) ([]domain.ChatMember, error)
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	CreateMessage(ctx context.Context, chatID, senderID int64, msgType, text, mediaURL string) (*domain.Message, error)
	UpdateLastSeen(ctx context.Context, chatID, userID int64, lastMessageID string) error
	// MarkMessagesAsRead marks every message in the chat not sent by the
	// user, up to and including lastMessageID, and returns the ids that
	// were newly marked, oldest first.
	MarkMessagesAsRead(ctx context.Context, chatID, userID int64, lastMessageID string) ([]string, error)
	// GetReadStatusesForMessage returns the ids of every user that has
	// read the message.
	GetReadStatusesForMessage(ctx context.Context, messageID string) ([]int64, error)
}

// UserStore backs the login flow.
type UserStore interface {
	CreateUser(ctx context.Context, username, pinHash string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}
