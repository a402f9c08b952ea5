package service

import (
	"context"

	"github.com/wazzap/chat-backend/internal/domain"
	"github.com/wazzap/chat-backend/internal/hub"
)

// RealtimeService owns the per-frame business rules of the realtime
// protocol. Handlers decode frames and pick the method; the service
// talks to persistence and drives the hub. Every method reports
// failures to the offending connection itself — the returned error is
// for logging only and never tears the connection down.
type RealtimeService interface {
	HandleChatOpen(ctx context.Context, c *hub.Client, f *domain.ChatOpenFrame) error
	HandleMessageSend(ctx context.Context, c *hub.Client, f *domain.MessageSendFrame) error
	HandleMessageRead(ctx context.Context, c *hub.Client, f *domain.MessageReadFrame) error

	// HandleLegacyMessage persists and fans out one frame of the
	// path-bound endpoint.
	HandleLegacyMessage(ctx context.Context, c *hub.Client, chatID, userID int64, f *domain.LegacyFrame) error

	// VerifyMembership checks that the chat exists and the user belongs
	// to it.
	VerifyMembership(ctx context.Context, chatID, userID int64) error

	// NotifyMemberAdded pushes a chat.member.added event to a user's
	// presence connection as a detached best-effort side effect. It is
	// the hook for the member-management flow, which owns chat CRUD and
	// calls it after persisting the new member; nothing in this module
	// invokes it.
	NotifyMemberAdded(chatID, userID int64)
}
