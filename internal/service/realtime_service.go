package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/wazzap/chat-backend/internal/domain"
	"github.com/wazzap/chat-backend/internal/hub"
	"github.com/wazzap/chat-backend/internal/store"
	"github.com/wazzap/chat-backend/internal/worker"
	"github.com/wazzap/chat-backend/pkg/log"
)

type realtimeService struct {
	hub   *hub.Hub
	store store.ChatStore
	pool  *worker.Pool
}

func NewRealtimeService(h *hub.Hub, st store.ChatStore, pool *worker.Pool) RealtimeService {
	return &realtimeService{
		hub:   h,
		store: st,
		pool:  pool,
	}
}

func (s *realtimeService) HandleChatOpen(ctx context.Context, c *hub.Client, f *domain.ChatOpenFrame) error {
	if f.ChatID == 0 {
		c.SendMessage(domain.NewErrorMessage((&domain.ValidationError{Field: "chat_id"}).Error()))
		return nil
	}
	// Identity comes from the handshake, never from the frame: a frame
	// user_id naming someone else is rejected so one member cannot act
	// as another or steal their presence binding.
	userID := c.UserID()
	if f.UserID != 0 && f.UserID != userID {
		c.SendMessage(domain.NewErrorMessage((&domain.ValidationError{Field: "user_id"}).Error()))
		return nil
	}

	if err := s.VerifyMembership(ctx, f.ChatID, userID); err != nil {
		c.SendMessage(domain.NewErrorMessage(err.Error()))
		return err
	}

	// Presence was bound at the handshake; opening a chat only joins its
	// recipient set.
	s.hub.Connect(c, f.ChatID, 0)
	return nil
}

func (s *realtimeService) HandleMessageSend(ctx context.Context, c *hub.Client, f *domain.MessageSendFrame) error {
	if f.ChatID == 0 {
		c.SendMessage(domain.NewErrorMessage((&domain.ValidationError{Field: "chat_id"}).Error()))
		return nil
	}
	senderID := f.SenderID
	if senderID == 0 {
		senderID = c.UserID()
	}
	msgType := f.MsgType
	if msgType == "" {
		msgType = domain.MessageTypeText
	}

	var msg *domain.Message
	err := s.pool.Do(ctx, func() error {
		var err error
		msg, err = s.store.CreateMessage(ctx, f.ChatID, senderID, msgType, f.Content, f.MediaURL)
		return err
	})
	if err != nil {
		log.L().Error().Err(err).
			Int64(log.FieldChatID, f.ChatID).
			Int64(log.FieldUserID, senderID).
			Msg("persist message failed")
		c.SendMessage(domain.NewErrorMessage("failed to send message"))
		return err
	}

	senderName := s.displayName(ctx, senderID)

	envelope := &domain.MessageNewMessage{
		Type:   domain.MsgTypeMessageNew,
		ChatID: msg.ChatID,
		Message: &domain.MessagePayload{
			ID:             msg.ID,
			ChatID:         msg.ChatID,
			SenderID:       msg.SenderID,
			SenderUsername: senderName,
			Type:           msg.Type,
			Content:        msg.Text,
			MediaURL:       msg.MediaURL,
			CreatedAt:      msg.CreatedAt,
			ReadBy:         []int64{},
			ReadCount:      0,
		},
	}

	s.hub.Broadcast(msg.ChatID, envelope, s.roster(ctx))
	return nil
}

func (s *realtimeService) HandleMessageRead(ctx context.Context, c *hub.Client, f *domain.MessageReadFrame) error {
	if f.ChatID == 0 {
		c.SendMessage(domain.NewErrorMessage((&domain.ValidationError{Field: "chat_id"}).Error()))
		return nil
	}
	if f.MessageID == "" {
		c.SendMessage(domain.NewErrorMessage((&domain.ValidationError{Field: "message_id"}).Error()))
		return nil
	}
	readerID := c.UserID()

	err := s.pool.Do(ctx, func() error {
		return s.store.UpdateLastSeen(ctx, f.ChatID, readerID, f.MessageID)
	})
	if err != nil {
		log.L().Error().Err(err).
			Int64(log.FieldChatID, f.ChatID).
			Int64(log.FieldUserID, readerID).
			Msg("update last seen failed")
		c.SendMessage(domain.NewErrorMessage("failed to mark messages as read"))
		return err
	}

	var marked []string
	err = s.pool.Do(ctx, func() error {
		var err error
		marked, err = s.store.MarkMessagesAsRead(ctx, f.ChatID, readerID, f.MessageID)
		return err
	})
	if err != nil {
		log.L().Error().Err(err).
			Int64(log.FieldChatID, f.ChatID).
			Int64(log.FieldUserID, readerID).
			Msg("mark messages as read failed")
		c.SendMessage(domain.NewErrorMessage("failed to mark messages as read"))
		return err
	}

	roster := s.roster(ctx)
	for _, messageID := range marked {
		var readers []int64
		err = s.pool.Do(ctx, func() error {
			var err error
			readers, err = s.store.GetReadStatusesForMessage(ctx, messageID)
			return err
		})
		if err != nil {
			log.L().Error().Err(err).Str("message_id", messageID).Msg("get read statuses failed")
			continue
		}

		// The reader counts towards read_count but is not listed among
		// "read by others".
		readBy := make([]int64, 0, len(readers))
		for _, id := range readers {
			if id != readerID {
				readBy = append(readBy, id)
			}
		}

		s.hub.Broadcast(f.ChatID, &domain.ReadUpdateMessage{
			Type:      domain.MsgTypeReadUpdate,
			ChatID:    f.ChatID,
			MessageID: messageID,
			ReadBy:    readBy,
			ReadCount: len(readers),
		}, roster)
	}

	c.SendMessage(&domain.MessageStatusMessage{
		Type:      domain.MsgTypeMessageStatus,
		ChatID:    f.ChatID,
		MessageID: f.MessageID,
		Status:    "read",
	})
	return nil
}

func (s *realtimeService) HandleLegacyMessage(ctx context.Context, c *hub.Client, chatID, userID int64, f *domain.LegacyFrame) error {
	msgType := f.Type
	if msgType == "" {
		msgType = domain.MessageTypeText
	}

	var msg *domain.Message
	err := s.pool.Do(ctx, func() error {
		var err error
		msg, err = s.store.CreateMessage(ctx, chatID, userID, msgType, f.Content, f.MediaURL)
		return err
	})
	if err != nil {
		log.L().Error().Err(err).
			Int64(log.FieldChatID, chatID).
			Int64(log.FieldUserID, userID).
			Msg("persist legacy message failed")
		c.SendMessage(&domain.LegacyError{Error: "failed to send message"})
		return err
	}

	s.hub.Broadcast(chatID, &domain.LegacyBroadcast{
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Type:      msg.Type,
		Content:   msg.Text,
		MediaURL:  msg.MediaURL,
		MessageID: msg.ID,
	}, nil)
	return nil
}

func (s *realtimeService) VerifyMembership(ctx context.Context, chatID, userID int64) error {
	var members []domain.ChatMember
	err := s.pool.Do(ctx, func() error {
		if _, err := s.store.GetChat(ctx, chatID); err != nil {
			return err
		}
		var err error
		members, err = s.store.GetChatMembers(ctx, chatID)
		return err
	})
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return err
		}
		return fmt.Errorf("verify membership: %w", err)
	}

	for _, m := range members {
		if m.UserID == userID {
			return nil
		}
	}
	return &domain.NotAMemberError{ChatID: chatID, UserID: userID}
}

func (s *realtimeService) NotifyMemberAdded(chatID, userID int64) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.L().Error().Interface("panic", r).Msg("member-added notification panicked")
			}
		}()

		ctx := context.Background()
		var chat *domain.Chat
		err := s.pool.Do(ctx, func() error {
			var err error
			chat, err = s.store.GetChat(ctx, chatID)
			return err
		})
		if err != nil {
			log.L().Warn().Err(err).Int64(log.FieldChatID, chatID).Msg("member-added notification skipped")
			return
		}

		delivered := s.hub.SendToUser(userID, &domain.MemberAddedMessage{
			Type:      domain.MsgTypeMemberAdded,
			ChatID:    chat.ID,
			ChatTitle: chat.Title,
			ChatType:  chat.Type,
		})
		if !delivered {
			log.L().Debug().
				Int64(log.FieldChatID, chatID).
				Int64(log.FieldUserID, userID).
				Msg("member-added notification: user offline")
		}
	}()
}

// roster returns a hub.RosterFunc backed by the membership table. A
// lookup failure degrades to opener-only delivery.
func (s *realtimeService) roster(ctx context.Context) hub.RosterFunc {
	return func(chatID int64) []int64 {
		var members []domain.ChatMember
		err := s.pool.Do(ctx, func() error {
			var err error
			members, err = s.store.GetChatMembers(ctx, chatID)
			return err
		})
		if err != nil {
			log.L().Warn().Err(err).Int64(log.FieldChatID, chatID).Msg("roster lookup failed")
			return nil
		}
		ids := make([]int64, 0, len(members))
		for _, m := range members {
			ids = append(ids, m.UserID)
		}
		return ids
	}
}

func (s *realtimeService) displayName(ctx context.Context, userID int64) string {
	var user *domain.User
	err := s.pool.Do(ctx, func() error {
		var err error
		user, err = s.store.GetUser(ctx, userID)
		return err
	})
	if err != nil {
		log.L().Warn().Err(err).Int64(log.FieldUserID, userID).Msg("resolve sender name failed")
		return ""
	}
	return user.Username
}
