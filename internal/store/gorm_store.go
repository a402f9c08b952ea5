package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wazzap/chat-backend/internal/domain"
)

// GormStore implements ChatStore and UserStore on a relational database.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetChat(ctx context.Context, chatID int64) (*domain.Chat, error) {
	var chat domain.Chat
	err := s.db.WithContext(ctx).First(&chat, "id = ?", chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Kind: "chat", ID: strconv.FormatInt(chatID, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("get chat %d: %w", chatID, err)
	}
	return &chat, nil
}

func (s *GormStore) GetChatMembers(ctx context.Context, chatID int64) ([]domain.ChatMember, error) {
	var members []domain.ChatMember
	if err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Find(&members).Error; err != nil {
		return nil, fmt.Errorf("get members of chat %d: %w", chatID, err)
	}
	return members, nil
}

func (s *GormStore) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	var user domain.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Kind: "user", ID: strconv.FormatInt(userID, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", userID, err)
	}
	return &user, nil
}

func (s *GormStore) CreateMessage(ctx context.Context, chatID, senderID int64, msgType, text, mediaURL string) (*domain.Message, error) {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		SenderID:  senderID,
		Type:      msgType,
		Text:      text,
		MediaURL:  mediaURL,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("create message in chat %d: %w", chatID, err)
	}
	return msg, nil
}

func (s *GormStore) UpdateLastSeen(ctx context.Context, chatID, userID int64, lastMessageID string) error {
	err := s.db.WithContext(ctx).
		Model(&domain.ChatMember{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Updates(map[string]interface{}{
			"last_seen_at":     time.Now().UTC(),
			"last_seen_msg_id": lastMessageID,
		}).Error
	if err != nil {
		return fmt.Errorf("update last seen for user %d in chat %d: %w", userID, chatID, err)
	}
	return nil
}

func (s *GormStore) MarkMessagesAsRead(ctx context.Context, chatID, userID int64, lastMessageID string) ([]string, error) {
	db := s.db.WithContext(ctx)

	var target domain.Message
	err := db.First(&target, "id = ? AND chat_id = ?", lastMessageID, chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Kind: "message", ID: lastMessageID}
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", lastMessageID, err)
	}

	// Every message in the chat from another sender, up to and including
	// the watermark message.
	var candidates []domain.Message
	err = db.
		Where("chat_id = ? AND sender_id <> ? AND created_at <= ?", chatID, userID, target.CreatedAt).
		Order("created_at ASC").
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("list unread candidates in chat %d: %w", chatID, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(candidates))
	for _, m := range candidates {
		ids = append(ids, m.ID)
	}

	var existing []domain.MessageStatus
	err = db.
		Where("user_id = ? AND message_id IN ? AND read_at IS NOT NULL", userID, ids).
		Find(&existing).Error
	if err != nil {
		return nil, fmt.Errorf("list read statuses for user %d: %w", userID, err)
	}
	alreadyRead := make(map[string]struct{}, len(existing))
	for _, st := range existing {
		alreadyRead[st.MessageID] = struct{}{}
	}

	now := time.Now().UTC()
	var newlyRead []string
	for _, m := range candidates {
		if _, ok := alreadyRead[m.ID]; ok {
			continue
		}
		status := domain.MessageStatus{
			MessageID:  m.ID,
			UserID:     userID,
			ReceivedAt: &now,
			ReadAt:     &now,
		}
		err = db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"read_at"}),
		}).Create(&status).Error
		if err != nil {
			return newlyRead, fmt.Errorf("mark message %s read: %w", m.ID, err)
		}
		newlyRead = append(newlyRead, m.ID)
	}
	return newlyRead, nil
}

func (s *GormStore) GetReadStatusesForMessage(ctx context.Context, messageID string) ([]int64, error) {
	var userIDs []int64
	err := s.db.WithContext(ctx).
		Model(&domain.MessageStatus{}).
		Where("message_id = ? AND read_at IS NOT NULL", messageID).
		Order("user_id ASC").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, fmt.Errorf("get read statuses for message %s: %w", messageID, err)
	}
	return userIDs, nil
}

func (s *GormStore) CreateUser(ctx context.Context, username, pinHash string) (*domain.User, error) {
	user := &domain.User{
		Username:  username,
		PinHash:   pinHash,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("create user %s: %w", username, err)
	}
	return user, nil
}

func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	err := s.db.WithContext(ctx).First(&user, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Kind: "user", ID: username}
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}
	return &user, nil
}
