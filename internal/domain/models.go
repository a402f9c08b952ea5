package domain

import (
	"time"
)

// Chat and message kinds persisted as strings.
const (
	ChatTypeDirect = "direct"
	ChatTypeGroup  = "group"

	MessageTypeText  = "text"
	MessageTypeMedia = "media"
)

type User struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"size:50;uniqueIndex;not null" json:"username"`
	PinHash   string    `gorm:"size:128;not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type Chat struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Type      string    `gorm:"size:16;not null" json:"type"`
	Title     string    `gorm:"size:100" json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatMember links a user to a chat and carries the read watermark.
type ChatMember struct {
	ChatID        int64     `gorm:"primaryKey" json:"chat_id"`
	UserID        int64     `gorm:"primaryKey" json:"user_id"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	LastSeenMsgID string    `gorm:"size:36" json:"last_seen_message_id,omitempty"`
}

// Message ids are UUID strings so they can be minted before the insert.
type Message struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	ChatID    int64     `gorm:"index;not null" json:"chat_id"`
	SenderID  int64     `gorm:"index;not null" json:"sender_id"`
	Type      string    `gorm:"size:16;not null" json:"type"`
	Text      string    `gorm:"size:500" json:"text,omitempty"`
	MediaURL  string    `gorm:"size:255" json:"media_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageStatus is the per-message, per-user receipt record.
type MessageStatus struct {
	MessageID  string     `gorm:"primaryKey;size:36" json:"message_id"`
	UserID     int64      `gorm:"primaryKey" json:"user_id"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}
