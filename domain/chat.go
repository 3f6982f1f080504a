package domain

import "time"

type ChatRole string

const (
	ChatRoleHuman ChatRole = "human"
	ChatRoleAI    ChatRole = "ai"
)

// ChatMessage is one inbound or outbound message of the messaging transport.
// The unique index makes duplicate webhook deliveries detectable.
type ChatMessage struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	ChatID    int64     `gorm:"not null;uniqueIndex:idx_chat_delivery,priority:1" json:"chat_id"`
	MessageID int64     `gorm:"not null;uniqueIndex:idx_chat_delivery,priority:2" json:"message_id"`
	UpdateID  int64     `gorm:"not null;uniqueIndex:idx_chat_delivery,priority:3" json:"update_id"`
	Role      ChatRole  `gorm:"size:8;not null;uniqueIndex:idx_chat_delivery,priority:4" json:"role"`
	Username  string    `gorm:"size:255" json:"username,omitempty"`
	Text      string    `gorm:"type:text" json:"text"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// Update is the inbound webhook envelope.
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *IncomingMessage `json:"message,omitempty"`
}

type IncomingMessage struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	From *struct {
		Username string `json:"username"`
	} `json:"from,omitempty"`
}

// Username returns the sender's username if present.
func (m *IncomingMessage) Username() string {
	if m == nil || m.From == nil {
		return ""
	}
	return m.From.Username
}
