package chat

import "time"

// Session is a persistent chat session. Sessions are materialized on the
// first message send; a "new chat" with zero messages never reaches the
// database.
type Session struct {
	ID        string    `gorm:"primaryKey;type:varchar(26)" json:"chat_id"` // ULID
	Title     string    `gorm:"type:text;not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

func (Session) TableName() string { return "chat_sessions" }

// Message belongs to a Session and is immutable once created. Ordering
// within a chat follows the auto-increment id, which tracks creation order.
type Message struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID    string    `gorm:"type:varchar(26);not null;index:idx_chat_messages_chat" json:"chat_id"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }
