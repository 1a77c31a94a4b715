package chats

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Message roles accepted in a transcript.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transcript is an ordered list of messages stored as a JSON column.
type Transcript []Message

// Value implements driver.Valuer.
func (t Transcript) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	encoded, err := json.Marshal([]Message(t))
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan implements sql.Scanner.
func (t *Transcript) Scan(value any) error {
	var raw []byte
	switch typed := value.(type) {
	case nil:
		*t = Transcript{}
		return nil
	case string:
		raw = []byte(typed)
	case []byte:
		raw = typed
	default:
		return fmt.Errorf("chats: unsupported transcript type %T", value)
	}
	if len(raw) == 0 {
		*t = Transcript{}
		return nil
	}
	var messages []Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return err
	}
	if messages == nil {
		messages = []Message{}
	}
	*t = messages
	return nil
}

// ChatSession stores the transcript of one assistant conversation owned by a user.
type ChatSession struct {
	ID        string     `gorm:"column:id;primaryKey;size:64" json:"id"`
	UserID    string     `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_ai_chats_user_session,priority:1" json:"userId"`
	SessionID string     `gorm:"column:session_id;size:190;not null;uniqueIndex:idx_ai_chats_user_session,priority:2" json:"sessionId"`
	Messages  Transcript `gorm:"column:messages;type:text;not null" json:"messages"`
	CreatedAt time.Time  `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt time.Time  `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (ChatSession) TableName() string {
	return "ai_chats"
}
