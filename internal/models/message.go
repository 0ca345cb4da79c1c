package models

import (
	"time"

	"github.com/lib/pq"
)

const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Message kinds for flow control.
const (
	KindUserQuestion  = "user_question"
	KindBotAnswer     = "bot_answer"
	KindBotClarifying = "bot_clarifying_question"
	KindUserClarified = "user_clarifying_answer"
	KindBotRejection  = "bot_rejection"
)

type ChatMessage struct {
	ID        string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SessionID string `gorm:"column:session_id;type:uuid;index:idx_session_seq,unique" json:"session_id"`

	// Contiguous per-session sequence (1, 2, 3...). Assigned inside the
	// work-unit transaction under the per-session lock.
	SequenceNumber int `gorm:"column:sequence_number;not null;index:idx_session_seq,unique" json:"sequence_number"`

	Sender string `gorm:"column:sender;type:text" json:"sender"`
	Kind   string `gorm:"column:kind;type:text;index" json:"kind"`
	Text   string `gorm:"column:text;type:text" json:"text"`

	// Exactly 3 suggested follow-ups on direct answers.
	SuggestedQuestions pq.StringArray `gorm:"column:suggested_questions;type:text[]" json:"suggested_questions,omitempty"`

	// Exactly 4 mutually exclusive options on clarifying questions.
	Options        pq.StringArray `gorm:"column:options;type:text[]" json:"options,omitempty"`
	SelectedOption string         `gorm:"column:selected_option;type:text" json:"selected_option,omitempty"`

	// Links a clarifying answer back to the clarifying question.
	ParentMessageID *string `gorm:"column:parent_message_id;type:uuid;index" json:"parent_message_id,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
}

func (ChatMessage) TableName() string { return "chat_messages" }

// HasOption reports whether value is one of the offered options.
func (m *ChatMessage) HasOption(value string) bool {
	for _, opt := range m.Options {
		if opt == value {
			return true
		}
	}
	return false
}
