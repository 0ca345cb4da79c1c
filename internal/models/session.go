package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Session statuses. Transitions are forward-only: active may move to any of
// the terminal states, terminal states never change again.
const (
	SessionActive       = "active"
	SessionCompleted    = "completed"
	SessionAbandoned    = "abandoned"
	SessionLimitReached = "limit_reached"
)

// MemoryEntry is one turn of the bounded LLM context window. META and
// OUT_OF_CONTEXT turns are never appended, so the window only holds
// substantive advisory exchanges.
type MemoryEntry struct {
	Speaker string `json:"speaker"` // "user" | "bot"
	Text    string `json:"text"`
}

type ChatSession struct {
	ID       string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID   string `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	IntakeID string `gorm:"column:intake_id;type:text" json:"intake_id"` // mongo intake profile id

	Title  string `gorm:"column:title;type:text" json:"title"` // derived from the first question
	Status string `gorm:"column:status;type:text;index" json:"status"`

	// Bounded conversation memory fed to the LLM, capped at MemoryCap.
	Memory datatypes.JSON `gorm:"column:memory;type:jsonb" json:"memory"`

	// Snapshot of the intake answers at session start, so advice stays
	// consistent even if the profile is edited mid-conversation.
	IntakeSnapshot datatypes.JSON `gorm:"column:intake_snapshot;type:jsonb" json:"intake_snapshot"`

	QuestionCount int `gorm:"column:question_count;not null;default:0" json:"question_count"`

	StartedAt time.Time  `gorm:"column:started_at;type:timestamptz" json:"started_at"`
	EndedAt   *time.Time `gorm:"column:ended_at;type:timestamptz" json:"ended_at,omitempty"`
	UpdatedAt time.Time  `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (ChatSession) TableName() string { return "chat_sessions" }

func (s *ChatSession) IsActive() bool { return s.Status == SessionActive }

// CanTransitionTo reports whether a status change is allowed. Only an
// active session may move, and only into a terminal state.
func (s *ChatSession) CanTransitionTo(status string) bool {
	if s.Status != SessionActive {
		return false
	}
	switch status {
	case SessionCompleted, SessionAbandoned, SessionLimitReached:
		return true
	default:
		return false
	}
}

// MemoryEntries decodes the JSONB memory column. A corrupt or empty column
// decodes to nil rather than failing the request path.
func (s *ChatSession) MemoryEntries() []MemoryEntry {
	if len(s.Memory) == 0 {
		return nil
	}
	var entries []MemoryEntry
	if err := json.Unmarshal(s.Memory, &entries); err != nil {
		return nil
	}
	return entries
}

// AppendMemory appends entries and trims to the most recent limit entries,
// oldest first. limit <= 0 falls back to 20.
func AppendMemory(existing []MemoryEntry, limit int, entries ...MemoryEntry) []MemoryEntry {
	if limit <= 0 {
		limit = 20
	}
	out := append(existing, entries...)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func EncodeMemory(entries []MemoryEntry) datatypes.JSON {
	b, err := json.Marshal(entries)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(b)
}

// TitleFromQuestion derives a session title from the first question.
func TitleFromQuestion(question string) string {
	const max = 50
	if len(question) > max {
		return question[:max] + "..."
	}
	return question
}
