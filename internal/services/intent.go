package services

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Intent is the four-way label assigned to each incoming question.
type Intent string

const (
	IntentMeta           Intent = "META"
	IntentAnswerDirectly Intent = "ANSWER_DIRECTLY"
	IntentNeedsFollowUp  Intent = "NEEDS_FOLLOW_UP"
	IntentOutOfContext   Intent = "OUT_OF_CONTEXT"
)

// ParseIntent maps a raw classifier label onto the closed intent set.
// Unknown or missing labels fail open to ANSWER_DIRECTLY so a classifier
// hiccup never strands the user.
func ParseIntent(raw string) Intent {
	switch Intent(strings.ToUpper(strings.TrimSpace(raw))) {
	case IntentMeta:
		return IntentMeta
	case IntentNeedsFollowUp:
		return IntentNeedsFollowUp
	case IntentOutOfContext:
		return IntentOutOfContext
	default:
		return IntentAnswerDirectly
	}
}

// Structured shapes returned by the text-generation service. Any deviation
// from the expected shape is a retriable parse failure.

type Classification struct {
	Classification string `json:"classification"`
	MetaSubtype    string `json:"meta_subtype,omitempty"`
	MissingField   string `json:"missing_field,omitempty"`
	Language       string `json:"language,omitempty"`
	Reasoning      string `json:"reasoning,omitempty"`
}

type ShortReply struct {
	Answer string `json:"answer"`
}

type ClarifyingQuestion struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type DirectAnswer struct {
	Answer             string   `json:"answer"`
	SuggestedQuestions []string `json:"suggested_questions"`
}

func decodeClassification(raw []byte) (*Classification, error) {
	var c Classification
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("classification parse: %w", err)
	}
	return &c, nil
}

func decodeShortReply(raw []byte) (*ShortReply, error) {
	var r ShortReply
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("reply parse: %w", err)
	}
	if strings.TrimSpace(r.Answer) == "" {
		return nil, fmt.Errorf("reply parse: empty answer")
	}
	return &r, nil
}

func decodeClarifyingQuestion(raw []byte) (*ClarifyingQuestion, error) {
	var q ClarifyingQuestion
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, fmt.Errorf("clarifying question parse: %w", err)
	}
	if strings.TrimSpace(q.Question) == "" {
		return nil, fmt.Errorf("clarifying question parse: empty question")
	}
	if len(q.Options) != 4 {
		return nil, fmt.Errorf("clarifying question parse: expected 4 options, got %d", len(q.Options))
	}
	return &q, nil
}

func decodeDirectAnswer(raw []byte) (*DirectAnswer, error) {
	var a DirectAnswer
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("answer parse: %w", err)
	}
	if strings.TrimSpace(a.Answer) == "" {
		return nil, fmt.Errorf("answer parse: empty answer")
	}
	if len(a.SuggestedQuestions) != 3 {
		return nil, fmt.Errorf("answer parse: expected 3 suggestions, got %d", len(a.SuggestedQuestions))
	}
	return &a, nil
}
