package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alumitra/advisory/internal/models"
	"github.com/alumitra/advisory/internal/providers/llm"
	pgrepo "github.com/alumitra/advisory/internal/repositories/postgres"
	"github.com/alumitra/advisory/internal/utils"
)

// Fallback when a clarifying answer arrives but the preceding user question
// cannot be located anymore.
const placeholderQuestion = "Previous question"

// Outcome is the structured result of one processed work unit, surfaced to
// the polling caller on task success.
type Outcome struct {
	Type         string              `json:"type"` // meta|rejection|mcq|answer
	SessionID    string              `json:"session_id"`
	Message      string              `json:"message"`
	Suggestions  []string            `json:"suggestions,omitempty"`
	MCQ          *ClarifyingQuestion `json:"mcq,omitempty"`
	MCQMessageID string              `json:"mcq_message_id,omitempty"`

	RemainingDailyQuestions int `json:"remaining_daily_questions"`
}

// ChatService is the conversation orchestrator: the synchronous accept path
// (validation + quota, no side effects besides the quota consume) and the
// asynchronous process path executed by the task runner.
type ChatService struct {
	store  pgrepo.Store
	quota  QuotaService
	llm    llm.Provider
	log    *logrus.Logger
	locks  sessionLocks
	memCap int
	// per-session question ceiling; reaching it flips the session to
	// limit_reached inside the same work-unit transaction.
	sessionCap int
}

func NewChatService(store pgrepo.Store, quota QuotaService, provider llm.Provider, log *logrus.Logger, memoryCap, sessionCap int) *ChatService {
	if memoryCap <= 0 {
		memoryCap = 20
	}
	if sessionCap <= 0 {
		sessionCap = 10
	}
	if log == nil {
		log = logrus.New()
	}
	return &ChatService{
		store:      store,
		quota:      quota,
		llm:        provider,
		log:        log,
		memCap:     memoryCap,
		sessionCap: sessionCap,
	}
}

// AcceptQuestion runs every synchronous check for a new question and
// consumes one unit of daily quota. After it returns nil the submission is
// accepted: retries of the asynchronous part never touch quota again.
func (s *ChatService) AcceptQuestion(ctx context.Context, userID, sessionID, question string) (*models.ChatSession, int, error) {
	const op = "ChatService.AcceptQuestion"

	if question == "" {
		return nil, 0, utils.E(utils.CodeInvalidArgument, op, "question is required", nil)
	}

	session, err := s.loadOwnedSession(ctx, op, userID, sessionID)
	if err != nil {
		return nil, 0, err
	}
	if !session.IsActive() {
		return nil, 0, utils.E(utils.CodeConflict, op, "this session is no longer active, start a new chat to continue", nil)
	}
	if session.QuestionCount >= s.sessionCap {
		return nil, 0, utils.E(utils.CodeResourceExhausted, op, "question limit reached for this session, start a new chat", nil)
	}

	ok, remaining, err := s.quota.Consume(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, utils.E(utils.CodeResourceExhausted, op, "daily question limit reached, try again tomorrow", nil)
	}
	return session, remaining, nil
}

// AcceptOption validates a clarifying-question answer synchronously, with
// no side effects. Resolving an option completes an already-charged
// question, so it consumes no extra daily quota.
func (s *ChatService) AcceptOption(ctx context.Context, userID, sessionID, messageID, selected string) error {
	const op = "ChatService.AcceptOption"

	if messageID == "" || selected == "" {
		return utils.E(utils.CodeInvalidArgument, op, "message_id and selected_value are required", nil)
	}

	session, err := s.loadOwnedSession(ctx, op, userID, sessionID)
	if err != nil {
		return err
	}
	if !session.IsActive() {
		return utils.E(utils.CodeConflict, op, "this session is no longer active", nil)
	}

	pending, err := s.loadPending(ctx, op, session, messageID)
	if err != nil {
		return err
	}
	if !pending.HasOption(selected) {
		return utils.E(utils.CodeInvalidArgument, op, "selected value is not one of the offered options", nil)
	}
	return nil
}

// ProcessQuestion is the asynchronous half of a question submission:
// classify, branch, generate, persist. All writes happen in one
// transaction, so a retried attempt after partial failure starts clean.
func (s *ChatService) ProcessQuestion(ctx context.Context, userID, sessionID, question string) (*Outcome, error) {
	const op = "ChatService.ProcessQuestion"

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.loadOwnedSession(ctx, op, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, utils.E(utils.CodeConflict, op, "session is no longer active", nil)
	}

	pc := s.promptContext(session)
	cls, err := s.classify(ctx, pc, question)
	if err != nil {
		return nil, err
	}

	intent := ParseIntent(cls.Classification)
	if intent == IntentNeedsFollowUp && cls.MissingField == "" {
		// A follow-up needs exactly one named missing field; without one
		// there is nothing to ask, so answer directly.
		intent = IntentAnswerDirectly
	}

	s.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"intent":     string(intent),
	}).Debug("question classified")

	var outcome *Outcome
	switch intent {
	case IntentMeta:
		outcome, err = s.handleShortReply(ctx, session, question, metaSystem, "meta", models.KindBotAnswer)
	case IntentOutOfContext:
		outcome, err = s.handleShortReply(ctx, session, question, redirectSystem, "rejection", models.KindBotRejection)
	case IntentNeedsFollowUp:
		outcome, err = s.handleFollowUp(ctx, session, pc, question, cls.MissingField)
	default:
		outcome, err = s.handleDirectAnswer(ctx, session, pc, question)
	}
	if err != nil {
		return nil, err
	}

	if remaining, rerr := s.quota.Remaining(ctx, userID); rerr == nil {
		outcome.RemainingDailyQuestions = remaining
	}
	return outcome, nil
}

// ResolveOption is the asynchronous half of a clarifying answer: record the
// selection, recombine it with the original question, and answer directly.
// The classifier is never re-run here.
func (s *ChatService) ResolveOption(ctx context.Context, userID, sessionID, messageID, selected string) (*Outcome, error) {
	const op = "ChatService.ResolveOption"

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.loadOwnedSession(ctx, op, userID, sessionID)
	if err != nil {
		return nil, err
	}
	pending, err := s.loadPending(ctx, op, session, messageID)
	if err != nil {
		return nil, err
	}
	if !pending.HasOption(selected) {
		return nil, utils.E(utils.CodeInvalidArgument, op, "selected value is not one of the offered options", nil)
	}

	originalQuestion := placeholderQuestion
	if orig, err := s.store.Messages().LastUserQuestionBefore(ctx, session.ID, pending.SequenceNumber); err == nil {
		originalQuestion = orig.Text
	} else if !errors.Is(err, utils.ErrNotFound) {
		return nil, utils.E(utils.CodeInternal, op, "failed to locate original question", err)
	}

	pc := s.promptContext(session)
	answer, err := s.generateAnswer(ctx, pc, originalQuestion, "User selected: "+selected)
	if err != nil {
		return nil, err
	}

	err = s.store.Transaction(ctx, func(tx pgrepo.Store) error {
		if err := tx.Messages().Create(ctx, &models.ChatMessage{
			SessionID:       session.ID,
			Sender:          models.SenderUser,
			Kind:            models.KindUserClarified,
			Text:            selected,
			ParentMessageID: &pending.ID,
		}); err != nil {
			return err
		}
		if err := tx.Messages().SetSelectedOption(ctx, pending.ID, selected); err != nil {
			return err
		}
		if err := tx.Messages().Create(ctx, &models.ChatMessage{
			SessionID:          session.ID,
			Sender:             models.SenderBot,
			Kind:               models.KindBotAnswer,
			Text:               answer.Answer,
			SuggestedQuestions: answer.SuggestedQuestions,
		}); err != nil {
			return err
		}
		entries := models.AppendMemory(session.MemoryEntries(), s.memCap,
			models.MemoryEntry{Speaker: models.SenderUser, Text: selected},
			models.MemoryEntry{Speaker: models.SenderBot, Text: answer.Answer},
		)
		session.Memory = models.EncodeMemory(entries)
		session.UpdatedAt = time.Now().UTC()
		return tx.Sessions().Save(ctx, session)
	})
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to persist clarified answer", err)
	}

	outcome := &Outcome{
		Type:        "answer",
		SessionID:   session.ID,
		Message:     answer.Answer,
		Suggestions: answer.SuggestedQuestions,
	}
	if remaining, rerr := s.quota.Remaining(ctx, userID); rerr == nil {
		outcome.RemainingDailyQuestions = remaining
	}
	return outcome, nil
}

// History returns the full ordered transcript of an owned session.
func (s *ChatService) History(ctx context.Context, userID, sessionID string) (*models.ChatSession, []models.ChatMessage, error) {
	const op = "ChatService.History"

	session, err := s.loadOwnedSession(ctx, op, userID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.store.Messages().ListBySession(ctx, sessionID, 0)
	if err != nil {
		return nil, nil, utils.E(utils.CodeInternal, op, "failed to list messages", err)
	}
	return session, msgs, nil
}

// --- branch handlers ---

// handleShortReply covers META and OUT_OF_CONTEXT: generate a one-liner,
// persist the turn, never append to conversation memory.
func (s *ChatService) handleShortReply(ctx context.Context, session *models.ChatSession, question, system, outcomeType, botKind string) (*Outcome, error) {
	const op = "ChatService.handleShortReply"

	raw, err := s.llm.GenerateJSON(ctx, llm.Request{
		System:      system,
		Prompt:      buildMetaPrompt(question),
		Temperature: tempClassify,
	})
	if err != nil {
		return nil, err
	}
	reply, err := decodeShortReply(raw)
	if err != nil {
		return nil, llm.Transient(err)
	}

	err = s.store.Transaction(ctx, func(tx pgrepo.Store) error {
		if err := s.persistTurn(ctx, tx, session, question, &models.ChatMessage{
			SessionID: session.ID,
			Sender:    models.SenderBot,
			Kind:      botKind,
			Text:      reply.Answer,
		}); err != nil {
			return err
		}
		return s.accountQuestion(ctx, tx, session, question, nil)
	})
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to persist reply", err)
	}

	return &Outcome{
		Type:      outcomeType,
		SessionID: session.ID,
		Message:   reply.Answer,
	}, nil
}

func (s *ChatService) handleFollowUp(ctx context.Context, session *models.ChatSession, pc promptContext, question, missingField string) (*Outcome, error) {
	const op = "ChatService.handleFollowUp"

	raw, err := s.llm.GenerateJSON(ctx, llm.Request{
		System:      clarifySystem,
		Prompt:      buildClarifyPrompt(pc, question, missingField),
		Temperature: tempClarify,
	})
	if err != nil {
		return nil, err
	}
	mcq, err := decodeClarifyingQuestion(raw)
	if err != nil {
		return nil, llm.Transient(err)
	}

	botMsg := &models.ChatMessage{
		SessionID: session.ID,
		Sender:    models.SenderBot,
		Kind:      models.KindBotClarifying,
		Text:      mcq.Question,
		Options:   mcq.Options,
	}
	err = s.store.Transaction(ctx, func(tx pgrepo.Store) error {
		if err := s.persistTurn(ctx, tx, session, question, botMsg); err != nil {
			return err
		}
		// Only the user question enters memory; the answer follows once
		// the option is resolved.
		return s.accountQuestion(ctx, tx, session, question, []models.MemoryEntry{
			{Speaker: models.SenderUser, Text: question},
		})
	})
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to persist clarifying question", err)
	}

	return &Outcome{
		Type:         "mcq",
		SessionID:    session.ID,
		Message:      mcq.Question,
		MCQ:          mcq,
		MCQMessageID: botMsg.ID,
	}, nil
}

func (s *ChatService) handleDirectAnswer(ctx context.Context, session *models.ChatSession, pc promptContext, question string) (*Outcome, error) {
	const op = "ChatService.handleDirectAnswer"

	answer, err := s.generateAnswer(ctx, pc, question, "")
	if err != nil {
		return nil, err
	}

	err = s.store.Transaction(ctx, func(tx pgrepo.Store) error {
		if err := s.persistTurn(ctx, tx, session, question, &models.ChatMessage{
			SessionID:          session.ID,
			Sender:             models.SenderBot,
			Kind:               models.KindBotAnswer,
			Text:               answer.Answer,
			SuggestedQuestions: answer.SuggestedQuestions,
		}); err != nil {
			return err
		}
		return s.accountQuestion(ctx, tx, session, question, []models.MemoryEntry{
			{Speaker: models.SenderUser, Text: question},
			{Speaker: models.SenderBot, Text: answer.Answer},
		})
	})
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to persist answer", err)
	}

	return &Outcome{
		Type:        "answer",
		SessionID:   session.ID,
		Message:     answer.Answer,
		Suggestions: answer.SuggestedQuestions,
	}, nil
}

// --- shared pieces ---

func (s *ChatService) classify(ctx context.Context, pc promptContext, question string) (*Classification, error) {
	raw, err := s.llm.GenerateJSON(ctx, llm.Request{
		System:      classifierSystem,
		Prompt:      buildClassifyPrompt(pc, question),
		Temperature: tempClassify,
	})
	if err != nil {
		return nil, err
	}
	cls, err := decodeClassification(raw)
	if err != nil {
		return nil, llm.Transient(err)
	}
	return cls, nil
}

func (s *ChatService) generateAnswer(ctx context.Context, pc promptContext, question, clarification string) (*DirectAnswer, error) {
	raw, err := s.llm.GenerateJSON(ctx, llm.Request{
		System:      answerSystem,
		Prompt:      buildAnswerPrompt(pc, question, clarification),
		Temperature: tempAnswer,
	})
	if err != nil {
		return nil, err
	}
	answer, err := decodeDirectAnswer(raw)
	if err != nil {
		return nil, llm.Transient(err)
	}
	return answer, nil
}

// persistTurn writes the user question followed by the bot message, which
// assigns them adjacent sequence numbers.
func (s *ChatService) persistTurn(ctx context.Context, tx pgrepo.Store, session *models.ChatSession, question string, bot *models.ChatMessage) error {
	if err := tx.Messages().Create(ctx, &models.ChatMessage{
		SessionID: session.ID,
		Sender:    models.SenderUser,
		Kind:      models.KindUserQuestion,
		Text:      question,
	}); err != nil {
		return err
	}
	return tx.Messages().Create(ctx, bot)
}

// accountQuestion applies per-question session bookkeeping: lazy title,
// question counter, memory append, and the limit_reached flip once the
// session ceiling is hit.
func (s *ChatService) accountQuestion(ctx context.Context, tx pgrepo.Store, session *models.ChatSession, question string, memoryAppend []models.MemoryEntry) error {
	if session.Title == "" {
		session.Title = models.TitleFromQuestion(question)
	}
	session.QuestionCount++
	if session.QuestionCount >= s.sessionCap && session.CanTransitionTo(models.SessionLimitReached) {
		session.Status = models.SessionLimitReached
	}
	if len(memoryAppend) > 0 {
		entries := models.AppendMemory(session.MemoryEntries(), s.memCap, memoryAppend...)
		session.Memory = models.EncodeMemory(entries)
	}
	session.UpdatedAt = time.Now().UTC()
	return tx.Sessions().Save(ctx, session)
}

func (s *ChatService) promptContext(session *models.ChatSession) promptContext {
	return promptContext{
		Intake: json.RawMessage(session.IntakeSnapshot),
		Memory: session.MemoryEntries(),
	}
}

func (s *ChatService) loadOwnedSession(ctx context.Context, op, userID, sessionID string) (*models.ChatSession, error) {
	if userID == "" || sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and session_id are required", nil)
	}
	session, err := s.store.Sessions().GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load session", err)
	}
	if session.UserID != userID {
		return nil, utils.E(utils.CodeForbidden, op, "session does not belong to caller", nil)
	}
	return session, nil
}

// loadPending fetches a clarifying message and checks it is still awaiting
// an option.
func (s *ChatService) loadPending(ctx context.Context, op string, session *models.ChatSession, messageID string) (*models.ChatMessage, error) {
	msg, err := s.store.Messages().GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "clarifying message not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load clarifying message", err)
	}
	if msg.SessionID != session.ID {
		return nil, utils.E(utils.CodeForbidden, op, "message does not belong to this session", nil)
	}
	if msg.Kind != models.KindBotClarifying || len(msg.Options) == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "message has no option set", nil)
	}
	if msg.SelectedOption != "" {
		return nil, utils.E(utils.CodeConflict, op, "clarifying question already answered", nil)
	}
	return msg, nil
}
