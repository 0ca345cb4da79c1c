package services

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/lib/pq"

	"github.com/alumitra/advisory/internal/models"
	"github.com/alumitra/advisory/internal/providers/llm"
	"github.com/alumitra/advisory/internal/utils"
)

const (
	testUser    = "user-1"
	testSession = "sess-1"
)

func newTestChat(t *testing.T, store *memStore, provider *fakeLLM, dailyLimit, sessionCap int) *ChatService {
	t.Helper()
	quota := NewQuotaService(store.Quotas(), dailyLimit)
	return NewChatService(store, quota, provider, nil, 0, sessionCap)
}

func activeSession(id, userID string) *models.ChatSession {
	return &models.ChatSession{
		ID:     id,
		UserID: userID,
		Status: models.SessionActive,
		Memory: models.EncodeMemory(nil),
	}
}

const (
	classifyAnswer   = `{"classification":"ANSWER_DIRECTLY","language":"en"}`
	classifyFollowUp = `{"classification":"NEEDS_FOLLOW_UP","missing_field":"storage_capacity"}`
	classifyMeta     = `{"classification":"META","meta_subtype":"capability"}`
	classifyOffTopic = `{"classification":"OUT_OF_CONTEXT"}`

	directAnswer = `{"answer":"Keep the store at 2-4C.","suggested_questions":["How do I control humidity?","When should I ventilate?","What about sprout suppressants?"]}`
	clarifyMCQ   = `{"question":"What is your storage capacity?","options":["Under 1000 MT","1000-5000 MT","5000-10000 MT","Over 10000 MT"]}`
	shortReply   = `{"answer":"I can help with potato cold storage questions."}`
)

func TestAcceptQuestionConsumesQuotaOnce(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addSession(activeSession(testSession, testUser))
	svc := newTestChat(t, store, &fakeLLM{}, 2, 10)

	_, remaining, err := svc.AcceptQuestion(context.Background(), testUser, testSession, "How cold?")
	if err != nil {
		t.Fatalf("AcceptQuestion: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("remaining = %d, want 1", remaining)
	}

	_, remaining, err = svc.AcceptQuestion(context.Background(), testUser, testSession, "How humid?")
	if err != nil {
		t.Fatalf("AcceptQuestion second: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0", remaining)
	}

	_, _, err = svc.AcceptQuestion(context.Background(), testUser, testSession, "One more?")
	if !utils.IsCode(err, utils.CodeResourceExhausted) {
		t.Fatalf("err = %v, want RESOURCE_EXHAUSTED", err)
	}
}

func TestAcceptQuestionExhaustedBeforeClassification(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addSession(activeSession(testSession, testUser))
	provider := &fakeLLM{}
	svc := newTestChat(t, store, provider, 0, 10)

	_, _, err := svc.AcceptQuestion(context.Background(), testUser, testSession, "How cold?")
	if !utils.IsCode(err, utils.CodeResourceExhausted) {
		t.Fatalf("err = %v, want RESOURCE_EXHAUSTED", err)
	}
	if provider.callCount() != 0 {
		t.Fatalf("classifier was called %d times for an exhausted user", provider.callCount())
	}
}

func TestAcceptQuestionValidation(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addSession(activeSession(testSession, testUser))
	ended := activeSession("sess-ended", testUser)
	ended.Status = models.SessionCompleted
	store.addSession(ended)
	full := activeSession("sess-full", testUser)
	full.QuestionCount = 3
	store.addSession(full)

	svc := newTestChat(t, store, &fakeLLM{}, 10, 3)

	tests := []struct {
		name      string
		userID    string
		sessionID string
		question  string
		wantCode  utils.Code
	}{
		{"empty question", testUser, testSession, "", utils.CodeInvalidArgument},
		{"unknown session", testUser, "nope", "q", utils.CodeNotFound},
		{"foreign session", "user-2", testSession, "q", utils.CodeForbidden},
		{"ended session", testUser, "sess-ended", "q", utils.CodeConflict},
		{"session at cap", testUser, "sess-full", "q", utils.CodeResourceExhausted},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := svc.AcceptQuestion(context.Background(), tt.userID, tt.sessionID, tt.question)
			if !utils.IsCode(err, tt.wantCode) {
				t.Fatalf("err = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestProcessQuestionDirectAnswer(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addSession(activeSession(testSession, testUser))
	provider := &fakeLLM{responses: []fakeResp{{body: classifyAnswer}, {body: directAnswer}}}
	svc := newTestChat(t, store, provider, 10, 10)

	out, err := svc.ProcessQuestion(context.Background(), testUser, testSession, "What temperature should I keep?")
	if err != nil {
		t.Fatalf("ProcessQuestion: %v", err)
	}
	if out.Type != "answer" {
		t.Fatalf("out.Type = %q, want answer", out.Type)
	}
	if out.Message != "Keep the store at 2-4C." {
		t.Fatalf("out.Message = %q", out.Message)
	}
	if len(out.Suggestions) != 3 {
		t.Fatalf("suggestions = %d, want 3", len(out.Suggestions))
	}

	msgs := store.sessionMessages(testSession)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Kind != models.KindUserQuestion || msgs[0].SequenceNumber != 1 {
		t.Fatalf("first message = %s seq %d", msgs[0].Kind, msgs[0].SequenceNumber)
	}
	if msgs[1].Kind != models.KindBotAnswer || msgs[1].SequenceNumber != 2 {
		t.Fatalf("second message = %s seq %d", msgs[1].Kind, msgs[1].SequenceNumber)
	}
	if len(msgs[1].SuggestedQuestions) != 3 {
		t.Fatalf("persisted suggestions = %d, want 3", len(msgs[1].SuggestedQuestions))
	}

	sess := store.session(testSession)
	if sess.QuestionCount != 1 {
		t.Fatalf("QuestionCount = %d, want 1", sess.QuestionCount)
	}
	if sess.Title == "" {
		t.Fatal("session title was not set from first question")
	}
	if entries := sess.MemoryEntries(); len(entries) != 2 {
		t.Fatalf("memory entries = %d, want 2", len(entries))
	}
}

func TestProcessQuestionFollowUp(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addSession(activeSession(testSession, testUser))
	provider := &fakeLLM{responses: []fakeResp{{body: classifyFollowUp}, {body: clarifyMCQ}}}
	svc := newTestChat(t, store, provider, 10, 10)

	out, err := svc.ProcessQuestion(context.Background(), testUser, testSession, "How many fans do I need?")
	if err != nil {
		t.Fatalf("ProcessQuestion: %v", err)
	}
	if out.Type != "mcq" {
		t.Fatalf("out.Type = %q, want mcq", out.Type)
	}
	if out.MCQ == nil || len(out.MCQ.Options) != 4 {
		t.Fatalf("MCQ = %+v, want 4 options", out.MCQ)
	}
	if out.MCQMessageID == "" {
		t.Fatal("MCQMessageID is empty")
	}

	msgs := store.sessionMessages(testSession)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[1].Kind != models.KindBotClarifying {
		t.Fatalf("bot message kind = %s", msgs[1].Kind)
	}
	if msgs[1].ID != out.MCQMessageID {
		t.Fatalf("MCQMessageID %q does not match persisted message %q", out.MCQMessageID, msgs[1].ID)
	}

	// Only the user question enters memory until the option is resolved.
	entries := store.session(testSession).MemoryEntries()
	if len(entries) != 1 || entries[0].Speaker != models.SenderUser {
		t.Fatalf("memory entries = %+v, want only the user question", entries)
	}
}

func TestProcessQuestionFollowUpWithoutMissingField(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addSession(activeSession(testSession, testUser))
	provider := &fakeLLM{responses: []fakeResp{
		{body: `{"classification":"NEEDS_FOLLOW_UP"}`},
		{body: directAnswer},
	}}
	svc := newTestChat(t, store, provider, 10, 10)

	out, err := svc.ProcessQuestion(context.Background(), testUser, testSession, "How many fans?")
	if err != nil {
		t.Fatalf("ProcessQuestion: %v", err)
	}
	if out.Type != "answer" {
		t.Fatalf("out.Type = %q, want answer (no missing field to ask about)", out.Type)
	}
}

func TestProcessQuestionMetaAndOffTopic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		classifyBody string
		wantType     string
		wantKind     string
	}{
		{"meta", classifyMeta, "meta", models.KindBotAnswer},
		{"out of context", classifyOffTopic, "rejection", models.KindBotRejection},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newMemStore()
			store.addSession(activeSession(testSession, testUser))
			provider := &fakeLLM{responses: []fakeResp{{body: tt.classifyBody}, {body: shortReply}}}
			svc := newTestChat(t, store, provider, 10, 10)

			out, err := svc.ProcessQuestion(context.Background(), testUser, testSession, "Who made you?")
			if err != nil {
				t.Fatalf("ProcessQuestion: %v", err)
			}
			if out.Type != tt.wantType {
				t.Fatalf("out.Type = %q, want %q", out.Type, tt.wantType)
			}

			msgs := store.sessionMessages(testSession)
			if len(msgs) != 2 || msgs[1].Kind != tt.wantKind {
				t.Fatalf("messages = %+v, want bot kind %s", msgs, tt.wantKind)
			}

			// Meta and off-topic turns are kept out of conversation memory.
			if entries := store.session(testSession).MemoryEntries(); len(entries) != 0 {
				t.Fatalf("memory entries = %d, want 0", len(entries))
			}
			// But they still count against the session.
			if got := store.session(testSession).QuestionCount; got != 1 {
				t.Fatalf("QuestionCount = %d, want 1", got)
			}
		})
	}
}

func TestProcessQuestionUnknownLabelAnswersDirectly(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addSession(activeSession(testSession, testUser))
	provider := &fakeLLM{responses: []fakeResp{
		{body: `{"classification":"SOMETHING_NEW"}`},
		{body: directAnswer},
	}}
	svc := newTestChat(t, store, provider, 10, 10)

	out, err := svc.ProcessQuestion(context.Background(), testUser, testSession, "How cold?")
	if err != nil {
		t.Fatalf("ProcessQuestion: %v", err)
	}
	if out.Type != "answer" {
		t.Fatalf("out.Type = %q, want answer", out.Type)
	}
}

func TestProcessQuestionMalformedPayloadIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		responses []fakeResp
	}{
		{"classifier not json", []fakeResp{{body: "not json at all"}}},
		{"answer wrong suggestion count", []fakeResp{
			{body: classifyAnswer},
			{body: `{"answer":"ok","suggested_questions":["only one"]}`},
		}},
		{"mcq wrong option count", []fakeResp{
			{body: classifyFollowUp},
			{body: `{"question":"Capacity?","options":["a","b"]}`},
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newMemStore()
			store.addSession(activeSession(testSession, testUser))
			svc := newTestChat(t, store, &fakeLLM{responses: tt.responses}, 10, 10)

			_, err := svc.ProcessQuestion(context.Background(), testUser, testSession, "How cold?")
			if err == nil {
				t.Fatal("expected error for malformed payload")
			}
			if !llm.IsTransient(err) {
				t.Fatalf("err = %v, want transient (retriable)", err)
			}

			// Nothing was persisted for the failed attempt.
			if msgs := store.sessionMessages(testSession); len(msgs) != 0 {
				t.Fatalf("messages = %d, want 0 after failed attempt", len(msgs))
			}
		})
	}
}

func TestProcessQuestionFlipsSessionAtCap(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addSession(activeSession(testSession, testUser))
	provider := &fakeLLM{responses: []fakeResp{{body: classifyAnswer}, {body: directAnswer}}}
	svc := newTestChat(t, store, provider, 10, 1)

	if _, err := svc.ProcessQuestion(context.Background(), testUser, testSession, "How cold?"); err != nil {
		t.Fatalf("ProcessQuestion: %v", err)
	}

	sess := store.session(testSession)
	if sess.Status != models.SessionLimitReached {
		t.Fatalf("status = %s, want limit_reached", sess.Status)
	}

	_, _, err := svc.AcceptQuestion(context.Background(), testUser, testSession, "Another?")
	if !utils.IsCode(err, utils.CodeConflict) {
		t.Fatalf("err = %v, want CONFLICT on a limit_reached session", err)
	}
}

func TestMemoryCapKeepsRecentTurns(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	sess := activeSession(testSession, testUser)
	var old []models.MemoryEntry
	for i := 0; i < 4; i++ {
		old = append(old,
			models.MemoryEntry{Speaker: models.SenderUser, Text: "old question"},
			models.MemoryEntry{Speaker: models.SenderBot, Text: "old answer"},
		)
	}
	sess.Memory = models.EncodeMemory(old)
	store.addSession(sess)

	provider := &fakeLLM{responses: []fakeResp{{body: classifyAnswer}, {body: directAnswer}}}
	quota := NewQuotaService(store.Quotas(), 10)
	svc := NewChatService(store, quota, provider, nil, 4, 10)

	if _, err := svc.ProcessQuestion(context.Background(), testUser, testSession, "Fresh question"); err != nil {
		t.Fatalf("ProcessQuestion: %v", err)
	}

	entries := store.session(testSession).MemoryEntries()
	if len(entries) != 4 {
		t.Fatalf("memory entries = %d, want 4", len(entries))
	}
	if entries[2].Text != "Fresh question" {
		t.Fatalf("newest turn missing, entries = %+v", entries)
	}
}

func setupClarifying(t *testing.T, store *memStore, withOriginal bool) *models.ChatMessage {
	t.Helper()
	ctx := context.Background()
	if withOriginal {
		if err := store.Messages().Create(ctx, &models.ChatMessage{
			SessionID: testSession,
			Sender:    models.SenderUser,
			Kind:      models.KindUserQuestion,
			Text:      "How many fans do I need?",
		}); err != nil {
			t.Fatalf("create question: %v", err)
		}
	}
	pending := &models.ChatMessage{
		SessionID: testSession,
		Sender:    models.SenderBot,
		Kind:      models.KindBotClarifying,
		Text:      "What is your storage capacity?",
		Options:   pq.StringArray{"Under 1000 MT", "1000-5000 MT", "5000-10000 MT", "Over 10000 MT"},
	}
	if err := store.Messages().Create(ctx, pending); err != nil {
		t.Fatalf("create clarifying: %v", err)
	}
	return pending
}

func TestAcceptOptionValidation(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addSession(activeSession(testSession, testUser))
	pending := setupClarifying(t, store, true)

	answered := &models.ChatMessage{
		SessionID:      testSession,
		Sender:         models.SenderBot,
		Kind:           models.KindBotClarifying,
		Text:           "Already answered?",
		Options:        pq.StringArray{"a", "b", "c", "d"},
		SelectedOption: "a",
	}
	if err := store.Messages().Create(context.Background(), answered); err != nil {
		t.Fatalf("create answered: %v", err)
	}

	svc := newTestChat(t, store, &fakeLLM{}, 10, 10)
	ctx := context.Background()

	if err := svc.AcceptOption(ctx, testUser, testSession, pending.ID, "1000-5000 MT"); err != nil {
		t.Fatalf("valid option rejected: %v", err)
	}
	if err := svc.AcceptOption(ctx, testUser, testSession, pending.ID, "42 MT"); !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Fatalf("err = %v, want INVALID_ARGUMENT for off-list value", err)
	}
	if err := svc.AcceptOption(ctx, testUser, testSession, answered.ID, "b"); !utils.IsCode(err, utils.CodeConflict) {
		t.Fatalf("err = %v, want CONFLICT for already answered", err)
	}
	if err := svc.AcceptOption(ctx, "user-2", testSession, pending.ID, "1000-5000 MT"); !utils.IsCode(err, utils.CodeForbidden) {
		t.Fatalf("err = %v, want FORBIDDEN", err)
	}
	if err := svc.AcceptOption(ctx, testUser, testSession, "missing", "x"); !utils.IsCode(err, utils.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestResolveOptionRecombinesOriginalQuestion(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addSession(activeSession(testSession, testUser))
	pending := setupClarifying(t, store, true)

	provider := &fakeLLM{responses: []fakeResp{{body: directAnswer}}}
	svc := newTestChat(t, store, provider, 10, 10)

	out, err := svc.ResolveOption(context.Background(), testUser, testSession, pending.ID, "1000-5000 MT")
	if err != nil {
		t.Fatalf("ResolveOption: %v", err)
	}
	if out.Type != "answer" {
		t.Fatalf("out.Type = %q, want answer", out.Type)
	}

	prompt := provider.requests[0].Prompt
	if !strings.Contains(prompt, "How many fans do I need?") {
		t.Fatalf("prompt missing original question:\n%s", prompt)
	}
	if !strings.Contains(prompt, "User selected: 1000-5000 MT") {
		t.Fatalf("prompt missing selection:\n%s", prompt)
	}

	msgs := store.sessionMessages(testSession)
	// original question, clarifying, clarifying answer, bot answer
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	clarified := msgs[2]
	if clarified.Kind != models.KindUserClarified || clarified.Text != "1000-5000 MT" {
		t.Fatalf("clarified message = %+v", clarified)
	}
	if clarified.ParentMessageID == nil || *clarified.ParentMessageID != pending.ID {
		t.Fatalf("ParentMessageID = %v, want %s", clarified.ParentMessageID, pending.ID)
	}
	if msgs[1].SelectedOption != "1000-5000 MT" {
		t.Fatalf("SelectedOption = %q on clarifying message", msgs[1].SelectedOption)
	}
	if msgs[3].Kind != models.KindBotAnswer {
		t.Fatalf("final message kind = %s", msgs[3].Kind)
	}

	entries := store.session(testSession).MemoryEntries()
	if len(entries) != 2 || entries[0].Text != "1000-5000 MT" {
		t.Fatalf("memory entries = %+v", entries)
	}
}

func TestResolveOptionReplayConflicts(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addSession(activeSession(testSession, testUser))
	pending := setupClarifying(t, store, true)

	provider := &fakeLLM{responses: []fakeResp{{body: directAnswer}}}
	svc := newTestChat(t, store, provider, 10, 10)

	if _, err := svc.ResolveOption(context.Background(), testUser, testSession, pending.ID, "Under 1000 MT"); err != nil {
		t.Fatalf("ResolveOption: %v", err)
	}

	// A replayed resolution must not answer twice.
	_, err := svc.ResolveOption(context.Background(), testUser, testSession, pending.ID, "Under 1000 MT")
	if !utils.IsCode(err, utils.CodeConflict) {
		t.Fatalf("replay err = %v, want CONFLICT", err)
	}
	if len(store.sessionMessages(testSession)) != 4 {
		t.Fatalf("messages = %d after replay, want 4", len(store.sessionMessages(testSession)))
	}
}

func TestConcurrentQuestionsKeepSequenceContiguous(t *testing.T) {
	t.Parallel()

	const n = 5

	store := newMemStore()
	store.addSession(activeSession(testSession, testUser))

	responses := make([]fakeResp, 0, 2*n)
	for i := 0; i < n; i++ {
		responses = append(responses, fakeResp{body: classifyAnswer}, fakeResp{body: directAnswer})
	}
	svc := newTestChat(t, store, &fakeLLM{responses: responses}, 100, 100)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ProcessQuestion(context.Background(), testUser, testSession, "How cold?"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("ProcessQuestion: %v", err)
	}

	msgs := store.sessionMessages(testSession)
	if len(msgs) != 2*n {
		t.Fatalf("messages = %d, want %d", len(msgs), 2*n)
	}
	for i, m := range msgs {
		if m.SequenceNumber != i+1 {
			t.Fatalf("sequence gap: message %d has seq %d", i, m.SequenceNumber)
		}
	}
	if got := store.session(testSession).QuestionCount; got != n {
		t.Fatalf("QuestionCount = %d, want %d", got, n)
	}
}

func TestResolveOptionFallsBackToPlaceholder(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addSession(activeSession(testSession, testUser))
	pending := setupClarifying(t, store, false)

	provider := &fakeLLM{responses: []fakeResp{{body: directAnswer}}}
	svc := newTestChat(t, store, provider, 10, 10)

	if _, err := svc.ResolveOption(context.Background(), testUser, testSession, pending.ID, "Under 1000 MT"); err != nil {
		t.Fatalf("ResolveOption: %v", err)
	}
	if !strings.Contains(provider.requests[0].Prompt, placeholderQuestion) {
		t.Fatalf("prompt missing placeholder question:\n%s", provider.requests[0].Prompt)
	}
}
