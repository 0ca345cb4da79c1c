package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alumitra/advisory/internal/models"
	"github.com/alumitra/advisory/internal/providers/llm"
	pgrepo "github.com/alumitra/advisory/internal/repositories/postgres"
	"github.com/alumitra/advisory/internal/utils"
)

// fakeLLM replays a scripted sequence of responses and records every
// request it saw.
type fakeLLM struct {
	mu        sync.Mutex
	responses []fakeResp
	requests  []llm.Request
}

type fakeResp struct {
	body string
	err  error
}

func (f *fakeLLM) GenerateJSON(_ context.Context, req llm.Request) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.responses) == 0 {
		return nil, fmt.Errorf("fakeLLM: no scripted response for request %d", len(f.requests))
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	if next.err != nil {
		return nil, next.err
	}
	return []byte(next.body), nil
}

func (f *fakeLLM) Close() error { return nil }

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// memStore is an in-memory Store. Transaction runs the callback against the
// same state without rollback, which is enough for orchestrator tests that
// only exercise the happy path of persistence.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*models.ChatSession
	messages []*models.ChatMessage
	quotas   map[string]*models.DailyQuota
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*models.ChatSession),
		quotas:   make(map[string]*models.DailyQuota),
	}
}

func (m *memStore) Sessions() pgrepo.SessionRepository { return &memSessionRepo{s: m} }
func (m *memStore) Messages() pgrepo.MessageRepository { return &memMessageRepo{s: m} }
func (m *memStore) Quotas() pgrepo.QuotaRepository     { return &memQuotaRepo{s: m} }

func (m *memStore) Transaction(_ context.Context, fn func(pgrepo.Store) error) error {
	return fn(m)
}

func (m *memStore) addSession(sess *models.ChatSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sess
	m.sessions[sess.ID] = &cp
}

func (m *memStore) session(id string) *models.ChatSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		cp := *s
		return &cp
	}
	return nil
}

func (m *memStore) sessionMessages(sessionID string) []models.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChatMessage
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}

type memSessionRepo struct{ s *memStore }

func (r *memSessionRepo) Create(_ context.Context, sess *models.ChatSession) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	r.s.addSession(sess)
	return nil
}

func (r *memSessionRepo) GetByID(_ context.Context, id string) (*models.ChatSession, error) {
	if s := r.s.session(id); s != nil {
		return s, nil
	}
	return nil, utils.ErrNotFound
}

func (r *memSessionRepo) ListByUser(_ context.Context, userID string, limit int) ([]models.ChatSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.ChatSession
	for _, s := range r.s.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memSessionRepo) Save(_ context.Context, sess *models.ChatSession) error {
	r.s.addSession(sess)
	return nil
}

func (r *memSessionRepo) SetStatus(_ context.Context, id, status string, endedAt *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	s, ok := r.s.sessions[id]
	if !ok {
		return utils.ErrNotFound
	}
	s.Status = status
	s.EndedAt = endedAt
	return nil
}

type memMessageRepo struct{ s *memStore }

func (r *memMessageRepo) Create(_ context.Context, m *models.ChatMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	seq := 0
	for _, existing := range r.s.messages {
		if existing.SessionID == m.SessionID && existing.SequenceNumber > seq {
			seq = existing.SequenceNumber
		}
	}
	m.SequenceNumber = seq + 1
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	cp := *m
	r.s.messages = append(r.s.messages, &cp)
	return nil
}

func (r *memMessageRepo) GetByID(_ context.Context, id string) (*models.ChatMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (r *memMessageRepo) ListBySession(_ context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	out := r.s.sessionMessages(sessionID)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memMessageRepo) LastUserQuestionBefore(_ context.Context, sessionID string, seq int) (*models.ChatMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best *models.ChatMessage
	for _, m := range r.s.messages {
		if m.SessionID != sessionID || m.Kind != models.KindUserQuestion || m.SequenceNumber >= seq {
			continue
		}
		if best == nil || m.SequenceNumber > best.SequenceNumber {
			best = m
		}
	}
	if best == nil {
		return nil, utils.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *memMessageRepo) SetSelectedOption(_ context.Context, id, value string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		if m.ID == id {
			m.SelectedOption = value
			return nil
		}
	}
	return utils.ErrNotFound
}

type memQuotaRepo struct{ s *memStore }

func (r *memQuotaRepo) GetOrCreate(_ context.Context, userID, date string) (*models.DailyQuota, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := userID + "|" + date
	q, ok := r.s.quotas[key]
	if !ok {
		q = &models.DailyQuota{UserID: userID, Date: date}
		r.s.quotas[key] = q
	}
	cp := *q
	return &cp, nil
}

func (r *memQuotaRepo) IncrementIfBelow(_ context.Context, userID, date string, limit int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := userID + "|" + date
	q, ok := r.s.quotas[key]
	if !ok {
		q = &models.DailyQuota{UserID: userID, Date: date}
		r.s.quotas[key] = q
	}
	if q.QuestionCount >= limit {
		return false, nil
	}
	q.QuestionCount++
	return true, nil
}
