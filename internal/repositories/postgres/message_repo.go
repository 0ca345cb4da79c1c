package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/alumitra/advisory/internal/models"
	"github.com/alumitra/advisory/internal/utils"
)

type MessageRepository interface {
	// Create assigns the next per-session sequence number and inserts.
	// Callers serialize writers per session; the unique (session, seq)
	// index backstops that assumption.
	Create(ctx context.Context, m *models.ChatMessage) error
	GetByID(ctx context.Context, id string) (*models.ChatMessage, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error)
	// LastUserQuestionBefore finds the most recent user-question message
	// with a sequence number below seq, for clarification resumption.
	LastUserQuestionBefore(ctx context.Context, sessionID string, seq int) (*models.ChatMessage, error)
	SetSelectedOption(ctx context.Context, id, value string) error
}

type messageRepo struct {
	db *gorm.DB
}

func NewMessageRepo(db *gorm.DB) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) Create(ctx context.Context, m *models.ChatMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.SequenceNumber == 0 {
		var max int
		err := r.db.WithContext(ctx).
			Model(&models.ChatMessage{}).
			Where("session_id = ?", m.SessionID).
			Select("COALESCE(MAX(sequence_number), 0)").
			Scan(&max).Error
		if err != nil {
			return err
		}
		m.SequenceNumber = max + 1
	}
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *messageRepo) GetByID(ctx context.Context, id string) (*models.ChatMessage, error) {
	var m models.ChatMessage
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &m, err
}

func (r *messageRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	q := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence_number ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.ChatMessage
	err := q.Find(&rows).Error
	return rows, err
}

func (r *messageRepo) LastUserQuestionBefore(ctx context.Context, sessionID string, seq int) (*models.ChatMessage, error) {
	var m models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND kind = ? AND sequence_number < ?",
			sessionID, models.KindUserQuestion, seq).
		Order("sequence_number DESC").
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &m, err
}

func (r *messageRepo) SetSelectedOption(ctx context.Context, id, value string) error {
	return r.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Where("id = ?", id).
		Update("selected_option", value).Error
}
