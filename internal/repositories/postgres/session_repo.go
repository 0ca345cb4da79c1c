package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/alumitra/advisory/internal/models"
	"github.com/alumitra/advisory/internal/utils"
)

type SessionRepository interface {
	Create(ctx context.Context, s *models.ChatSession) error
	GetByID(ctx context.Context, id string) (*models.ChatSession, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.ChatSession, error)
	Save(ctx context.Context, s *models.ChatSession) error
	SetStatus(ctx context.Context, id, status string, endedAt *time.Time) error
}

type sessionRepo struct {
	db *gorm.DB
}

func NewSessionRepo(db *gorm.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Create(ctx context.Context, s *models.ChatSession) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *sessionRepo) GetByID(ctx context.Context, id string) (*models.ChatSession, error) {
	var s models.ChatSession
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &s, err
}

func (r *sessionRepo) ListByUser(ctx context.Context, userID string, limit int) ([]models.ChatSession, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.ChatSession
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *sessionRepo) Save(ctx context.Context, s *models.ChatSession) error {
	return r.db.WithContext(ctx).Save(s).Error
}

func (r *sessionRepo) SetStatus(ctx context.Context, id, status string, endedAt *time.Time) error {
	updates := map[string]any{"status": status}
	if endedAt != nil {
		updates["ended_at"] = endedAt.UTC()
	}
	return r.db.WithContext(ctx).
		Model(&models.ChatSession{}).
		Where("id = ?", id).
		Updates(updates).Error
}
