package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alumitra/advisory/internal/models"
)

type QuotaRepository interface {
	// GetOrCreate lazily creates the row for (user, date) with a zero count.
	GetOrCreate(ctx context.Context, userID, date string) (*models.DailyQuota, error)
	// IncrementIfBelow bumps the count only while it is under limit, in a
	// single conditional UPDATE, and reports whether it took effect.
	IncrementIfBelow(ctx context.Context, userID, date string, limit int) (bool, error)
}

type quotaRepo struct {
	db *gorm.DB
}

func NewQuotaRepo(db *gorm.DB) QuotaRepository {
	return &quotaRepo{db: db}
}

func (r *quotaRepo) GetOrCreate(ctx context.Context, userID, date string) (*models.DailyQuota, error) {
	q := models.DailyQuota{UserID: userID, Date: date}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "date"}},
			DoNothing: true,
		}).
		Create(&q).Error
	if err != nil {
		return nil, err
	}
	// Re-read: DoNothing leaves q zero-valued when the row already existed.
	err = r.db.WithContext(ctx).
		Where("user_id = ? AND date = ?", userID, date).
		Take(&q).Error
	return &q, err
}

func (r *quotaRepo) IncrementIfBelow(ctx context.Context, userID, date string, limit int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DailyQuota{}).
		Where("user_id = ? AND date = ? AND question_count < ?", userID, date, limit).
		Updates(map[string]any{
			"question_count": gorm.Expr("question_count + 1"),
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
