package models

import "time"

// DailyQuota is one row per (user, calendar date). Lazily created on the
// first question of the day, never deleted; a new date gets a new row.
type DailyQuota struct {
	ID     uint   `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	UserID string `gorm:"column:user_id;type:uuid;index:idx_user_date,unique" json:"user_id"`

	// Local calendar date, formatted 2006-01-02.
	Date string `gorm:"column:date;type:date;index:idx_user_date,unique" json:"date"`

	QuestionCount int `gorm:"column:question_count;not null;default:0" json:"question_count"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (DailyQuota) TableName() string { return "daily_quotas" }

func (q *DailyQuota) Remaining(limit int) int {
	r := limit - q.QuestionCount
	if r < 0 {
		return 0
	}
	return r
}

// QuotaDate formats t as the quota row's calendar date.
func QuotaDate(t time.Time) string {
	return t.Format("2006-01-02")
}
