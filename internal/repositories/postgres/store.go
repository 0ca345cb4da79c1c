package postgres

import (
	"context"

	"gorm.io/gorm"
)

// Store bundles the chat repositories behind one transaction boundary.
// Transaction hands the callback a Store whose repositories share a single
// tx, so a failed work unit rolls back wholesale before any retry.
type Store interface {
	Sessions() SessionRepository
	Messages() MessageRepository
	Quotas() QuotaRepository
	Transaction(ctx context.Context, fn func(Store) error) error
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Sessions() SessionRepository { return &sessionRepo{db: s.db} }
func (s *gormStore) Messages() MessageRepository { return &messageRepo{db: s.db} }
func (s *gormStore) Quotas() QuotaRepository     { return &quotaRepo{db: s.db} }

func (s *gormStore) Transaction(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}
