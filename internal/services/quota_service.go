package services

import (
	"context"
	"time"

	"github.com/alumitra/advisory/internal/models"
	pgrepo "github.com/alumitra/advisory/internal/repositories/postgres"
	"github.com/alumitra/advisory/internal/utils"
)

// QuotaService gates how many questions a user may submit per calendar day.
// Consume is called exactly once per accepted submission, synchronously,
// before any asynchronous work begins — so META and OUT_OF_CONTEXT
// classifications consume quota like any other accepted question.
type QuotaService interface {
	CanAsk(ctx context.Context, userID string) (bool, int, error)
	// Consume increments atomically and reports (accepted, remaining).
	Consume(ctx context.Context, userID string) (bool, int, error)
	Remaining(ctx context.Context, userID string) (int, error)
}

type quotaService struct {
	quotas pgrepo.QuotaRepository
	limit  int
	now    func() time.Time
}

func NewQuotaService(quotas pgrepo.QuotaRepository, maxDaily int) QuotaService {
	if maxDaily <= 0 {
		maxDaily = 10
	}
	return &quotaService{quotas: quotas, limit: maxDaily, now: time.Now}
}

func (s *quotaService) today() string {
	return models.QuotaDate(s.now())
}

func (s *quotaService) CanAsk(ctx context.Context, userID string) (bool, int, error) {
	const op = "QuotaService.CanAsk"

	if userID == "" {
		return false, 0, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	q, err := s.quotas.GetOrCreate(ctx, userID, s.today())
	if err != nil {
		return false, 0, utils.E(utils.CodeInternal, op, "failed to load quota", err)
	}
	remaining := q.Remaining(s.limit)
	return remaining > 0, remaining, nil
}

func (s *quotaService) Consume(ctx context.Context, userID string) (bool, int, error) {
	const op = "QuotaService.Consume"

	if userID == "" {
		return false, 0, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	date := s.today()
	if _, err := s.quotas.GetOrCreate(ctx, userID, date); err != nil {
		return false, 0, utils.E(utils.CodeInternal, op, "failed to load quota", err)
	}
	ok, err := s.quotas.IncrementIfBelow(ctx, userID, date, s.limit)
	if err != nil {
		return false, 0, utils.E(utils.CodeInternal, op, "failed to consume quota", err)
	}
	remaining, rerr := s.Remaining(ctx, userID)
	if rerr != nil {
		return ok, 0, rerr
	}
	return ok, remaining, nil
}

func (s *quotaService) Remaining(ctx context.Context, userID string) (int, error) {
	const op = "QuotaService.Remaining"

	q, err := s.quotas.GetOrCreate(ctx, userID, s.today())
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to load quota", err)
	}
	return q.Remaining(s.limit), nil
}
