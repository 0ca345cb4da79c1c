package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/alumitra/advisory/internal/models"
	pgrepo "github.com/alumitra/advisory/internal/repositories/postgres"
	"github.com/alumitra/advisory/internal/utils"
)

type SessionService interface {
	// Start opens a session against the given intake profile, snapshotting
	// its answers so mid-conversation profile edits do not change advice.
	Start(ctx context.Context, userID string, intake *models.IntakeProfile) (*models.ChatSession, error)
	Get(ctx context.Context, sessionID string) (*models.ChatSession, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.ChatSession, error)
	// End moves an active session to completed. Terminal sessions are left
	// untouched and reported as a conflict.
	End(ctx context.Context, sessionID string) (*models.ChatSession, error)
}

type sessionService struct {
	sessions pgrepo.SessionRepository
}

func NewSessionService(sessions pgrepo.SessionRepository) SessionService {
	return &sessionService{sessions: sessions}
}

func (s *sessionService) Start(ctx context.Context, userID string, intake *models.IntakeProfile) (*models.ChatSession, error) {
	const op = "SessionService.Start"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if intake == nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "an active intake profile is required", nil)
	}

	snapshot, err := json.Marshal(map[string]any{
		"use_case": intake.UseCase,
		"answers":  intake.Answers,
	})
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to snapshot intake", err)
	}

	now := time.Now().UTC()
	session := &models.ChatSession{
		ID:             uuid.NewString(),
		UserID:         userID,
		IntakeID:       intake.ID.Hex(),
		Status:         models.SessionActive,
		Memory:         datatypes.JSON("[]"),
		IntakeSnapshot: datatypes.JSON(snapshot),
		StartedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create session", err)
	}
	return session, nil
}

func (s *sessionService) Get(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	const op = "SessionService.Get"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	out, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get session", err)
	}
	return out, nil
}

func (s *sessionService) ListByUser(ctx context.Context, userID string, limit int) ([]models.ChatSession, error) {
	const op = "SessionService.ListByUser"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	rows, err := s.sessions.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list sessions", err)
	}
	return rows, nil
}

func (s *sessionService) End(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	const op = "SessionService.End"

	ss, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ss.CanTransitionTo(models.SessionCompleted) {
		return nil, utils.E(utils.CodeConflict, op, "session is no longer active", nil)
	}

	now := time.Now().UTC()
	if err := s.sessions.SetStatus(ctx, sessionID, models.SessionCompleted, &now); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to end session", err)
	}

	ss.Status = models.SessionCompleted
	ss.EndedAt = &now
	return ss, nil
}
