package services

import (
	"context"
	"encoding/json"
	"errors"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/alumitra/advisory/internal/models"
	"github.com/alumitra/advisory/internal/providers/llm"
	mongorepo "github.com/alumitra/advisory/internal/repositories/mongo"
	"github.com/alumitra/advisory/internal/utils"
)

const (
	welcomeBuild    = "Hello! I'm Alu Mitra, your potato storage advisor. I'll help you plan and build your cold storage facility. What would you like to know?"
	welcomeExisting = "Hello! I'm Alu Mitra, your potato storage advisor. I'll help you optimize your cold storage operations. What can I help you with?"
	welcomeDefault  = "Hello! I'm Alu Mitra, your potato cold storage advisor. How can I help you today?"
)

type IntakeService interface {
	// Create deactivates any previous profile, stores the new one as the
	// active profile, and attaches a welcome message plus three starter
	// suggestions. Suggestion generation is best-effort: a provider failure
	// leaves them empty rather than failing intake.
	Create(ctx context.Context, userID, useCase string, answers bson.M) (*models.IntakeProfile, error)
	Active(ctx context.Context, userID string) (*models.IntakeProfile, error)
}

type intakeService struct {
	intakes  mongorepo.IntakeRepository
	provider llm.Provider
}

func NewIntakeService(intakes mongorepo.IntakeRepository, provider llm.Provider) IntakeService {
	return &intakeService{intakes: intakes, provider: provider}
}

func (s *intakeService) Create(ctx context.Context, userID, useCase string, answers bson.M) (*models.IntakeProfile, error) {
	const op = "IntakeService.Create"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	switch useCase {
	case models.UseCaseBuild, models.UseCaseExisting:
	default:
		return nil, utils.E(utils.CodeInvalidArgument, op, "use_case must be build or existing", nil)
	}

	if err := s.intakes.DeactivateAll(ctx, userID); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to deactivate previous profiles", err)
	}

	profile := &models.IntakeProfile{
		UserID:         userID,
		UseCase:        useCase,
		Answers:        answers,
		WelcomeMessage: welcomeFor(useCase),
		IsActive:       true,
	}
	profile.StarterSuggestions = s.starterSuggestions(ctx, useCase, answers)

	if err := s.intakes.Create(ctx, profile); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to store intake profile", err)
	}
	return profile, nil
}

func (s *intakeService) Active(ctx context.Context, userID string) (*models.IntakeProfile, error) {
	const op = "IntakeService.Active"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	p, err := s.intakes.ActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "no active intake profile", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load intake profile", err)
	}
	return p, nil
}

func (s *intakeService) starterSuggestions(ctx context.Context, useCase string, answers bson.M) []string {
	if s.provider == nil {
		return nil
	}
	raw, err := json.Marshal(answers)
	if err != nil {
		raw = nil
	}
	out, err := s.provider.GenerateJSON(ctx, llm.Request{
		System:      starterSystem,
		Prompt:      buildStarterPrompt(useCase, raw),
		Temperature: tempAnswer,
	})
	if err != nil {
		return nil
	}
	var payload struct {
		Questions []string `json:"questions"`
	}
	if err := json.Unmarshal(out, &payload); err != nil || len(payload.Questions) != 3 {
		return nil
	}
	return payload.Questions
}

func welcomeFor(useCase string) string {
	switch useCase {
	case models.UseCaseBuild:
		return welcomeBuild
	case models.UseCaseExisting:
		return welcomeExisting
	default:
		return welcomeDefault
	}
}
