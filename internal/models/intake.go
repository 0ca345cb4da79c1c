package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Intake use cases mirror the wizard's first choice.
const (
	UseCaseBuild    = "build"    // plan a new cold storage facility
	UseCaseExisting = "existing" // optimize an existing facility
)

// IntakeProfile is the wizard-shaped advisory profile a chat session is
// started against. Answers are free-form documents, which is why these live
// in Mongo rather than Postgres.
type IntakeProfile struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID string             `bson:"user_id" json:"user_id"`

	UseCase string `bson:"use_case" json:"use_case"` // build|existing
	Answers bson.M `bson:"answers,omitempty" json:"answers,omitempty"`

	// Generated once at creation.
	WelcomeMessage     string   `bson:"welcome_message,omitempty" json:"welcome_message,omitempty"`
	StarterSuggestions []string `bson:"starter_suggestions,omitempty" json:"starter_suggestions,omitempty"`

	IsActive bool `bson:"is_active" json:"is_active"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
