package services

import (
	"context"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/alumitra/advisory/internal/models"
	"github.com/alumitra/advisory/internal/utils"
)

func testIntake() *models.IntakeProfile {
	return &models.IntakeProfile{
		ID:      primitive.NewObjectID(),
		UserID:  testUser,
		UseCase: models.UseCaseBuild,
		Answers: bson.M{"capacity_mt": "5000", "location": "Agra"},
	}
}

func TestSessionStartSnapshotsIntake(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := NewSessionService(store.Sessions())

	sess, err := svc.Start(context.Background(), testUser, testIntake())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("session has no id")
	}
	if sess.Status != models.SessionActive {
		t.Fatalf("status = %s, want active", sess.Status)
	}

	snapshot := string(sess.IntakeSnapshot)
	if !strings.Contains(snapshot, "capacity_mt") || !strings.Contains(snapshot, models.UseCaseBuild) {
		t.Fatalf("snapshot missing intake data: %s", snapshot)
	}
	if entries := sess.MemoryEntries(); len(entries) != 0 {
		t.Fatalf("new session memory = %d entries, want 0", len(entries))
	}
}

func TestSessionStartValidation(t *testing.T) {
	t.Parallel()

	svc := NewSessionService(newMemStore().Sessions())

	if _, err := svc.Start(context.Background(), "", testIntake()); !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Fatalf("err = %v, want INVALID_ARGUMENT for missing user", err)
	}
	if _, err := svc.Start(context.Background(), testUser, nil); !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Fatalf("err = %v, want INVALID_ARGUMENT for missing intake", err)
	}
}

func TestSessionEnd(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := NewSessionService(store.Sessions())

	sess, err := svc.Start(context.Background(), testUser, testIntake())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	ended, err := svc.End(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.Status != models.SessionCompleted {
		t.Fatalf("status = %s, want completed", ended.Status)
	}
	if ended.EndedAt == nil {
		t.Fatal("EndedAt not set")
	}

	// Ending twice is a conflict, not a silent no-op.
	if _, err := svc.End(context.Background(), sess.ID); !utils.IsCode(err, utils.CodeConflict) {
		t.Fatalf("second End err = %v, want CONFLICT", err)
	}
}

func TestSessionEndNotFound(t *testing.T) {
	t.Parallel()

	svc := NewSessionService(newMemStore().Sessions())
	if _, err := svc.End(context.Background(), "missing"); !utils.IsCode(err, utils.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}
