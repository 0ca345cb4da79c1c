package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/alumitra/advisory/internal/models"
	"github.com/alumitra/advisory/internal/utils"
)

type IntakeRepository interface {
	Create(ctx context.Context, p *models.IntakeProfile) error
	ActiveByUser(ctx context.Context, userID string) (*models.IntakeProfile, error)
	GetByID(ctx context.Context, id string) (*models.IntakeProfile, error)
	DeactivateAll(ctx context.Context, userID string) error
}

type intakeRepo struct {
	col *mongo.Collection
}

func NewIntakeRepo(db *mongo.Database) IntakeRepository {
	return &intakeRepo{col: db.Collection("intake_profiles")}
}

func (r *intakeRepo) Create(ctx context.Context, p *models.IntakeProfile) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	res, err := r.col.InsertOne(ctx, p)
	if err != nil {
		return err
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		p.ID = oid
	}
	return nil
}

func (r *intakeRepo) ActiveByUser(ctx context.Context, userID string) (*models.IntakeProfile, error) {
	var p models.IntakeProfile
	err := r.col.FindOne(ctx, bson.M{"user_id": userID, "is_active": true}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &p, err
}

func (r *intakeRepo) GetByID(ctx context.Context, id string) (*models.IntakeProfile, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, utils.ErrNotFound
	}
	var p models.IntakeProfile
	err = r.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &p, err
}

func (r *intakeRepo) DeactivateAll(ctx context.Context, userID string) error {
	_, err := r.col.UpdateMany(ctx,
		bson.M{"user_id": userID, "is_active": true},
		bson.M{"$set": bson.M{"is_active": false, "updated_at": time.Now().UTC()}},
	)
	return err
}
