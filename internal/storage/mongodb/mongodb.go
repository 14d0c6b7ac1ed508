package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/darunbjork/InsightAPI/internal/domain/models"
	"github.com/darunbjork/InsightAPI/internal/storage"
)

type Storage struct {
	client     *mongo.Client
	database   *mongo.Database
	principals *mongo.Collection
}

type principalDoc struct {
	ID              string    `bson:"_id"`
	Username        string    `bson:"username"`
	Email           string    `bson:"email"`
	PassHash        []byte    `bson:"pass_hash"`
	RevokedTokenIDs []string  `bson:"revoked_token_ids"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

// New creates a new MongoDB storage instance and sets up indexes.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Storage{
		client:     client,
		database:   db,
		principals: db.Collection("principals"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

func (s *Storage) ensureIndexes(ctx context.Context) error {
	// principals.username unique
	_, err := s.principals.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("principals.username index: %w", err)
	}

	// principals.email unique
	_, err = s.principals.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("principals.email index: %w", err)
	}

	return nil
}

// Close disconnects from MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// SavePrincipal inserts a new principal with an empty revocation set.
func (s *Storage) SavePrincipal(ctx context.Context, username, email string, passHash []byte) (*models.Principal, error) {
	const op = "storage.mongodb.SavePrincipal"

	now := time.Now()
	doc := principalDoc{
		ID:              bson.NewObjectID().Hex(),
		Username:        username,
		Email:           email,
		PassHash:        passHash,
		RevokedTokenIDs: []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err := s.principals.InsertOne(ctx, doc)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrPrincipalExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return toModel(&doc), nil
}

// PrincipalByEmail retrieves a principal by email.
func (s *Storage) PrincipalByEmail(ctx context.Context, email string) (*models.Principal, error) {
	const op = "storage.mongodb.PrincipalByEmail"

	return s.findOne(ctx, op, bson.D{{Key: "email", Value: email}})
}

// PrincipalByID retrieves a principal by id.
func (s *Storage) PrincipalByID(ctx context.Context, principalID string) (*models.Principal, error) {
	const op = "storage.mongodb.PrincipalByID"

	return s.findOne(ctx, op, bson.D{{Key: "_id", Value: principalID}})
}

// PrincipalByUsernameOrEmail retrieves a principal matching either field.
func (s *Storage) PrincipalByUsernameOrEmail(ctx context.Context, username, email string) (*models.Principal, error) {
	const op = "storage.mongodb.PrincipalByUsernameOrEmail"

	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "username", Value: username}},
		bson.D{{Key: "email", Value: email}},
	}}}

	return s.findOne(ctx, op, filter)
}

func (s *Storage) findOne(ctx context.Context, op string, filter bson.D) (*models.Principal, error) {
	var doc principalDoc
	err := s.principals.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrPrincipalNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return toModel(&doc), nil
}

// AppendRevokedToken adds a retired token id to the principal's revocation
// set. $addToSet keeps the entries unique.
func (s *Storage) AppendRevokedToken(ctx context.Context, principalID, tokenID string) error {
	const op = "storage.mongodb.AppendRevokedToken"

	res, err := s.principals.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: principalID}},
		bson.D{
			{Key: "$addToSet", Value: bson.D{{Key: "revoked_token_ids", Value: tokenID}}},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now()}}},
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrPrincipalNotFound)
	}

	return nil
}

// IsTokenRevoked reports whether the token id is in the principal's
// revocation set.
func (s *Storage) IsTokenRevoked(ctx context.Context, principalID, tokenID string) (bool, error) {
	const op = "storage.mongodb.IsTokenRevoked"

	n, err := s.principals.CountDocuments(ctx, bson.D{
		{Key: "_id", Value: principalID},
		{Key: "revoked_token_ids", Value: tokenID},
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return n > 0, nil
}

// ClearRevokedTokens empties the principal's revocation set.
func (s *Storage) ClearRevokedTokens(ctx context.Context, principalID string) error {
	const op = "storage.mongodb.ClearRevokedTokens"

	res, err := s.principals.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: principalID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "revoked_token_ids", Value: []string{}},
			{Key: "updated_at", Value: time.Now()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrPrincipalNotFound)
	}

	return nil
}

func toModel(doc *principalDoc) *models.Principal {
	return &models.Principal{
		ID:        doc.ID,
		Username:  doc.Username,
		Email:     doc.Email,
		PassHash:  doc.PassHash,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

// isDuplicateKeyError checks if the error is a MongoDB duplicate key error (code 11000).
func isDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return false
}
