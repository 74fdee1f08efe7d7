// Package mongostore implements the remote listing store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/starford/bartermate/internal/apperr"
	"github.com/starford/bartermate/internal/models"
	"github.com/starford/bartermate/internal/remote"
)

const (
	listingsCollection = "listings"
	usersCollection    = "users"

	// DefaultFeedLimit caps how many listings one feed fetch returns.
	DefaultFeedLimit = 200
)

// Store is the MongoDB adapter for listings and their owners.
type Store struct {
	client    *mongo.Client
	listings  *mongo.Collection
	users     *mongo.Collection
	feedLimit int64
	logger    *slog.Logger
}

var (
	_ remote.ListingStore = (*Store)(nil)
	_ remote.OwnerLookup  = (*Store)(nil)
)

// Connect dials MongoDB and, when the server is reachable, ensures the
// listing indexes.
func Connect(ctx context.Context, uri, database string, logger *slog.Logger) (*Store, error) {
	if uri == "" {
		return nil, errors.New("mongostore: empty uri")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:    client,
		listings:  db.Collection(listingsCollection),
		users:     db.Collection(usersCollection),
		feedLimit: DefaultFeedLimit,
		logger:    logger,
	}

	// The device may start offline; the driver keeps reconnecting, so an
	// unreachable server at startup is not fatal.
	if err := s.Ping(ctx); err != nil {
		logger.Warn("mongostore: server unreachable at startup", slog.String("error", err.Error()))
		return s, nil
	}
	if err := s.ensureIndexes(ctx); err != nil {
		logger.Warn("mongostore: ensure indexes failed", slog.String("error", err.Error()))
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks that the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.listings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("created_desc"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("user_created_desc"),
		},
	})
	if err != nil {
		return fmt.Errorf("mongostore: ensure indexes: %w", err)
	}
	return nil
}

// InsertListing inserts l using its ID as the document key. A duplicate key
// means an earlier attempt already landed, which counts as success.
func (s *Store) InsertListing(ctx context.Context, l models.Listing) (models.Listing, error) {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	if err := l.Validate(); err != nil {
		return models.Listing{}, fmt.Errorf("mongostore: insert: %w: %v", apperr.ErrValidation, err)
	}
	_, err := s.listings.InsertOne(ctx, fromModel(l))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			s.logger.Info("mongostore: listing already inserted", slog.String("id", l.ID))
			return l, nil
		}
		return models.Listing{}, fmt.Errorf("mongostore: insert: %w", err)
	}
	return l, nil
}

// FetchListings returns the newest listings joined with their owners.
// Documents that fail validation are skipped.
func (s *Store) FetchListings(ctx context.Context) ([]models.Listing, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}}}},
		{{Key: "$limit", Value: s.feedLimit}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: usersCollection},
			{Key: "localField", Value: "user_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "user"},
		}}},
	}
	cur, err := s.listings.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongostore: fetch: %w", err)
	}
	defer cur.Close(ctx)

	var out []models.Listing
	for cur.Next(ctx) {
		var doc listingDoc
		if err := cur.Decode(&doc); err != nil {
			s.logger.Warn("mongostore: skip undecodable listing", slog.String("error", err.Error()))
			continue
		}
		l := doc.toModel()
		if err := l.Validate(); err != nil {
			s.logger.Warn("mongostore: skip invalid listing", slog.String("id", doc.ID), slog.String("error", err.Error()))
			continue
		}
		out = append(out, l)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongostore: fetch: %w", err)
	}
	return out, nil
}

// OwnerSummary looks up one user's public summary.
func (s *Store) OwnerSummary(ctx context.Context, userID string) (models.OwnerSummary, error) {
	var u userDoc
	err := s.users.FindOne(ctx, bson.M{"_id": userID},
		options.FindOne().SetProjection(bson.M{"username": 1, "is_premium": 1}),
	).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.OwnerSummary{}, apperr.ErrNotFound
		}
		return models.OwnerSummary{}, fmt.Errorf("mongostore: owner summary: %w", err)
	}
	return u.toModel(), nil
}
