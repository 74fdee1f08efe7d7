package mongostore

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/starford/bartermate/internal/models"
	"github.com/starford/bartermate/internal/remote"
)

// ChangeFeed streams listing inserts from a MongoDB change stream.
// It requires a replica set.
type ChangeFeed struct {
	store *Store
}

var _ remote.ChangeFeed = (*ChangeFeed)(nil)

// NewChangeFeed returns a change feed over the store's listings collection.
func NewChangeFeed(s *Store) *ChangeFeed {
	return &ChangeFeed{store: s}
}

type changeEvent struct {
	FullDocument listingDoc `bson:"fullDocument"`
}

// Subscribe opens the change stream. Owner summaries are not included;
// the merger resolves them.
func (f *ChangeFeed) Subscribe(ctx context.Context) (*remote.Subscription, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "operationType", Value: "insert"}}}},
	}
	cs, err := f.store.listings.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, fmt.Errorf("mongostore: watch: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	out := make(chan models.Listing, 64)
	logger := f.store.logger

	go func() {
		defer close(out)
		defer cs.Close(context.Background())

		for cs.Next(streamCtx) {
			var ev changeEvent
			if err := cs.Decode(&ev); err != nil {
				logger.Warn("mongostore: skip undecodable change", slog.String("error", err.Error()))
				continue
			}
			l := ev.FullDocument.toModel()
			if err := l.Validate(); err != nil {
				logger.Warn("mongostore: skip invalid change", slog.String("error", err.Error()))
				continue
			}
			select {
			case out <- l:
			case <-streamCtx.Done():
				return
			}
		}
		if err := cs.Err(); err != nil && streamCtx.Err() == nil {
			logger.Error("mongostore: change stream ended", slog.String("error", err.Error()))
		}
	}()

	return remote.NewSubscription(out, cancel), nil
}
