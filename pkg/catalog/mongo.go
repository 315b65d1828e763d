// Package catalog stores catalog records written by the scraping jobs.
package catalog

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"stealth-proxy-go/pkg/config"
	"stealth-proxy-go/pkg/interfaces"
	"stealth-proxy-go/pkg/logging"
	"stealth-proxy-go/pkg/types"
)

// MongoStore is a CatalogStore backed by a MongoDB collection. Records are
// keyed by _id.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
	log    *logging.Logger
}

var _ interfaces.CatalogStore = (*MongoStore)(nil)

// NewMongoStore connects to the catalog database.
func NewMongoStore(ctx context.Context, cfg config.CatalogConfig, log *logging.Logger) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("catalog: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}

	return &MongoStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		now:    time.Now,
		log:    log.WithComponent("catalog"),
	}, nil
}

// Upsert writes rec, creating the record if its ID is new.
func (s *MongoStore) Upsert(ctx context.Context, rec *types.CatalogRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.UpdatedAt = s.now().UTC()

	res, err := s.coll.UpdateOne(ctx, idFilter(rec.ID), setUpdate(rec), options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("catalog: upsert %s: %w", rec.ID, err)
	}

	s.log.Debug("catalog record written",
		"id", rec.ID,
		"matched", res.MatchedCount,
		"upserted", res.UpsertedCount,
	)
	return nil
}

// Close disconnects from the database.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func idFilter(id string) bson.D {
	return bson.D{{Key: "_id", Value: id}}
}

// setUpdate only sets the optional fields that are present, so a partial
// record never blanks out a stored title or thumbnail.
func setUpdate(rec *types.CatalogRecord) bson.D {
	set := bson.D{
		{Key: "stream_url", Value: rec.StreamURL},
		{Key: "updated_at", Value: rec.UpdatedAt},
	}
	if rec.Title != "" {
		set = append(set, bson.E{Key: "title", Value: rec.Title})
	}
	if rec.Thumbnail != "" {
		set = append(set, bson.E{Key: "thumbnail", Value: rec.Thumbnail})
	}
	return bson.D{{Key: "$set", Value: set}}
}
