package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	admissionerrors "turnstile/internal/admission/errors"
	"turnstile/pkg/config"
	mongodb "turnstile/pkg/db/mongo"
	"turnstile/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoCatalog struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoCatalog(client *mongo.Client, cfg *config.Config) Catalog {
	return &mongoCatalog{
		cfg:        cfg,
		collection: client.Database(cfg.MongoDatabaseName).Collection(EventsCollection),
	}
}

func (c *mongoCatalog) GetEventCapacity(ctx context.Context, eventID string) (*model.EventCapacity, error) {
	ctx, cancel := mongodb.WithTimeout(ctx, c.cfg.ReadTimeout)
	defer cancel()

	var event model.EventCapacity
	if err := c.collection.FindOne(ctx, bson.M{"_id": eventID}).Decode(&event); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, admissionerrors.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to find event: %w", err)
	}
	return &event, nil
}

func (c *mongoCatalog) MarkCancelled(ctx context.Context, eventID string) error {
	ctx, cancel := mongodb.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()

	result, err := c.collection.UpdateOne(ctx,
		bson.M{"_id": eventID},
		bson.M{"$set": bson.M{"is_cancelled": true, "updated_at": time.Now().UTC().Truncate(time.Millisecond)}},
	)
	if err != nil {
		return fmt.Errorf("failed to cancel event: %w", err)
	}
	if result.MatchedCount == 0 {
		return admissionerrors.ErrEventNotFound
	}
	return nil
}

// Upsert matches on id and capacity together. When the capacity differs the
// upsert tries to insert a second document with the same id, which the
// primary key rejects.
func (c *mongoCatalog) Upsert(ctx context.Context, event *model.EventCapacity) error {
	ctx, cancel := mongodb.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()

	set := bson.M{"updated_at": time.Now().UTC().Truncate(time.Millisecond)}
	update := bson.M{"$set": set}
	if event.IsCancelled {
		set["is_cancelled"] = true
	} else {
		update["$setOnInsert"] = bson.M{"is_cancelled": false}
	}

	_, err := c.collection.UpdateOne(ctx,
		bson.M{"_id": event.ID, "total_capacity": event.TotalCapacity},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return admissionerrors.ErrCapacityChanged
		}
		return fmt.Errorf("failed to upsert event: %w", err)
	}
	return nil
}
