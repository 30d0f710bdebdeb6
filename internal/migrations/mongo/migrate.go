package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"turnstile/internal/admission/repository"
	"turnstile/internal/catalog"
	"turnstile/internal/migrations/mongo/validators"
	"turnstile/pkg/logger"
)

var (
	EntriesIndexes = []mongo.IndexModel{
		// Queue order within one event.
		{Keys: bson.D{
			{Key: "event_id", Value: 1},
			{Key: "state", Value: 1},
			{Key: "created_at", Value: 1},
			{Key: "seq", Value: 1},
		}},
		{Keys: bson.D{
			{Key: "event_id", Value: 1},
			{Key: "participant_id", Value: 1},
			{Key: "created_at", Value: -1},
		}},
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("event_seq_unique"),
		},
		// Recovery and the sweep scan offered entries by deadline.
		{Keys: bson.D{{Key: "state", Value: 1}, {Key: "offer_deadline", Value: 1}}},
	}

	TicketsIndexes = []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "entry_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("entry_id_unique"),
		},
		{Keys: bson.D{{Key: "event_id", Value: 1}, {Key: "status", Value: 1}}},
	}

	LocksIndexes = []mongo.IndexModel{
		// Safety net for locks whose owner died. Acquire also steals expired
		// locks, so correctness never waits on the TTL monitor.
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("expires_at_ttl"),
		},
	}

	EventsIndexes = []mongo.IndexModel{
		{Keys: bson.D{{Key: "is_cancelled", Value: 1}}},
	}
)

type CollectionDef struct {
	Indexes   []mongo.IndexModel
	Validator bson.M
}

// Collections lists every collection the admission service owns or reads.
func Collections() map[string]CollectionDef {
	return map[string]CollectionDef{
		repository.EntriesCollection: {
			Indexes:   EntriesIndexes,
			Validator: validators.EntryValidator,
		},
		repository.TicketsCollection: {
			Indexes:   TicketsIndexes,
			Validator: validators.TicketValidator,
		},
		repository.LocksCollection: {
			Indexes:   LocksIndexes,
			Validator: validators.LockValidator,
		},
		catalog.EventsCollection: {
			Indexes:   EventsIndexes,
			Validator: validators.EventValidator,
		},
	}
}

func RunMigration(ctx context.Context, client *mongo.Client, dbName string, log *logger.Logger) error {
	db := client.Database(dbName)
	log.Info("Running Mongo migrations", "database", dbName)

	for name, def := range Collections() {
		if err := ensureCollection(ctx, db, name, def.Validator, log); err != nil {
			return fmt.Errorf("failed to ensure collection %s: %w", name, err)
		}
		if err := ensureIndexes(ctx, db, name, def.Indexes, log); err != nil {
			return fmt.Errorf("failed to ensure indexes for %s: %w", name, err)
		}
	}

	log.Info("All migrations applied successfully")
	return nil
}

func ensureCollection(ctx context.Context, db *mongo.Database, name string, validator bson.M, log *logger.Logger) error {
	existing, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		log.Info("Creating collection", "collection", name)
		opts := options.CreateCollection().SetValidator(validator)
		if err := db.CreateCollection(ctx, name, opts); err != nil {
			return fmt.Errorf("failed creating %s: %w", name, err)
		}
		return nil
	}

	log.Info("Collection already exists, updating validator", "collection", name)
	command := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
	}
	if err := db.RunCommand(ctx, command).Err(); err != nil {
		log.Warn("Failed updating validator", "collection", name, "error", err)
	}
	return nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database, name string, models []mongo.IndexModel, log *logger.Logger) error {
	coll := db.Collection(name)
	if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
		return err
	}
	log.Info("Ensured indexes", "collection", name, "count", len(models))
	return nil
}
