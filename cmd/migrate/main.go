package main

import (
	"context"
	"time"

	mongoMigration "turnstile/internal/migrations/mongo"
	"turnstile/pkg/config"
	pkgmongo "turnstile/pkg/db/mongo"
)

const JobName = "turnstile-mongo-migration"

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	cfg := config.Load(JobName)
	cfg.Log.Info("Starting Mongo migration job")

	client, err := pkgmongo.Connect(ctx, cfg)
	if err != nil {
		cfg.Log.Fatal("MongoDB unavailable", "error", err)
	}
	defer func() {
		if err := pkgmongo.Disconnect(client, cfg.ShutdownTimeout); err != nil {
			cfg.Log.Error("Failed to disconnect from MongoDB", "error", err)
		}
	}()

	if err := mongoMigration.RunMigration(ctx, client, cfg.MongoDatabaseName, cfg.Log); err != nil {
		cfg.Log.Error("Migration failed", "error", err)
		return
	}
	cfg.Log.Info("Migration completed successfully")
}
