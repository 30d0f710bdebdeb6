package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	admissionerrors "turnstile/internal/admission/errors"
	"turnstile/pkg/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createEventsTable = `CREATE TABLE IF NOT EXISTS events (
	id             TEXT PRIMARY KEY,
	total_capacity INTEGER NOT NULL CHECK (total_capacity >= 0),
	is_cancelled   BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresCatalog reads events from a table the catalog service replicates
// into PostgreSQL.
type PostgresCatalog struct {
	db *pgxpool.Pool
}

func NewPostgresCatalog(db *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, createEventsTable); err != nil {
		return fmt.Errorf("create events table: %w", err)
	}
	return nil
}

func (c *PostgresCatalog) GetEventCapacity(ctx context.Context, eventID string) (*model.EventCapacity, error) {
	var e model.EventCapacity
	err := c.db.QueryRow(ctx,
		`SELECT id, total_capacity, is_cancelled, updated_at FROM events WHERE id = $1`,
		eventID,
	).Scan(&e.ID, &e.TotalCapacity, &e.IsCancelled, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, admissionerrors.ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &e, nil
}

func (c *PostgresCatalog) MarkCancelled(ctx context.Context, eventID string) error {
	tag, err := c.db.Exec(ctx,
		`UPDATE events SET is_cancelled = TRUE, updated_at = $2 WHERE id = $1`,
		eventID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("cancel event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return admissionerrors.ErrEventNotFound
	}
	return nil
}

// Upsert leaves the row untouched, and reports ErrCapacityChanged, when the
// stored capacity differs.
func (c *PostgresCatalog) Upsert(ctx context.Context, event *model.EventCapacity) error {
	tag, err := c.db.Exec(ctx,
		`INSERT INTO events (id, total_capacity, is_cancelled, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET is_cancelled = events.is_cancelled OR EXCLUDED.is_cancelled,
		     updated_at = EXCLUDED.updated_at
		 WHERE events.total_capacity = EXCLUDED.total_capacity`,
		event.ID, event.TotalCapacity, event.IsCancelled, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return admissionerrors.ErrCapacityChanged
	}
	return nil
}
