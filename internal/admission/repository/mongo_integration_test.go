//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	admissionerrors "turnstile/internal/admission/errors"
	"turnstile/internal/admission/repository"
	mongoMigration "turnstile/internal/migrations/mongo"
	"turnstile/pkg/config"
	pkgmongo "turnstile/pkg/db/mongo"
	"turnstile/pkg/logger"
	"turnstile/pkg/model"
)

// Transactions need a replica set; point TEST_MONGO_URI at one, e.g.
// mongodb://localhost:27017/?replicaSet=rs0.
func newIntegrationStore(t *testing.T) (repository.Store, *mongo.Client) {
	t.Helper()

	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}

	cfg := config.FromEnv("admission-integration-tests")
	cfg.Log = logger.Discard()
	cfg.MongoURI = uri
	cfg.MongoDatabaseName = "turnstile_it_" + uuid.NewString()[:8]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := pkgmongo.Connect(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, mongoMigration.RunMigration(ctx, client, cfg.MongoDatabaseName, cfg.Log))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Database(cfg.MongoDatabaseName).Drop(ctx); err != nil {
			t.Logf("warning: failed to drop test database: %v", err)
		}
		_ = client.Disconnect(ctx)
	})

	return repository.NewMongoStore(client, cfg), client
}

func TestMongoStore_SerializesSeqAssignment(t *testing.T) {
	store, _ := newIntegrationStore(t)
	ctx := context.Background()
	const joiners = 10

	var wg sync.WaitGroup
	errs := make(chan error, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.WithinEvent(ctx, "ev-seq", func(ctx context.Context, tx repository.Tx) error {
				seq, err := tx.NextSeq(ctx)
				if err != nil {
					return err
				}
				now := time.Now().UTC()
				return tx.InsertEntry(ctx, &model.WaitingEntry{
					ID:            uuid.NewString(),
					EventID:       "ev-seq",
					ParticipantID: fmt.Sprintf("p-%d", i),
					State:         model.EntryWaiting,
					Seq:           seq,
					CreatedAt:     now,
					UpdatedAt:     now,
				})
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	entries, err := store.Event("ev-seq").ListEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, joiners)

	seen := make(map[int64]bool)
	for _, e := range entries {
		assert.False(t, seen[e.Seq], "duplicate seq %d", e.Seq)
		seen[e.Seq] = true
	}
}

func TestMongoStore_RollsBackOnError(t *testing.T) {
	store, _ := newIntegrationStore(t)
	ctx := context.Background()

	err := store.WithinEvent(ctx, "ev-rb", func(ctx context.Context, tx repository.Tx) error {
		now := time.Now().UTC()
		if err := tx.InsertEntry(ctx, &model.WaitingEntry{
			ID: "e-rb", EventID: "ev-rb", ParticipantID: "p-1",
			State: model.EntryWaiting, Seq: 1, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return admissionerrors.ErrInvariantViolation
	})
	require.ErrorIs(t, err, admissionerrors.ErrInvariantViolation)

	_, err = store.FindEntry(ctx, "e-rb")
	assert.ErrorIs(t, err, admissionerrors.ErrEntryNotFound)
}

func TestMongoStore_OneTicketPerEntry(t *testing.T) {
	store, _ := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insert := func(ticketID string) error {
		return store.WithinEvent(ctx, "ev-t", func(ctx context.Context, tx repository.Tx) error {
			return tx.InsertTicket(ctx, &model.Ticket{
				ID: ticketID, EventID: "ev-t", ParticipantID: "p-1", EntryID: "e-1",
				Status: model.TicketValid, IssuedAt: now, UpdatedAt: now,
			})
		})
	}

	require.NoError(t, insert("t-1"))
	assert.ErrorIs(t, insert("t-2"), admissionerrors.ErrAlreadyCommitted)

	count, err := store.Event("ev-t").CountCommitted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMongoStore_ListOfferedDueBy(t *testing.T) {
	store, _ := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	err := store.WithinEvent(ctx, "ev-o", func(ctx context.Context, tx repository.Tx) error {
		for i, deadline := range []time.Time{past, future} {
			d := deadline
			if err := tx.InsertEntry(ctx, &model.WaitingEntry{
				ID: fmt.Sprintf("e-%d", i), EventID: "ev-o", ParticipantID: fmt.Sprintf("p-%d", i),
				State: model.EntryOffered, Seq: int64(i + 1), CreatedAt: now, UpdatedAt: now,
				OfferDeadline: &d,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	due, err := store.ListOffered(ctx, &now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "e-0", due[0].ID)

	all, err := store.ListOffered(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
