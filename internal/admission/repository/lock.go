package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	admissionerrors "turnstile/internal/admission/errors"
	"turnstile/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// LockRepository manages the per-event lock documents that serialize
// writers across processes.
type LockRepository interface {
	Acquire(ctx context.Context, eventID, owner string) error
	Release(ctx context.Context, eventID, owner string) error
}

type mongoLockRepository struct {
	collection    *mongo.Collection
	ttl           time.Duration
	retryInterval time.Duration
}

func NewLockRepository(db *mongo.Database, ttl, retryInterval time.Duration) LockRepository {
	return &mongoLockRepository{
		collection:    db.Collection(LocksCollection),
		ttl:           ttl,
		retryInterval: retryInterval,
	}
}

// Acquire inserts the lock document, retrying with capped backoff until ctx
// is done. A lock whose expires_at has passed is taken over, so the ttl
// must outlast any transaction run under it; Config.Validate requires it to
// be at least twice REQUEST_TIMEOUT and EXPIRE_TIMEOUT.
func (r *mongoLockRepository) Acquire(ctx context.Context, eventID, owner string) error {
	backoff := r.retryInterval
	for {
		now := time.Now().UTC().Truncate(time.Millisecond)
		_, err := r.collection.InsertOne(ctx, model.AdmissionLock{
			ID:        eventID,
			Owner:     owner,
			ExpiresAt: now.Add(r.ttl),
			CreatedAt: now,
		})
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", admissionerrors.ErrLockTimeout, ctx.Err())
			}
			return fmt.Errorf("failed to acquire lock for event %s: %w", eventID, err)
		}

		result, err := r.collection.DeleteOne(ctx, bson.M{"_id": eventID, "expires_at": bson.M{"$lte": now}})
		if err == nil && result.DeletedCount > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", admissionerrors.ErrLockTimeout, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 16*r.retryInterval)
	}
}

// Release deletes the lock only if owner still holds it. It runs even when
// ctx has been cancelled.
func (r *mongoLockRepository) Release(ctx context.Context, eventID, owner string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": eventID, "owner": owner})
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("failed to release lock for event %s: %w", eventID, err)
	}
	return nil
}
