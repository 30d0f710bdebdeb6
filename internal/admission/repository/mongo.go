package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	admissionerrors "turnstile/internal/admission/errors"
	"turnstile/pkg/config"
	mongodb "turnstile/pkg/db/mongo"
	"turnstile/pkg/model"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type mongoStore struct {
	cfg       *config.Config
	client    *mongo.Client
	entries   *mongo.Collection
	tickets   *mongo.Collection
	txManager mongodb.TransactionManager
	locks     LockRepository
	local     *keyedMutex
}

func NewMongoStore(client *mongo.Client, cfg *config.Config) Store {
	db := client.Database(cfg.MongoDatabaseName)
	return &mongoStore{
		cfg:       cfg,
		client:    client,
		entries:   db.Collection(EntriesCollection),
		tickets:   db.Collection(TicketsCollection),
		txManager: mongodb.NewTransactionManager(client),
		locks:     NewLockRepository(db, cfg.LockTTL, cfg.LockRetryInterval),
		local:     newKeyedMutex(),
	}
}

// WithinEvent queues goroutines of this process on a local mutex, then takes
// the shared lock document, then runs fn in a session transaction.
func (s *mongoStore) WithinEvent(ctx context.Context, eventID string, fn TxFunc) error {
	unlock, err := s.local.Lock(ctx, eventID)
	if err != nil {
		return fmt.Errorf("%w: %w", admissionerrors.ErrLockTimeout, err)
	}
	defer unlock()

	owner := uuid.NewString()
	if err := s.locks.Acquire(ctx, eventID, owner); err != nil {
		return err
	}
	defer func() {
		if err := s.locks.Release(ctx, eventID, owner); err != nil {
			s.cfg.Log.Error("Failed to release event lock",
				"event_id", eventID,
				"error", err,
			)
		}
	}()

	return s.txManager.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		return fn(sessCtx, &mongoTx{mongoView: mongoView{store: s, eventID: eventID}})
	})
}

func (s *mongoStore) Event(eventID string) EventReader {
	return mongoView{store: s, eventID: eventID}
}

func (s *mongoStore) FindEntry(ctx context.Context, entryID string) (*model.WaitingEntry, error) {
	return s.findEntry(ctx, bson.M{"_id": entryID})
}

func (s *mongoStore) FindTicket(ctx context.Context, ticketID string) (*model.Ticket, error) {
	return s.findTicket(ctx, bson.M{"_id": ticketID})
}

func (s *mongoStore) ListOffered(ctx context.Context, dueBy *time.Time) ([]*model.WaitingEntry, error) {
	ctx, cancel := mongodb.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{"state": model.EntryOffered}
	if dueBy != nil {
		filter["offer_deadline"] = bson.M{"$lte": *dueBy}
	}
	opts := options.Find().SetSort(bson.D{{Key: "offer_deadline", Value: 1}})

	return s.listEntries(ctx, filter, opts)
}

func (s *mongoStore) Ping(ctx context.Context) error {
	ctx, cancel := mongodb.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *mongoStore) findEntry(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*model.WaitingEntry, error) {
	ctx, cancel := mongodb.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	var entry model.WaitingEntry
	if err := s.entries.FindOne(ctx, filter, opts...).Decode(&entry); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, admissionerrors.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to find entry: %w", err)
	}
	return &entry, nil
}

func (s *mongoStore) findTicket(ctx context.Context, filter bson.M) (*model.Ticket, error) {
	ctx, cancel := mongodb.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	var ticket model.Ticket
	if err := s.tickets.FindOne(ctx, filter).Decode(&ticket); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, admissionerrors.ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to find ticket: %w", err)
	}
	return &ticket, nil
}

func (s *mongoStore) listEntries(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]*model.WaitingEntry, error) {
	cursor, err := s.entries.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to find entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*model.WaitingEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode entries: %w", err)
	}
	return entries, nil
}

func (s *mongoStore) count(ctx context.Context, collection *mongo.Collection, filter bson.M) (int, error) {
	ctx, cancel := mongodb.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	n, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection.Name(), err)
	}
	return int(n), nil
}

var queueOrder = bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}}

type mongoView struct {
	store   *mongoStore
	eventID string
}

func (v mongoView) EventID() string { return v.eventID }

func (v mongoView) FindLiveEntry(ctx context.Context, participantID string) (*model.WaitingEntry, error) {
	entry, err := v.store.findEntry(ctx, bson.M{
		"event_id":       v.eventID,
		"participant_id": participantID,
		"state":          bson.M{"$ne": model.EntryExpired},
	})
	if errors.Is(err, admissionerrors.ErrEntryNotFound) {
		return nil, nil
	}
	return entry, err
}

func (v mongoView) FindLatestEntry(ctx context.Context, participantID string) (*model.WaitingEntry, error) {
	live, err := v.FindLiveEntry(ctx, participantID)
	if err != nil || live != nil {
		return live, err
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "seq", Value: -1}})
	entry, err := v.store.findEntry(ctx, bson.M{"event_id": v.eventID, "participant_id": participantID}, opts)
	if errors.Is(err, admissionerrors.ErrEntryNotFound) {
		return nil, admissionerrors.ErrNotQueued
	}
	return entry, err
}

func (v mongoView) FirstWaiting(ctx context.Context) (*model.WaitingEntry, error) {
	opts := options.FindOne().SetSort(queueOrder)
	entry, err := v.store.findEntry(ctx, bson.M{"event_id": v.eventID, "state": model.EntryWaiting}, opts)
	if errors.Is(err, admissionerrors.ErrEntryNotFound) {
		return nil, nil
	}
	return entry, err
}

func (v mongoView) CountWaitingBefore(ctx context.Context, entry *model.WaitingEntry) (int, error) {
	return v.store.count(ctx, v.store.entries, bson.M{
		"event_id": v.eventID,
		"state":    model.EntryWaiting,
		"$or": bson.A{
			bson.M{"created_at": bson.M{"$lt": entry.CreatedAt}},
			bson.M{"created_at": entry.CreatedAt, "seq": bson.M{"$lt": entry.Seq}},
		},
	})
}

func (v mongoView) CountCommitted(ctx context.Context) (int, error) {
	return v.store.count(ctx, v.store.tickets, bson.M{
		"event_id": v.eventID,
		"status":   bson.M{"$in": bson.A{model.TicketValid, model.TicketUsed}},
	})
}

func (v mongoView) CountActiveHolds(ctx context.Context, now time.Time) (int, error) {
	return v.store.count(ctx, v.store.entries, bson.M{
		"event_id":       v.eventID,
		"state":          model.EntryOffered,
		"offer_deadline": bson.M{"$gt": now},
	})
}

func (v mongoView) ListEntries(ctx context.Context, states ...model.EntryState) ([]*model.WaitingEntry, error) {
	ctx, cancel := mongodb.WithTimeout(ctx, v.store.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{"event_id": v.eventID}
	if len(states) > 0 {
		filter["state"] = bson.M{"$in": states}
	}
	return v.store.listEntries(ctx, filter, options.Find().SetSort(queueOrder))
}

func (v mongoView) ListTickets(ctx context.Context, statuses ...model.TicketStatus) ([]*model.Ticket, error) {
	ctx, cancel := mongodb.WithTimeout(ctx, v.store.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{"event_id": v.eventID}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statuses}
	}
	cursor, err := v.store.tickets.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "issued_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to find tickets: %w", err)
	}
	defer cursor.Close(ctx)

	var tickets []*model.Ticket
	if err := cursor.All(ctx, &tickets); err != nil {
		return nil, fmt.Errorf("failed to decode tickets: %w", err)
	}
	return tickets, nil
}

type mongoTx struct {
	mongoView
}

func (tx *mongoTx) FindEntry(ctx context.Context, entryID string) (*model.WaitingEntry, error) {
	return tx.store.findEntry(ctx, bson.M{"_id": entryID, "event_id": tx.eventID})
}

func (tx *mongoTx) FindTicket(ctx context.Context, ticketID string) (*model.Ticket, error) {
	return tx.store.findTicket(ctx, bson.M{"_id": ticketID, "event_id": tx.eventID})
}

func (tx *mongoTx) FindTicketByEntry(ctx context.Context, entryID string) (*model.Ticket, error) {
	ticket, err := tx.store.findTicket(ctx, bson.M{"entry_id": entryID})
	if errors.Is(err, admissionerrors.ErrTicketNotFound) {
		return nil, nil
	}
	return ticket, err
}

// NextSeq is safe only under the event lock.
func (tx *mongoTx) NextSeq(ctx context.Context) (int64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}}).SetProjection(bson.M{"seq": 1})
	last, err := tx.store.findEntry(ctx, bson.M{"event_id": tx.eventID}, opts)
	if errors.Is(err, admissionerrors.ErrEntryNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return last.Seq + 1, nil
}

func (tx *mongoTx) InsertEntry(ctx context.Context, entry *model.WaitingEntry) error {
	ctx, cancel := mongodb.WithTimeout(ctx, tx.store.cfg.WriteTimeout)
	defer cancel()

	if _, err := tx.store.entries.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func (tx *mongoTx) UpdateEntry(ctx context.Context, entry *model.WaitingEntry) error {
	ctx, cancel := mongodb.WithTimeout(ctx, tx.store.cfg.WriteTimeout)
	defer cancel()

	set := bson.M{
		"state":      entry.State,
		"updated_at": entry.UpdatedAt,
	}
	update := bson.M{"$set": set}
	if entry.OfferDeadline != nil {
		set["offer_deadline"] = *entry.OfferDeadline
	} else {
		update["$unset"] = bson.M{"offer_deadline": ""}
	}

	result, err := tx.store.entries.UpdateOne(ctx, bson.M{"_id": entry.ID, "event_id": tx.eventID}, update)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	if result.MatchedCount == 0 {
		return admissionerrors.ErrEntryNotFound
	}
	return nil
}

func (tx *mongoTx) InsertTicket(ctx context.Context, ticket *model.Ticket) error {
	ctx, cancel := mongodb.WithTimeout(ctx, tx.store.cfg.WriteTimeout)
	defer cancel()

	if _, err := tx.store.tickets.InsertOne(ctx, ticket); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return admissionerrors.ErrAlreadyCommitted
		}
		return fmt.Errorf("failed to insert ticket: %w", err)
	}
	return nil
}

func (tx *mongoTx) UpdateTicket(ctx context.Context, ticket *model.Ticket) error {
	ctx, cancel := mongodb.WithTimeout(ctx, tx.store.cfg.WriteTimeout)
	defer cancel()

	result, err := tx.store.tickets.UpdateOne(ctx,
		bson.M{"_id": ticket.ID, "event_id": tx.eventID},
		bson.M{"$set": bson.M{"status": ticket.Status, "updated_at": ticket.UpdatedAt}},
	)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	if result.MatchedCount == 0 {
		return admissionerrors.ErrTicketNotFound
	}
	return nil
}
