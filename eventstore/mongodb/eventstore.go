// Copyright (c) 2026 - The Event Machine authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mongodb is an event store on MongoDB. Saves run in multi document
// transactions, so the server must be a replica set member.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoOptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/eventstore"
	"github.com/looplab/eventmachine/mongoutils"
	"github.com/looplab/eventmachine/uuid"
)

// allStream is the ID of the stream document holding the global position.
const allStream = "$all"

// EventStore is an eventmachine.EventStore for MongoDB, using one collection
// for all events and another to keep track of all aggregates/streams. The
// global position is kept in the $all stream and used as event ID, which
// also serializes concurrent transactions.
//
// Timestamps are stored with millisecond precision.
type EventStore struct {
	client          *mongo.Client
	clientOwnership clientOwnership
	db              *mongo.Database
	events          *mongo.Collection
	streams         *mongo.Collection
	listeners       *eventstore.Listeners
}

type clientOwnership int

const (
	internalClient clientOwnership = iota
	externalClient
)

// NewEventStore creates a new EventStore with a MongoDB URI: `mongodb://hostname`.
func NewEventStore(uri, dbName string, options ...Option) (*EventStore, error) {
	opts := mongoOptions.Client().ApplyURI(uri)
	opts.SetWriteConcern(writeconcern.Majority())
	opts.SetReadConcern(readconcern.Majority())
	opts.SetReadPreference(readpref.Primary())

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("could not connect to DB: %w", err)
	}

	s, err := newEventStoreWithClient(client, internalClient, dbName, options...)
	if err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	return s, nil
}

// NewEventStoreWithClient creates a new EventStore with a client. The client
// is not disconnected by Close.
func NewEventStoreWithClient(client *mongo.Client, dbName string, options ...Option) (*EventStore, error) {
	return newEventStoreWithClient(client, externalClient, dbName, options...)
}

func newEventStoreWithClient(client *mongo.Client, clientOwnership clientOwnership, dbName string, options ...Option) (*EventStore, error) {
	if client == nil {
		return nil, fmt.Errorf("missing DB client")
	}

	if err := mongoutils.CheckDatabaseName(dbName); err != nil {
		return nil, fmt.Errorf("invalid database name %q: %w", dbName, err)
	}

	db := client.Database(dbName)
	s := &EventStore{
		client:          client,
		clientOwnership: clientOwnership,
		db:              db,
		events:          db.Collection("events"),
		streams:         db.Collection("streams"),
		listeners:       eventstore.NewListeners(nil),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	ctx := context.Background()

	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not connect to MongoDB: %w", err)
	}

	if _, err := s.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "aggregate_id", Value: 1}, {Key: "version", Value: 1}},
			Options: mongoOptions.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: mongoOptions.Index().SetUnique(true),
		},
	}); err != nil {
		return nil, fmt.Errorf("could not ensure events index: %w", err)
	}

	// Make sure the $all stream exists.
	if _, err := s.streams.UpdateOne(ctx,
		bson.M{"_id": allStream},
		bson.M{"$setOnInsert": bson.M{"position": int64(0)}},
		mongoOptions.UpdateOne().SetUpsert(true),
	); err != nil {
		return nil, fmt.Errorf("could not ensure the $all stream: %w", err)
	}

	return s, nil
}

// Option is an option setter used to configure creation.
type Option func(*EventStore) error

// WithCollectionNames uses different collections from the default "events" and "streams" collections.
func WithCollectionNames(eventsColl, streamsColl string) Option {
	return func(s *EventStore) error {
		if err := mongoutils.CheckCollectionName(eventsColl); err != nil {
			return fmt.Errorf("events collection: %w", err)
		} else if err := mongoutils.CheckCollectionName(streamsColl); err != nil {
			return fmt.Errorf("streams collection: %w", err)
		}

		s.events = s.db.Collection(eventsColl)
		s.streams = s.db.Collection(streamsColl)

		return nil
	}
}

// WithCommitListener adds a commit listener with a policy. InTransaction
// listeners are called with the session context, so their own writes with
// the same client are part of the transaction. A transaction that is
// retried by the driver calls them again.
func WithCommitListener(l em.CommitListener, policy em.ListenerPolicy) Option {
	return func(s *EventStore) error {
		return s.listeners.AddCommitListener(l, policy)
	}
}

// WithLogger sets the logger used for failing AfterCommit listeners.
func WithLogger(logger *slog.Logger) Option {
	return func(s *EventStore) error {
		s.listeners.SetLogger(logger)
		return nil
	}
}

// Client returns the MongoDB client of the store.
func (s *EventStore) Client() *mongo.Client {
	return s.client
}

// AddCommitListener implements the AddCommitListener method of the
// eventmachine.CommitNotifier interface.
func (s *EventStore) AddCommitListener(l em.CommitListener, policy em.ListenerPolicy) error {
	return s.listeners.AddCommitListener(l, policy)
}

// Save implements the Save method of the eventmachine.EventStore interface.
func (s *EventStore) Save(ctx context.Context, events []em.Event, originalVersion int) error {
	if err := eventstore.CheckEvents(events, originalVersion); err != nil {
		return err
	}

	id := events[0].AggregateID()
	at := events[0].AggregateType()

	newErr := func(err error) error {
		return &em.EventStoreError{
			Err:              err,
			Op:               em.EventStoreOpSave,
			AggregateType:    at,
			AggregateID:      id,
			AggregateVersion: originalVersion,
			Events:           events,
		}
	}

	dbEvents := make([]*evt, len(events))
	for i, event := range events {
		dbEvents[i] = newEvt(event)
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return newErr(storageErr("could not start transaction", err))
	}

	defer sess.EndSession(ctx)

	var stored []em.Event

	if _, err := sess.WithTransaction(ctx, func(txCtx context.Context) (interface{}, error) {
		var strm stream
		if err := s.streams.FindOne(txCtx, bson.M{"_id": id}).Decode(&strm); err != nil &&
			!errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("could not read stream version: %w", err)
		}

		if strm.Version != originalVersion {
			return nil, errConflict
		}

		// Fetch and increment global position in the all-stream.
		var all stream
		if err := s.streams.FindOneAndUpdate(txCtx,
			bson.M{"_id": allStream},
			bson.M{"$inc": bson.M{"position": int64(len(dbEvents))}},
		).Decode(&all); err != nil {
			return nil, fmt.Errorf("could not increment global position: %w", err)
		}

		docs := make([]interface{}, len(dbEvents))
		stored = make([]em.Event, len(dbEvents))

		// Use the global position as ID for the stored events.
		for i, e := range dbEvents {
			e.Position = all.Position + int64(i) + 1
			docs[i] = e
			stored[i] = e.event(events[i].Data(), events[i].Metadata())
		}

		if _, err := s.events.InsertMany(txCtx, docs); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, errConflict
			}

			return nil, fmt.Errorf("could not insert events: %w", err)
		}

		last := dbEvents[len(dbEvents)-1]

		// Update the stream.
		if originalVersion == 0 {
			if _, err := s.streams.InsertOne(txCtx, &stream{
				ID:            id,
				AggregateType: at,
				Position:      last.Position,
				Version:       last.Version,
				UpdatedAt:     last.Timestamp,
			}); err != nil {
				if mongo.IsDuplicateKeyError(err) {
					return nil, errConflict
				}

				return nil, fmt.Errorf("could not insert stream: %w", err)
			}
		} else {
			if r, err := s.streams.UpdateOne(txCtx,
				bson.M{
					"_id":     id,
					"version": originalVersion,
				},
				bson.M{
					"$set": bson.M{
						"position":   last.Position,
						"updated_at": last.Timestamp,
					},
					"$inc": bson.M{"version": len(dbEvents)},
				},
			); err != nil {
				return nil, fmt.Errorf("could not update stream: %w", err)
			} else if r.MatchedCount == 0 {
				return nil, errConflict
			}
		}

		if err := s.listeners.InvokeInTX(txCtx, stored); err != nil {
			return nil, err
		}

		return nil, nil
	}); err != nil {
		var listenerErr *em.CommitListenerError

		switch {
		case errors.Is(err, errConflict):
			return eventstore.ConflictError(events, originalVersion, nil)
		case errors.As(err, &listenerErr):
			return newErr(err)
		default:
			return newErr(storageErr("could not save events", err))
		}
	}

	s.listeners.InvokeAfterCommit(ctx, stored)

	return nil
}

// Load implements the Load method of the eventmachine.EventStore interface.
func (s *EventStore) Load(ctx context.Context, id string) ([]em.Event, error) {
	return s.LoadFrom(ctx, id, 1)
}

// LoadFrom implements the LoadFrom method of the eventmachine.EventStore interface.
func (s *EventStore) LoadFrom(ctx context.Context, id string, version int) ([]em.Event, error) {
	opts := mongoOptions.Find().SetSort(bson.D{{Key: "version", Value: 1}})

	cursor, err := s.events.Find(ctx, bson.M{
		"aggregate_id": id,
		"version":      bson.M{"$gte": version},
	}, opts)
	if err != nil {
		return nil, &em.EventStoreError{
			Err:         storageErr("could not find events", err),
			Op:          em.EventStoreOpLoad,
			AggregateID: id,
		}
	}

	return s.loadFromCursor(ctx, cursor, em.EventStoreOpLoad, id)
}

// LoadAll implements the LoadAll method of the eventmachine.EventStore interface.
func (s *EventStore) LoadAll(ctx context.Context, afterPosition int64, limit int) ([]em.Event, error) {
	opts := mongoOptions.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.events.Find(ctx, bson.M{
		"_id": bson.M{"$gt": afterPosition},
	}, opts)
	if err != nil {
		return nil, &em.EventStoreError{
			Err: storageErr("could not find events", err),
			Op:  em.EventStoreOpLoadAll,
		}
	}

	return s.loadFromCursor(ctx, cursor, em.EventStoreOpLoadAll, "")
}

func (s *EventStore) loadFromCursor(ctx context.Context, cursor *mongo.Cursor, op em.EventStoreOperation, id string) ([]em.Event, error) {
	defer cursor.Close(ctx)

	events := []em.Event{}

	for cursor.Next(ctx) {
		var e evt
		if err := cursor.Decode(&e); err != nil {
			return nil, &em.EventStoreError{
				Err:         fmt.Errorf("could not decode event: %w", err),
				Op:          op,
				AggregateID: id,
				Events:      events,
			}
		}

		event, err := e.decode()
		if err != nil {
			return nil, &em.EventStoreError{
				Err:              fmt.Errorf("could not decode event: %w", err),
				Op:               op,
				AggregateType:    e.AggregateType,
				AggregateID:      e.AggregateID,
				AggregateVersion: e.Version,
				Events:           events,
			}
		}

		events = append(events, event)
	}

	if err := cursor.Err(); err != nil {
		return nil, &em.EventStoreError{
			Err:         storageErr("could not iterate events", err),
			Op:          op,
			AggregateID: id,
			Events:      events,
		}
	}

	return events, nil
}

// Close implements the Close method of the eventmachine.EventStore interface.
func (s *EventStore) Close() error {
	if s.clientOwnership == externalClient {
		// Don't close a client we don't own.
		return nil
	}

	return s.client.Disconnect(context.Background())
}

// stream is a stream of events, often containing the events for an aggregate.
type stream struct {
	ID            string           `bson:"_id"`
	AggregateType em.AggregateType `bson:"aggregate_type,omitempty"`
	Position      int64            `bson:"position"`
	Version       int              `bson:"version"`
	UpdatedAt     time.Time        `bson:"updated_at,omitempty"`
}

// evt is the internal event record for the MongoDB event store used
// to save and load events from the DB.
type evt struct {
	Position      int64                  `bson:"_id"`
	EventID       string                 `bson:"event_id"`
	EventType     em.EventType           `bson:"event_type"`
	Timestamp     time.Time              `bson:"timestamp"`
	AggregateType em.AggregateType       `bson:"aggregate_type"`
	AggregateID   string                 `bson:"aggregate_id"`
	Version       int                    `bson:"version"`
	Data          map[string]interface{} `bson:"data,omitempty"`
	Metadata      map[string]interface{} `bson:"metadata,omitempty"`
}

// newEvt returns a new evt for an event, the position is set in the transaction.
func newEvt(event em.Event) *evt {
	return &evt{
		EventID:       event.ID().String(),
		EventType:     event.EventType(),
		Timestamp:     event.Timestamp().UTC(),
		AggregateType: event.AggregateType(),
		AggregateID:   event.AggregateID(),
		Version:       event.Version(),
		Data:          event.Data(),
		Metadata:      event.Metadata(),
	}
}

// event creates the stored event, with its position, from already known data.
func (e *evt) event(data em.Payload, metadata map[string]interface{}) em.Event {
	id, _ := uuid.Parse(e.EventID)

	return em.NewEvent(
		e.EventType,
		data,
		e.Timestamp,
		em.ForAggregate(
			e.AggregateType,
			e.AggregateID,
			e.Version,
		),
		em.WithEventID(id),
		em.WithPosition(e.Position),
		em.WithMetadata(metadata),
	)
}

func (e *evt) decode() (em.Event, error) {
	if _, err := uuid.Parse(e.EventID); err != nil {
		return nil, fmt.Errorf("invalid event ID: %w", err)
	}

	// Nested documents and arrays are decoded as BSON types.
	return e.event(
		mongoutils.NormalizeMap(e.Data),
		mongoutils.NormalizeMap(e.Metadata),
	), nil
}
