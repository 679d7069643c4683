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

// Package sqlite is a durable event store on SQLite, with a single stream
// or an aggregate stream persistence strategy.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/eventstore"
	"github.com/looplab/eventmachine/uuid"
)

// EventStore is an eventmachine.EventStore for SQLite. Writes use immediate
// transactions so that saves are serialized by the database, the version
// check inside the transaction then detects concurrent saves.
type EventStore struct {
	db        *sql.DB
	ownsDB    bool
	strategy  Strategy
	layout    layout
	listeners *eventstore.Listeners
}

// NewEventStore creates a new EventStore for a database file, which is
// created if it does not exist. Use ":memory:" for a transient database.
func NewEventStore(path string, options ...Option) (*EventStore, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("could not open DB: %w", err)
	}

	// Every connection to an in memory database is a new database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s, err := newEventStoreWithDB(db, true, options...)
	if err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// NewEventStoreWithDB creates a new EventStore with a DB opened with the
// "sqlite" driver. The DB is not closed by Close.
func NewEventStoreWithDB(db *sql.DB, options ...Option) (*EventStore, error) {
	return newEventStoreWithDB(db, false, options...)
}

func newEventStoreWithDB(db *sql.DB, ownsDB bool, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("missing DB")
	}

	s := &EventStore{
		db:        db,
		ownsDB:    ownsDB,
		listeners: eventstore.NewListeners(nil),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	switch s.strategy {
	case SingleStream:
		s.layout = singleStream{}
	case AggregateStream:
		s.layout = aggregateStream{}
	default:
		return nil, fmt.Errorf("unknown strategy: %d", s.strategy)
	}

	ctx := context.Background()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("could not connect to DB: %w", err)
	}

	if err := s.layout.migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("could not create tables: %w", err)
	}

	return s, nil
}

func dsn(path string) string {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		path = filepath.Clean(path)
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	return path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
}

// Option is an option setter used to configure creation.
type Option func(*EventStore) error

// WithStrategy sets the persistence strategy, the default is SingleStream.
// A database must always be used with the same strategy.
func WithStrategy(strategy Strategy) Option {
	return func(s *EventStore) error {
		s.strategy = strategy
		return nil
	}
}

// WithCommitListener adds a commit listener with a policy. InTransaction
// listeners can use the transaction with TxFromContext.
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

// Strategy returns the persistence strategy of the store.
func (s *EventStore) Strategy() Strategy {
	return s.strategy
}

// DB returns the underlying database, for example for projections that
// store their read models in the same database.
func (s *EventStore) DB() *sql.DB {
	return s.db
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

	// Build all event records before starting the transaction.
	dbEvents := make([]*evt, len(events))

	for i, event := range events {
		e, err := newEvt(event)
		if err != nil {
			return newErr(fmt.Errorf("could not encode event: %w", err))
		}

		dbEvents[i] = e
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newErr(storageErr("could not begin transaction", err))
	}
	defer tx.Rollback()

	version, err := s.layout.version(ctx, tx, id)
	if err != nil {
		return newErr(storageErr("could not read stream version", err))
	}

	if version != originalVersion {
		return eventstore.ConflictError(events, originalVersion, nil)
	}

	if err := s.layout.append(ctx, tx, at, id, originalVersion, dbEvents); err != nil {
		if isConstraintError(err) || errors.Is(err, errStreamMoved) {
			return eventstore.ConflictError(events, originalVersion, err)
		}

		return newErr(storageErr("could not append events", err))
	}

	stored := make([]em.Event, len(dbEvents))
	for i, e := range dbEvents {
		stored[i] = e.event(events[i].Data(), events[i].Metadata())
	}

	if err := s.listeners.InvokeInTX(newContextWithTx(ctx, tx), stored); err != nil {
		return newErr(err)
	}

	if err := tx.Commit(); err != nil {
		return newErr(storageErr("could not commit", err))
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
	dbEvents, err := s.layout.load(ctx, s.db, id, version)
	if err != nil {
		return nil, &em.EventStoreError{
			Err:         storageErr("could not load events", err),
			Op:          em.EventStoreOpLoad,
			AggregateID: id,
		}
	}

	return decodeAll(dbEvents, em.EventStoreOpLoad, id)
}

// LoadAll implements the LoadAll method of the eventmachine.EventStore interface.
func (s *EventStore) LoadAll(ctx context.Context, afterPosition int64, limit int) ([]em.Event, error) {
	dbEvents, err := s.layout.loadAll(ctx, s.db, afterPosition, limit)
	if err != nil {
		return nil, &em.EventStoreError{
			Err: storageErr("could not load events", err),
			Op:  em.EventStoreOpLoadAll,
		}
	}

	return decodeAll(dbEvents, em.EventStoreOpLoadAll, "")
}

// Close closes the database, if it was opened by the store.
func (s *EventStore) Close() error {
	if !s.ownsDB {
		return nil
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("could not close DB: %w", err)
	}

	return nil
}

func decodeAll(dbEvents []*evt, op em.EventStoreOperation, id string) ([]em.Event, error) {
	events := make([]em.Event, 0, len(dbEvents))

	for _, e := range dbEvents {
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

	return events, nil
}

// evt is the internal event record for the event store used
// to save and load events from the DB.
type evt struct {
	Position      int64
	EventID       string
	EventType     em.EventType
	Timestamp     string
	AggregateType em.AggregateType
	AggregateID   string
	Version       int
	RawData       sql.NullString
	RawMetadata   sql.NullString
}

const timeLayout = time.RFC3339Nano

// newEvt returns a new evt for an event.
func newEvt(event em.Event) (*evt, error) {
	e := &evt{
		EventID:       event.ID().String(),
		EventType:     event.EventType(),
		Timestamp:     event.Timestamp().UTC().Format(timeLayout),
		AggregateType: event.AggregateType(),
		AggregateID:   event.AggregateID(),
		Version:       event.Version(),
	}

	// Marshal event data if there is any.
	if event.Data() != nil {
		b, err := json.Marshal(event.Data())
		if err != nil {
			return nil, fmt.Errorf("could not marshal event data: %w", err)
		}

		e.RawData = sql.NullString{String: string(b), Valid: true}
	}

	if len(event.Metadata()) > 0 {
		b, err := json.Marshal(event.Metadata())
		if err != nil {
			return nil, fmt.Errorf("could not marshal event metadata: %w", err)
		}

		e.RawMetadata = sql.NullString{String: string(b), Valid: true}
	}

	return e, nil
}

// event creates the stored event, with its position, from already decoded data.
func (e *evt) event(data em.Payload, metadata map[string]interface{}) em.Event {
	id, _ := uuid.Parse(e.EventID)
	ts, _ := time.Parse(timeLayout, e.Timestamp)

	return em.NewEvent(
		e.EventType,
		data,
		ts,
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

	if _, err := time.Parse(timeLayout, e.Timestamp); err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}

	var data em.Payload
	if e.RawData.Valid {
		if err := json.Unmarshal([]byte(e.RawData.String), &data); err != nil {
			return nil, fmt.Errorf("could not unmarshal event data: %w", err)
		}
	}

	var metadata map[string]interface{}
	if e.RawMetadata.Valid {
		if err := json.Unmarshal([]byte(e.RawMetadata.String), &metadata); err != nil {
			return nil, fmt.Errorf("could not unmarshal event metadata: %w", err)
		}
	}

	return e.event(data, metadata), nil
}
