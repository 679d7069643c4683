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

// Package memory is an in memory event store, mostly used for tests and
// single process deployments without durability needs.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jinzhu/copier"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/eventstore"
)

// EventStore implements EventStore as an in memory structure. Events are
// copied when saved and loaded so callers can not change stored events.
//
// InTransaction listeners are called while the store is locked for writing
// and must not use the store themselves.
type EventStore struct {
	streams   map[string][]em.Event
	all       []em.Event
	listeners *eventstore.Listeners
	mu        sync.RWMutex
}

// NewEventStore creates a new EventStore using memory as storage.
func NewEventStore(options ...Option) (*EventStore, error) {
	s := &EventStore{
		streams:   map[string][]em.Event{},
		listeners: eventstore.NewListeners(nil),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	return s, nil
}

// Option is an option setter used to configure creation.
type Option func(*EventStore) error

// WithCommitListener adds a commit listener with a policy.
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

	if err := ctx.Err(); err != nil {
		return &em.EventStoreError{
			Err:              err,
			Op:               em.EventStoreOpSave,
			AggregateType:    events[0].AggregateType(),
			AggregateID:      id,
			AggregateVersion: originalVersion,
			Events:           events,
		}
	}

	s.mu.Lock()

	if len(s.streams[id]) != originalVersion {
		s.mu.Unlock()

		return eventstore.ConflictError(events, originalVersion, nil)
	}

	position := int64(len(s.all))
	stored := make([]em.Event, len(events))

	for i, event := range events {
		e, err := copyEvent(event, position+int64(i)+1)
		if err != nil {
			s.mu.Unlock()

			return &em.EventStoreError{
				Err:              fmt.Errorf("could not copy event: %w", err),
				Op:               em.EventStoreOpSave,
				AggregateType:    event.AggregateType(),
				AggregateID:      id,
				AggregateVersion: originalVersion,
				Events:           events,
			}
		}

		stored[i] = e
	}

	// Listeners get their own copies, the stored events are never shared.
	inTX, err := copyEvents(stored, em.EventStoreOpSave, id)
	if err != nil {
		s.mu.Unlock()

		return err
	}

	afterCommit, err := copyEvents(stored, em.EventStoreOpSave, id)
	if err != nil {
		s.mu.Unlock()

		return err
	}

	// Nothing is visible until the listeners have accepted the events.
	if err := s.listeners.InvokeInTX(ctx, inTX); err != nil {
		s.mu.Unlock()

		return &em.EventStoreError{
			Err:              err,
			Op:               em.EventStoreOpSave,
			AggregateType:    events[0].AggregateType(),
			AggregateID:      id,
			AggregateVersion: originalVersion,
			Events:           events,
		}
	}

	s.streams[id] = append(s.streams[id], stored...)
	s.all = append(s.all, stored...)

	s.mu.Unlock()

	s.listeners.InvokeAfterCommit(ctx, afterCommit)

	return nil
}

// Load implements the Load method of the eventmachine.EventStore interface.
func (s *EventStore) Load(ctx context.Context, id string) ([]em.Event, error) {
	return s.LoadFrom(ctx, id, 1)
}

// LoadFrom implements the LoadFrom method of the eventmachine.EventStore interface.
func (s *EventStore) LoadFrom(ctx context.Context, id string, version int) ([]em.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[id]
	if version < 1 {
		version = 1
	}

	if version > len(stream) {
		return []em.Event{}, nil
	}

	return copyEvents(stream[version-1:], em.EventStoreOpLoad, id)
}

// LoadAll implements the LoadAll method of the eventmachine.EventStore interface.
func (s *EventStore) LoadAll(ctx context.Context, afterPosition int64, limit int) ([]em.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if afterPosition < 0 {
		afterPosition = 0
	}

	if afterPosition >= int64(len(s.all)) {
		return []em.Event{}, nil
	}

	// Positions start at 1 and have no gaps.
	events := s.all[afterPosition:]
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}

	return copyEvents(events, em.EventStoreOpLoadAll, "")
}

// Close implements the Close method of the eventmachine.EventStore interface.
func (s *EventStore) Close() error {
	return nil
}

func copyEvents(events []em.Event, op em.EventStoreOperation, id string) ([]em.Event, error) {
	res := make([]em.Event, len(events))

	for i, event := range events {
		e, err := copyEvent(event, event.Position())
		if err != nil {
			return nil, &em.EventStoreError{
				Err:         fmt.Errorf("could not copy event: %w", err),
				Op:          op,
				AggregateID: id,
			}
		}

		res[i] = e
	}

	return res, nil
}

// copyEvent duplicates an event with a position, without any shared data.
func copyEvent(event em.Event, position int64) (em.Event, error) {
	var data em.Payload

	if event.Data() != nil {
		if err := copier.CopyWithOption(&data, event.Data(), copier.Option{DeepCopy: true}); err != nil {
			return nil, err
		}
	}

	var metadata map[string]interface{}

	if event.Metadata() != nil {
		if err := copier.CopyWithOption(&metadata, event.Metadata(), copier.Option{DeepCopy: true}); err != nil {
			return nil, err
		}
	}

	return em.NewEvent(
		event.EventType(),
		data,
		event.Timestamp(),
		em.ForAggregate(
			event.AggregateType(),
			event.AggregateID(),
			event.Version(),
		),
		em.WithEventID(event.ID()),
		em.WithPosition(position),
		em.WithMetadata(metadata),
	), nil
}
