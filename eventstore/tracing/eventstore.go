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

// Package tracing wraps an event store with Open Tracing spans.
package tracing

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	em "github.com/looplab/eventmachine"
)

// EventStore is an eventmachine.EventStore that adds tracing with Open Tracing.
type EventStore struct {
	em.EventStore
}

// NewEventStore creates a new EventStore.
func NewEventStore(eventStore em.EventStore) *EventStore {
	if eventStore == nil {
		return nil
	}

	return &EventStore{
		EventStore: eventStore,
	}
}

// AddCommitListener implements the AddCommitListener method of the
// eventmachine.CommitNotifier interface, if the inner store is one.
func (s *EventStore) AddCommitListener(l em.CommitListener, policy em.ListenerPolicy) error {
	n, ok := s.EventStore.(em.CommitNotifier)
	if !ok {
		return fmt.Errorf("event store %T has no commit listeners", s.EventStore)
	}

	return n.AddCommitListener(l, policy)
}

// Save implements the Save method of the eventmachine.EventStore interface.
func (s *EventStore) Save(ctx context.Context, events []em.Event, originalVersion int) error {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "EventStore.Save")

	err := s.EventStore.Save(ctx, events, originalVersion)

	// Use the first event for tracing metadata.
	if len(events) > 0 {
		sp.SetTag("em.event_type", events[0].EventType().String())
		sp.SetTag("em.aggregate_type", events[0].AggregateType().String())
		sp.SetTag("em.aggregate_id", events[0].AggregateID())
	}

	sp.SetTag("em.original_version", originalVersion)
	sp.SetTag("em.events", len(events))

	if err != nil {
		ext.LogError(sp, err)
	}

	sp.Finish()

	return err
}

// Load implements the Load method of the eventmachine.EventStore interface.
func (s *EventStore) Load(ctx context.Context, id string) ([]em.Event, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "EventStore.Load")

	events, err := s.EventStore.Load(ctx, id)

	finishLoad(sp, id, events, err)

	return events, err
}

// LoadFrom implements the LoadFrom method of the eventmachine.EventStore interface.
func (s *EventStore) LoadFrom(ctx context.Context, id string, version int) ([]em.Event, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "EventStore.LoadFrom")
	sp.SetTag("em.from_version", version)

	events, err := s.EventStore.LoadFrom(ctx, id, version)

	finishLoad(sp, id, events, err)

	return events, err
}

// LoadAll implements the LoadAll method of the eventmachine.EventStore interface.
func (s *EventStore) LoadAll(ctx context.Context, afterPosition int64, limit int) ([]em.Event, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "EventStore.LoadAll")
	sp.SetTag("em.after_position", afterPosition)
	sp.SetTag("em.limit", limit)

	events, err := s.EventStore.LoadAll(ctx, afterPosition, limit)

	sp.SetTag("em.events", len(events))

	if err != nil {
		ext.LogError(sp, err)
	}

	sp.Finish()

	return events, err
}

func finishLoad(sp opentracing.Span, id string, events []em.Event, err error) {
	sp.SetTag("em.aggregate_id", id)
	sp.SetTag("em.events", len(events))

	if len(events) > 0 {
		last := events[len(events)-1]
		sp.SetTag("em.aggregate_type", last.AggregateType().String())
		sp.SetTag("em.version", last.Version())
	}

	if err != nil {
		ext.LogError(sp, err)
	}

	sp.Finish()
}
