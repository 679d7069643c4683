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

package eventstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/mocks"
	"github.com/looplab/eventmachine/uuid"
)

// AcceptanceTest is the acceptance test that all implementations of EventStore
// should pass. It should manually be called from a test case in each
// implementation:
//
//	func TestEventStore(t *testing.T) {
//	    store := NewEventStore()
//	    eventstore.AcceptanceTest(t, store, context.Background())
//	}
func AcceptanceTest(t *testing.T, store em.EventStore, ctx context.Context) []em.Event {
	savedEvents := []em.Event{}

	type contextKey string

	ctx = context.WithValue(ctx, contextKey("testkey"), "testval")

	// Save no events.
	eventStoreErr := &em.EventStoreError{}

	err := store.Save(ctx, []em.Event{}, 0)
	if !errors.As(err, &eventStoreErr) || !errors.Is(err, em.ErrMissingEvents) {
		t.Error("there should be a event store error:", err)
	}

	// Save event, version 1.
	id := uuid.NewString()
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	event1 := em.NewEvent(mocks.EventType, mocks.Content("event1"), timestamp,
		em.ForAggregate(mocks.AggregateType, id, 1))

	err = store.Save(ctx, []em.Event{event1}, 0)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event1)

	// Try to save same event twice.
	err = store.Save(ctx, []em.Event{event1}, 1)
	if !errors.As(err, &eventStoreErr) || !errors.Is(err, em.ErrIncorrectEventVersion) {
		t.Error("there should be a event store error:", err)
	}

	// Try to save an event for version 1 again, the stream has moved on.
	eventStale := em.NewEvent(mocks.EventType, mocks.Content("stale"), timestamp,
		em.ForAggregate(mocks.AggregateType, id, 1))

	err = store.Save(ctx, []em.Event{eventStale}, 0)
	if !errors.As(err, &eventStoreErr) || !errors.Is(err, em.ErrConcurrencyConflict) {
		t.Error("there should be a concurrency conflict:", err)
	}

	// Save event, version 2, with metadata.
	event2 := em.NewEvent(mocks.EventType, mocks.Content("event2"), timestamp,
		em.ForAggregate(mocks.AggregateType, id, 2),
		em.WithMetadata(map[string]interface{}{"meta": "data", "num": 42.0}),
	)

	err = store.Save(ctx, []em.Event{event2}, 1)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event2)

	// Save event without data, version 3.
	event3 := em.NewEvent(mocks.EventOtherType, nil, timestamp,
		em.ForAggregate(mocks.AggregateType, id, 3))

	err = store.Save(ctx, []em.Event{event3}, 2)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event3)

	// Save multiple events, version 4,5 and 6.
	event4 := em.NewEvent(mocks.EventOtherType, nil, timestamp,
		em.ForAggregate(mocks.AggregateType, id, 4))
	event5 := em.NewEvent(mocks.EventOtherType, nil, timestamp,
		em.ForAggregate(mocks.AggregateType, id, 5))
	event6 := em.NewEvent(mocks.EventOtherType, nil, timestamp,
		em.ForAggregate(mocks.AggregateType, id, 6))

	err = store.Save(ctx, []em.Event{event4, event5, event6}, 3)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event4, event5, event6)

	// Save event for different aggregate IDs.
	eventSameAggID := em.NewEvent(mocks.EventOtherType, nil, timestamp,
		em.ForAggregate(mocks.AggregateType, id, 7))
	eventOtherAggID := em.NewEvent(mocks.EventOtherType, nil, timestamp,
		em.ForAggregate(mocks.AggregateType, uuid.NewString(), 8))

	err = store.Save(ctx, []em.Event{eventSameAggID, eventOtherAggID}, 6)
	if !errors.As(err, &eventStoreErr) || !errors.Is(err, em.ErrMismatchedEventAggregateIDs) {
		t.Error("there should be a event store error:", err)
	}

	// Save event of different aggregate types.
	eventSameAggType := em.NewEvent(mocks.EventOtherType, nil, timestamp,
		em.ForAggregate(mocks.AggregateType, id, 7))
	eventOtherAggType := em.NewEvent(mocks.EventOtherType, nil, timestamp,
		em.ForAggregate(em.AggregateType("OtherAggregate"), id, 8))

	err = store.Save(ctx, []em.Event{eventSameAggType, eventOtherAggType}, 6)
	if !errors.As(err, &eventStoreErr) || !errors.Is(err, em.ErrMismatchedEventAggregateTypes) {
		t.Error("there should be a event store error:", err)
	}

	// Save events with a gap in the versions.
	eventGap := em.NewEvent(mocks.EventOtherType, nil, timestamp,
		em.ForAggregate(mocks.AggregateType, id, 9))

	err = store.Save(ctx, []em.Event{eventSameAggID, eventGap}, 6)
	if !errors.As(err, &eventStoreErr) || !errors.Is(err, em.ErrIncorrectEventVersion) {
		t.Error("there should be a event store error:", err)
	}

	// Save event for another aggregate.
	id2 := uuid.NewString()
	event7 := em.NewEvent(mocks.EventType, mocks.Content("event7"), timestamp,
		em.ForAggregate(mocks.AggregateType, id2, 1))

	err = store.Save(ctx, []em.Event{event7}, 0)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	savedEvents = append(savedEvents, event7)

	// Load events for non-existing aggregate.
	events, err := store.Load(ctx, uuid.NewString())
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if len(events) != 0 {
		t.Error("there should be no loaded events:", eventsToString(events))
	}

	// Load events.
	events, err = store.Load(ctx, id)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	expectedEvents := []em.Event{
		event1,                 // Version 1
		event2,                 // Version 2
		event3,                 // Version 3
		event4, event5, event6, // Version 4, 5 and 6
	}

	compareLoaded(t, events, expectedEvents)

	// Load events from a version.
	events, err = store.LoadFrom(ctx, id, 4)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	compareLoaded(t, events, expectedEvents[3:])

	// Load events from a version after the last one.
	events, err = store.LoadFrom(ctx, id, 7)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if len(events) != 0 {
		t.Error("there should be no loaded events:", eventsToString(events))
	}

	// Load events for another aggregate.
	events, err = store.Load(ctx, id2)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	compareLoaded(t, events, []em.Event{event7})

	// Load all events in commit order.
	all, err := store.LoadAll(ctx, 0, 0)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	all = onlyAggregates(all, id, id2)
	if len(all) != len(savedEvents) {
		t.Fatalf("incorrect number of events in the global stream: %d", len(all))
	}

	for i, event := range all {
		if err := em.CompareEvents(event, savedEvents[i], em.IgnorePosition()); err != nil {
			t.Error("the event in the global stream was incorrect:", err)
		}

		if i > 0 && event.Position() <= all[i-1].Position() {
			t.Error("the positions should be increasing:", all[i-1].Position(), event.Position())
		}
	}

	// Load part of the global stream.
	after := all[1].Position()

	page, err := store.LoadAll(ctx, after, 2)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if len(page) != 2 {
		t.Fatalf("incorrect number of events in the page: %d", len(page))
	}

	if page[0].Position() <= after {
		t.Error("the page should start after the position:", after, page[0].Position())
	}

	return savedEvents
}

// ConcurrencyAcceptanceTest checks that concurrent saves for the same
// aggregate and original version have exactly one winner, and that no two
// saves reuse a version.
func ConcurrencyAcceptanceTest(t *testing.T, store em.EventStore, ctx context.Context) {
	id := uuid.NewString()
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)

	const writers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
		others    []error
	)

	for i := 0; i < writers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			event := em.NewEvent(mocks.EventType, mocks.Content(fmt.Sprintf("writer%d", i)), timestamp,
				em.ForAggregate(mocks.AggregateType, id, 1))

			err := store.Save(ctx, []em.Event{event}, 0)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, em.ErrConcurrencyConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}

	wg.Wait()

	if succeeded != 1 {
		t.Error("exactly one save should succeed:", succeeded)
	}

	if conflicts != writers-1 {
		t.Error("the other saves should conflict:", conflicts, others)
	}

	events, err := store.Load(ctx, id)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if len(events) != 1 || events[0].Version() != 1 {
		t.Error("there should be one event at version 1:", eventsToString(events))
	}
}

// ListenerAcceptanceTest checks the commit listener policies of a store. The
// store must implement eventmachine.CommitNotifier and have no listeners.
func ListenerAcceptanceTest(t *testing.T, store em.EventStore, ctx context.Context) {
	notifier, ok := store.(em.CommitNotifier)
	if !ok {
		t.Fatal("the store should accept commit listeners")
	}

	inTX := mocks.NewCommitListener("in_tx")
	afterCommit := mocks.NewCommitListener("after_commit")

	if err := notifier.AddCommitListener(inTX, em.InTransaction); err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := notifier.AddCommitListener(afterCommit, em.AfterCommit); err != nil {
		t.Fatal("there should be no error:", err)
	}

	id := uuid.NewString()
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	event1 := em.NewEvent(mocks.EventType, mocks.Content("event1"), timestamp,
		em.ForAggregate(mocks.AggregateType, id, 1))
	event2 := em.NewEvent(mocks.EventType, mocks.Content("event2"), timestamp,
		em.ForAggregate(mocks.AggregateType, id, 2))

	// Both listeners see a successful save, in order.
	if err := store.Save(ctx, []em.Event{event1, event2}, 0); err != nil {
		t.Error("there should be no error:", err)
	}

	if received := inTX.Received(); !em.CompareEventSlices(received, []em.Event{event1, event2}, em.IgnorePosition()) {
		t.Error("the in transaction listener should get the events:", eventsToString(received))
	}

	if received := afterCommit.Received(); !em.CompareEventSlices(received, []em.Event{event1, event2}, em.IgnorePosition()) {
		t.Error("the after commit listener should get the events:", eventsToString(received))
	}

	// A failing in transaction listener aborts the save.
	listenerErr := errors.New("listener error")
	inTX.SetErr(listenerErr)

	event3 := em.NewEvent(mocks.EventType, mocks.Content("event3"), timestamp,
		em.ForAggregate(mocks.AggregateType, id, 3))

	err := store.Save(ctx, []em.Event{event3}, 2)

	listenerError := &em.CommitListenerError{}
	if !errors.Is(err, listenerErr) || !errors.As(err, &listenerError) || listenerError.Listener != "in_tx" {
		t.Error("there should be a listener error:", err)
	}

	if events, err := store.Load(ctx, id); err != nil || len(events) != 2 {
		t.Error("the aborted save should not be stored:", err, eventsToString(events))
	}

	if received := afterCommit.Received(); len(received) != 2 {
		t.Error("the after commit listener should not see aborted saves:", eventsToString(received))
	}

	// A failing after commit listener does not undo the save.
	inTX.SetErr(nil)
	afterCommit.SetErr(listenerErr)

	if err := store.Save(ctx, []em.Event{event3}, 2); err != nil {
		t.Error("there should be no error:", err)
	}

	if events, err := store.Load(ctx, id); err != nil || len(events) != 3 {
		t.Error("the save should be stored:", err, eventsToString(events))
	}
}

func compareLoaded(t *testing.T, events, expectedEvents []em.Event) {
	t.Helper()

	if len(events) != len(expectedEvents) {
		t.Errorf("incorrect number of loaded events: %d", len(events))
		return
	}

	for i, event := range events {
		if err := em.CompareEvents(event, expectedEvents[i],
			em.IgnorePosition(),
		); err != nil {
			t.Error("the event was incorrect:", err)
		}

		if event.Position() == 0 {
			t.Error("the loaded event should have a position:", event)
		}
	}
}

// onlyAggregates filters a global stream, the store may be shared with
// other tests.
func onlyAggregates(events []em.Event, ids ...string) []em.Event {
	res := []em.Event{}

	for _, e := range events {
		for _, id := range ids {
			if e.AggregateID() == id {
				res = append(res, e)
				break
			}
		}
	}

	return res
}

func eventsToString(events []em.Event) string {
	parts := make([]string, len(events))
	for i, e := range events {
		parts[i] = fmt.Sprintf("%s:%s (%s@%d)",
			e.AggregateType(), e.EventType(),
			e.AggregateID(), e.Version())
	}

	return strings.Join(parts, ", ")
}
