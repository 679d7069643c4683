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

package aggregate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/eventstore/memory"
	"github.com/looplab/eventmachine/mocks"
	"github.com/looplab/eventmachine/schema"
	"github.com/looplab/eventmachine/uuid"
)

const (
	CounterAggregateType em.AggregateType = "Counter"

	Create    em.CommandType = "Create"
	Increment em.CommandType = "Increment"
	Touch     em.CommandType = "Touch"

	Created     em.EventType = "Created"
	Incremented em.EventType = "Incremented"
)

type counter struct {
	Created bool
	Name    string
	Count   int
}

func counterDescription() *Description {
	d := NewDescription(CounterAggregateType, func() interface{} {
		return counter{}
	})

	HandleTyped(d, Create, func(ctx context.Context, s counter, cmd em.Command) ([]Yield, error) {
		if s.Created {
			return nil, em.NewBusinessRuleViolation("counter %s already exists", cmd.AggregateID())
		}

		return []Yield{NewYield(Created, em.Payload{"name": cmd.Payload()["name"]})}, nil
	})
	HandleTyped(d, Increment, func(ctx context.Context, s counter, cmd em.Command) ([]Yield, error) {
		if !s.Created {
			return nil, em.NewBusinessRuleViolation("counter %s does not exist", cmd.AggregateID())
		}

		return []Yield{
			NewYield(Incremented, em.Payload{"by": 1}),
			NewYield(Incremented, em.Payload{"by": 1}),
		}, nil
	})
	// Decides nothing.
	HandleTyped(d, Touch, func(ctx context.Context, s counter, cmd em.Command) ([]Yield, error) {
		return nil, nil
	})

	ApplyTyped(d, Created, func(s counter, e em.Event) (counter, error) {
		s.Created = true
		s.Name, _ = e.Data()["name"].(string)

		return s, nil
	})
	ApplyTyped(d, Incremented, func(s counter, e em.Event) (counter, error) {
		s.Count++
		return s, nil
	})

	return d
}

func counterRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	r := schema.NewRegistry()
	r.MustRegister(string(Created), schema.Object(schema.Fields{
		"name": schema.String().MinLength(1),
	}))
	r.MustRegister(string(Incremented), schema.Object(schema.Fields{
		"by": schema.Integer().Min(1),
	}))
	require.NoError(t, r.Freeze())

	return r
}

type phaseRecorder struct {
	phases []Phase
	mu     sync.Mutex
}

func (p *phaseRecorder) observe(ctx context.Context, cmd em.Command, phase Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.phases = append(p.phases, phase)
}

func (p *phaseRecorder) get() []Phase {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]Phase(nil), p.phases...)
}

func newTestRuntime(t *testing.T, store em.EventStore, options ...Option) (*Runtime, *phaseRecorder) {
	t.Helper()

	rec := &phaseRecorder{}
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)

	r, err := NewRuntime(store, counterRegistry(t), append([]Option{
		WithPhaseObserver(rec.observe),
		WithClock(func() time.Time { return timestamp }),
	}, options...)...)
	require.NoError(t, err)
	require.NoError(t, r.Register(counterDescription()))

	return r, rec
}

func TestDescription(t *testing.T) {
	d := counterDescription()

	assert.Equal(t, CounterAggregateType, d.AggregateType())
	assert.Equal(t, []em.CommandType{Create, Increment, Touch}, d.CommandTypes())
	assert.Equal(t, []em.EventType{Created, Incremented}, d.EventTypes())
	assert.NoError(t, d.Err())

	d.Handle(Create, nil)
	d.Apply(Created, nil)
	assert.ErrorIs(t, d.Err(), ErrHandlerAlreadySet)

	r, err := NewRuntime(&mocks.EventStore{}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, r.Register(d), ErrHandlerAlreadySet)

	require.NoError(t, r.Register(counterDescription()))
	assert.ErrorIs(t, r.Register(counterDescription()), ErrAggregateAlreadyRegistered)
}

func TestFoldIsDeterministic(t *testing.T) {
	d := counterDescription()
	id := uuid.NewString()
	events := []em.Event{
		em.NewEvent(Created, em.Payload{"name": "c"}, time.Now(), em.ForAggregate(CounterAggregateType, id, 1)),
		em.NewEvent(Incremented, em.Payload{"by": 1}, time.Now(), em.ForAggregate(CounterAggregateType, id, 2)),
		em.NewEvent(Incremented, em.Payload{"by": 1}, time.Now(), em.ForAggregate(CounterAggregateType, id, 3)),
	}

	state1, version1, err := Fold(d, events)
	require.NoError(t, err)

	state2, version2, err := Fold(d, events)
	require.NoError(t, err)

	assert.Equal(t, state1, state2)
	assert.Equal(t, 3, version1)
	assert.Equal(t, version1, version2)
	assert.Equal(t, counter{Created: true, Name: "c", Count: 2}, state1)

	// Continuing from a folded prefix gives the same state.
	prefix, v, err := Fold(d, events[:1])
	require.NoError(t, err)

	state3, version3, err := FoldFrom(d, prefix, v, events[1:])
	require.NoError(t, err)
	assert.Equal(t, state1, state3)
	assert.Equal(t, 3, version3)

	// Gaps are not accepted.
	_, _, err = FoldFrom(d, prefix, v, events[2:])
	assert.ErrorIs(t, err, em.ErrIncorrectEventVersion)

	state, version, err := Fold(d, nil)
	require.NoError(t, err)
	assert.Equal(t, counter{}, state)
	assert.Equal(t, 0, version)
}

func TestFoldDrift(t *testing.T) {
	d := counterDescription()
	id := uuid.NewString()
	events := []em.Event{
		em.NewEvent(Created, em.Payload{"name": "c"}, time.Now(), em.ForAggregate(CounterAggregateType, id, 1)),
		em.NewEvent("Renamed", em.Payload{"name": "d"}, time.Now(), em.ForAggregate(CounterAggregateType, id, 2)),
	}

	_, _, err := Fold(d, events)

	var drift *em.EventTypeDriftError
	if !errors.As(err, &drift) {
		t.Fatal("there should be a drift error:", err)
	}

	assert.Equal(t, em.EventType("Renamed"), drift.EventType)
	assert.Equal(t, 2, drift.Version)
	assert.Equal(t, id, drift.AggregateID)
}

func TestExecute(t *testing.T) {
	store, err := memory.NewEventStore()
	require.NoError(t, err)

	r, rec := newTestRuntime(t, store)
	d, ok := r.Description(CounterAggregateType)
	require.True(t, ok)

	ctx := context.Background()
	id := uuid.NewString()

	res, err := r.Execute(ctx, d, em.NewCommand(Create, id, em.Payload{"name": "c"},
		em.WithCommandMetadata(map[string]interface{}{"user": "alice"})))
	require.NoError(t, err)

	assert.Equal(t, id, res.AggregateID)
	assert.Equal(t, 1, res.Version)
	require.Len(t, res.Events, 1)
	assert.Equal(t, Created, res.Events[0].EventType())
	assert.Equal(t, 1, res.Events[0].Version())
	assert.Equal(t, "alice", res.Events[0].Metadata()["user"])
	assert.Equal(t, []Phase{Initial, Loading, Replaying, HandlerExecuting, Committing, Committed}, rec.get())

	res, err = r.Execute(ctx, d, em.NewCommand(Increment, id, nil))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Version)

	events, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, em.CompareEventSlices(events[1:], res.Events, em.IgnorePosition()))

	state, version, err := r.State(ctx, CounterAggregateType, id)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
	assert.Equal(t, counter{Created: true, Name: "c", Count: 2}, state)

	_, _, err = r.State(ctx, "Other", id)
	assert.ErrorIs(t, err, ErrUnknownAggregate)
}

func TestExecuteWithoutEvents(t *testing.T) {
	store := &mocks.EventStore{}
	r, rec := newTestRuntime(t, store)
	d, _ := r.Description(CounterAggregateType)

	res, err := r.Execute(context.Background(), d, em.NewCommand(Touch, uuid.NewString(), nil))
	require.NoError(t, err)

	assert.Equal(t, 0, res.Version)
	assert.Empty(t, res.Events)
	assert.Equal(t, 0, store.Saves, "nothing should be saved")
	assert.NotContains(t, rec.get(), Committing)
}

func TestExecuteRejected(t *testing.T) {
	store := &mocks.EventStore{}
	r, rec := newTestRuntime(t, store)
	d, _ := r.Description(CounterAggregateType)

	_, err := r.Execute(context.Background(), d, em.NewCommand(Increment, uuid.NewString(), nil))
	assert.ErrorIs(t, err, em.ErrBusinessRule)

	var violation *em.BusinessRuleViolation
	if assert.ErrorAs(t, err, &violation) {
		assert.Contains(t, violation.Reason, "does not exist")
	}

	assert.Equal(t, 0, store.Saves, "nothing should be saved")
	assert.Equal(t, Rejected, rec.get()[len(rec.get())-1])
}

func TestExecuteInvalidEvent(t *testing.T) {
	store := &mocks.EventStore{}
	r, _ := newTestRuntime(t, store)
	d, _ := r.Description(CounterAggregateType)

	// An empty name violates the Created schema.
	_, err := r.Execute(context.Background(), d, em.NewCommand(Create, uuid.NewString(), em.Payload{"name": ""}))
	assert.ErrorIs(t, err, schema.ErrViolation)
	assert.Equal(t, 0, store.Saves, "nothing should be saved")
}

func TestExecuteUnroutable(t *testing.T) {
	r, _ := newTestRuntime(t, &mocks.EventStore{})
	d, _ := r.Description(CounterAggregateType)

	_, err := r.Execute(context.Background(), d, em.NewCommand("Delete", uuid.NewString(), nil))
	assert.ErrorIs(t, err, em.ErrUnroutableCommand)

	_, err = r.Execute(context.Background(), d, em.NewCommand(Create, "", nil))
	assert.ErrorIs(t, err, em.ErrMissingAggregateID)

	_, err = r.Execute(context.Background(), nil, em.NewCommand(Create, uuid.NewString(), nil))
	assert.ErrorIs(t, err, ErrNilDescription)
}

func TestExecuteDrift(t *testing.T) {
	id := uuid.NewString()
	store := &mocks.EventStore{
		Events: []em.Event{
			em.NewEvent("Removed", nil, time.Now(), em.ForAggregate(CounterAggregateType, id, 1)),
		},
	}
	r, rec := newTestRuntime(t, store)
	d, _ := r.Description(CounterAggregateType)

	_, err := r.Execute(context.Background(), d, em.NewCommand(Create, id, em.Payload{"name": "c"}))
	assert.ErrorIs(t, err, em.ErrEventTypeDrift)
	assert.Equal(t, []Phase{Initial, Loading, Replaying, Failed}, rec.get())
}

// racingStore lets another writer append to the stream before the first
// saves of the runtime.
type racingStore struct {
	em.EventStore
	races int
	mu    sync.Mutex
}

func (s *racingStore) Save(ctx context.Context, events []em.Event, originalVersion int) error {
	s.mu.Lock()
	race := s.races > 0
	if race {
		s.races--
	}
	s.mu.Unlock()

	if race {
		e := events[0]
		other := em.NewEvent(Incremented, em.Payload{"by": 1}, time.Now(),
			em.ForAggregate(e.AggregateType(), e.AggregateID(), originalVersion+1))
		if err := s.EventStore.Save(ctx, []em.Event{other}, originalVersion); err != nil {
			return err
		}
	}

	return s.EventStore.Save(ctx, events, originalVersion)
}

func TestExecuteRetriesConflicts(t *testing.T) {
	inner, err := memory.NewEventStore()
	require.NoError(t, err)

	ctx := context.Background()
	id := uuid.NewString()
	require.NoError(t, inner.Save(ctx, []em.Event{
		em.NewEvent(Created, em.Payload{"name": "c"}, time.Now(), em.ForAggregate(CounterAggregateType, id, 1)),
	}, 0))

	store := &racingStore{EventStore: inner, races: 2}
	r, rec := newTestRuntime(t, store)
	d, _ := r.Description(CounterAggregateType)

	res, err := r.Execute(ctx, d, em.NewCommand(Increment, id, nil))
	require.NoError(t, err)

	// Two racing increments and the two of the command.
	assert.Equal(t, 5, res.Version)

	state, _, err := r.State(ctx, CounterAggregateType, id)
	require.NoError(t, err)
	assert.Equal(t, 4, state.(counter).Count)

	retries := 0
	for _, p := range rec.get() {
		if p == ConcurrencyRetryable {
			retries++
		}
	}
	assert.Equal(t, 2, retries)
}

func TestExecuteConflictBound(t *testing.T) {
	inner, err := memory.NewEventStore()
	require.NoError(t, err)

	ctx := context.Background()
	id := uuid.NewString()
	require.NoError(t, inner.Save(ctx, []em.Event{
		em.NewEvent(Created, em.Payload{"name": "c"}, time.Now(), em.ForAggregate(CounterAggregateType, id, 1)),
	}, 0))

	store := &racingStore{EventStore: inner, races: 10}
	r, rec := newTestRuntime(t, store, WithMaxRetries(1))
	d, _ := r.Description(CounterAggregateType)

	_, err = r.Execute(ctx, d, em.NewCommand(Increment, id, nil))
	assert.ErrorIs(t, err, em.ErrConcurrencyConflict)

	phases := rec.get()
	assert.Equal(t, Failed, phases[len(phases)-1])
}

func TestExecuteExpectedVersion(t *testing.T) {
	store, err := memory.NewEventStore()
	require.NoError(t, err)

	r, _ := newTestRuntime(t, store)
	d, _ := r.Description(CounterAggregateType)

	ctx := context.Background()
	id := uuid.NewString()

	_, err = r.Execute(ctx, d, em.NewCommand(Create, id, em.Payload{"name": "c"}, em.WithExpectedVersion(0)))
	require.NoError(t, err)

	// The caller based its decision on a stale version.
	_, err = r.Execute(ctx, d, em.NewCommand(Create, id, em.Payload{"name": "c"}, em.WithExpectedVersion(0)))
	assert.ErrorIs(t, err, em.ErrConcurrencyConflict)

	// Without expected version the handler sees the current state.
	_, err = r.Execute(ctx, d, em.NewCommand(Create, id, em.Payload{"name": "c"}))
	assert.ErrorIs(t, err, em.ErrBusinessRule)

	res, err := r.Execute(ctx, d, em.NewCommand(Increment, id, nil, em.WithExpectedVersion(1)))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Version)
}

func TestExecuteConcurrent(t *testing.T) {
	store, err := memory.NewEventStore()
	require.NoError(t, err)

	r, _ := newTestRuntime(t, store, WithMaxRetries(20))
	d, _ := r.Description(CounterAggregateType)

	ctx := context.Background()
	id := uuid.NewString()

	_, err = r.Execute(ctx, d, em.NewCommand(Create, id, em.Payload{"name": "c"}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := r.Execute(ctx, d, em.NewCommand(Increment, id, nil)); err != nil {
				t.Error("there should be no error:", err)
			}
		}()
	}

	wg.Wait()

	events, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 11)

	for i, e := range events {
		assert.Equal(t, i+1, e.Version(), "versions should have no gaps")
	}
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "handler_executing", HandlerExecuting.String())
	assert.Equal(t, "concurrency_retryable", ConcurrencyRetryable.String())
	assert.True(t, Committed.Terminal())
	assert.False(t, ConcurrencyRetryable.Terminal())
}
