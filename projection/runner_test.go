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

package projection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/eventstore/memory"
	"github.com/looplab/eventmachine/mocks"
	repomemory "github.com/looplab/eventmachine/repo/memory"
	"github.com/looplab/eventmachine/uuid"
)

func saveEvents(t *testing.T, store em.EventStore, id string, from, to int) {
	t.Helper()

	var events []em.Event
	for v := from; v <= to; v++ {
		events = append(events, em.NewEvent(mocks.EventType, mocks.Content("event"), timestamp,
			em.ForAggregate(mocks.AggregateType, id, v)))
	}

	require.NoError(t, store.Save(context.Background(), events, from-1))
}

func TestRunnerCatchUp(t *testing.T) {
	store, err := memory.NewEventStore()
	require.NoError(t, err)

	id1, id2 := uuid.NewString(), uuid.NewString()
	saveEvents(t, store, id1, 1, 2)
	saveEvents(t, store, id2, 1, 1)
	saveEvents(t, store, id1, 3, 3)

	listener := mocks.NewCommitListener("listener")
	checkpoints := NewMemoryCheckpoints()
	r, err := NewRunner(store, listener, WithCheckpoints(checkpoints), WithBatchSize(2))
	require.NoError(t, err)

	ctx := context.Background()

	n, err := r.CatchUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	received := listener.Received()
	require.Len(t, received, 4)

	for i, e := range received {
		assert.Equal(t, int64(i+1), e.Position())
	}

	// Events are grouped by aggregate within each batch.
	assert.Equal(t, 3, listener.Commits)

	position, err := checkpoints.Checkpoint(ctx, "listener")
	require.NoError(t, err)
	assert.Equal(t, int64(4), position)

	// Nothing new.
	n, err = r.CatchUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	saveEvents(t, store, id2, 2, 3)

	n, err = r.CatchUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, listener.Received(), 6)
}

func TestRunnerRetriesFailedCommit(t *testing.T) {
	store, err := memory.NewEventStore()
	require.NoError(t, err)

	id1, id2 := uuid.NewString(), uuid.NewString()
	saveEvents(t, store, id1, 1, 1)
	saveEvents(t, store, id2, 1, 1)

	failing := true
	var handled []string

	listener := em.CommitListenerFunc{
		Name: "flaky",
		Func: func(ctx context.Context, events []em.Event) error {
			if events[0].AggregateID() == id2 && failing {
				return errors.New("listener error")
			}

			handled = append(handled, events[0].AggregateID())

			return nil
		},
	}

	r, err := NewRunner(store, listener)
	require.NoError(t, err)

	ctx := context.Background()

	n, err := r.CatchUp(ctx)
	assert.Equal(t, 1, n)

	listenerErr := &em.CommitListenerError{}
	require.ErrorAs(t, err, &listenerErr)
	assert.Equal(t, "flaky", listenerErr.Listener)

	failing = false

	n, err = r.CatchUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{id1, id2}, handled)
}

func TestRunnerProjectsIntoRepo(t *testing.T) {
	store, err := memory.NewEventStore()
	require.NoError(t, err)

	id := uuid.NewString()
	saveEvents(t, store, id, 1, 3)

	repo := repomemory.NewRepo()
	handler := NewHandler(&contentProjector{}, repo, WithEntityFactory(newModel))

	// Checkpoints are kept next to the models.
	checkpoints := NewRepoCheckpoints(repo)
	r, err := NewRunner(store, handler, WithCheckpoints(checkpoints))
	require.NoError(t, err)

	ctx := context.Background()

	n, err := r.CatchUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entity, err := repo.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, entity.(em.Versionable).AggregateVersion())

	position, err := checkpoints.Checkpoint(ctx, handler.ListenerName())
	require.NoError(t, err)
	assert.Equal(t, int64(3), position)

	// A new runner with the same checkpoints continues.
	r, err = NewRunner(store, handler, WithCheckpoints(checkpoints))
	require.NoError(t, err)

	n, err = r.CatchUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunnerOptions(t *testing.T) {
	store, err := memory.NewEventStore()
	require.NoError(t, err)

	listener := mocks.NewCommitListener("listener")

	_, err = NewRunner(nil, listener)
	assert.ErrorIs(t, err, ErrNoStore)

	_, err = NewRunner(store, listener, WithBatchSize(0))
	assert.Error(t, err)

	_, err = NewRunner(store, listener, WithCheckpoints(nil))
	assert.Error(t, err)

	_, err = NewRunner(store, listener, WithRunnerLogger(nil))
	assert.Error(t, err)
}

func TestRunnerSchedule(t *testing.T) {
	store, err := memory.NewEventStore()
	require.NoError(t, err)

	listener := mocks.NewCommitListener("listener")
	r, err := NewRunner(store, listener)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Error(t, r.Schedule(ctx, "not a cron line"))

	// Every second.
	require.NoError(t, r.Schedule(ctx, "* * * * * * *"))

	saveEvents(t, store, uuid.NewString(), 1, 1)

	select {
	case events := <-listener.Recv:
		assert.Len(t, events, 1)
	case <-time.After(3 * time.Second):
		t.Fatal("the scheduled catch up should run")
	}
}

func TestGroupByAggregate(t *testing.T) {
	id1, id2 := uuid.NewString(), uuid.NewString()
	newEvent := func(id string, v int) em.Event {
		return em.NewEvent(mocks.EventType, nil, timestamp, em.ForAggregate(mocks.AggregateType, id, v))
	}

	events := []em.Event{newEvent(id1, 1), newEvent(id1, 2), newEvent(id2, 1), newEvent(id1, 3)}
	commits := groupByAggregate(events)

	require.Len(t, commits, 3)
	assert.Len(t, commits[0], 2)
	assert.Len(t, commits[1], 1)
	assert.Equal(t, id1, commits[2][0].AggregateID())
	assert.Empty(t, groupByAggregate(nil))
}
