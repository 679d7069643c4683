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

package query

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/aggregate"
	"github.com/looplab/eventmachine/eventstore/memory"
	"github.com/looplab/eventmachine/mocks"
	"github.com/looplab/eventmachine/schema"
	"github.com/looplab/eventmachine/uuid"
)

const (
	NoteAggregateType em.AggregateType = "Note"

	CreateNote em.CommandType = "CreateNote"
	TagNote    em.CommandType = "TagNote"

	NoteCreated em.EventType = "NoteCreated"
	NoteTagged  em.EventType = "NoteTagged"

	GetNote em.QueryType = "GetNote"
)

type note struct {
	Title string
	Tags  []string
}

func noteDescription() *aggregate.Description {
	d := aggregate.NewDescription(NoteAggregateType, func() interface{} {
		return &note{}
	})

	aggregate.HandleTyped(d, CreateNote, func(ctx context.Context, s *note, cmd em.Command) ([]aggregate.Yield, error) {
		return []aggregate.Yield{aggregate.NewYield(NoteCreated, cmd.Payload())}, nil
	})
	aggregate.HandleTyped(d, TagNote, func(ctx context.Context, s *note, cmd em.Command) ([]aggregate.Yield, error) {
		return []aggregate.Yield{aggregate.NewYield(NoteTagged, cmd.Payload())}, nil
	})

	aggregate.ApplyTyped(d, NoteCreated, func(s *note, e em.Event) (*note, error) {
		s.Title, _ = e.Data()["title"].(string)
		s.Tags = []string{}

		return s, nil
	})
	aggregate.ApplyTyped(d, NoteTagged, func(s *note, e em.Event) (*note, error) {
		tag, _ := e.Data()["tag"].(string)
		s.Tags = append(s.Tags, tag)

		return s, nil
	})

	return d
}

func noteRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	r := schema.NewRegistry()
	r.MustRegister(string(NoteCreated), schema.Object(schema.Fields{
		"title": schema.String(),
	}))
	r.MustRegister(string(NoteTagged), schema.Object(schema.Fields{
		"tag": schema.String(),
	}))
	r.MustRegister("Note", schema.Object(schema.Fields{
		"id":    schema.String().Format(schema.FormatUUID),
		"title": schema.String(),
		"tags":  schema.Array(schema.String()),
	}))
	r.MustRegister("NoteParams", schema.Object(schema.Fields{
		"id": schema.String().Format(schema.FormatUUID),
	}))
	require.NoError(t, r.Freeze())

	return r
}

func renderNote(id string, state interface{}, version int) (em.Payload, error) {
	n := state.(*note)

	return em.Payload{
		"id":    id,
		"title": n.Title,
		"tags":  append([]string{}, n.Tags...),
	}, nil
}

// recordingStore records the versions loaded from.
type recordingStore struct {
	em.EventStore

	mu    sync.Mutex
	froms []int
}

func (s *recordingStore) Load(ctx context.Context, id string) ([]em.Event, error) {
	return s.LoadFrom(ctx, id, 1)
}

func (s *recordingStore) LoadFrom(ctx context.Context, id string, version int) ([]em.Event, error) {
	s.mu.Lock()
	s.froms = append(s.froms, version)
	s.mu.Unlock()

	return s.EventStore.LoadFrom(ctx, id, version)
}

func (s *recordingStore) loadedFrom() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]int(nil), s.froms...)
}

func newNoteRuntime(t *testing.T, registry *schema.Registry) (*aggregate.Runtime, *recordingStore) {
	t.Helper()

	inner, err := memory.NewEventStore()
	require.NoError(t, err)

	store := &recordingStore{EventStore: inner}

	runtime, err := aggregate.NewRuntime(store, registry)
	require.NoError(t, err)
	require.NoError(t, runtime.Register(noteDescription()))

	return runtime, store
}

func TestServiceRegister(t *testing.T) {
	_, err := NewService(nil)
	assert.ErrorIs(t, err, ErrNilRegistry)

	s, err := NewService(noteRegistry(t))
	require.NoError(t, err)

	resolver := ResolverFunc(func(ctx context.Context, params em.Payload) (em.Payload, error) {
		return nil, nil
	})

	assert.ErrorIs(t, s.Register(Definition{ReturnType: "Note", Resolver: resolver}), ErrInvalidDefinition)
	assert.ErrorIs(t, s.Register(Definition{Type: GetNote, ReturnType: "Note"}), ErrInvalidDefinition)
	assert.ErrorIs(t, s.Register(Definition{Type: GetNote, ReturnType: "Nope", Resolver: resolver}), schema.ErrUnknownType)
	assert.ErrorIs(t, s.Register(Definition{Type: GetNote, ReturnType: "Note", ParamType: "Nope", Resolver: resolver}), schema.ErrUnknownType)

	require.NoError(t, s.Register(Definition{Type: GetNote, ReturnType: "Note", ParamType: "NoteParams", Resolver: resolver}))
	assert.ErrorIs(t, s.Register(Definition{Type: GetNote, ReturnType: "Note", Resolver: resolver}), ErrQueryAlreadyRegistered)
	require.NoError(t, s.Register(Definition{Type: "AllNotes", ReturnType: "Note", Resolver: resolver}))

	assert.Equal(t, []em.QueryType{"AllNotes", GetNote}, s.Types())

	def, ok := s.Definition(GetNote)
	assert.True(t, ok)
	assert.Equal(t, "NoteParams", def.ParamType)
}

func TestServiceQuery(t *testing.T) {
	var logs bytes.Buffer

	s, err := NewService(noteRegistry(t), WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))
	require.NoError(t, err)

	id := uuid.NewString()
	result := em.Payload{"id": id, "title": "groceries", "tags": []interface{}{"home"}}

	require.NoError(t, s.Register(Definition{
		Type:       GetNote,
		ReturnType: "Note",
		ParamType:  "NoteParams",
		Resolver: ResolverFunc(func(ctx context.Context, params em.Payload) (em.Payload, error) {
			return result, nil
		}),
	}))

	ctx := context.Background()

	res, err := s.Query(ctx, GetNote, em.Payload{"id": id})
	require.NoError(t, err)
	assert.Equal(t, result, res)

	_, err = s.Query(ctx, "Unknown", nil)
	assert.ErrorIs(t, err, em.ErrUnknownQuery)

	// Invalid parameters are a caller error.
	_, err = s.Query(ctx, GetNote, em.Payload{"id": "b1"})
	assert.ErrorIs(t, err, schema.ErrViolation)
	assert.NotErrorIs(t, err, em.ErrResultViolation)

	_, err = s.Query(ctx, GetNote, nil)
	assert.ErrorIs(t, err, schema.ErrViolation)
	assert.Empty(t, logs.String())

	// An invalid result is a resolver bug.
	result = em.Payload{"id": id, "title": "groceries"}

	_, err = s.Query(ctx, GetNote, em.Payload{"id": id})
	assert.ErrorIs(t, err, em.ErrResultViolation)
	assert.ErrorIs(t, err, schema.ErrViolation)

	var rv *em.ResultViolationError
	require.True(t, errors.As(err, &rv))
	assert.Equal(t, GetNote, rv.Query)

	var violation *schema.Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "$.tags", violation.Path)

	assert.Contains(t, logs.String(), `"level":"ERROR"`)
	assert.Contains(t, logs.String(), `"query":"GetNote"`)
}

func TestServiceMiddleware(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(h Handler) Handler {
			return HandlerFunc(func(ctx context.Context, queryType em.QueryType, params em.Payload) (em.Payload, error) {
				order = append(order, name)
				return h.HandleQuery(ctx, queryType, params)
			})
		}
	}

	s, err := NewService(noteRegistry(t), WithMiddleware(mw("outer"), mw("inner")))
	require.NoError(t, err)

	_, err = s.Query(context.Background(), GetNote, nil)
	assert.ErrorIs(t, err, em.ErrUnknownQuery)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestReplayResolver(t *testing.T) {
	registry := noteRegistry(t)
	runtime, _ := newNoteRuntime(t, registry)

	s, err := NewService(registry)
	require.NoError(t, err)
	require.NoError(t, s.Register(Definition{
		Type:       GetNote,
		ReturnType: "Note",
		ParamType:  "NoteParams",
		Resolver:   ReplayResolver(runtime, NoteAggregateType, "id", renderNote),
	}))

	ctx := context.Background()
	id := uuid.NewString()

	_, err = s.Query(ctx, GetNote, em.Payload{"id": id})
	assert.ErrorIs(t, err, em.ErrEntityNotFound)

	d, _ := runtime.Description(NoteAggregateType)
	_, err = runtime.Execute(ctx, d, em.NewCommand(CreateNote, id, em.Payload{"title": "groceries"}))
	require.NoError(t, err)

	res, err := s.Query(ctx, GetNote, em.Payload{"id": id})
	require.NoError(t, err)
	assert.Equal(t, em.Payload{"id": id, "title": "groceries", "tags": []string{}}, res)
}

func TestReplayResolverStateCache(t *testing.T) {
	registry := noteRegistry(t)
	runtime, store := newNoteRuntime(t, registry)
	resolver := ReplayResolver(runtime, NoteAggregateType, "id", renderNote, WithStateCache(10))

	ctx := context.Background()
	id := uuid.NewString()
	d, _ := runtime.Description(NoteAggregateType)

	_, err := runtime.Execute(ctx, d, em.NewCommand(CreateNote, id, em.Payload{"title": "groceries"}))
	require.NoError(t, err)
	_, err = runtime.Execute(ctx, d, em.NewCommand(TagNote, id, em.Payload{"tag": "home"}))
	require.NoError(t, err)

	before := len(store.loadedFrom())

	res, err := resolver.Resolve(ctx, em.Payload{"id": id})
	require.NoError(t, err)
	assert.Equal(t, []string{"home"}, res["tags"])

	_, err = runtime.Execute(ctx, d, em.NewCommand(TagNote, id, em.Payload{"tag": "food"}))
	require.NoError(t, err)

	res2, err := resolver.Resolve(ctx, em.Payload{"id": id})
	require.NoError(t, err)
	assert.Equal(t, []string{"home", "food"}, res2["tags"])
	assert.Equal(t, []string{"home"}, res["tags"], "earlier results should not change")

	// Nothing new, nothing folded.
	res3, err := resolver.Resolve(ctx, em.Payload{"id": id})
	require.NoError(t, err)
	assert.Equal(t, res2, res3)

	// The first query loads everything, later ones only the new events.
	froms := store.loadedFrom()[before:]
	require.Len(t, froms, 4)
	assert.Equal(t, 1, froms[0])
	assert.Equal(t, 3, froms[2])
	assert.Equal(t, 4, froms[3])
}

func TestReplayResolverDrift(t *testing.T) {
	var logs bytes.Buffer

	registry := noteRegistry(t)
	runtime, store := newNoteRuntime(t, registry)

	s, err := NewService(registry, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)
	require.NoError(t, s.Register(Definition{
		Type:       GetNote,
		ReturnType: "Note",
		Resolver:   ReplayResolver(runtime, NoteAggregateType, "id", renderNote, WithStateCache(10)),
	}))

	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, store.Save(ctx, []em.Event{
		em.NewEvent(NoteCreated, em.Payload{"title": "t"}, time.Now(), em.ForAggregate(NoteAggregateType, id, 1)),
		em.NewEvent("NoteArchived", nil, time.Now(), em.ForAggregate(NoteAggregateType, id, 2)),
	}, 0))

	_, err = s.Query(ctx, GetNote, em.Payload{"id": id})
	assert.ErrorIs(t, err, em.ErrEventTypeDrift)
	assert.Contains(t, logs.String(), "level=ERROR")
}

func TestReplayResolverMissingID(t *testing.T) {
	runtime, _ := newNoteRuntime(t, noteRegistry(t))
	resolver := ReplayResolver(runtime, NoteAggregateType, "id", renderNote)

	_, err := resolver.Resolve(context.Background(), em.Payload{})
	assert.ErrorIs(t, err, em.ErrMissingAggregateID)

	other := ReplayResolver(runtime, "Other", "id", renderNote)
	_, err = other.Resolve(context.Background(), em.Payload{"id": "1"})
	assert.ErrorIs(t, err, aggregate.ErrUnknownAggregate)
}

func TestProjectionResolver(t *testing.T) {
	repo := &mocks.Repo{}
	resolver := ProjectionResolver(repo, "id", func(e em.Entity) (em.Payload, error) {
		m := e.(*mocks.Model)
		return em.Payload{"id": m.ID, "content": m.Content}, nil
	})

	ctx := context.Background()

	_, err := resolver.Resolve(ctx, em.Payload{"id": "m1"})
	assert.ErrorIs(t, err, em.ErrEntityNotFound)

	require.NoError(t, repo.Save(ctx, &mocks.Model{ID: "m1", Version: 1, Content: "v1"}))

	res, err := resolver.Resolve(ctx, em.Payload{"id": "m1"})
	require.NoError(t, err)
	assert.Equal(t, em.Payload{"id": "m1", "content": "v1"}, res)

	// Waits for the projection to catch up.
	go func() {
		time.Sleep(50 * time.Millisecond)
		repo.Save(ctx, &mocks.Model{ID: "m1", Version: 2, Content: "v2"})
	}()

	waitCtx, cancel := em.NewContextWithMinVersionWait(ctx, 2)
	defer cancel()

	res, err = resolver.Resolve(waitCtx, em.Payload{"id": "m1"})
	require.NoError(t, err)
	assert.Equal(t, "v2", res["content"])
}

func TestListResolver(t *testing.T) {
	repo := &mocks.Repo{Entities: []em.Entity{
		&mocks.SimpleModel{ID: "a"},
		&mocks.SimpleModel{ID: "b"},
	}}

	resolver := ListResolver(repo, func(entities []em.Entity) (em.Payload, error) {
		ids := []string{}
		for _, e := range entities {
			ids = append(ids, e.EntityID())
		}

		return em.Payload{"ids": ids}, nil
	})

	res, err := resolver.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res["ids"])
}
