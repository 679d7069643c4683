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
	"reflect"
	"sync"
	"testing"
	"time"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/mocks"
	"github.com/looplab/eventmachine/repo/memory"
	"github.com/looplab/eventmachine/uuid"
)

var timestamp = time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)

func TestHandler_CreateModel(t *testing.T) {
	repo := &mocks.Repo{}
	projector := &TestProjector{}
	handler := NewHandler(projector, repo, WithEntityFactory(func(id string) em.Entity {
		return &mocks.SimpleModel{ID: id}
	}))

	ctx := context.Background()

	id := uuid.NewString()
	event := em.NewEvent(mocks.EventType, mocks.Content("event1"), timestamp,
		em.ForAggregate(mocks.AggregateType, id, 1))
	projector.newEntity = &mocks.SimpleModel{
		ID:      id,
		Content: "event1",
	}

	if err := handler.HandleEvent(ctx, event); err != nil {
		t.Error("there should be no error:", err)
	}

	if projector.event != event {
		t.Error("the handled event should be correct:", projector.event)
	}

	if !reflect.DeepEqual(projector.entity, &mocks.SimpleModel{ID: id}) {
		t.Error("the entity should be correct:", projector.entity)
	}

	if repo.Entity != projector.newEntity {
		t.Error("the new entity should be correct:", repo.Entity)
	}

	if name := handler.ListenerName(); name != "projector_TestProjector" {
		t.Error("the listener name should be correct:", name)
	}
}

func TestHandler_NoFactory(t *testing.T) {
	handler := NewHandler(&TestProjector{}, &mocks.Repo{})

	event := em.NewEvent(mocks.EventType, mocks.Content("event1"), timestamp,
		em.ForAggregate(mocks.AggregateType, uuid.NewString(), 1))

	err := handler.HandleEvent(context.Background(), event)
	if !errors.Is(err, ErrModelNotSet) {
		t.Error("there should be a model not set error:", err)
	}
}

func TestHandler_UpdateModelWithVersion(t *testing.T) {
	repo := memory.NewRepo()
	handler := NewHandler(&contentProjector{}, repo, WithEntityFactory(newModel))

	ctx := context.Background()
	id := uuid.NewString()

	events := []em.Event{
		em.NewEvent(mocks.EventType, mocks.Content("event1"), timestamp,
			em.ForAggregate(mocks.AggregateType, id, 1)),
		em.NewEvent(mocks.EventType, mocks.Content("event2"), timestamp,
			em.ForAggregate(mocks.AggregateType, id, 2)),
	}

	if err := handler.HandleCommit(ctx, events); err != nil {
		t.Fatal("there should be no error:", err)
	}

	entity, err := repo.Find(ctx, id)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	expected := &mocks.Model{ID: id, Version: 2, Content: "event2", CreatedAt: timestamp}
	if !reflect.DeepEqual(entity, expected) {
		t.Error("the entity should be correct:", entity)
	}

	// Handle an old event again, should be a no-op.
	if err := handler.HandleEvent(ctx, events[0]); err != nil {
		t.Error("there should be no error:", err)
	}

	entity, _ = repo.Find(ctx, id)
	if !reflect.DeepEqual(entity, expected) {
		t.Error("the entity should not change:", entity)
	}

	// A gap in the versions is an error.
	event4 := em.NewEvent(mocks.EventType, mocks.Content("event4"), timestamp,
		em.ForAggregate(mocks.AggregateType, id, 4))

	err = handler.HandleEvent(ctx, event4)
	if !errors.Is(err, em.ErrIncorrectEntityVersion) {
		t.Error("there should be an incorrect entity version error:", err)
	}

	projectErr := &Error{}
	if !errors.As(err, &projectErr) || projectErr.EntityVersion != 2 || projectErr.EntityID != id {
		t.Error("there should be a projector error:", err)
	}
}

func TestHandler_IrregularVersioning(t *testing.T) {
	repo := memory.NewRepo()
	handler := NewHandler(&contentProjector{}, repo,
		WithEntityFactory(newModel),
		WithIrregularVersioning(),
	)

	ctx := context.Background()
	id := uuid.NewString()

	for _, v := range []int{1, 3, 7} {
		event := em.NewEvent(mocks.EventType, mocks.Content("event"), timestamp,
			em.ForAggregate(mocks.AggregateType, id, v))
		if err := handler.HandleEvent(ctx, event); err != nil {
			t.Error("there should be no error:", err)
		}
	}

	entity, err := repo.Find(ctx, id)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if v := entity.(em.Versionable).AggregateVersion(); v != 7 {
		t.Error("the version should be correct:", v)
	}
}

func TestHandler_IncorrectProjectedVersion(t *testing.T) {
	repo := memory.NewRepo()
	handler := NewHandler(&contentProjector{versionOffset: 1}, repo, WithEntityFactory(newModel))

	event := em.NewEvent(mocks.EventType, mocks.Content("event1"), timestamp,
		em.ForAggregate(mocks.AggregateType, uuid.NewString(), 1))

	err := handler.HandleEvent(context.Background(), event)
	if !errors.Is(err, ErrIncorrectProjectedEntityVersion) {
		t.Error("there should be an incorrect projected version error:", err)
	}
}

func TestHandler_DeleteModel(t *testing.T) {
	repo := memory.NewRepo()
	projector := &contentProjector{}
	handler := NewHandler(projector, repo, WithEntityFactory(newModel))

	ctx := context.Background()
	id := uuid.NewString()

	event := em.NewEvent(mocks.EventType, mocks.Content("event1"), timestamp,
		em.ForAggregate(mocks.AggregateType, id, 1))
	if err := handler.HandleEvent(ctx, event); err != nil {
		t.Fatal("there should be no error:", err)
	}

	event = em.NewEvent(mocks.EventOtherType, nil, timestamp,
		em.ForAggregate(mocks.AggregateType, id, 2))
	if err := handler.HandleEvent(ctx, event); err != nil {
		t.Error("there should be no error:", err)
	}

	if _, err := repo.Find(ctx, id); !errors.Is(err, em.ErrEntityNotFound) {
		t.Error("the entity should be removed:", err)
	}

	// Updating a removed model is an error.
	event = em.NewEvent(mocks.EventType, mocks.Content("event3"), timestamp,
		em.ForAggregate(mocks.AggregateType, id, 3))

	err := handler.HandleEvent(ctx, event)
	if !errors.Is(err, ErrModelRemoved) {
		t.Error("there should be a model removed error:", err)
	}
}

func TestHandler_LoadError(t *testing.T) {
	repoErr := errors.New("load error")
	repo := &mocks.Repo{Err: repoErr}
	handler := NewHandler(&TestProjector{}, repo, WithEntityFactory(newModel))

	event := em.NewEvent(mocks.EventType, mocks.Content("event1"), timestamp,
		em.ForAggregate(mocks.AggregateType, uuid.NewString(), 1))

	err := handler.HandleEvent(context.Background(), event)

	projectError := &Error{}
	if !errors.As(err, &projectError) || !errors.Is(err, repoErr) {
		t.Error("there should be an error:", err)
	}
}

func TestHandler_ProjectError(t *testing.T) {
	projectErr := errors.New("project error")
	projector := &TestProjector{err: projectErr}
	handler := NewHandler(projector, &mocks.Repo{}, WithEntityFactory(newModel))

	event := em.NewEvent(mocks.EventType, mocks.Content("event1"), timestamp,
		em.ForAggregate(mocks.AggregateType, uuid.NewString(), 1))

	err := handler.HandleCommit(context.Background(), []em.Event{event})

	projectError := &Error{}
	if !errors.As(err, &projectError) || !errors.Is(err, projectErr) {
		t.Error("there should be an error:", err)
	}

	if projectError.Projector != "TestProjector" || projectError.Event != event {
		t.Error("the error should be correct:", projectError)
	}
}

func TestHandler_EntityLookup(t *testing.T) {
	repo := &mocks.Repo{}
	projector := &TestProjector{}
	handler := NewHandler(projector, repo,
		WithEntityFactory(func(id string) em.Entity {
			return &mocks.SimpleModel{ID: id}
		}),
		WithEntityLookup(func(event em.Event) string {
			return "counter"
		}),
	)

	ctx := context.Background()

	event := em.NewEvent(mocks.EventType, mocks.Content("event1"), timestamp,
		em.ForAggregate(mocks.AggregateType, uuid.NewString(), 1))
	projector.newEntity = &mocks.SimpleModel{
		ID:      "counter",
		Content: "updated",
	}

	if err := handler.HandleEvent(ctx, event); err != nil {
		t.Error("there should be no error:", err)
	}

	if !reflect.DeepEqual(projector.entity, &mocks.SimpleModel{ID: "counter"}) {
		t.Error("the entity should be correct:", projector.entity)
	}

	if repo.Entity != projector.newEntity {
		t.Error("the new entity should be correct:", repo.Entity)
	}

	// The projected entity must keep the looked up ID.
	projector.newEntity = &mocks.SimpleModel{ID: "other"}

	if err := handler.HandleEvent(ctx, event); err == nil {
		t.Error("there should be an error for an incorrect ID")
	}
}

func TestHandler_EventTypes(t *testing.T) {
	repo := &mocks.Repo{}
	projector := &TestProjector{}
	handler := NewHandler(projector, repo,
		WithEntityFactory(func(id string) em.Entity {
			return &mocks.SimpleModel{ID: id}
		}),
		WithEventTypes(mocks.EventOtherType),
	)

	event := em.NewEvent(mocks.EventType, mocks.Content("event1"), timestamp,
		em.ForAggregate(mocks.AggregateType, uuid.NewString(), 1))

	if err := handler.HandleEvent(context.Background(), event); err != nil {
		t.Error("there should be no error:", err)
	}

	if projector.event != nil || repo.FindCalled {
		t.Error("the event should be skipped:", projector.event)
	}
}

const TestProjectorName = "TestProjector"

type TestProjector struct {
	event             em.Event
	context           context.Context
	entity, newEntity em.Entity
	// Used to simulate errors in the projector.
	err error
}

func (m *TestProjector) ProjectorName() string {
	return TestProjectorName
}

func (m *TestProjector) Project(ctx context.Context, event em.Event, entity em.Entity) (em.Entity, error) {
	if m.err != nil {
		return nil, m.err
	}

	m.context = ctx
	m.event = event
	m.entity = entity

	return m.newEntity, nil
}

func newModel(id string) em.Entity {
	return &mocks.Model{ID: id}
}

// contentProjector projects the content of mocks.EventType onto mocks.Model
// and removes the model on mocks.EventOtherType.
type contentProjector struct {
	versionOffset int
}

func (p *contentProjector) ProjectorName() string {
	return "content"
}

func (p *contentProjector) Project(ctx context.Context, event em.Event, entity em.Entity) (em.Entity, error) {
	model, ok := entity.(*mocks.Model)
	if !ok {
		return nil, errors.New("incorrect model")
	}

	switch event.EventType() {
	case mocks.EventType:
		content, _ := event.Data()["content"].(string)
		model.Content = content
		model.CreatedAt = event.Timestamp()
	case mocks.EventOtherType:
		return nil, nil
	}

	model.Version = event.Version() + p.versionOffset

	return model, nil
}

type countModel struct {
	ID    string
	Count int
}

func (m *countModel) EntityID() string {
	return m.ID
}

type countProjector struct{}

func (p *countProjector) ProjectorName() string {
	return "count"
}

func (p *countProjector) Project(ctx context.Context, event em.Event, entity em.Entity) (em.Entity, error) {
	m, ok := entity.(*countModel)
	if !ok {
		return nil, errors.New("model is of incorrect type")
	}

	m.Count++

	return m, nil
}

// slowRepo delays reads, like a read store over the network.
type slowRepo struct {
	em.ReadWriteRepo
}

func (r *slowRepo) Find(ctx context.Context, id string) (em.Entity, error) {
	entity, err := r.ReadWriteRepo.Find(ctx, id)
	time.Sleep(time.Millisecond)

	return entity, err
}

func TestHandler_ConcurrentSharedEntity(t *testing.T) {
	repo := &slowRepo{memory.NewRepo()}
	handler := NewHandler(&countProjector{}, repo,
		WithEntityFactory(func(id string) em.Entity {
			return &countModel{ID: id}
		}),
		WithEntityLookup(func(event em.Event) string {
			return "counter"
		}),
	)

	ctx := context.Background()

	const n = 50

	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			event := em.NewEvent(mocks.EventType, mocks.Content("event"), timestamp,
				em.ForAggregate(mocks.AggregateType, uuid.NewString(), 1))
			if err := handler.HandleCommit(ctx, []em.Event{event}); err != nil {
				t.Error("there should be no error:", err)
			}
		}()
	}

	wg.Wait()

	entity, err := repo.Find(ctx, "counter")
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if c := entity.(*countModel).Count; c != n {
		t.Errorf("the count should be %d: %d", n, c)
	}

	if len(handler.locks) != 0 {
		t.Error("the entity locks should be released:", len(handler.locks))
	}
}
