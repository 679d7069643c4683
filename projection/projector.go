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

// Package projection keeps read models up to date with committed events.
//
// A Handler projects events onto models in a read repo. It is a commit
// listener: registered InTransaction the models are updated in the commit,
// registered AfterCommit they lag behind, and wrapped in an Async they are
// updated on a goroutine of their own. A Runner catches up a projection from
// the global commit order of an event store.
package projection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	em "github.com/looplab/eventmachine"
)

// Projector is a projector of events onto models.
type Projector interface {
	// ProjectorName returns the name of the projector, used as its unique
	// identifier.
	ProjectorName() string

	// Project projects an event onto a model and returns the updated model,
	// or nil to remove it.
	Project(ctx context.Context, event em.Event, entity em.Entity) (em.Entity, error)
}

var (
	// ErrModelNotSet is when a model factory is not set on the Handler.
	ErrModelNotSet = errors.New("model not set")
	// ErrModelRemoved is when a model has been removed.
	ErrModelRemoved = errors.New("model removed")
	// ErrIncorrectProjectedEntityVersion is when the model has not been
	// incremented to the version of the event.
	ErrIncorrectProjectedEntityVersion = errors.New("incorrect projected entity version")
)

// Error is an error in the projector.
type Error struct {
	// Err is the error that happened when projecting the event.
	Err error
	// Projector is the projector where the error happened.
	Projector string
	// Event is the event being projected.
	Event em.Event
	// EntityID of related operation.
	EntityID string
	// EntityVersion is the version of the entity.
	EntityVersion int
}

// Error implements the Error method of the errors.Error interface.
func (e *Error) Error() string {
	str := "projector '" + e.Projector + "': "

	if e.Err != nil {
		str += e.Err.Error()
	} else {
		str += "unknown error"
	}

	if e.EntityID != "" {
		str += fmt.Sprintf(", Entity(%s, v%d)", e.EntityID, e.EntityVersion)
	}

	if e.Event != nil {
		str += ", " + e.Event.String()
	}

	return str
}

// Unwrap implements the errors.Unwrap method.
func (e *Error) Unwrap() error {
	return e.Err
}

// Handler runs a Projector for committed events.
type Handler struct {
	projector              Projector
	repo                   em.ReadWriteRepo
	factoryFn              func(id string) em.Entity
	useIrregularVersioning bool
	entityLookupFn         func(em.Event) string
	eventTypes             map[em.EventType]bool

	// Serializes the read-modify-write of each entity, AfterCommit listeners
	// of different aggregates can share one entity.
	locksMu sync.Mutex
	locks   map[string]*entityLock
}

type entityLock struct {
	sync.Mutex
	refs int
}

var _ = em.CommitListener(&Handler{})

// NewHandler creates a new Handler.
func NewHandler(projector Projector, repo em.ReadWriteRepo, options ...Option) *Handler {
	h := &Handler{
		projector:      projector,
		repo:           repo,
		entityLookupFn: defaultEntityLookupFn,
		locks:          map[string]*entityLock{},
	}

	for _, option := range options {
		option(h)
	}

	return h
}

// Option is an option setter used to configure creation.
type Option func(*Handler)

// WithEntityFactory sets the factory of new models.
func WithEntityFactory(f func(id string) em.Entity) Option {
	return func(h *Handler) {
		h.factoryFn = f
	}
}

// WithIrregularVersioning sets the option to allow gaps in the version numbers.
// This can be useful for projectors that project only some events of a larger
// aggregate, which will lead to gaps in the versions.
func WithIrregularVersioning() Option {
	return func(h *Handler) {
		h.useIrregularVersioning = true
	}
}

// WithEntityLookup can be used to provide an alternative ID (from the aggregate ID)
// for fetching the projected entity. The lookup func can for example extract
// another field from the event or use a static ID for some singleton-like projections.
func WithEntityLookup(f func(em.Event) string) Option {
	return func(h *Handler) {
		h.entityLookupFn = f
	}
}

// WithEventTypes only projects events of the given types, other events are
// skipped. Use it with WithIrregularVersioning for versioned models.
func WithEventTypes(eventTypes ...em.EventType) Option {
	return func(h *Handler) {
		h.eventTypes = map[em.EventType]bool{}
		for _, t := range eventTypes {
			h.eventTypes[t] = true
		}
	}
}

// lock takes the lock of an entity and returns its release func. Locks are
// dropped when nobody holds or waits for them.
func (h *Handler) lock(id string) func() {
	h.locksMu.Lock()
	l, ok := h.locks[id]
	if !ok {
		l = &entityLock{}
		h.locks[id] = l
	}
	l.refs++
	h.locksMu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		h.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(h.locks, id)
		}
		h.locksMu.Unlock()
	}
}

// defaultEntityLookupFn does a lookup by the aggregate ID of the event.
func defaultEntityLookupFn(event em.Event) string {
	return event.AggregateID()
}

// ListenerName implements the ListenerName method of the
// eventmachine.CommitListener interface.
func (h *Handler) ListenerName() string {
	return "projector_" + h.projector.ProjectorName()
}

// HandleCommit implements the HandleCommit method of the
// eventmachine.CommitListener interface.
func (h *Handler) HandleCommit(ctx context.Context, events []em.Event) error {
	for _, event := range events {
		if err := h.HandleEvent(ctx, event); err != nil {
			return err
		}
	}

	return nil
}

// HandleEvent projects a single event. Events that the model has already
// seen are ignored.
func (h *Handler) HandleEvent(ctx context.Context, event em.Event) error {
	if event == nil {
		return &Error{
			Err:       em.ErrMissingEvents,
			Projector: h.projector.ProjectorName(),
		}
	}

	if h.eventTypes != nil && !h.eventTypes[event.EventType()] {
		return nil
	}

	id := h.entityLookupFn(event)

	unlock := h.lock(id)
	defer unlock()

	newErr := func(err error, version int) error {
		return &Error{
			Err:           err,
			Projector:     h.projector.ProjectorName(),
			Event:         event,
			EntityID:      id,
			EntityVersion: version,
		}
	}

	// Get or create the model.
	entity, err := h.repo.Find(ctx, id)
	if errors.Is(err, em.ErrEntityNotFound) {
		if h.factoryFn == nil {
			return newErr(ErrModelNotSet, 0)
		}

		entity = h.factoryFn(id)
	} else if err != nil {
		return newErr(fmt.Errorf("could not load entity: %w", err), 0)
	}

	// The entity should be one version behind the event.
	entityVersion := 0
	if entity, ok := entity.(em.Versionable); ok {
		entityVersion = entity.AggregateVersion()

		// Ignore old/duplicate events.
		if event.Version() <= entityVersion {
			return nil
		}

		// Irregular versioning has looser checks on the version.
		if event.Version() != entityVersion+1 && !h.useIrregularVersioning {
			if entityVersion == 0 && event.Version() > 1 {
				return newErr(ErrModelRemoved, entityVersion)
			}

			return newErr(em.ErrIncorrectEntityVersion, entityVersion)
		}
	}

	// Run the projection, which will possibly increment the version.
	newEntity, err := h.projector.Project(ctx, event, entity)
	if err != nil {
		return newErr(fmt.Errorf("could not project: %w", err), entityVersion)
	}

	// The model should now be at the same version as the event.
	if newEntity, ok := newEntity.(em.Versionable); ok {
		entityVersion = newEntity.AggregateVersion()

		if entityVersion != event.Version() {
			return newErr(ErrIncorrectProjectedEntityVersion, entityVersion)
		}
	}

	// Update or remove the model.
	if newEntity != nil {
		if newEntity.EntityID() != id {
			return newErr(fmt.Errorf("incorrect entity ID after projection"), entityVersion)
		}

		if err := h.repo.Save(ctx, newEntity); err != nil {
			return newErr(fmt.Errorf("could not save: %w", err), entityVersion)
		}
	} else {
		if err := h.repo.Remove(ctx, id); err != nil && !errors.Is(err, em.ErrEntityNotFound) {
			return newErr(fmt.Errorf("could not remove: %w", err), entityVersion)
		}
	}

	return nil
}
