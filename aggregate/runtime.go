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
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/schema"
	"github.com/looplab/eventmachine/uuid"
)

// DefaultMaxRetries is the default number of times a command is handled
// again after a concurrency conflict.
const DefaultMaxRetries = 3

var (
	// ErrNilEventStore is when a runtime is created with a nil event store.
	ErrNilEventStore = errors.New("event store is nil")
	// ErrNilDescription is when a command is executed without description.
	ErrNilDescription = errors.New("aggregate description is nil")
	// ErrUnknownAggregate is when an aggregate type is not registered.
	ErrUnknownAggregate = errors.New("unknown aggregate type")
	// ErrAggregateAlreadyRegistered is when an aggregate type is registered twice.
	ErrAggregateAlreadyRegistered = errors.New("aggregate type is already registered")
)

// Runtime handles commands for aggregates. For every command it loads the
// aggregate stream, folds it into the current state, runs the command
// handler and appends the decided events with the loaded version as the
// expected version. Concurrency conflicts are retried a bounded number of
// times, unless the command carries its own expected version.
type Runtime struct {
	store        em.EventStore
	registry     *schema.Registry
	descriptions map[em.AggregateType]*Description
	descMu       sync.RWMutex
	maxRetries   int
	logger       *slog.Logger
	clock        func() time.Time
	observer     PhaseObserver
}

// NewRuntime creates a new Runtime. Yielded events are validated with the
// registry, using the event type as schema name, unless it is nil.
func NewRuntime(store em.EventStore, registry *schema.Registry, options ...Option) (*Runtime, error) {
	if store == nil {
		return nil, ErrNilEventStore
	}

	r := &Runtime{
		store:        store,
		registry:     registry,
		descriptions: map[em.AggregateType]*Description{},
		maxRetries:   DefaultMaxRetries,
		logger:       slog.New(slog.DiscardHandler),
		clock:        time.Now,
	}

	for _, option := range options {
		if err := option(r); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	return r, nil
}

// Option is an option setter used to configure creation.
type Option func(*Runtime) error

// WithMaxRetries sets how many times a command is handled again after a
// concurrency conflict, 0 disables retries.
func WithMaxRetries(n int) Option {
	return func(r *Runtime) error {
		if n < 0 {
			return fmt.Errorf("negative max retries: %d", n)
		}

		r.maxRetries = n

		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) error {
		if logger != nil {
			r.logger = logger
		}

		return nil
	}
}

// WithClock sets the clock used for event timestamps.
func WithClock(clock func() time.Time) Option {
	return func(r *Runtime) error {
		if clock == nil {
			return fmt.Errorf("missing clock")
		}

		r.clock = clock

		return nil
	}
}

// WithPhaseObserver sets an observer of the handling phases.
func WithPhaseObserver(o PhaseObserver) Option {
	return func(r *Runtime) error {
		r.observer = o
		return nil
	}
}

// Store returns the event store of the runtime.
func (r *Runtime) Store() em.EventStore {
	return r.store
}

// Register registers an aggregate description, for use with State.
func (r *Runtime) Register(d *Description) error {
	if d == nil {
		return ErrNilDescription
	}

	if err := d.Err(); err != nil {
		return err
	}

	r.descMu.Lock()
	defer r.descMu.Unlock()

	if _, ok := r.descriptions[d.AggregateType()]; ok {
		return fmt.Errorf("%w: %s", ErrAggregateAlreadyRegistered, d.AggregateType())
	}

	r.descriptions[d.AggregateType()] = d

	return nil
}

// Description returns the registered description of an aggregate type.
func (r *Runtime) Description(aggregateType em.AggregateType) (*Description, bool) {
	r.descMu.RLock()
	defer r.descMu.RUnlock()

	d, ok := r.descriptions[aggregateType]

	return d, ok
}

// State returns the current state and version of an aggregate.
func (r *Runtime) State(ctx context.Context, aggregateType em.AggregateType, id string) (interface{}, int, error) {
	d, ok := r.Description(aggregateType)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownAggregate, aggregateType)
	}

	events, err := r.store.Load(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	state, version, err := Fold(d, events)
	if err != nil {
		r.logDrift(ctx, err)
		return nil, 0, err
	}

	return state, version, nil
}

// Execute handles a command for an aggregate of the description.
func (r *Runtime) Execute(ctx context.Context, d *Description, cmd em.Command) (em.CommandResult, error) {
	if d == nil {
		return em.CommandResult{}, ErrNilDescription
	}

	h, ok := d.Handler(cmd.CommandType())
	if !ok {
		return em.CommandResult{}, fmt.Errorf("%w: %s for %s",
			em.ErrUnroutableCommand, cmd.CommandType(), d.AggregateType())
	}

	if cmd.AggregateID() == "" {
		return em.CommandResult{}, fmt.Errorf("%s: %w", cmd.CommandType(), em.ErrMissingAggregateID)
	}

	r.observe(ctx, cmd, Initial)

	_, hasExpected := cmd.ExpectedVersion()

	for attempt := 0; ; attempt++ {
		res, err := r.execute(ctx, d, h, cmd)
		if err == nil {
			r.observe(ctx, cmd, Committed)
			return res, nil
		}

		switch {
		case errors.Is(err, em.ErrBusinessRule):
			r.observe(ctx, cmd, Rejected)
			return em.CommandResult{}, err
		case !errors.Is(err, em.ErrConcurrencyConflict):
			r.logDrift(ctx, err)
			r.observe(ctx, cmd, Failed)

			return em.CommandResult{}, err
		}

		r.observe(ctx, cmd, ConcurrencyRetryable)

		// A stale expected version from the caller can not be fixed here.
		if hasExpected || attempt >= r.maxRetries {
			r.observe(ctx, cmd, Failed)
			return em.CommandResult{}, err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			r.observe(ctx, cmd, Failed)
			return em.CommandResult{}, err
		}

		r.logger.DebugContext(ctx, "retrying command after concurrency conflict",
			slog.String("command_type", cmd.CommandType().String()),
			slog.String("aggregate_id", cmd.AggregateID()),
			slog.Int("attempt", attempt+1),
		)
	}
}

func (r *Runtime) execute(ctx context.Context, d *Description, h HandlerFunc, cmd em.Command) (em.CommandResult, error) {
	id := cmd.AggregateID()

	r.observe(ctx, cmd, Loading)

	events, err := r.store.Load(ctx, id)
	if err != nil {
		return em.CommandResult{}, err
	}

	r.observe(ctx, cmd, Replaying)

	state, version, err := Fold(d, events)
	if err != nil {
		return em.CommandResult{}, err
	}

	if expected, ok := cmd.ExpectedVersion(); ok && expected != version {
		return em.CommandResult{}, &em.EventStoreError{
			Err:              em.ErrConcurrencyConflict,
			Op:               em.EventStoreOpLoad,
			AggregateType:    d.AggregateType(),
			AggregateID:      id,
			AggregateVersion: version,
		}
	}

	r.observe(ctx, cmd, HandlerExecuting)

	yields, err := h(ctx, state, cmd)
	if err != nil {
		return em.CommandResult{}, err
	}

	if len(yields) == 0 {
		return em.CommandResult{
			AggregateID: id,
			Version:     version,
			Events:      []em.Event{},
		}, nil
	}

	newEvents, err := r.events(d, id, version, cmd, yields)
	if err != nil {
		return em.CommandResult{}, err
	}

	// The new events must apply, or the stream could not be loaded again.
	if _, _, err := FoldFrom(d, state, version, newEvents); err != nil {
		return em.CommandResult{}, err
	}

	r.observe(ctx, cmd, Committing)

	if err := r.store.Save(ctx, newEvents, version); err != nil {
		return em.CommandResult{}, err
	}

	return em.CommandResult{
		AggregateID: id,
		Version:     version + len(newEvents),
		Events:      newEvents,
	}, nil
}

func (r *Runtime) events(d *Description, id string, version int, cmd em.Command, yields []Yield) ([]em.Event, error) {
	now := r.clock()
	events := make([]em.Event, len(yields))

	for i, y := range yields {
		payload := y.Payload

		if r.registry != nil {
			p, err := r.registry.Validate(y.EventType.String(), payload)
			if err != nil {
				return nil, fmt.Errorf("event %s from %s: %w", y.EventType, cmd.CommandType(), err)
			}

			payload = p
		}

		events[i] = em.NewEvent(y.EventType, payload, now,
			em.ForAggregate(d.AggregateType(), id, version+i+1),
			em.WithEventID(uuid.New()),
			em.WithMetadata(maps.Clone(cmd.Metadata())),
		)
	}

	return events, nil
}

func (r *Runtime) observe(ctx context.Context, cmd em.Command, phase Phase) {
	if r.observer != nil {
		r.observer(ctx, cmd, phase)
	}
}

func (r *Runtime) logDrift(ctx context.Context, err error) {
	var drift *em.EventTypeDriftError
	if !errors.As(err, &drift) {
		return
	}

	r.logger.ErrorContext(ctx, "event type drift, aggregate can not be loaded",
		slog.String("aggregate_type", drift.AggregateType.String()),
		slog.String("aggregate_id", drift.AggregateID),
		slog.String("event_type", drift.EventType.String()),
		slog.Int("version", drift.Version),
	)
}
