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

// Package machine wires a schema registry, aggregate descriptions, queries
// and commit listeners into one immutable Machine. Everything is registered
// explicitly on a Builder; there is no global state.
package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/aggregate"
	"github.com/looplab/eventmachine/commandbus"
	"github.com/looplab/eventmachine/middleware/commandhandler/lock"
	"github.com/looplab/eventmachine/query"
	"github.com/looplab/eventmachine/schema"
)

var (
	// ErrNilStore is when building without an event store.
	ErrNilStore = errors.New("missing event store")
	// ErrMissingType is when an aggregate handles a command or applies an
	// event that has no registered schema type.
	ErrMissingType = errors.New("missing schema type")
	// ErrListenersNotSupported is when commit listeners are added but the
	// store does not accept them.
	ErrListenersNotSupported = errors.New("event store does not support commit listeners")
	// ErrAlreadyBuilt is when Build is called more than once on a builder.
	ErrAlreadyBuilt = errors.New("machine already built")
)

// HealthCheckType is the query and schema name of the built in health check.
const HealthCheckType = "HealthCheck"

// Builder collects the parts of a Machine.
type Builder struct {
	registry          *schema.Registry
	aggregates        []*aggregate.Description
	queries           []queryFactory
	listeners         []listenerConfig
	commandMiddleware []em.CommandHandlerMiddleware
	queryMiddleware   []query.Middleware
	runtimeOptions    []aggregate.Option
	lock              lock.Lock
	logger            *slog.Logger
	built             bool
	err               error
}

// queryFactory creates a query definition once the runtime and store exist.
type queryFactory func(rt *aggregate.Runtime, store em.EventStore) query.Definition

type listenerConfig struct {
	listener em.CommitListener
	policy   em.ListenerPolicy
}

// Option is an option setter used to configure a builder.
type Option func(*Builder) error

// NewBuilder creates a new Builder. Option errors are returned by Build.
func NewBuilder(options ...Option) *Builder {
	b := &Builder{
		registry: schema.NewRegistry(),
		logger:   slog.New(slog.DiscardHandler),
	}

	for _, option := range options {
		if err := option(b); err != nil {
			b.setErr(fmt.Errorf("error while applying option: %w", err))
		}
	}

	return b
}

// WithRegistry uses a registry that may already hold types. It must not be
// frozen.
func WithRegistry(r *schema.Registry) Option {
	return func(b *Builder) error {
		if r == nil {
			return fmt.Errorf("missing registry")
		}

		if r.Frozen() {
			return schema.ErrFrozen
		}

		b.registry = r

		return nil
	}
}

// WithLogger sets the logger for all components of the machine.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) error {
		if logger == nil {
			return fmt.Errorf("missing logger")
		}

		b.logger = logger

		return nil
	}
}

// WithLock sets the per aggregate lock of the command bus, for example a
// lock.RedisLock when several processes share a store.
func WithLock(l lock.Lock) Option {
	return func(b *Builder) error {
		if l == nil {
			return fmt.Errorf("missing lock")
		}

		b.lock = l

		return nil
	}
}

// WithRuntimeOptions adds options for the aggregate runtime.
func WithRuntimeOptions(options ...aggregate.Option) Option {
	return func(b *Builder) error {
		b.runtimeOptions = append(b.runtimeOptions, options...)
		return nil
	}
}

func (b *Builder) setErr(err error) {
	b.err = errors.Join(b.err, err)
}

// Registry returns the registry that types are registered in.
func (b *Builder) Registry() *schema.Registry {
	return b.registry
}

// Type registers a named schema type.
func (b *Builder) Type(name string, t *schema.Type) *Builder {
	if err := b.registry.Register(name, t); err != nil {
		b.setErr(err)
	}

	return b
}

// Aggregate adds an aggregate description, its command types are routed to
// it when the machine is built.
func (b *Builder) Aggregate(d *aggregate.Description) *Builder {
	if d == nil {
		b.setErr(aggregate.ErrNilDescription)
		return b
	}

	b.aggregates = append(b.aggregates, d)

	return b
}

// Query adds a query definition.
func (b *Builder) Query(def query.Definition) *Builder {
	b.queries = append(b.queries, func(*aggregate.Runtime, em.EventStore) query.Definition {
		return def
	})

	return b
}

// ReplayQuery adds a query that is answered by replaying the events of one
// aggregate, see query.ReplayResolver.
func (b *Builder) ReplayQuery(queryType em.QueryType, returnType, paramType string,
	aggregateType em.AggregateType, idParam string, render query.RenderFunc, options ...query.ReplayOption) *Builder {
	b.queries = append(b.queries, func(rt *aggregate.Runtime, _ em.EventStore) query.Definition {
		return query.Definition{
			Type:       queryType,
			ReturnType: returnType,
			ParamType:  paramType,
			Resolver:   query.ReplayResolver(rt, aggregateType, idParam, render, options...),
		}
	})

	return b
}

// HealthCheck registers the HealthCheck type and query. The query reads the
// head of the global event stream and reports {"system": true} when the
// store answers.
func (b *Builder) HealthCheck() *Builder {
	b.Type(HealthCheckType, schema.Object(schema.Fields{
		"system": schema.Boolean(),
	}))

	b.queries = append(b.queries, func(_ *aggregate.Runtime, store em.EventStore) query.Definition {
		return query.Definition{
			Type:       HealthCheckType,
			ReturnType: HealthCheckType,
			Resolver: query.ResolverFunc(func(ctx context.Context, _ em.Payload) (em.Payload, error) {
				if _, err := store.LoadAll(ctx, 0, 1); err != nil {
					return nil, fmt.Errorf("health check: %w", err)
				}

				return em.Payload{"system": true}, nil
			}),
		}
	})

	return b
}

// CommitListener adds a commit listener with a policy. Listeners are
// invoked in the order they are added.
func (b *Builder) CommitListener(l em.CommitListener, policy em.ListenerPolicy) *Builder {
	if l == nil {
		b.setErr(fmt.Errorf("missing commit listener"))
		return b
	}

	b.listeners = append(b.listeners, listenerConfig{listener: l, policy: policy})

	return b
}

// CommandMiddleware adds middleware around command dispatching, the first
// one is the outermost.
func (b *Builder) CommandMiddleware(m ...em.CommandHandlerMiddleware) *Builder {
	b.commandMiddleware = append(b.commandMiddleware, m...)
	return b
}

// QueryMiddleware adds middleware around query handling, the first one is
// the outermost.
func (b *Builder) QueryMiddleware(m ...query.Middleware) *Builder {
	b.queryMiddleware = append(b.queryMiddleware, m...)
	return b
}

// Build freezes the registry and creates the machine on top of the store.
// The store must implement em.CommitNotifier if any listeners were added.
func (b *Builder) Build(store em.EventStore) (*Machine, error) {
	if b.err != nil {
		return nil, b.err
	}

	if b.built {
		return nil, ErrAlreadyBuilt
	}

	if store == nil {
		return nil, ErrNilStore
	}

	for _, d := range b.aggregates {
		if err := b.checkTypes(d); err != nil {
			return nil, err
		}
	}

	if err := b.registry.Freeze(); err != nil {
		return nil, fmt.Errorf("could not freeze registry: %w", err)
	}

	if len(b.listeners) > 0 {
		notifier, ok := store.(em.CommitNotifier)
		if !ok {
			return nil, ErrListenersNotSupported
		}

		for _, l := range b.listeners {
			if err := notifier.AddCommitListener(l.listener, l.policy); err != nil {
				return nil, fmt.Errorf("could not add commit listener %s: %w", l.listener.ListenerName(), err)
			}
		}
	}

	rt, err := aggregate.NewRuntime(store, b.registry,
		append([]aggregate.Option{aggregate.WithLogger(b.logger)}, b.runtimeOptions...)...)
	if err != nil {
		return nil, fmt.Errorf("could not create runtime: %w", err)
	}

	busOptions := []commandbus.Option{
		commandbus.WithLogger(b.logger),
		commandbus.WithMiddleware(b.commandMiddleware...),
	}
	if b.lock != nil {
		busOptions = append(busOptions, commandbus.WithLock(b.lock))
	}

	bus, err := commandbus.NewBus(rt, b.registry, busOptions...)
	if err != nil {
		return nil, fmt.Errorf("could not create command bus: %w", err)
	}

	for _, d := range b.aggregates {
		if err := bus.Route(d); err != nil {
			return nil, fmt.Errorf("could not route %s: %w", d.AggregateType(), err)
		}
	}

	queries, err := query.NewService(b.registry,
		query.WithLogger(b.logger),
		query.WithMiddleware(b.queryMiddleware...),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create query service: %w", err)
	}

	for _, f := range b.queries {
		if err := queries.Register(f(rt, store)); err != nil {
			return nil, err
		}
	}

	b.built = true

	b.logger.Info("machine built",
		slog.Int("types", len(b.registry.Names())),
		slog.Int("aggregates", len(b.aggregates)),
		slog.Int("queries", len(b.queries)),
		slog.Int("listeners", len(b.listeners)),
	)

	return &Machine{
		registry: b.registry,
		store:    store,
		runtime:  rt,
		bus:      bus,
		queries:  queries,
	}, nil
}

// checkTypes checks that every command and event of an aggregate has a
// schema type.
func (b *Builder) checkTypes(d *aggregate.Description) error {
	if err := d.Err(); err != nil {
		return err
	}

	for _, t := range d.CommandTypes() {
		if !b.registry.Has(t.String()) {
			return fmt.Errorf("%w: command %s of %s", ErrMissingType, t, d.AggregateType())
		}
	}

	for _, t := range d.EventTypes() {
		if !b.registry.Has(t.String()) {
			return fmt.Errorf("%w: event %s of %s", ErrMissingType, t, d.AggregateType())
		}
	}

	return nil
}
