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

// Package commandbus routes commands to the aggregates that handle them.
package commandbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/aggregate"
	"github.com/looplab/eventmachine/middleware/commandhandler/lock"
	"github.com/looplab/eventmachine/schema"
)

var (
	// ErrHandlerAlreadySet is when a handler is already registered for a command.
	ErrHandlerAlreadySet = errors.New("handler is already set")
	// ErrNilRuntime is when a bus is created with a nil aggregate runtime.
	ErrNilRuntime = errors.New("aggregate runtime is nil")
)

// Bus is a command handler that validates commands and routes them to the
// registered handlers, most often aggregates of an aggregate runtime.
//
// Commands for the same aggregate ID are handled one at a time, using a
// lock. Commands for different aggregates are handled concurrently.
type Bus struct {
	runtime     *aggregate.Runtime
	registry    *schema.Registry
	handlers    map[em.CommandType]em.CommandHandler
	handlersMu  sync.RWMutex
	lock        lock.Lock
	middlewares []em.CommandHandlerMiddleware
	handler     em.CommandHandler
	logger      *slog.Logger
}

// NewBus creates a Bus. Command payloads are validated with the registry,
// using the command type as schema name, unless it is nil.
func NewBus(runtime *aggregate.Runtime, registry *schema.Registry, options ...Option) (*Bus, error) {
	if runtime == nil {
		return nil, ErrNilRuntime
	}

	b := &Bus{
		runtime:  runtime,
		registry: registry,
		handlers: map[em.CommandType]em.CommandHandler{},
		lock:     lock.NewLocalLock(),
		logger:   slog.New(slog.DiscardHandler),
	}

	for _, option := range options {
		if option == nil {
			continue
		}

		if err := option(b); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	b.handler = em.UseCommandHandlerMiddleware(em.CommandHandlerFunc(b.dispatch), b.middlewares...)

	return b, nil
}

// Option is an option setter used to configure creation.
type Option func(*Bus) error

// WithLock sets the lock used to serialize commands per aggregate. A nil
// lock disables it, concurrent commands then rely on the optimistic
// concurrency of the event store and the retries of the runtime.
func WithLock(l lock.Lock) Option {
	return func(b *Bus) error {
		b.lock = l
		return nil
	}
}

// WithMiddleware adds middlewares around the handling of every command, the
// first one is the outermost.
func WithMiddleware(m ...em.CommandHandlerMiddleware) Option {
	return func(b *Bus) error {
		b.middlewares = append(b.middlewares, m...)
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) error {
		if logger != nil {
			b.logger = logger
		}

		return nil
	}
}

// Route registers an aggregate description with the runtime and routes all
// its command types to it.
func (b *Bus) Route(d *aggregate.Description) error {
	if d == nil {
		return aggregate.ErrNilDescription
	}

	h := em.CommandHandlerFunc(func(ctx context.Context, cmd em.Command) (em.CommandResult, error) {
		return b.runtime.Execute(ctx, d, cmd)
	})

	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()

	// Check all first to not leave a partial route.
	for _, t := range d.CommandTypes() {
		if _, ok := b.handlers[t]; ok {
			return fmt.Errorf("%w: %s", ErrHandlerAlreadySet, t)
		}
	}

	if err := b.runtime.Register(d); err != nil {
		return err
	}

	for _, t := range d.CommandTypes() {
		b.handlers[t] = h
	}

	return nil
}

// SetHandler adds a handler for a specific command.
func (b *Bus) SetHandler(handler em.CommandHandler, cmdType em.CommandType) error {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()

	if _, ok := b.handlers[cmdType]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadySet, cmdType)
	}

	b.handlers[cmdType] = handler

	return nil
}

// Handles returns true if a handler is registered for the command type.
func (b *Bus) Handles(cmdType em.CommandType) bool {
	b.handlersMu.RLock()
	defer b.handlersMu.RUnlock()

	_, ok := b.handlers[cmdType]

	return ok
}

// HandleCommand implements the HandleCommand method of the
// eventmachine.CommandHandler interface. The command is handled exactly once
// per call, concurrency conflicts are retried inside the runtime.
func (b *Bus) HandleCommand(ctx context.Context, cmd em.Command) (em.CommandResult, error) {
	return b.handler.HandleCommand(ctx, cmd)
}

// Dispatch creates and handles a command.
func (b *Bus) Dispatch(ctx context.Context, cmdType em.CommandType, aggregateID string, payload em.Payload, options ...em.CommandOption) (em.CommandResult, error) {
	return b.HandleCommand(ctx, em.NewCommand(cmdType, aggregateID, payload, options...))
}

func (b *Bus) dispatch(ctx context.Context, cmd em.Command) (em.CommandResult, error) {
	b.handlersMu.RLock()
	handler, ok := b.handlers[cmd.CommandType()]
	b.handlersMu.RUnlock()

	if !ok {
		return em.CommandResult{}, fmt.Errorf("%w: %s", em.ErrUnroutableCommand, cmd.CommandType())
	}

	if b.registry != nil {
		if _, err := b.registry.Validate(cmd.CommandType().String(), cmd.Payload()); err != nil {
			b.logger.DebugContext(ctx, "invalid command",
				slog.String("command_type", cmd.CommandType().String()),
				slog.String("aggregate_id", cmd.AggregateID()),
				slog.Any("error", err),
			)

			return em.CommandResult{}, err
		}
	}

	if cmd.AggregateID() == "" {
		return em.CommandResult{}, fmt.Errorf("%s: %w", cmd.CommandType(), em.ErrMissingAggregateID)
	}

	if b.lock != nil {
		if err := b.lock.Lock(ctx, cmd.AggregateID()); err != nil {
			return em.CommandResult{}, fmt.Errorf("could not lock aggregate: %w", err)
		}

		defer func() {
			if err := b.lock.Unlock(context.WithoutCancel(ctx), cmd.AggregateID()); err != nil {
				b.logger.ErrorContext(ctx, "could not unlock aggregate",
					slog.String("aggregate_id", cmd.AggregateID()),
					slog.Any("error", err),
				)
			}
		}()
	}

	res, err := handler.HandleCommand(ctx, cmd)

	b.log(ctx, cmd, res, err)

	return res, err
}

func (b *Bus) log(ctx context.Context, cmd em.Command, res em.CommandResult, err error) {
	attrs := []slog.Attr{
		slog.String("command_type", cmd.CommandType().String()),
		slog.String("aggregate_id", cmd.AggregateID()),
	}

	switch {
	case err == nil:
		b.logger.LogAttrs(ctx, slog.LevelDebug, "command handled",
			append(attrs, slog.Int("version", res.Version), slog.Int("events", len(res.Events)))...)
	case errors.Is(err, em.ErrBusinessRule):
		b.logger.LogAttrs(ctx, slog.LevelInfo, "command rejected",
			append(attrs, slog.String("reason", err.Error()))...)
	case errors.Is(err, em.ErrEventTypeDrift):
		b.logger.LogAttrs(ctx, slog.LevelError, "command failed on event type drift",
			append(attrs, slog.Any("error", err))...)
	default:
		b.logger.LogAttrs(ctx, slog.LevelWarn, "command failed",
			append(attrs, slog.Any("error", err))...)
	}
}
