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

// Package aggregate is the runtime of event sourced aggregates. An aggregate
// is described by its command handlers and event apply functions, its state
// is rebuilt by folding its event stream before every command.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	em "github.com/looplab/eventmachine"
)

// ErrHandlerAlreadySet is when a handler is already registered for a command type.
var ErrHandlerAlreadySet = errors.New("handler is already set")

// ErrApplyAlreadySet is when an apply function is already registered for an event type.
var ErrApplyAlreadySet = errors.New("apply function is already set")

// ErrInvalidState is when a typed handler or apply function gets a state of
// another type.
var ErrInvalidState = errors.New("invalid aggregate state")

// Yield is an event decided by a command handler, before it is stored.
type Yield struct {
	EventType em.EventType
	Payload   em.Payload
}

// NewYield creates a Yield.
func NewYield(eventType em.EventType, payload em.Payload) Yield {
	return Yield{EventType: eventType, Payload: payload}
}

// HandlerFunc handles a command against the current state of an aggregate.
// It returns the decided events, or a *eventmachine.BusinessRuleViolation
// to reject the command. Handlers must not change the state.
type HandlerFunc func(ctx context.Context, state interface{}, cmd em.Command) ([]Yield, error)

// ApplyFunc applies an event to a state and returns the new state. It must
// be pure and deterministic, it is called for every event of a stream each
// time the aggregate is loaded.
type ApplyFunc func(state interface{}, event em.Event) (interface{}, error)

// Description describes an aggregate type: its initial state, the commands
// it handles and the events it applies.
type Description struct {
	aggregateType em.AggregateType
	initialState  func() interface{}
	handlers      map[em.CommandType]HandlerFunc
	appliers      map[em.EventType]ApplyFunc
	err           error
}

// NewDescription creates a Description of an aggregate type. The initial
// state function is called for every replay and must return a new value.
func NewDescription(aggregateType em.AggregateType, initialState func() interface{}) *Description {
	if initialState == nil {
		initialState = func() interface{} { return nil }
	}

	return &Description{
		aggregateType: aggregateType,
		initialState:  initialState,
		handlers:      map[em.CommandType]HandlerFunc{},
		appliers:      map[em.EventType]ApplyFunc{},
	}
}

// Handle registers the handler of a command type. Registration errors are
// kept and returned by Err.
func (d *Description) Handle(commandType em.CommandType, h HandlerFunc) *Description {
	if _, ok := d.handlers[commandType]; ok {
		d.setErr(fmt.Errorf("%w: %s", ErrHandlerAlreadySet, commandType))
		return d
	}

	d.handlers[commandType] = h

	return d
}

// Apply registers the apply function of an event type. Registration errors
// are kept and returned by Err.
func (d *Description) Apply(eventType em.EventType, f ApplyFunc) *Description {
	if _, ok := d.appliers[eventType]; ok {
		d.setErr(fmt.Errorf("%w: %s", ErrApplyAlreadySet, eventType))
		return d
	}

	d.appliers[eventType] = f

	return d
}

func (d *Description) setErr(err error) {
	if d.err == nil {
		d.err = err
	}
}

// Err returns the first registration error, if any.
func (d *Description) Err() error {
	if d.err != nil {
		return fmt.Errorf("aggregate %s: %w", d.aggregateType, d.err)
	}

	return nil
}

// AggregateType returns the aggregate type.
func (d *Description) AggregateType() em.AggregateType {
	return d.aggregateType
}

// InitialState returns a new initial state.
func (d *Description) InitialState() interface{} {
	return d.initialState()
}

// Handler returns the handler of a command type.
func (d *Description) Handler(commandType em.CommandType) (HandlerFunc, bool) {
	h, ok := d.handlers[commandType]
	return h, ok
}

// CommandTypes returns the handled command types, sorted.
func (d *Description) CommandTypes() []em.CommandType {
	types := make([]em.CommandType, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}

// EventTypes returns the applied event types, sorted.
func (d *Description) EventTypes() []em.EventType {
	types := make([]em.EventType, 0, len(d.appliers))
	for t := range d.appliers {
		types = append(types, t)
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}

// HandleTyped registers a handler using a typed state.
func HandleTyped[S any](d *Description, commandType em.CommandType, h func(ctx context.Context, state S, cmd em.Command) ([]Yield, error)) *Description {
	return d.Handle(commandType, func(ctx context.Context, state interface{}, cmd em.Command) ([]Yield, error) {
		s, ok := state.(S)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrInvalidState, state)
		}

		return h(ctx, s, cmd)
	})
}

// ApplyTyped registers an apply function using a typed state.
func ApplyTyped[S any](d *Description, eventType em.EventType, f func(state S, event em.Event) (S, error)) *Description {
	return d.Apply(eventType, func(state interface{}, event em.Event) (interface{}, error) {
		s, ok := state.(S)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrInvalidState, state)
		}

		return f(s, event)
	})
}
