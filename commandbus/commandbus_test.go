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

package commandbus

import (
	"context"
	"errors"
	"sync"
	"testing"

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
	AccountType em.AggregateType = "Account"

	OpenAccount em.CommandType = "OpenAccount"
	Deposit     em.CommandType = "Deposit"

	AccountOpened em.EventType = "AccountOpened"
	Deposited     em.EventType = "Deposited"
)

type account struct {
	Open    bool
	Balance float64
}

func accountDescription() *aggregate.Description {
	d := aggregate.NewDescription(AccountType, func() interface{} { return account{} })

	aggregate.HandleTyped(d, OpenAccount, func(ctx context.Context, a account, cmd em.Command) ([]aggregate.Yield, error) {
		if a.Open {
			return nil, em.NewBusinessRuleViolation("account is already open")
		}

		return []aggregate.Yield{aggregate.NewYield(AccountOpened, em.Payload{"owner": cmd.Payload()["owner"]})}, nil
	})
	aggregate.HandleTyped(d, Deposit, func(ctx context.Context, a account, cmd em.Command) ([]aggregate.Yield, error) {
		if !a.Open {
			return nil, em.NewBusinessRuleViolation("account is not open")
		}

		return []aggregate.Yield{aggregate.NewYield(Deposited, em.Payload{"amount": cmd.Payload()["amount"]})}, nil
	})

	aggregate.ApplyTyped(d, AccountOpened, func(a account, e em.Event) (account, error) {
		a.Open = true
		return a, nil
	})
	aggregate.ApplyTyped(d, Deposited, func(a account, e em.Event) (account, error) {
		amount, _ := e.Data()["amount"].(float64)
		a.Balance += amount

		return a, nil
	})

	return d
}

func accountRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	r := schema.NewRegistry()
	r.MustRegister(string(OpenAccount), schema.Object(schema.Fields{
		"owner": schema.String().MinLength(1),
	}))
	r.MustRegister(string(Deposit), schema.Object(schema.Fields{
		"amount": schema.Number().Min(0),
	}))
	r.MustRegister(string(AccountOpened), schema.Object(schema.Fields{
		"owner": schema.String(),
	}))
	r.MustRegister(string(Deposited), schema.Object(schema.Fields{
		"amount": schema.Number(),
	}))
	require.NoError(t, r.Freeze())

	return r
}

func newTestBus(t *testing.T, runtimeOptions []aggregate.Option, options ...Option) (*Bus, *memory.EventStore) {
	t.Helper()

	store, err := memory.NewEventStore()
	require.NoError(t, err)

	registry := accountRegistry(t)

	runtime, err := aggregate.NewRuntime(store, registry, runtimeOptions...)
	require.NoError(t, err)

	bus, err := NewBus(runtime, registry, options...)
	require.NoError(t, err)
	require.NoError(t, bus.Route(accountDescription()))

	return bus, store
}

func TestBus(t *testing.T) {
	bus, store := newTestBus(t, nil)

	ctx := context.Background()
	id := uuid.NewString()

	res, err := bus.Dispatch(ctx, OpenAccount, id, em.Payload{"owner": "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)
	require.Len(t, res.Events, 1)
	assert.Equal(t, AccountOpened, res.Events[0].EventType())

	res, err = bus.Dispatch(ctx, Deposit, id, em.Payload{"amount": 10.0})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Version)

	events, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	assert.True(t, bus.Handles(Deposit))
	assert.False(t, bus.Handles("Withdraw"))
}

func TestBusErrors(t *testing.T) {
	bus, store := newTestBus(t, nil)

	ctx := context.Background()
	id := uuid.NewString()

	_, err := bus.Dispatch(ctx, "Withdraw", id, em.Payload{})
	assert.ErrorIs(t, err, em.ErrUnroutableCommand)

	// Missing field.
	_, err = bus.Dispatch(ctx, OpenAccount, id, em.Payload{})
	assert.ErrorIs(t, err, schema.ErrViolation)

	var violation *schema.Violation
	if assert.ErrorAs(t, err, &violation) {
		assert.Equal(t, "$.owner", violation.Path)
	}

	// Extra field.
	_, err = bus.Dispatch(ctx, OpenAccount, id, em.Payload{"owner": "alice", "admin": true})
	assert.ErrorIs(t, err, schema.ErrViolation)

	_, err = bus.Dispatch(ctx, Deposit, id, em.Payload{"amount": 10.0})
	assert.ErrorIs(t, err, em.ErrBusinessRule)

	_, err = bus.Dispatch(ctx, OpenAccount, "", em.Payload{"owner": "alice"})
	assert.ErrorIs(t, err, em.ErrMissingAggregateID)

	events, err := store.LoadAll(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, events, "nothing should be stored")
}

func TestBusRoutes(t *testing.T) {
	bus, _ := newTestBus(t, nil)

	err := bus.Route(accountDescription())
	assert.ErrorIs(t, err, ErrHandlerAlreadySet)

	err = bus.SetHandler(&mocks.CommandHandler{}, Deposit)
	assert.ErrorIs(t, err, ErrHandlerAlreadySet)

	handler := &mocks.CommandHandler{
		Result: em.CommandResult{Version: 7},
	}
	require.NoError(t, bus.SetHandler(handler, mocks.CommandType))

	// mocks.CommandType has no schema.
	_, err = bus.Dispatch(context.Background(), mocks.CommandType, uuid.NewString(), nil)
	assert.ErrorIs(t, err, schema.ErrUnknownType)

	_, err = NewBus(nil, nil)
	assert.ErrorIs(t, err, ErrNilRuntime)
}

func TestBusCustomHandler(t *testing.T) {
	runtime, err := aggregate.NewRuntime(&mocks.EventStore{}, nil)
	require.NoError(t, err)

	bus, err := NewBus(runtime, nil)
	require.NoError(t, err)

	handler := &mocks.CommandHandler{
		Result: em.CommandResult{Version: 7},
	}
	require.NoError(t, bus.SetHandler(handler, mocks.CommandType))

	ctx := mocks.WithContextOne(context.Background(), "one")
	cmd := em.NewCommand(mocks.CommandType, uuid.NewString(), mocks.Content("content"))

	res, err := bus.HandleCommand(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Version)
	assert.Equal(t, []em.Command{cmd}, handler.Commands)

	val, ok := mocks.ContextOne(handler.Context)
	assert.True(t, ok)
	assert.Equal(t, "one", val)

	handler.Err = errors.New("handler error")
	_, err = bus.HandleCommand(ctx, cmd)
	assert.ErrorIs(t, err, handler.Err)
}

func TestBusMiddleware(t *testing.T) {
	var (
		order []string
		mu    sync.Mutex
	)

	record := func(name string) em.CommandHandlerMiddleware {
		return func(h em.CommandHandler) em.CommandHandler {
			return em.CommandHandlerFunc(func(ctx context.Context, cmd em.Command) (em.CommandResult, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()

				return h.HandleCommand(ctx, cmd)
			})
		}
	}

	bus, _ := newTestBus(t, nil, WithMiddleware(record("outer"), record("inner")))

	res, err := bus.Dispatch(context.Background(), OpenAccount, uuid.NewString(), em.Payload{"owner": "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestBusSerializesAggregates(t *testing.T) {
	// Without retries, only the lock keeps concurrent commands from conflicting.
	bus, store := newTestBus(t, []aggregate.Option{aggregate.WithMaxRetries(0)})

	ctx := context.Background()
	id := uuid.NewString()

	_, err := bus.Dispatch(ctx, OpenAccount, id, em.Payload{"owner": "alice"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := bus.Dispatch(ctx, Deposit, id, em.Payload{"amount": 1.0}); err != nil {
				t.Error("there should be no error:", err)
			}
		}()
	}

	wg.Wait()

	events, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 11)

	for i, e := range events {
		assert.Equal(t, i+1, e.Version())
	}
}

func TestBusWithoutLock(t *testing.T) {
	bus, store := newTestBus(t, []aggregate.Option{aggregate.WithMaxRetries(50)}, WithLock(nil))

	ctx := context.Background()
	id := uuid.NewString()

	_, err := bus.Dispatch(ctx, OpenAccount, id, em.Payload{"owner": "alice"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := bus.Dispatch(ctx, Deposit, id, em.Payload{"amount": 1.0}); err != nil {
				t.Error("there should be no error:", err)
			}
		}()
	}

	wg.Wait()

	events, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Len(t, events, 6)
}
