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

// Package retry wraps an event store and retries operations that fail with
// transient storage errors.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"

	em "github.com/looplab/eventmachine"
)

// DefaultMaxAttempts is the default number of attempts for an operation.
const DefaultMaxAttempts = 5

// EventStore is an eventmachine.EventStore that retries transient failures
// with an exponential backoff. Only errors marked with eventmachine.MarkTransient
// are retried, a concurrency conflict is never retried here.
type EventStore struct {
	em.EventStore
	maxAttempts int
	min, max    time.Duration
	logger      *slog.Logger
}

// NewEventStore creates a new EventStore wrapping another store.
func NewEventStore(eventStore em.EventStore, options ...Option) (*EventStore, error) {
	if eventStore == nil {
		return nil, fmt.Errorf("missing event store")
	}

	s := &EventStore{
		EventStore:  eventStore,
		maxAttempts: DefaultMaxAttempts,
		min:         10 * time.Millisecond,
		max:         time.Second,
		logger:      slog.New(slog.DiscardHandler),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	return s, nil
}

// Option is an option setter used to configure creation.
type Option func(*EventStore) error

// WithMaxAttempts sets the number of attempts, including the first one.
func WithMaxAttempts(n int) Option {
	return func(s *EventStore) error {
		if n < 1 {
			return fmt.Errorf("max attempts must be at least 1: %d", n)
		}

		s.maxAttempts = n

		return nil
	}
}

// WithBackoff sets the first and the longest delay between attempts.
func WithBackoff(min, max time.Duration) Option {
	return func(s *EventStore) error {
		if min <= 0 || max < min {
			return fmt.Errorf("invalid backoff: %s - %s", min, max)
		}

		s.min, s.max = min, max

		return nil
	}
}

// WithLogger sets the logger used for retried attempts.
func WithLogger(logger *slog.Logger) Option {
	return func(s *EventStore) error {
		if logger != nil {
			s.logger = logger
		}

		return nil
	}
}

// AddCommitListener implements the AddCommitListener method of the
// eventmachine.CommitNotifier interface, if the inner store is one.
func (s *EventStore) AddCommitListener(l em.CommitListener, policy em.ListenerPolicy) error {
	n, ok := s.EventStore.(em.CommitNotifier)
	if !ok {
		return fmt.Errorf("event store %T has no commit listeners", s.EventStore)
	}

	return n.AddCommitListener(l, policy)
}

// Save implements the Save method of the eventmachine.EventStore interface.
func (s *EventStore) Save(ctx context.Context, events []em.Event, originalVersion int) error {
	return s.do(ctx, em.EventStoreOpSave, func() error {
		return s.EventStore.Save(ctx, events, originalVersion)
	})
}

// Load implements the Load method of the eventmachine.EventStore interface.
func (s *EventStore) Load(ctx context.Context, id string) ([]em.Event, error) {
	var events []em.Event

	err := s.do(ctx, em.EventStoreOpLoad, func() (err error) {
		events, err = s.EventStore.Load(ctx, id)
		return
	})

	return events, err
}

// LoadFrom implements the LoadFrom method of the eventmachine.EventStore interface.
func (s *EventStore) LoadFrom(ctx context.Context, id string, version int) ([]em.Event, error) {
	var events []em.Event

	err := s.do(ctx, em.EventStoreOpLoad, func() (err error) {
		events, err = s.EventStore.LoadFrom(ctx, id, version)
		return
	})

	return events, err
}

// LoadAll implements the LoadAll method of the eventmachine.EventStore interface.
func (s *EventStore) LoadAll(ctx context.Context, afterPosition int64, limit int) ([]em.Event, error) {
	var events []em.Event

	err := s.do(ctx, em.EventStoreOpLoadAll, func() (err error) {
		events, err = s.EventStore.LoadAll(ctx, afterPosition, limit)
		return
	})

	return events, err
}

func (s *EventStore) do(ctx context.Context, op em.EventStoreOperation, f func() error) error {
	b := &backoff.Backoff{
		Min:    s.min,
		Max:    s.max,
		Factor: 2,
		Jitter: true,
	}

	for {
		err := f()
		if err == nil || !em.IsTransient(err) {
			return err
		}

		attempt := int(b.Attempt()) + 1
		if attempt >= s.maxAttempts {
			return &em.EventStoreError{
				Err:     fmt.Errorf("%w: gave up after %d attempts", em.ErrStorageUnavailable, attempt),
				BaseErr: err,
				Op:      op,
			}
		}

		delay := b.Duration()

		s.logger.WarnContext(ctx, "retrying event store operation",
			slog.String("op", string(op)),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &em.EventStoreError{
				Err:     ctx.Err(),
				BaseErr: err,
				Op:      op,
			}
		}
	}
}
