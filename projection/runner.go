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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"

	em "github.com/looplab/eventmachine"
)

// ErrNoStore is when a Runner is created without an event store.
var ErrNoStore = errors.New("no event store")

// DefaultBatchSize is the number of events a Runner loads at a time.
const DefaultBatchSize = 100

// Runner catches up a commit listener with the global commit order of an event
// store. The position of the last handled event is kept in a CheckpointStore,
// so a restarted Runner continues where it left off. Events are handed to the
// listener grouped by aggregate, the way they were committed.
type Runner struct {
	store       em.EventStore
	listener    em.CommitListener
	checkpoints CheckpointStore
	batchSize   int
	logger      *slog.Logger

	// Serializes catch ups from schedules and direct calls.
	mu sync.Mutex
}

// RunnerOption is an option setter used to configure creation.
type RunnerOption func(*Runner) error

// WithCheckpoints sets the store of checkpoints, in memory by default.
func WithCheckpoints(checkpoints CheckpointStore) RunnerOption {
	return func(r *Runner) error {
		if checkpoints == nil {
			return fmt.Errorf("missing checkpoint store")
		}

		r.checkpoints = checkpoints

		return nil
	}
}

// WithBatchSize sets the number of events loaded at a time.
func WithBatchSize(size int) RunnerOption {
	return func(r *Runner) error {
		if size < 1 {
			return fmt.Errorf("invalid batch size %d", size)
		}

		r.batchSize = size

		return nil
	}
}

// WithRunnerLogger sets the logger of the Runner.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) error {
		if logger == nil {
			return fmt.Errorf("missing logger")
		}

		r.logger = logger

		return nil
	}
}

// NewRunner creates a new Runner.
func NewRunner(store em.EventStore, listener em.CommitListener, options ...RunnerOption) (*Runner, error) {
	if store == nil {
		return nil, ErrNoStore
	}

	r := &Runner{
		store:       store,
		listener:    listener,
		checkpoints: NewMemoryCheckpoints(),
		batchSize:   DefaultBatchSize,
		logger:      slog.Default(),
	}

	for _, option := range options {
		if err := option(r); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	return r, nil
}

// CatchUp hands all events after the checkpoint to the listener and returns
// the number of handled events. The checkpoint is moved after every handled
// commit; on error the failing commit will be retried by the next CatchUp.
func (r *Runner) CatchUp(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := r.listener.ListenerName()

	position, err := r.checkpoints.Checkpoint(ctx, name)
	if err != nil {
		return 0, err
	}

	handled := 0

	for {
		events, err := r.store.LoadAll(ctx, position, r.batchSize)
		if err != nil {
			return handled, fmt.Errorf("could not load events: %w", err)
		}

		if len(events) == 0 {
			return handled, nil
		}

		for _, commit := range groupByAggregate(events) {
			if err := r.listener.HandleCommit(ctx, commit); err != nil {
				return handled, &em.CommitListenerError{
					Err:      err,
					Listener: name,
					Policy:   em.AfterCommit,
				}
			}

			position = commit[len(commit)-1].Position()
			if err := r.checkpoints.SetCheckpoint(ctx, name, position); err != nil {
				return handled, err
			}

			handled += len(commit)
		}

		if len(events) < r.batchSize {
			return handled, nil
		}
	}
}

// Schedule runs CatchUp on regular intervals, using a line in the crontab
// format to setup the timing. Cancelling the context stops the schedule.
// It uses the cron syntax from https://github.com/gorhill/cronexpr.
func (r *Runner) Schedule(ctx context.Context, cronLine string) error {
	expr, err := cronexpr.Parse(cronLine)
	if err != nil {
		return fmt.Errorf("could not parse schedule: %w", err)
	}

	go func() {
		for {
			nextTime := expr.Next(time.Now())
			if nextTime.IsZero() {
				return
			}

			select {
			case <-time.After(time.Until(nextTime)):
				n, err := r.CatchUp(ctx)
				if err != nil {
					r.logger.ErrorContext(ctx, "projection catch up failed",
						slog.String("listener", r.listener.ListenerName()),
						slog.Any("error", err),
					)
				} else if n > 0 {
					r.logger.DebugContext(ctx, "projection caught up",
						slog.String("listener", r.listener.ListenerName()),
						slog.Int("events", n),
					)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// groupByAggregate splits events into runs of the same aggregate.
func groupByAggregate(events []em.Event) [][]em.Event {
	var commits [][]em.Event

	start := 0

	for i := 1; i <= len(events); i++ {
		if i == len(events) ||
			events[i].AggregateID() != events[start].AggregateID() ||
			events[i].AggregateType() != events[start].AggregateType() {
			commits = append(commits, events[start:i])
			start = i
		}
	}

	return commits
}
