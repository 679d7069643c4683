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
	"log/slog"
	"sync"

	em "github.com/looplab/eventmachine"
)

// ErrAsyncClosed is when a commit is handed to a closed Async listener.
var ErrAsyncClosed = errors.New("async listener closed")

// DefaultQueueSize is the number of commits an Async listener buffers.
const DefaultQueueSize = 1024

// Async runs a commit listener on a goroutine of its own. Commits are queued
// in order and handled one at a time, a full queue blocks the committer until
// there is room or its context is done. Errors from the wrapped listener are
// logged and sent on the error channel.
type Async struct {
	listener em.CommitListener
	logger   *slog.Logger

	queue    chan item
	errCh    chan error
	closed   bool
	closedMu sync.RWMutex
	done     chan struct{}
}

type item struct {
	ctx    context.Context
	events []em.Event
	// Set for flush markers.
	flushed chan struct{}
}

var _ = em.CommitListener(&Async{})

// AsyncOption is an option setter used to configure creation.
type AsyncOption func(*Async)

// WithQueueSize sets the number of buffered commits.
func WithQueueSize(size int) AsyncOption {
	return func(a *Async) {
		if size >= 0 {
			a.queue = make(chan item, size)
		}
	}
}

// WithAsyncLogger sets the logger used for listener errors.
func WithAsyncLogger(logger *slog.Logger) AsyncOption {
	return func(a *Async) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAsync creates a new Async listener and starts handling commits.
func NewAsync(listener em.CommitListener, options ...AsyncOption) *Async {
	a := &Async{
		listener: listener,
		logger:   slog.Default(),
		queue:    make(chan item, DefaultQueueSize),
		errCh:    make(chan error, 1),
		done:     make(chan struct{}),
	}

	for _, option := range options {
		option(a)
	}

	go a.run()

	return a
}

// ListenerName implements the ListenerName method of the
// eventmachine.CommitListener interface.
func (a *Async) ListenerName() string {
	return a.listener.ListenerName() + "_async"
}

// HandleCommit implements the HandleCommit method of the
// eventmachine.CommitListener interface. It only queues the commit.
func (a *Async) HandleCommit(ctx context.Context, events []em.Event) error {
	if len(events) == 0 {
		return nil
	}

	return a.enqueue(ctx, item{
		ctx:    context.WithoutCancel(ctx),
		events: append([]em.Event(nil), events...),
	})
}

// Flush waits until all commits queued before the call have been handled.
func (a *Async) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	if err := a.enqueue(ctx, item{flushed: flushed}); err != nil {
		return err
	}

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Errors returns the error channel. Errors are dropped when nobody reads them.
func (a *Async) Errors() <-chan error {
	return a.errCh
}

// Close stops accepting commits and waits for the queued ones to be handled.
func (a *Async) Close() error {
	a.closedMu.Lock()
	if a.closed {
		a.closedMu.Unlock()
		return nil
	}

	a.closed = true
	close(a.queue)
	a.closedMu.Unlock()

	<-a.done

	return nil
}

func (a *Async) enqueue(ctx context.Context, i item) error {
	a.closedMu.RLock()
	defer a.closedMu.RUnlock()

	if a.closed {
		return ErrAsyncClosed
	}

	select {
	case a.queue <- i:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) run() {
	defer close(a.done)

	for i := range a.queue {
		if i.flushed != nil {
			close(i.flushed)
			continue
		}

		if err := a.listener.HandleCommit(i.ctx, i.events); err != nil {
			a.logger.ErrorContext(i.ctx, "async commit listener failed",
				slog.String("listener", a.listener.ListenerName()),
				slog.String("aggregate_id", i.events[0].AggregateID()),
				slog.Any("error", err),
			)

			select {
			case a.errCh <- err:
			default:
			}
		}
	}
}
