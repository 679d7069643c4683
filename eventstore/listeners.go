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

// Package eventstore contains helpers shared by the event store
// implementations, and the acceptance test that all of them must pass.
package eventstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	em "github.com/looplab/eventmachine"
)

// ErrNilListener is when adding a nil commit listener.
var ErrNilListener = errors.New("missing commit listener")

type listener struct {
	l      em.CommitListener
	policy em.ListenerPolicy
}

// Listeners is an ordered list of commit listeners with their policies. The
// stores call InvokeInTX inside their transaction and InvokeAfterCommit once
// it is durable.
type Listeners struct {
	listeners []listener
	logger    *slog.Logger
	mu        sync.RWMutex
}

// NewListeners creates a new, empty list of listeners. A nil logger discards.
func NewListeners(logger *slog.Logger) *Listeners {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Listeners{logger: logger}
}

// SetLogger sets the logger used for failing AfterCommit listeners.
func (ls *Listeners) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.logger = logger
}

// AddCommitListener implements the AddCommitListener method of the
// eventmachine.CommitNotifier interface.
func (ls *Listeners) AddCommitListener(l em.CommitListener, policy em.ListenerPolicy) error {
	if l == nil {
		return ErrNilListener
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.listeners = append(ls.listeners, listener{l: l, policy: policy})

	return nil
}

// Len returns the number of listeners with a policy.
func (ls *Listeners) Len(policy em.ListenerPolicy) int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	n := 0
	for _, l := range ls.listeners {
		if l.policy == policy {
			n++
		}
	}

	return n
}

func (ls *Listeners) with(policy em.ListenerPolicy) []em.CommitListener {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	var res []em.CommitListener
	for _, l := range ls.listeners {
		if l.policy == policy {
			res = append(res, l.l)
		}
	}

	return res
}

// InvokeInTX calls the InTransaction listeners in order, stopping at the
// first error. The ctx should carry the store transaction. A returned error
// is a *eventmachine.CommitListenerError and must abort the transaction.
func (ls *Listeners) InvokeInTX(ctx context.Context, events []em.Event) error {
	for _, l := range ls.with(em.InTransaction) {
		if err := l.HandleCommit(ctx, events); err != nil {
			return &em.CommitListenerError{
				Err:      err,
				Listener: l.ListenerName(),
				Policy:   em.InTransaction,
			}
		}
	}

	return nil
}

// InvokeAfterCommit calls the AfterCommit listeners in order. Failures are
// logged and do not stop the remaining listeners. The listeners run even if
// the ctx has been cancelled, the events are already durable.
func (ls *Listeners) InvokeAfterCommit(ctx context.Context, events []em.Event) {
	listeners := ls.with(em.AfterCommit)
	if len(listeners) == 0 || len(events) == 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)

	ls.mu.RLock()
	logger := ls.logger
	ls.mu.RUnlock()

	for _, l := range listeners {
		if err := l.HandleCommit(ctx, events); err != nil {
			logger.ErrorContext(ctx, "commit listener failed",
				slog.String("listener", l.ListenerName()),
				slog.String("policy", em.AfterCommit.String()),
				slog.String("aggregate_type", events[0].AggregateType().String()),
				slog.String("aggregate_id", events[0].AggregateID()),
				slog.Int("version", events[len(events)-1].Version()),
				slog.Any("error", err),
			)
		}
	}
}
