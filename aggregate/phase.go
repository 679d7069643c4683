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

	em "github.com/looplab/eventmachine"
)

// Phase is a step of handling one command.
type Phase int

const (
	// Initial is before anything is done.
	Initial Phase = iota
	// Loading is when the event stream is loaded.
	Loading
	// Replaying is when the events are folded into the state.
	Replaying
	// HandlerExecuting is when the command handler decides.
	HandlerExecuting
	// Committing is when the new events are appended to the stream.
	Committing
	// Committed is when the events are stored, or when there were none.
	Committed
	// Rejected is when the handler rejected the command.
	Rejected
	// ConcurrencyRetryable is when the stream moved on during the handling.
	ConcurrencyRetryable
	// Failed is any other error, including event type drift.
	Failed
)

// String returns the string representation of a phase.
func (p Phase) String() string {
	switch p {
	case Initial:
		return "initial"
	case Loading:
		return "loading"
	case Replaying:
		return "replaying"
	case HandlerExecuting:
		return "handler_executing"
	case Committing:
		return "committing"
	case Committed:
		return "committed"
	case Rejected:
		return "rejected"
	case ConcurrencyRetryable:
		return "concurrency_retryable"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal returns true if no other phase follows.
func (p Phase) Terminal() bool {
	return p == Committed || p == Rejected || p == Failed
}

// PhaseObserver is notified of every phase a command goes through.
type PhaseObserver func(ctx context.Context, cmd em.Command, phase Phase)
