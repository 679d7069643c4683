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

package eventmachine

import "context"

// CommitListener is notified with the events of every successful append to
// an EventStore. Listeners keep projections in sync or forward events to
// other systems.
//
// Listeners registered with InTransaction are called inside the store
// transaction, with the transaction carried by the context; an error aborts
// the whole append. Listeners registered with AfterCommit are called once the
// events are durable and their errors never undo the append.
type CommitListener interface {
	// ListenerName returns a name for logging and error messages.
	ListenerName() string
	// HandleCommit handles the newly appended events of one aggregate, in
	// version order.
	HandleCommit(ctx context.Context, events []Event) error
}

// ListenerPolicy selects when a commit listener is invoked and how its
// failures are treated.
type ListenerPolicy int

const (
	// InTransaction listeners run inside the append transaction and abort it
	// on failure.
	InTransaction ListenerPolicy = iota
	// AfterCommit listeners run after the append is durable, best-effort.
	AfterCommit
)

// String returns the string representation of a listener policy.
func (p ListenerPolicy) String() string {
	switch p {
	case InTransaction:
		return "in_transaction"
	case AfterCommit:
		return "after_commit"
	default:
		return "unknown"
	}
}

// CommitListenerFunc is a function that can be used as a commit listener.
type CommitListenerFunc struct {
	Name string
	Func func(ctx context.Context, events []Event) error
}

// ListenerName implements the ListenerName method of the CommitListener interface.
func (f CommitListenerFunc) ListenerName() string {
	return f.Name
}

// HandleCommit implements the HandleCommit method of the CommitListener interface.
func (f CommitListenerFunc) HandleCommit(ctx context.Context, events []Event) error {
	return f.Func(ctx, events)
}

// CommitListenerError is an error from a commit listener.
type CommitListenerError struct {
	// Err is the error returned by the listener.
	Err error
	// Listener is the name of the failing listener.
	Listener string
	// Policy of the failing listener.
	Policy ListenerPolicy
}

// Error implements the Error method of the errors.Error interface.
func (e *CommitListenerError) Error() string {
	return "commit listener " + e.Listener + " (" + e.Policy.String() + "): " + e.Err.Error()
}

// Unwrap implements the errors.Unwrap method.
func (e *CommitListenerError) Unwrap() error {
	return e.Err
}

// CommitNotifier is implemented by event stores that accept commit listeners.
// Stores that wrap other stores forward listeners to the wrapped store.
type CommitNotifier interface {
	// AddCommitListener registers a listener with a policy. Listeners are
	// invoked in the order they were added.
	AddCommitListener(l CommitListener, policy ListenerPolicy) error
}
