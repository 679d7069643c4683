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

// Package publisher forwards committed events to message brokers.
//
// A publisher is a commit listener, registered AfterCommit on an event store,
// that encodes every committed event and sends it to a broker with the
// aggregate ID as ordering key. Other processes subscribe commit listeners
// to the broker, for example projections running in another service.
package publisher

import (
	"context"
	"errors"
	"fmt"

	em "github.com/looplab/eventmachine"
)

var (
	// ErrMissingListener is when subscribing without a listener.
	ErrMissingListener = errors.New("missing listener")
	// ErrListenerAlreadyAdded is when a listener is subscribed twice with the
	// same name on one publisher.
	ErrListenerAlreadyAdded = errors.New("listener already added")
)

// Publisher is a commit listener that sends events to a broker and can
// subscribe listeners to the events sent by any publisher of the same app.
type Publisher interface {
	em.CommitListener

	// Subscribe delivers events from the broker to the listener, one event per
	// commit, until the context is done or the publisher is closed. Listeners
	// subscribed with the same name share the events between them.
	Subscribe(ctx context.Context, name string, l em.CommitListener) error

	// Errors returns an error channel where async handling errors are sent.
	Errors() <-chan error

	// Close closes the publisher and waits for the subscriptions to stop.
	Close() error
}

// Error is an async error in a subscription.
type Error struct {
	// Err is the error.
	Err error
	// Listener is the name of the subscribed listener.
	Listener string
	// Event is the event being handled, if any.
	Event em.Event
}

// Error implements the Error method of the error interface.
func (e *Error) Error() string {
	str := "publisher: "
	if e.Listener != "" {
		str += "(" + e.Listener + ") "
	}

	if e.Err != nil {
		str += e.Err.Error()
	} else {
		str += "unknown error"
	}

	if e.Event != nil {
		str += ", " + e.Event.String()
	}

	return str
}

// Unwrap implements the errors.Unwrap method.
func (e *Error) Unwrap() error {
	return e.Err
}

// CheckSubscription returns the common errors of a Subscribe call. The
// subscribed set is keyed on the listener name.
func CheckSubscription(name string, l em.CommitListener, subscribed map[string]struct{}) error {
	if l == nil {
		return ErrMissingListener
	}

	if _, ok := subscribed[name]; ok {
		return fmt.Errorf("%w: %s", ErrListenerAlreadyAdded, name)
	}

	return nil
}

// SendErr sends an error on the channel without blocking, the error is
// returned for logging if the channel is full.
func SendErr(errCh chan<- error, err error) error {
	select {
	case errCh <- err:
		return nil
	default:
		return err
	}
}
