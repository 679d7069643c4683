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

import (
	"context"
	"errors"
	"fmt"
)

// EventStore is an interface for an event sourcing event store.
//
// Events of all aggregates may share one physical log or be stored in one
// physical stream per aggregate; the contract is the same for all stores.
type EventStore interface {
	// Save appends all events to the stream of their aggregate. The
	// originalVersion is the version of the aggregate that the events were
	// produced from; if the stored version differs the save fails with
	// ErrConcurrencyConflict. All events are stored or none.
	Save(ctx context.Context, events []Event, originalVersion int) error

	// Load loads all events for the aggregate id from the store, in version
	// order. An aggregate that has never been written has an empty stream.
	Load(ctx context.Context, id string) ([]Event, error)

	// LoadFrom loads all events from version for the aggregate id from the store.
	LoadFrom(ctx context.Context, id string, version int) ([]Event, error)

	// LoadAll loads up to limit events of all aggregates with a position
	// after the given one, in global commit order. A limit <= 0 loads all.
	LoadAll(ctx context.Context, afterPosition int64, limit int) ([]Event, error)

	// Close closes the EventStore.
	Close() error
}

var (
	// ErrMissingEvents is when there is no events to append.
	ErrMissingEvents = errors.New("missing events")
	// ErrMismatchedEventAggregateIDs is when events are stored for multiple
	// aggregate IDs in one save.
	ErrMismatchedEventAggregateIDs = errors.New("mismatched event aggregate IDs")
	// ErrMismatchedEventAggregateTypes is when events are stored for multiple
	// aggregate types in one save.
	ErrMismatchedEventAggregateTypes = errors.New("mismatched event aggregate types")
	// ErrIncorrectEventVersion is when an event is for an other version of the aggregate.
	ErrIncorrectEventVersion = errors.New("mismatching event version")
	// ErrMissingAggregateID is when an event has no aggregate ID.
	ErrMissingAggregateID = errors.New("missing aggregate ID")
)

// EventStoreOperation is the operation done when an error happened.
type EventStoreOperation string

const (
	// Errors during loading of events.
	EventStoreOpLoad EventStoreOperation = "load"
	// Errors during loading of the global stream.
	EventStoreOpLoadAll EventStoreOperation = "load_all"
	// Errors during saving of events.
	EventStoreOpSave EventStoreOperation = "save"
)

// EventStoreError is an error in the event store.
type EventStoreError struct {
	// Err is the error.
	Err error
	// BaseErr is an optional underlying error, for example from the DB driver.
	BaseErr error
	// Op is the operation for the error.
	Op EventStoreOperation
	// AggregateType of related operation.
	AggregateType AggregateType
	// AggregateID of related operation.
	AggregateID string
	// AggregateVersion of related operation.
	AggregateVersion int
	// Events of the related operation.
	Events []Event
}

// Error implements the Error method of the errors.Error interface.
func (e *EventStoreError) Error() string {
	str := "event store: "

	if e.Op != "" {
		str += string(e.Op) + ": "
	}

	if e.Err != nil {
		str += e.Err.Error()
	} else {
		str += "unknown error"
	}

	if e.BaseErr != nil {
		str += ": " + e.BaseErr.Error()
	}

	if e.AggregateID != "" {
		at := "Aggregate"
		if e.AggregateType != "" {
			at = string(e.AggregateType)
		}

		str += fmt.Sprintf(", %s(%s, v%d)", at, e.AggregateID, e.AggregateVersion)
	}

	if len(e.Events) > 0 {
		var es []string
		for _, ev := range e.Events {
			if ev != nil {
				es = append(es, ev.String())
			} else {
				es = append(es, "nil event")
			}
		}

		str += fmt.Sprintf(" %v", es)
	}

	return str
}

// Unwrap implements the errors.Unwrap method.
func (e *EventStoreError) Unwrap() []error {
	errs := []error{}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.BaseErr != nil {
		errs = append(errs, e.BaseErr)
	}

	return errs
}

// Cause implements the github.com/pkg/errors Unwrap method.
func (e *EventStoreError) Cause() error {
	return e.Err
}
