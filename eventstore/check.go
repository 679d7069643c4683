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

package eventstore

import (
	em "github.com/looplab/eventmachine"
)

// CheckEvents checks that the events of one save belong to the same
// aggregate and follow the original version without gaps. It returns an
// *eventmachine.EventStoreError for the save operation.
func CheckEvents(events []em.Event, originalVersion int) error {
	if len(events) == 0 {
		return &em.EventStoreError{
			Err: em.ErrMissingEvents,
			Op:  em.EventStoreOpSave,
		}
	}

	id := events[0].AggregateID()
	at := events[0].AggregateType()

	newErr := func(err error) error {
		return &em.EventStoreError{
			Err:              err,
			Op:               em.EventStoreOpSave,
			AggregateType:    at,
			AggregateID:      id,
			AggregateVersion: originalVersion,
			Events:           events,
		}
	}

	if id == "" {
		return newErr(em.ErrMissingAggregateID)
	}

	for i, event := range events {
		// Only accept events belonging to the same aggregate.
		if event.AggregateID() != id {
			return newErr(em.ErrMismatchedEventAggregateIDs)
		}

		if event.AggregateType() != at {
			return newErr(em.ErrMismatchedEventAggregateTypes)
		}

		// Only accept events that apply to the correct aggregate version.
		if event.Version() != originalVersion+i+1 {
			return newErr(em.ErrIncorrectEventVersion)
		}
	}

	return nil
}

// ConflictError creates the error returned when the stored version of an
// aggregate is not the original version of a save.
func ConflictError(events []em.Event, originalVersion int, baseErr error) error {
	return &em.EventStoreError{
		Err:              em.ErrConcurrencyConflict,
		BaseErr:          baseErr,
		Op:               em.EventStoreOpSave,
		AggregateType:    events[0].AggregateType(),
		AggregateID:      events[0].AggregateID(),
		AggregateVersion: originalVersion,
		Events:           events,
	}
}
