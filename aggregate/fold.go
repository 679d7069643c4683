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
	"fmt"

	em "github.com/looplab/eventmachine"
)

// ApplyEventError is when an event could not be applied. It contains the error
// and the event that caused it.
type ApplyEventError struct {
	// Event is the event that caused the error.
	Event em.Event
	// Err is the error that happened when applying the event.
	Err error
}

// Error implements the Error method of the error interface.
func (a *ApplyEventError) Error() string {
	return "failed to apply event " + a.Event.String() + ": " + a.Err.Error()
}

// Unwrap implements the errors.Unwrap method.
func (a *ApplyEventError) Unwrap() error {
	return a.Err
}

// Fold replays events from the initial state of an aggregate. It returns the
// state and the version of the last event, 0 for no events.
func Fold(d *Description, events []em.Event) (interface{}, int, error) {
	return FoldFrom(d, d.InitialState(), 0, events)
}

// FoldFrom replays events on a state that has the given version. The events
// must continue the stream without gaps.
//
// An event type without apply function is an *eventmachine.EventTypeDriftError.
func FoldFrom(d *Description, state interface{}, version int, events []em.Event) (interface{}, int, error) {
	for _, event := range events {
		f, ok := d.appliers[event.EventType()]
		if !ok || event.AggregateType() != d.aggregateType {
			return nil, version, &em.EventTypeDriftError{
				AggregateType: d.aggregateType,
				AggregateID:   event.AggregateID(),
				EventType:     event.EventType(),
				Version:       event.Version(),
			}
		}

		if event.Version() != version+1 {
			return nil, version, &ApplyEventError{
				Event: event,
				Err:   fmt.Errorf("%w: expected version %d", em.ErrIncorrectEventVersion, version+1),
			}
		}

		s, err := f(state, event)
		if err != nil {
			return nil, version, &ApplyEventError{
				Event: event,
				Err:   err,
			}
		}

		state = s
		version = event.Version()
	}

	return state, version, nil
}
