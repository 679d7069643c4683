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
	"fmt"
	"time"

	"github.com/looplab/eventmachine/uuid"
)

// Event is a domain event describing a change that has happened to an aggregate.
//
// An event type name should:
//   1) Be in past tense (BuildingCreated)
//   2) Contain the intent (UserCheckedIn vs UserUpdated).
//
// Events are immutable once created; stores hand out copies.
type Event interface {
	// ID is the unique identifier of the event.
	ID() uuid.UUID
	// EventType returns the type of the event.
	EventType() EventType
	// The data attached to the event, validated against the schema named
	// after the event type.
	Data() Payload
	// Timestamp of when the event was created.
	Timestamp() time.Time

	// AggregateType is the type of the aggregate that the event can be
	// applied to.
	AggregateType() AggregateType
	// AggregateID is the ID of the aggregate that the event belongs to.
	AggregateID() string
	// Version is the sequence number of the event within its aggregate
	// stream, starting at 1.
	Version() int
	// Position is the global commit order of the event across all
	// aggregates. It is 0 until the event has been stored.
	Position() int64

	// Metadata is app-specific metadata such as request ID, originating user etc.
	Metadata() map[string]interface{}

	// A string representation of the event.
	String() string
}

// EventOption is an option to use when creating events.
type EventOption func(Event)

// ForAggregate adds aggregate data when creating an event.
func ForAggregate(aggregateType AggregateType, aggregateID string, version int) EventOption {
	return func(e Event) {
		if evt, ok := e.(*event); ok {
			evt.aggregateType = aggregateType
			evt.aggregateID = aggregateID
			evt.version = version
		}
	}
}

// WithPosition sets the global position of an event, used by event stores
// when loading events.
func WithPosition(position int64) EventOption {
	return func(e Event) {
		if evt, ok := e.(*event); ok {
			evt.position = position
		}
	}
}

// WithEventID sets the ID of an event, used by event stores when loading
// events. A random ID is generated otherwise.
func WithEventID(id uuid.UUID) EventOption {
	return func(e Event) {
		if evt, ok := e.(*event); ok {
			evt.id = id
		}
	}
}

// WithMetadata adds metadata when creating an event.
// Note that the values types must be supported by the event marshalers in use.
func WithMetadata(metadata map[string]interface{}) EventOption {
	return func(e Event) {
		if evt, ok := e.(*event); ok {
			if evt.metadata == nil {
				evt.metadata = metadata
			} else {
				for k, v := range metadata {
					evt.metadata[k] = v
				}
			}
		}
	}
}

// NewEvent creates a new event with a type and data, setting its timestamp.
func NewEvent(eventType EventType, data Payload, timestamp time.Time, options ...EventOption) Event {
	e := &event{
		id:        uuid.New(),
		eventType: eventType,
		data:      data,
		timestamp: timestamp,
	}

	for _, option := range options {
		if option == nil {
			continue
		}
		option(e)
	}

	return e
}

// event is an internal representation of an event, returned when the aggregate
// uses NewEvent to create a new event. The events loaded from the db is
// represented by each DBs internal event type, implementing Event.
type event struct {
	id            uuid.UUID
	eventType     EventType
	data          Payload
	timestamp     time.Time
	aggregateType AggregateType
	aggregateID   string
	version       int
	position      int64
	metadata      map[string]interface{}
}

// ID implements the ID method of the Event interface.
func (e event) ID() uuid.UUID {
	return e.id
}

// EventType implements the EventType method of the Event interface.
func (e event) EventType() EventType {
	return e.eventType
}

// Data implements the Data method of the Event interface.
func (e event) Data() Payload {
	return e.data
}

// Timestamp implements the Timestamp method of the Event interface.
func (e event) Timestamp() time.Time {
	return e.timestamp
}

// AggregateType implements the AggregateType method of the Event interface.
func (e event) AggregateType() AggregateType {
	return e.aggregateType
}

// AggregateID implements the AggregateID method of the Event interface.
func (e event) AggregateID() string {
	return e.aggregateID
}

// Version implements the Version method of the Event interface.
func (e event) Version() int {
	return e.version
}

// Position implements the Position method of the Event interface.
func (e event) Position() int64 {
	return e.position
}

// Metadata implements the Metadata method of the Event interface.
func (e event) Metadata() map[string]interface{} {
	return e.metadata
}

// String implements the String method of the Event interface.
func (e event) String() string {
	str := string(e.eventType)

	if e.aggregateID != "" && e.version != 0 {
		str += fmt.Sprintf("(%s, v%d)", e.aggregateID, e.version)
	}

	return str
}
