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

// Package eventmachine is the runtime core of an event sourced CQRS backend.
//
// Commands are validated against named schemas, routed to an aggregate, and
// handled against state rebuilt by replaying the aggregate's event stream.
// The resulting events are appended to an EventStore with optimistic
// concurrency, and commit listeners keep projections in sync. Queries are
// answered from replayed state or projections and validated before they are
// returned.
//
// The root package holds the shared vocabulary; the implementations live in
// the sub packages (schema, aggregate, commandbus, query, eventstore/...).
package eventmachine

// AggregateType is the type of an aggregate.
type AggregateType string

// String returns the string representation of an aggregate type.
func (at AggregateType) String() string {
	return string(at)
}

// CommandType is the type of a command, used as its unique identifier.
type CommandType string

// String returns the string representation of a command type.
func (ct CommandType) String() string {
	return string(ct)
}

// EventType is the type of an event, used as its unique identifier.
type EventType string

// String returns the string representation of an event type.
func (et EventType) String() string {
	return string(et)
}

// QueryType is the type of a query, used as its unique identifier.
type QueryType string

// String returns the string representation of a query type.
func (qt QueryType) String() string {
	return string(qt)
}

// Payload is the structured data of commands, events and query results. It
// has the shape of decoded JSON and is validated against a named schema.
type Payload = map[string]interface{}
