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

// Package json encodes events as JSON documents.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/uuid"
)

// EventCodec is a codec for marshaling and unmarshaling events
// to and from bytes in JSON format.
type EventCodec struct{}

var _ = em.EventCodec(&EventCodec{})

// MarshalEvent marshals an event into bytes in JSON format.
func (c *EventCodec) MarshalEvent(ctx context.Context, event em.Event) ([]byte, error) {
	e := evt{
		ID:            event.ID().String(),
		EventType:     event.EventType(),
		Data:          event.Data(),
		Timestamp:     event.Timestamp(),
		AggregateType: event.AggregateType(),
		AggregateID:   event.AggregateID(),
		Version:       event.Version(),
		Position:      event.Position(),
		Metadata:      event.Metadata(),
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("could not marshal event: %w", err)
	}

	return b, nil
}

// UnmarshalEvent unmarshals an event from bytes in JSON format.
func (c *EventCodec) UnmarshalEvent(ctx context.Context, b []byte) (em.Event, error) {
	var e evt
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("could not unmarshal event: %w", err)
	}

	id, err := uuid.Parse(e.ID)
	if err != nil {
		return nil, fmt.Errorf("could not parse event ID: %w", err)
	}

	return em.NewEvent(
		e.EventType,
		e.Data,
		e.Timestamp,
		em.ForAggregate(e.AggregateType, e.AggregateID, e.Version),
		em.WithEventID(id),
		em.WithPosition(e.Position),
		em.WithMetadata(e.Metadata),
	), nil
}

// evt is the internal event used on the wire only.
type evt struct {
	ID            string                 `json:"id"`
	EventType     em.EventType           `json:"event_type"`
	Data          em.Payload             `json:"data,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	AggregateType em.AggregateType       `json:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id"`
	Version       int                    `json:"version"`
	Position      int64                  `json:"position,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}
