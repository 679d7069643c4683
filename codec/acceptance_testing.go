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

// Package codec holds the acceptance test of the event codecs.
package codec

import (
	"context"
	"testing"
	"time"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/mocks"
	"github.com/looplab/eventmachine/uuid"
)

// EventCodecAcceptanceTest is the acceptance test that all implementations of
// EventCodec should pass. It should manually be called from a test case in each
// implementation:
//
//	func TestEventCodec(t *testing.T) {
//		c := EventCodec{}
//		expectedBytes = []byte("")
//		codec.EventCodecAcceptanceTest(t, c, expectedBytes)
//	}
//
// A nil expectedBytes skips the comparison of the encoded bytes.
func EventCodecAcceptanceTest(t *testing.T, c em.EventCodec, expectedBytes []byte) {
	ctx := context.Background()
	id := uuid.MustParse("10a7ec0f-7f2b-46f5-bca1-877b6e33c9fd")
	eventID := uuid.MustParse("c1138e5f-f6fb-4dd0-8e79-255c6c8d3756")
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	data := em.Payload{
		"bool":   true,
		"string": "string",
		"number": 42.0,
		"slice":  []interface{}{"a", "b"},
		"map":    map[string]interface{}{"key": "value"},
		"null":   nil,
	}
	event := em.NewEvent(mocks.EventType, data, timestamp,
		em.ForAggregate(mocks.AggregateType, id.String(), 1),
		em.WithEventID(eventID),
		em.WithPosition(7),
		em.WithMetadata(map[string]interface{}{"num": 42.0}), // NOTE: Just one key to avoid compare issues.
	)

	// Marshaling.
	b, err := c.MarshalEvent(ctx, event)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if expectedBytes != nil && string(b) != string(expectedBytes) {
		t.Error("the encoded bytes should be correct:", string(b))
	}

	// Unmarshaling.
	decodedEvent, err := c.UnmarshalEvent(ctx, b)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := em.CompareEvents(decodedEvent, event); err != nil {
		t.Error("the decoded event was incorrect:", err)
	}

	if decodedEvent.ID() != eventID {
		t.Error("the decoded event ID was incorrect:", decodedEvent.ID())
	}

	// Events without data.
	event = em.NewEvent(mocks.EventOtherType, nil, timestamp,
		em.ForAggregate(mocks.AggregateType, id.String(), 2))

	b, err = c.MarshalEvent(ctx, event)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	decodedEvent, err = c.UnmarshalEvent(ctx, b)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := em.CompareEvents(decodedEvent, event); err != nil {
		t.Error("the decoded event was incorrect:", err)
	}

	// Garbage.
	if _, err := c.UnmarshalEvent(ctx, []byte("garbage")); err == nil {
		t.Error("there should be an error for invalid bytes")
	}
}
