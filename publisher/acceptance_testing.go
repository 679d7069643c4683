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

package publisher

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/kr/pretty"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/mocks"
	"github.com/looplab/eventmachine/uuid"
)

// AcceptanceTest is the acceptance test that all implementations of Publisher
// should pass. The two publishers must be connected to the same broker with
// the same app ID. It should manually be called from a test case in each
// implementation:
//
//	func TestPublisher(t *testing.T) {
//		pub1, _ := NewPublisher(addr, appID)
//		pub2, _ := NewPublisher(addr, appID)
//		publisher.AcceptanceTest(t, pub1, pub2, time.Second)
//	}
func AcceptanceTest(t *testing.T, pub1, pub2 Publisher, timeout time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pub1.Subscribe(ctx, "nil", nil); !errors.Is(err, ErrMissingListener) {
		t.Error("there should be a missing listener error:", err)
	}

	const (
		listenerName = "listener"
		otherName    = "other_listener"
	)

	listener1 := mocks.NewCommitListener(listenerName)
	listener2 := mocks.NewCommitListener(listenerName)
	other := mocks.NewCommitListener(otherName)

	if err := pub1.Subscribe(ctx, listenerName, listener1); err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := pub1.Subscribe(ctx, listenerName, listener1); !errors.Is(err, ErrListenerAlreadyAdded) {
		t.Error("there should be a listener already added error:", err)
	}

	if err := pub2.Subscribe(ctx, listenerName, listener2); err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := pub2.Subscribe(ctx, otherName, other); err != nil {
		t.Fatal("there should be no error:", err)
	}

	id := uuid.NewString()
	timestamp := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	events := []em.Event{
		em.NewEvent(mocks.EventType, mocks.Content("event1"), timestamp,
			em.ForAggregate(mocks.AggregateType, id, 1),
			em.WithPosition(1),
			em.WithMetadata(map[string]interface{}{"num": 42.0})),
		em.NewEvent(mocks.EventOtherType, mocks.Content("event2"), timestamp,
			em.ForAggregate(mocks.AggregateType, id, 2),
			em.WithPosition(2)),
	}

	if err := pub1.HandleCommit(ctx, events); err != nil {
		t.Error("there should be no error:", err)
	}

	// All events in order for the other listener.
	received := waitForEvents(other, len(events), timeout)
	if !em.CompareEventSlices(received, events) {
		t.Error("the events were incorrect:")
		t.Log(pretty.Sprint(received))
	}

	// The listeners with the same name share the events.
	shared := waitForShared(listener1, listener2, len(events), timeout)

	if len(shared) != len(events) {
		t.Error("the shared listeners should receive each event once:", len(shared))
	}

	if !em.CompareEventSlices(sortByVersion(shared), events) {
		t.Error("the shared events were incorrect:")
		t.Log(pretty.Sprint(shared))
	}

	// Handler errors end up on the error channel.
	failing := mocks.NewCommitListener("failing")
	failing.SetErr(errors.New("listener error"))

	if err := pub2.Subscribe(ctx, "failing", failing); err != nil {
		t.Fatal("there should be no error:", err)
	}

	event3 := em.NewEvent(mocks.EventType, mocks.Content("event3"), timestamp,
		em.ForAggregate(mocks.AggregateType, id, 3),
		em.WithPosition(3))
	if err := pub1.HandleCommit(ctx, []em.Event{event3}); err != nil {
		t.Error("there should be no error:", err)
	}

	select {
	case err := <-pub2.Errors():
		pubErr := &Error{}
		if !errors.As(err, &pubErr) || pubErr.Listener != "failing" {
			t.Error("there should be a publisher error:", err)
		}
	case <-time.After(timeout):
		t.Error("there should be an async error")
	}
}

func waitForEvents(l *mocks.CommitListener, n int, timeout time.Duration) []em.Event {
	deadline := time.After(timeout)

	for {
		received := l.Received()
		if len(received) >= n {
			return received
		}

		select {
		case <-l.Recv:
		case <-deadline:
			return received
		}
	}
}

func waitForShared(l1, l2 *mocks.CommitListener, n int, timeout time.Duration) []em.Event {
	deadline := time.After(timeout)

	for {
		received := append(l1.Received(), l2.Received()...)
		if len(received) >= n {
			return received
		}

		select {
		case <-l1.Recv:
		case <-l2.Recv:
		case <-deadline:
			return received
		}
	}
}

func sortByVersion(events []em.Event) []em.Event {
	sorted := append([]em.Event(nil), events...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version() < sorted[j].Version()
	})

	return sorted
}
