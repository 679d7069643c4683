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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/mocks"
)

func TestError(t *testing.T) {
	listenerErr := errors.New("listener error")
	event := em.NewEvent(mocks.EventType, nil, time.Now(),
		em.ForAggregate(mocks.AggregateType, "id", 1))

	err := &Error{Err: listenerErr, Listener: "listener", Event: event}
	assert.ErrorIs(t, err, listenerErr)
	assert.Equal(t, "publisher: (listener) listener error, "+event.String(), err.Error())

	assert.Equal(t, "publisher: unknown error", (&Error{}).Error())
}

func TestCheckSubscription(t *testing.T) {
	subscribed := map[string]struct{}{"taken": {}}
	l := mocks.NewCommitListener("l")

	assert.ErrorIs(t, CheckSubscription("new", nil, subscribed), ErrMissingListener)
	assert.ErrorIs(t, CheckSubscription("taken", l, subscribed), ErrListenerAlreadyAdded)
	assert.NoError(t, CheckSubscription("new", l, subscribed))
}

func TestSendErr(t *testing.T) {
	errCh := make(chan error, 1)
	err := errors.New("error")

	assert.NoError(t, SendErr(errCh, err))
	assert.Equal(t, err, SendErr(errCh, err))
	assert.Equal(t, err, <-errCh)
}
