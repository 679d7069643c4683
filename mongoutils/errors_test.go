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

package mongoutils

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/mongo"

	em "github.com/looplab/eventmachine"
)

func TestStorageErr(t *testing.T) {
	err := StorageErr("could not find", mongo.ErrClientDisconnected)
	assert.ErrorIs(t, err, em.ErrStorageUnavailable)
	assert.ErrorIs(t, err, mongo.ErrClientDisconnected)
	assert.True(t, em.IsTransient(err))

	err = StorageErr("could not find", context.DeadlineExceeded)
	assert.True(t, em.IsTransient(err), "timeouts should be transient")

	err = StorageErr("could not find", fmt.Errorf("wrapped: %w", context.Canceled))
	assert.False(t, em.IsTransient(err))
	assert.ErrorIs(t, err, context.Canceled)

	base := errors.New("bad document")
	err = StorageErr("could not decode", base)
	assert.False(t, em.IsTransient(err))
	assert.NotErrorIs(t, err, em.ErrStorageUnavailable)
	assert.EqualError(t, err, "could not decode: bad document")
}
