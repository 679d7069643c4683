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

	"go.mongodb.org/mongo-driver/v2/mongo"

	em "github.com/looplab/eventmachine"
)

// StorageErr wraps an error from the driver, marking network and timeout
// errors as transient storage unavailability.
func StorageErr(msg string, err error) error {
	if IsUnavailable(err) {
		return em.MarkTransient(fmt.Errorf("%s: %w: %w", msg, em.ErrStorageUnavailable, err))
	}

	return fmt.Errorf("%s: %w", msg, err)
}

// IsUnavailable returns true for errors where the server could not be reached
// in time. A cancelled context is not one of them.
func IsUnavailable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	return mongo.IsNetworkError(err) || mongo.IsTimeout(err) ||
		errors.Is(err, mongo.ErrClientDisconnected)
}
