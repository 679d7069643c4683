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

// Package lock serializes work per ID, within a process with LocalLock or
// across processes with RedisLock.
package lock

import (
	"context"
	"errors"
)

var (
	// ErrLockExists is returned from TryLock() when the lock is already taken.
	ErrLockExists = errors.New("lock exists")
	// ErrNoLockExists is returned from Unlock() when the lock does not exist.
	ErrNoLockExists = errors.New("no lock exists")
)

// Lock is an exclusive lock per ID.
type Lock interface {
	// Lock takes the lock for the ID, waiting until it is released or the
	// context is done.
	Lock(ctx context.Context, id string) error
	// TryLock takes the lock for the ID if it is free. Returns ErrLockExists
	// if the lock is already taken or another error if it was not possible
	// to get the lock.
	TryLock(ctx context.Context, id string) error
	// Unlock releases the lock for the ID. Returns ErrNoLockExists if there is
	// no lock for the ID or another error if it was not possible to unlock.
	Unlock(ctx context.Context, id string) error
}
