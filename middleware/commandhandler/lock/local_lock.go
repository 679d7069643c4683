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

package lock

import (
	"context"
	"sync"
)

// LocalLock is a Lock for a single process.
type LocalLock struct {
	locks map[string]*localEntry
	mu    sync.Mutex
}

type localEntry struct {
	held chan struct{}
	refs int
}

// NewLocalLock creates a LocalLock.
func NewLocalLock() *LocalLock {
	return &LocalLock{
		locks: map[string]*localEntry{},
	}
}

// Lock implements the Lock method of the Lock interface.
func (l *LocalLock) Lock(ctx context.Context, id string) error {
	e := l.acquire(id)

	select {
	case e.held <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(id, e)
		return ctx.Err()
	}
}

// TryLock implements the TryLock method of the Lock interface.
func (l *LocalLock) TryLock(ctx context.Context, id string) error {
	e := l.acquire(id)

	select {
	case e.held <- struct{}{}:
		return nil
	default:
		l.release(id, e)
		return ErrLockExists
	}
}

// Unlock implements the Unlock method of the Lock interface.
func (l *LocalLock) Unlock(ctx context.Context, id string) error {
	l.mu.Lock()
	e, ok := l.locks[id]
	l.mu.Unlock()

	if !ok {
		return ErrNoLockExists
	}

	select {
	case <-e.held:
	default:
		return ErrNoLockExists
	}

	l.release(id, e)

	return nil
}

// Len returns the number of IDs that are locked or waited for.
func (l *LocalLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}

// acquire registers interest in the lock of an ID.
func (l *LocalLock) acquire(id string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[id]
	if !ok {
		e = &localEntry{held: make(chan struct{}, 1)}
		l.locks[id] = e
	}

	e.refs++

	return e
}

func (l *LocalLock) release(id string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.locks, id)
	}
}
