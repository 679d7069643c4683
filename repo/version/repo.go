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

// Package version adds waiting for a minimum entity version to a read repo.
package version

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"

	em "github.com/looplab/eventmachine"
)

// Repo is a middleware that adds version checking to a read repository.
type Repo struct {
	em.ReadRepo

	min, max time.Duration
}

// NewRepo creates a new Repo.
func NewRepo(repo em.ReadRepo, options ...Option) *Repo {
	r := &Repo{
		ReadRepo: repo,
		min:      10 * time.Millisecond,
		max:      time.Second,
	}

	for _, option := range options {
		option(r)
	}

	return r
}

// Option is an option setter used to configure creation.
type Option func(*Repo)

// WithBackoff sets the min and max delay between finds while waiting.
func WithBackoff(min, max time.Duration) Option {
	return func(r *Repo) {
		r.min = min
		r.max = max
	}
}

// Find implements the Find method of the eventmachine.ReadRepo interface.
// If the context contains a min version set by NewContextWithMinVersion it
// will only return an item if its version is at least min version. If a
// deadline is set on the context it will repeatedly try to get the item until
// either the version matches or the deadline is reached.
func (r *Repo) Find(ctx context.Context, id string) (em.Entity, error) {
	minVersion, ok := em.MinVersionFromContext(ctx)
	if !ok || minVersion < 1 {
		return r.ReadRepo.Find(ctx, id)
	}

	// Retry with exponentially longer intervals until the deadline expires.
	// If there is no deadline just try once.
	delay := &backoff.Backoff{
		Min:    r.min,
		Max:    r.max,
		Factor: 2,
	}
	_, hasDeadline := ctx.Deadline()

	for {
		entity, err := r.findMinVersion(ctx, id, minVersion)
		if err == nil {
			return entity, nil
		}

		if !errors.Is(err, em.ErrIncorrectEntityVersion) && !errors.Is(err, em.ErrEntityNotFound) {
			return nil, err
		}

		if !hasDeadline {
			return nil, err
		}

		t := time.NewTimer(delay.Duration())

		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()

			return nil, &em.RepoError{
				Err:      errors.Join(err, ctx.Err()),
				Op:       em.RepoOpFind,
				EntityID: id,
			}
		}
	}
}

// findMinVersion finds an item if it has a version and it is at least minVersion.
func (r *Repo) findMinVersion(ctx context.Context, id string, minVersion int) (em.Entity, error) {
	entity, err := r.ReadRepo.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	versionable, ok := entity.(em.Versionable)
	if !ok {
		return nil, &em.RepoError{
			Err:      em.ErrEntityHasNoVersion,
			Op:       em.RepoOpFind,
			EntityID: id,
		}
	}

	if versionable.AggregateVersion() < minVersion {
		return nil, &em.RepoError{
			Err:      em.ErrIncorrectEntityVersion,
			Op:       em.RepoOpFind,
			EntityID: id,
		}
	}

	return entity, nil
}
