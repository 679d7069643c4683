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

// Package cache adds a size bounded cache in front of a read model repo.
package cache

import (
	"context"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/internal/lru"
)

// DefaultSize is the default max number of cached entities.
const DefaultSize = 1024

// Repo is a middleware that adds caching to a read repository. Writes through
// the repo bust the cache, and so does a commit of an aggregate when the repo
// is registered as a commit listener, for models keyed by aggregate ID.
// Returned entities are shared and must not be modified.
type Repo struct {
	em.ReadWriteRepo

	cache *lru.Cache[string, em.Entity]
}

// NewRepo creates a new Repo holding at most size entities, use DefaultSize
// when unsure.
func NewRepo(repo em.ReadWriteRepo, size int) *Repo {
	return &Repo{
		ReadWriteRepo: repo,
		cache:         lru.New[string, em.Entity](size),
	}
}

// ListenerName implements the ListenerName method of the
// eventmachine.CommitListener interface.
func (r *Repo) ListenerName() string {
	return "repo_cache"
}

// HandleCommit implements the HandleCommit method of the
// eventmachine.CommitListener interface.
func (r *Repo) HandleCommit(ctx context.Context, events []em.Event) error {
	for _, event := range events {
		r.cache.Remove(event.AggregateID())
	}

	return nil
}

// Find implements the Find method of the eventmachine.ReadRepo interface.
func (r *Repo) Find(ctx context.Context, id string) (em.Entity, error) {
	if entity, ok := r.cache.Get(id); ok {
		return entity, nil
	}

	entity, err := r.ReadWriteRepo.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cache.Add(id, entity)

	return entity, nil
}

// FindAll implements the FindAll method of the eventmachine.ReadRepo interface.
func (r *Repo) FindAll(ctx context.Context) ([]em.Entity, error) {
	entities, err := r.ReadWriteRepo.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, entity := range entities {
		r.cache.Add(entity.EntityID(), entity)
	}

	return entities, nil
}

// Save implements the Save method of the eventmachine.WriteRepo interface.
func (r *Repo) Save(ctx context.Context, entity em.Entity) error {
	r.cache.Remove(entity.EntityID())

	return r.ReadWriteRepo.Save(ctx, entity)
}

// Remove implements the Remove method of the eventmachine.WriteRepo interface.
func (r *Repo) Remove(ctx context.Context, id string) error {
	r.cache.Remove(id)

	return r.ReadWriteRepo.Remove(ctx, id)
}

// Len returns the number of cached entities.
func (r *Repo) Len() int {
	return r.cache.Len()
}
