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

// Package memory is an in memory read model repository.
package memory

import (
	"context"
	"fmt"
	"sync"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/internal/clone"
)

// Repo implements an in memory repository of read models. Entities are copied
// when saved and when found, so callers can never change the stored models.
type Repo struct {
	db   map[string]em.Entity
	dbMu sync.RWMutex

	// A list of all item ids, only the order is used.
	ids []string
}

// NewRepo creates a new Repo.
func NewRepo() *Repo {
	return &Repo{
		db: map[string]em.Entity{},
	}
}

// Find implements the Find method of the eventmachine.ReadRepo interface.
func (r *Repo) Find(ctx context.Context, id string) (em.Entity, error) {
	r.dbMu.RLock()
	defer r.dbMu.RUnlock()

	entity, ok := r.db[id]
	if !ok {
		return nil, &em.RepoError{
			Err:      em.ErrEntityNotFound,
			Op:       em.RepoOpFind,
			EntityID: id,
		}
	}

	c, err := copyEntity(entity)
	if err != nil {
		return nil, &em.RepoError{
			Err:      err,
			Op:       em.RepoOpFind,
			EntityID: id,
		}
	}

	return c, nil
}

// FindAll implements the FindAll method of the eventmachine.ReadRepo interface.
func (r *Repo) FindAll(ctx context.Context) ([]em.Entity, error) {
	r.dbMu.RLock()
	defer r.dbMu.RUnlock()

	all := make([]em.Entity, 0, len(r.ids))

	for _, id := range r.ids {
		c, err := copyEntity(r.db[id])
		if err != nil {
			return nil, &em.RepoError{
				Err:      err,
				Op:       em.RepoOpFindAll,
				EntityID: id,
			}
		}

		all = append(all, c)
	}

	return all, nil
}

// Save implements the Save method of the eventmachine.WriteRepo interface.
func (r *Repo) Save(ctx context.Context, entity em.Entity) error {
	id := entity.EntityID()
	if id == "" {
		return &em.RepoError{
			Err: em.ErrMissingEntityID,
			Op:  em.RepoOpSave,
		}
	}

	c, err := copyEntity(entity)
	if err != nil {
		return &em.RepoError{
			Err:      err,
			Op:       em.RepoOpSave,
			EntityID: id,
		}
	}

	r.dbMu.Lock()
	defer r.dbMu.Unlock()

	if _, ok := r.db[id]; !ok {
		r.ids = append(r.ids, id)
	}

	r.db[id] = c

	return nil
}

// Remove implements the Remove method of the eventmachine.WriteRepo interface.
func (r *Repo) Remove(ctx context.Context, id string) error {
	r.dbMu.Lock()
	defer r.dbMu.Unlock()

	if _, ok := r.db[id]; !ok {
		return &em.RepoError{
			Err:      em.ErrEntityNotFound,
			Op:       em.RepoOpRemove,
			EntityID: id,
		}
	}

	delete(r.db, id)

	for i, d := range r.ids {
		if d == id {
			r.ids = append(r.ids[:i], r.ids[i+1:]...)
			break
		}
	}

	return nil
}

// Len returns the number of stored entities.
func (r *Repo) Len() int {
	r.dbMu.RLock()
	defer r.dbMu.RUnlock()

	return len(r.ids)
}

func copyEntity(entity em.Entity) (em.Entity, error) {
	c, err := clone.Clone(entity)
	if err != nil {
		return nil, fmt.Errorf("could not copy entity: %w", err)
	}

	return c, nil
}
