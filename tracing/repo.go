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

package tracing

import (
	"context"
	"errors"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	em "github.com/looplab/eventmachine"
)

// Repo is a ReadWriteRepo that adds tracing.
type Repo struct {
	em.ReadWriteRepo
}

// NewRepo creates a new Repo.
func NewRepo(repo em.ReadWriteRepo) *Repo {
	return &Repo{
		ReadWriteRepo: repo,
	}
}

// Find implements the Find method of the eventmachine.ReadRepo interface.
func (r *Repo) Find(ctx context.Context, id string) (em.Entity, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "Repo.Find")

	entity, err := r.ReadWriteRepo.Find(ctx, id)

	sp.SetTag("em.entity_id", id)

	if err != nil && !errors.Is(err, em.ErrEntityNotFound) {
		ext.LogError(sp, err)
	}

	sp.Finish()

	return entity, err
}

// FindAll implements the FindAll method of the eventmachine.ReadRepo interface.
func (r *Repo) FindAll(ctx context.Context) ([]em.Entity, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "Repo.FindAll")

	entities, err := r.ReadWriteRepo.FindAll(ctx)
	if err != nil {
		ext.LogError(sp, err)
	}

	sp.SetTag("em.entities", len(entities))
	sp.Finish()

	return entities, err
}

// Save implements the Save method of the eventmachine.WriteRepo interface.
func (r *Repo) Save(ctx context.Context, entity em.Entity) error {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "Repo.Save")

	err := r.ReadWriteRepo.Save(ctx, entity)
	if err != nil {
		ext.LogError(sp, err)
	}

	sp.SetTag("em.entity_id", entity.EntityID())
	sp.Finish()

	return err
}

// Remove implements the Remove method of the eventmachine.WriteRepo interface.
func (r *Repo) Remove(ctx context.Context, id string) error {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "Repo.Remove")

	err := r.ReadWriteRepo.Remove(ctx, id)
	if err != nil {
		ext.LogError(sp, err)
	}

	sp.SetTag("em.entity_id", id)
	sp.Finish()

	return err
}
