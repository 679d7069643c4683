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

package query

import (
	"context"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/repo/version"
)

// Projection is a resolver that reads a model kept up to date by a
// projection. Reads are cheap, but may lag behind the latest commit. A
// context with a min version, as set by em.NewContextWithMinVersionWait,
// makes it wait for the model to catch up until the deadline.
type Projection struct {
	repo    *version.Repo
	idParam string
	render  func(em.Entity) (em.Payload, error)
}

// ProjectionResolver creates a resolver that finds the model with the ID in
// the idParam parameter.
func ProjectionResolver(repo em.ReadRepo, idParam string, render func(em.Entity) (em.Payload, error), options ...version.Option) *Projection {
	return &Projection{
		repo:    version.NewRepo(repo, options...),
		idParam: idParam,
		render:  render,
	}
}

// Resolve implements the Resolve method of the Resolver interface.
func (p *Projection) Resolve(ctx context.Context, params em.Payload) (em.Payload, error) {
	id, err := idFromParams(params, p.idParam)
	if err != nil {
		return nil, err
	}

	entity, err := p.repo.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	return p.render(entity)
}

// ListResolver creates a resolver that renders all models of a repo.
func ListResolver(repo em.ReadRepo, render func([]em.Entity) (em.Payload, error)) Resolver {
	return ResolverFunc(func(ctx context.Context, params em.Payload) (em.Payload, error) {
		entities, err := repo.FindAll(ctx)
		if err != nil {
			return nil, err
		}

		return render(entities)
	})
}
