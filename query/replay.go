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
	"fmt"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/aggregate"
	"github.com/looplab/eventmachine/internal/clone"
	"github.com/looplab/eventmachine/internal/lru"
)

// RenderFunc renders the replayed state of an aggregate as a query result.
// It must not modify the state.
type RenderFunc func(id string, state interface{}, version int) (em.Payload, error)

// Replay is a resolver that loads and folds the stream of an aggregate on
// every query. It is consistent with the latest commit, at a cost that grows
// with the length of the stream unless a state cache is used.
type Replay struct {
	runtime       *aggregate.Runtime
	aggregateType em.AggregateType
	idParam       string
	render        RenderFunc
	cache         *lru.Cache[string, replayed]
}

type replayed struct {
	state   interface{}
	version int
}

// ReplayOption is an option setter used to configure a Replay resolver.
type ReplayOption func(*Replay)

// WithStateCache keeps the replayed state of up to size aggregates. Queries
// for a cached aggregate only load and fold the events after the cached
// version.
func WithStateCache(size int) ReplayOption {
	return func(r *Replay) {
		r.cache = lru.New[string, replayed](size)
	}
}

// ReplayResolver creates a resolver that replays the aggregate with the ID
// in the idParam parameter. An aggregate without events is not found.
func ReplayResolver(runtime *aggregate.Runtime, aggregateType em.AggregateType, idParam string, render RenderFunc, options ...ReplayOption) *Replay {
	r := &Replay{
		runtime:       runtime,
		aggregateType: aggregateType,
		idParam:       idParam,
		render:        render,
	}

	for _, option := range options {
		option(r)
	}

	return r
}

// Resolve implements the Resolve method of the Resolver interface.
func (r *Replay) Resolve(ctx context.Context, params em.Payload) (em.Payload, error) {
	id, err := idFromParams(params, r.idParam)
	if err != nil {
		return nil, err
	}

	d, ok := r.runtime.Description(r.aggregateType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", aggregate.ErrUnknownAggregate, r.aggregateType)
	}

	state, version, err := r.replay(ctx, d, id)
	if err != nil {
		return nil, err
	}

	if version == 0 {
		return nil, &em.RepoError{
			Err:      em.ErrEntityNotFound,
			Op:       em.RepoOpFind,
			EntityID: id,
		}
	}

	return r.render(id, state, version)
}

func (r *Replay) replay(ctx context.Context, d *aggregate.Description, id string) (interface{}, int, error) {
	if r.cache == nil {
		events, err := r.runtime.Store().Load(ctx, id)
		if err != nil {
			return nil, 0, err
		}

		return aggregate.Fold(d, events)
	}

	state, version := d.InitialState(), 0

	if cached, ok := r.cache.Get(id); ok {
		// Folding may change the state in place.
		s, err := clone.Clone(cached.state)
		if err != nil {
			return nil, 0, fmt.Errorf("could not copy cached state: %w", err)
		}

		state, version = s, cached.version
	}

	events, err := r.runtime.Store().LoadFrom(ctx, id, version+1)
	if err != nil {
		return nil, 0, err
	}

	if len(events) == 0 {
		return state, version, nil
	}

	state, version, err = aggregate.FoldFrom(d, state, version, events)
	if err != nil {
		r.cache.Remove(id)
		return nil, 0, err
	}

	r.cache.Add(id, replayed{state: state, version: version})

	return state, version, nil
}

func idFromParams(params em.Payload, idParam string) (string, error) {
	id, _ := params[idParam].(string)
	if id == "" {
		return "", fmt.Errorf("%w: missing parameter %q", em.ErrMissingAggregateID, idParam)
	}

	return id, nil
}
