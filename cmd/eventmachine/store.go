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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/eventstore/memory"
	"github.com/looplab/eventmachine/eventstore/mongodb"
	"github.com/looplab/eventmachine/eventstore/retry"
	"github.com/looplab/eventmachine/eventstore/sqlite"
	eventstoretracing "github.com/looplab/eventmachine/eventstore/tracing"
	"github.com/looplab/eventmachine/examples/building/domain"
	"github.com/looplab/eventmachine/repo/cache"
	repomemory "github.com/looplab/eventmachine/repo/memory"
	repomongodb "github.com/looplab/eventmachine/repo/mongodb"
	"github.com/looplab/eventmachine/tracing"
)

// newEventStore creates the configured event store. Transient storage errors
// are retried and all calls are traced.
func newEventStore(cfg Config, logger *slog.Logger) (em.EventStore, error) {
	var (
		store em.EventStore
		err   error
	)

	switch cfg.Store {
	case "memory":
		store, err = memory.NewEventStore(memory.WithLogger(logger))
	case "sqlite":
		strategy, perr := sqlite.ParseStrategy(cfg.SQLiteStrategy)
		if perr != nil {
			return nil, perr
		}

		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("could not create database dir: %w", err)
			}
		}

		store, err = sqlite.NewEventStore(cfg.SQLitePath,
			sqlite.WithStrategy(strategy),
			sqlite.WithLogger(logger),
		)
	case "mongodb":
		store, err = mongodb.NewEventStore(cfg.MongoDBURI, cfg.MongoDBName, mongodb.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown event store: %q", cfg.Store)
	}

	if err != nil {
		return nil, fmt.Errorf("could not create event store: %w", err)
	}

	retrying, err := retry.NewEventStore(store, retry.WithLogger(logger))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("could not create retrying event store: %w", err)
	}

	return eventstoretracing.NewEventStore(retrying), nil
}

// readRepos are the read model repos of the building domain.
type readRepos struct {
	buildings em.ReadWriteRepo
	counters  em.ReadWriteRepo
	closers   []func() error
}

func (r *readRepos) Close() error {
	var err error

	for _, c := range r.closers {
		if cerr := c(); cerr != nil && err == nil {
			err = cerr
		}
	}

	return err
}

// newReadRepos creates the configured read model repos, traced and with an
// optional cache of buildings.
func newReadRepos(cfg Config) (*readRepos, error) {
	r := &readRepos{}

	switch cfg.ReadStore {
	case "memory":
		r.buildings = repomemory.NewRepo()
		r.counters = repomemory.NewRepo()
	case "mongodb":
		buildings, err := repomongodb.NewRepo(cfg.MongoDBURI, cfg.MongoDBName,
			repomongodb.WithCollectionName("buildings"),
			repomongodb.WithEntityFactory(func() em.Entity {
				return &domain.BuildingView{}
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("could not create building repo: %w", err)
		}

		r.closers = append(r.closers, buildings.Close)

		counters, err := repomongodb.NewRepo(cfg.MongoDBURI, cfg.MongoDBName,
			repomongodb.WithCollectionName("counters"),
			repomongodb.WithEntityFactory(func() em.Entity {
				return &domain.Counter{}
			}),
		)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("could not create counter repo: %w", err)
		}

		r.closers = append(r.closers, counters.Close)
		r.buildings, r.counters = buildings, counters
	default:
		return nil, fmt.Errorf("unknown read store: %q", cfg.ReadStore)
	}

	r.buildings = tracing.NewRepo(r.buildings)
	r.counters = tracing.NewRepo(r.counters)

	if cfg.CacheSize > 0 {
		r.buildings = cache.NewRepo(r.buildings, cfg.CacheSize)
	}

	return r, nil
}
