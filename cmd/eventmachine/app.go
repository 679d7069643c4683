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
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	goredis "github.com/go-redis/redis/v8"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/aggregate"
	"github.com/looplab/eventmachine/codec/bson"
	"github.com/looplab/eventmachine/codec/json"
	"github.com/looplab/eventmachine/examples/building/domain"
	"github.com/looplab/eventmachine/httputils"
	"github.com/looplab/eventmachine/machine"
	"github.com/looplab/eventmachine/middleware/commandhandler/lock"
	"github.com/looplab/eventmachine/projection"
	"github.com/looplab/eventmachine/publisher"
	"github.com/looplab/eventmachine/publisher/gcp"
	"github.com/looplab/eventmachine/publisher/kafka"
	"github.com/looplab/eventmachine/publisher/nats"
	"github.com/looplab/eventmachine/publisher/redis"
	"github.com/looplab/eventmachine/publisher/websocket"
	"github.com/looplab/eventmachine/tracing"
)

// app is the running building service.
type app struct {
	machine    *machine.Machine
	repos      *readRepos
	feed       *websocket.Feed
	publishers []publisher.Publisher
	async      []*projection.Async
	redis      *goredis.Client
	logger     *slog.Logger
	done       chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{logger: logger, done: make(chan struct{})}

	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	policy, err := cfg.policy()
	if err != nil {
		return nil, err
	}

	store, err := newEventStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	if a.repos, err = newReadRepos(cfg); err != nil {
		store.Close()
		return nil, err
	}

	options := []machine.Option{
		machine.WithLogger(logger),
		machine.WithRuntimeOptions(
			aggregate.WithMaxRetries(cfg.MaxRetries),
			aggregate.WithLogger(logger),
		),
	}

	if cfg.RedisAddr != "" {
		a.redis = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})

		l, err := lock.NewRedisLock(a.redis, cfg.AppID+":lock:")
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("could not create lock: %w", err)
		}

		options = append(options, machine.WithLock(l))
	}

	b := machine.NewBuilder(options...).
		CommandMiddleware(tracing.NewCommandHandlerMiddleware()).
		QueryMiddleware(tracing.NewQueryMiddleware())

	var setupOptions []domain.SetupOption
	if cfg.ProjectionPolicy == "async" {
		setupOptions = append(setupOptions, domain.WithProjectionWrapper(func(l em.CommitListener) em.CommitListener {
			async := projection.NewAsync(l, projection.WithAsyncLogger(logger))
			a.async = append(a.async, async)

			return async
		}))
	}

	domain.Setup(b, a.repos.buildings, a.repos.counters, policy, setupOptions...)

	a.feed = websocket.NewFeed(websocket.WithLogger(logger))
	b.CommitListener(a.feed, em.AfterCommit)

	if a.publishers, err = newPublishers(cfg, logger); err != nil {
		store.Close()
		return nil, err
	}

	for _, p := range a.publishers {
		b.CommitListener(tracing.NewCommitListener(p), em.AfterCommit)

		go a.logErrors(p)
	}

	if a.machine, err = b.Build(store); err != nil {
		store.Close()
		return nil, fmt.Errorf("could not build machine: %w", err)
	}

	if cfg.Store != "memory" && cfg.ReadStore == "memory" {
		if err := a.catchUp(ctx); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func newCodec(name string) em.EventCodec {
	if name == "bson" {
		return &bson.EventCodec{}
	}

	return &json.EventCodec{}
}

func newPublishers(cfg Config, logger *slog.Logger) ([]publisher.Publisher, error) {
	var publishers []publisher.Publisher

	codec := newCodec(cfg.PublisherCodec)

	add := func(p publisher.Publisher, err error) error {
		if err != nil {
			return err
		}

		publishers = append(publishers, p)

		return nil
	}

	closeAll := func() {
		for _, p := range publishers {
			p.Close()
		}
	}

	if cfg.RedisAddr != "" {
		hostname, _ := os.Hostname()

		p, err := redis.NewPublisher(cfg.RedisAddr, cfg.AppID, hostname, redis.WithLogger(logger), redis.WithCodec(codec))
		if err := add(p, err); err != nil {
			closeAll()
			return nil, fmt.Errorf("could not create redis publisher: %w", err)
		}
	}

	if cfg.NATSURL != "" {
		p, err := nats.NewPublisher(cfg.NATSURL, cfg.AppID, nats.WithLogger(logger), nats.WithCodec(codec))
		if err := add(p, err); err != nil {
			closeAll()
			return nil, fmt.Errorf("could not create nats publisher: %w", err)
		}
	}

	if cfg.KafkaBrokers != "" {
		addr := strings.Split(cfg.KafkaBrokers, ",")[0]

		p, err := kafka.NewPublisher(addr, cfg.AppID, kafka.WithLogger(logger), kafka.WithCodec(codec))
		if err := add(p, err); err != nil {
			closeAll()
			return nil, fmt.Errorf("could not create kafka publisher: %w", err)
		}
	}

	if cfg.GCPProject != "" {
		p, err := gcp.NewPublisher(cfg.GCPProject, cfg.AppID, gcp.WithLogger(logger), gcp.WithCodec(codec))
		if err := add(p, err); err != nil {
			closeAll()
			return nil, fmt.Errorf("could not create gcp publisher: %w", err)
		}
	}

	return publishers, nil
}

// catchUp rebuilds in memory read models from a persistent event store.
func (a *app) catchUp(ctx context.Context) error {
	handlers := []*projection.Handler{
		domain.NewBuildingHandler(a.repos.buildings),
		domain.NewCounterHandler(a.repos.counters),
	}

	for _, h := range handlers {
		r, err := projection.NewRunner(a.machine.Store(), h, projection.WithRunnerLogger(a.logger))
		if err != nil {
			return fmt.Errorf("could not create runner: %w", err)
		}

		n, err := r.CatchUp(ctx)
		if err != nil {
			return fmt.Errorf("could not catch up %s: %w", h.ListenerName(), err)
		}

		a.logger.Info("caught up read model",
			slog.String("listener", h.ListenerName()),
			slog.Int("events", n),
		)
	}

	return nil
}

func (a *app) logErrors(p publisher.Publisher) {
	for {
		select {
		case err := <-p.Errors():
			a.logger.Error("publisher error",
				slog.String("publisher", p.ListenerName()),
				slog.Any("error", err),
			)
		case <-a.done:
			return
		}
	}
}

// Handler returns the HTTP API of the app.
func (a *app) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/command/", httputils.CommandHandler(a.machine))
	mux.Handle("/api/query/", httputils.QueryHandler(a.machine))
	mux.Handle("/api/schema/", httputils.SchemaHandler(a.machine.Registry()))
	mux.Handle("/api/events", a.feed)

	return withRequestLogging(mux, a.logger)
}

// Close stops the feed and the publishers before closing the stores. It is
// safe to call more than once.
func (a *app) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.close()
	})

	return a.closeErr
}

func (a *app) close() error {
	close(a.done)

	if a.feed != nil {
		a.feed.Close()
	}

	for _, p := range a.publishers {
		if err := p.Close(); err != nil {
			a.logger.Error("could not close publisher", slog.Any("error", err))
		}
	}

	for _, async := range a.async {
		if err := async.Close(); err != nil {
			a.logger.Error("could not close async projection", slog.Any("error", err))
		}
	}

	var err error

	if a.machine != nil {
		err = a.machine.Close()
	}

	if a.repos != nil {
		if rerr := a.repos.Close(); rerr != nil && err == nil {
			err = rerr
		}
	}

	if a.redis != nil {
		a.redis.Close()
	}

	return err
}
