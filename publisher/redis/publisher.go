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

// Package redis publishes committed events on a Redis stream.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/codec/json"
	"github.com/looplab/eventmachine/publisher"
)

const (
	aggregateIDKey   = "aggregate_id"
	aggregateTypeKey = "aggregate_type"
	eventTypeKey     = "event_type"
	dataKey          = "data"
)

// Publisher appends events to the stream <appID>_events. Subscriptions are
// consumer groups, one per listener name.
type Publisher struct {
	appID        string
	clientID     string
	streamName   string
	client       *redis.Client
	clientOpts   *redis.Options
	subscribed   map[string]struct{}
	subscribedMu sync.Mutex
	errCh        chan error
	cctx         context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	codec        em.EventCodec
	logger       *slog.Logger
}

var _ = publisher.Publisher(&Publisher{})

// NewPublisher creates a Publisher, with optional settings. The client ID
// names the consumer of this process in the consumer groups.
func NewPublisher(addr, appID, clientID string, options ...Option) (*Publisher, error) {
	ctx, cancel := context.WithCancel(context.Background())

	p := &Publisher{
		appID:      appID,
		clientID:   clientID,
		streamName: appID + "_events",
		subscribed: map[string]struct{}{},
		errCh:      make(chan error, 100),
		cctx:       ctx,
		cancel:     cancel,
		codec:      &json.EventCodec{},
		logger:     slog.Default(),
	}

	for _, option := range options {
		if option == nil {
			continue
		}

		if err := option(p); err != nil {
			cancel()
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	// Default client options.
	if p.clientOpts == nil {
		p.clientOpts = &redis.Options{
			Addr: addr,
		}
	}

	// Create client and check connection.
	p.client = redis.NewClient(p.clientOpts)
	if res, err := p.client.Ping(p.cctx).Result(); err != nil || res != "PONG" {
		cancel()
		p.client.Close()

		return nil, fmt.Errorf("could not check Redis server: %w", err)
	}

	return p, nil
}

// Option is an option setter used to configure creation.
type Option func(*Publisher) error

// WithCodec uses the specified codec for encoding events.
func WithCodec(codec em.EventCodec) Option {
	return func(p *Publisher) error {
		p.codec = codec
		return nil
	}
}

// WithRedisOptions uses the Redis options for the underlying client, instead of the defaults.
func WithRedisOptions(opts *redis.Options) Option {
	return func(p *Publisher) error {
		p.clientOpts = opts
		return nil
	}
}

// WithLogger sets the logger for errors that could not be sent on the error
// channel.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) error {
		if logger == nil {
			return fmt.Errorf("missing logger")
		}

		p.logger = logger

		return nil
	}
}

// ListenerName implements the ListenerName method of the
// eventmachine.CommitListener interface.
func (p *Publisher) ListenerName() string {
	return "publisher_redis"
}

// HandleCommit implements the HandleCommit method of the
// eventmachine.CommitListener interface. The events of a commit are added in
// one pipeline.
func (p *Publisher) HandleCommit(ctx context.Context, events []em.Event) error {
	pipe := p.client.TxPipeline()

	for _, event := range events {
		data, err := p.codec.MarshalEvent(ctx, event)
		if err != nil {
			return fmt.Errorf("could not marshal event: %w", err)
		}

		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: p.streamName,
			Values: map[string]interface{}{
				aggregateIDKey:   event.AggregateID(),
				aggregateTypeKey: event.AggregateType().String(),
				eventTypeKey:     event.EventType().String(),
				dataKey:          data,
			},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("could not publish events: %w", err)
	}

	return nil
}

// Subscribe implements the Subscribe method of the publisher.Publisher interface.
func (p *Publisher) Subscribe(ctx context.Context, name string, l em.CommitListener) error {
	p.subscribedMu.Lock()
	defer p.subscribedMu.Unlock()

	if err := publisher.CheckSubscription(name, l, p.subscribed); err != nil {
		return err
	}

	// Get or create the subscription.
	groupName := p.appID + "_" + name

	res, err := p.client.XGroupCreateMkStream(ctx, p.streamName, groupName, "$").Result()
	if err != nil {
		// Ignore group exists non-errors.
		if !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("could not create consumer group: %w", err)
		}
	} else if res != "OK" {
		return fmt.Errorf("could not create consumer group: %s", res)
	}

	p.subscribed[name] = struct{}{}

	p.wg.Add(1)

	go p.handle(ctx, name, l, groupName)

	return nil
}

// Errors implements the Errors method of the publisher.Publisher interface.
func (p *Publisher) Errors() <-chan error {
	return p.errCh
}

// Close implements the Close method of the publisher.Publisher interface.
func (p *Publisher) Close() error {
	p.cancel()
	p.wg.Wait()

	return p.client.Close()
}

// handle handles all messages of a consumer group until the context is
// cancelled or the publisher is closed.
func (p *Publisher) handle(ctx context.Context, name string, l em.CommitListener, groupName string) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil || p.cctx.Err() != nil {
			return
		}

		streams, err := p.client.XReadGroup(p.cctx, &redis.XReadGroupArgs{
			Group:    groupName,
			Consumer: groupName + "_" + p.clientID,
			Streams:  []string{p.streamName, ">"},
			Block:    time.Second, // Allow to exit the read loop in max 1s.
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		} else if errors.Is(err, context.Canceled) {
			return
		} else if err != nil {
			p.sendErr(ctx, &publisher.Error{
				Err:      fmt.Errorf("could not receive: %w", err),
				Listener: name,
			})

			// Retry the receive loop if there was an error.
			time.Sleep(time.Second)

			continue
		}

		for _, stream := range streams {
			if stream.Stream != p.streamName {
				continue
			}

			for _, msg := range stream.Messages {
				p.handleMessage(ctx, name, l, groupName, msg)
			}
		}
	}
}

func (p *Publisher) handleMessage(ctx context.Context, name string, l em.CommitListener, groupName string, msg redis.XMessage) {
	data, ok := msg.Values[dataKey].(string)
	if !ok {
		p.sendErr(ctx, &publisher.Error{
			Err:      fmt.Errorf("event data is of incorrect type %T", msg.Values[dataKey]),
			Listener: name,
		})

		return
	}

	event, err := p.codec.UnmarshalEvent(ctx, []byte(data))
	if err != nil {
		p.sendErr(ctx, &publisher.Error{
			Err:      fmt.Errorf("could not unmarshal event: %w", err),
			Listener: name,
		})

		return
	}

	if err := l.HandleCommit(ctx, []em.Event{event}); err != nil {
		p.sendErr(ctx, &publisher.Error{
			Err:      fmt.Errorf("could not handle event: %w", err),
			Listener: name,
			Event:    event,
		})

		return
	}

	if _, err := p.client.XAck(ctx, p.streamName, groupName, msg.ID).Result(); err != nil {
		p.sendErr(ctx, &publisher.Error{
			Err:      fmt.Errorf("could not ack event: %w", err),
			Listener: name,
			Event:    event,
		})
	}
}

func (p *Publisher) sendErr(ctx context.Context, err error) {
	if err := publisher.SendErr(p.errCh, err); err != nil {
		p.logger.ErrorContext(ctx, "missed error in Redis publisher", slog.Any("error", err))
	}
}
