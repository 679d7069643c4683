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

// Package gcp publishes committed events on a Google Cloud Pub/Sub topic.
package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/codec/json"
	"github.com/looplab/eventmachine/publisher"
)

const (
	aggregateTypeAttribute = "aggregate_type"
	eventTypeAttribute     = "event_type"
)

// Publisher publishes events on the topic <appID>_events with message
// ordering on the aggregate ID. Subscriptions are Pub/Sub subscriptions named
// <appID>_<listener name>.
type Publisher struct {
	appID        string
	client       *pubsub.Client
	clientOpts   []option.ClientOption
	topic        *pubsub.Topic
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

// NewPublisher creates a Publisher and gets or creates its topic.
func NewPublisher(projectID, appID string, options ...Option) (*Publisher, error) {
	ctx, cancel := context.WithCancel(context.Background())

	p := &Publisher{
		appID:      appID,
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

	var err error
	if p.client, err = pubsub.NewClient(ctx, projectID, p.clientOpts...); err != nil {
		cancel()
		return nil, fmt.Errorf("could not create Pub/Sub client: %w", err)
	}

	// Get or create the topic.
	name := appID + "_events"

	p.topic = p.client.Topic(name)
	if ok, err := p.topic.Exists(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("could not check topic: %w", err)
	} else if !ok {
		if p.topic, err = p.client.CreateTopic(ctx, name); err != nil {
			cancel()
			return nil, fmt.Errorf("could not create topic: %w", err)
		}
	}

	p.topic.EnableMessageOrdering = true

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

// WithPubSubOptions adds the client options to the underlying client.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(p *Publisher) error {
		p.clientOpts = append(p.clientOpts, opts...)
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
	return "publisher_gcp"
}

// HandleCommit implements the HandleCommit method of the
// eventmachine.CommitListener interface.
func (p *Publisher) HandleCommit(ctx context.Context, events []em.Event) error {
	results := make([]*pubsub.PublishResult, 0, len(events))

	for _, event := range events {
		data, err := p.codec.MarshalEvent(ctx, event)
		if err != nil {
			return fmt.Errorf("could not marshal event: %w", err)
		}

		results = append(results, p.topic.Publish(ctx, &pubsub.Message{
			Data:        data,
			OrderingKey: event.AggregateID(),
			Attributes: map[string]string{
				aggregateTypeAttribute: event.AggregateType().String(),
				eventTypeAttribute:     event.EventType().String(),
			},
		}))
	}

	for i, r := range results {
		if _, err := r.Get(ctx); err != nil {
			// Publishing on a key is paused after an error.
			p.topic.ResumePublish(events[i].AggregateID())

			return fmt.Errorf("could not publish event: %w", err)
		}
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
	subscriptionID := p.appID + "_" + name

	sub := p.client.Subscription(subscriptionID)
	if ok, err := sub.Exists(ctx); err != nil {
		return fmt.Errorf("could not check subscription: %w", err)
	} else if !ok {
		if sub, err = p.client.CreateSubscription(ctx, subscriptionID,
			pubsub.SubscriptionConfig{
				Topic:                 p.topic,
				AckDeadline:           60 * time.Second,
				EnableMessageOrdering: true,
			},
		); err != nil {
			return fmt.Errorf("could not create subscription: %w", err)
		}
	}

	p.subscribed[name] = struct{}{}

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		go func() {
			select {
			case <-p.cctx.Done():
				cancel()
			case <-ctx.Done():
			}
		}()

		if err := sub.Receive(ctx, p.handler(name, l)); err != nil && !errors.Is(err, context.Canceled) {
			p.sendErr(ctx, &publisher.Error{
				Err:      fmt.Errorf("could not receive: %w", err),
				Listener: name,
			})
		}
	}()

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
	p.topic.Stop()

	return p.client.Close()
}

func (p *Publisher) handler(name string, l em.CommitListener) func(ctx context.Context, msg *pubsub.Message) {
	return func(ctx context.Context, msg *pubsub.Message) {
		event, err := p.codec.UnmarshalEvent(ctx, msg.Data)
		if err != nil {
			// The message can never be decoded, don't redeliver it.
			msg.Ack()
			p.sendErr(ctx, &publisher.Error{
				Err:      fmt.Errorf("could not unmarshal event: %w", err),
				Listener: name,
			})

			return
		}

		if err := l.HandleCommit(ctx, []em.Event{event}); err != nil {
			msg.Nack()
			p.sendErr(ctx, &publisher.Error{
				Err:      fmt.Errorf("could not handle event: %w", err),
				Listener: name,
				Event:    event,
			})

			return
		}

		msg.Ack()
	}
}

func (p *Publisher) sendErr(ctx context.Context, err error) {
	if err := publisher.SendErr(p.errCh, err); err != nil {
		p.logger.ErrorContext(ctx, "missed error in Pub/Sub publisher", slog.Any("error", err))
	}
}
