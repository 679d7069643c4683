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

// Package nats publishes committed events on a NATS subject.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/codec/json"
	"github.com/looplab/eventmachine/publisher"
)

const (
	aggregateIDHeader   = "aggregate_id"
	aggregateTypeHeader = "aggregate_type"
	eventTypeHeader     = "event_type"
)

// Publisher publishes events on the subject <appID>_events. Subscriptions
// are NATS queue groups, one per listener name.
type Publisher struct {
	appID        string
	subject      string
	conn         *nats.Conn
	connOpts     []nats.Option
	subscribed   map[string]struct{}
	subscribedMu sync.Mutex
	errCh        chan error
	done         chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
	codec        em.EventCodec
	logger       *slog.Logger
}

var _ = publisher.Publisher(&Publisher{})

// NewPublisher creates a Publisher connected to the NATS server at url.
func NewPublisher(url, appID string, options ...Option) (*Publisher, error) {
	p := &Publisher{
		appID:      appID,
		subject:    appID + "_events",
		subscribed: map[string]struct{}{},
		errCh:      make(chan error, 100),
		done:       make(chan struct{}),
		codec:      &json.EventCodec{},
		logger:     slog.Default(),
	}

	for _, option := range options {
		if option == nil {
			continue
		}

		if err := option(p); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	var err error
	if p.conn, err = nats.Connect(url, p.connOpts...); err != nil {
		return nil, fmt.Errorf("could not connect to NATS: %w", err)
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

// WithNATSOptions adds the NATS options to the underlying client.
func WithNATSOptions(opts ...nats.Option) Option {
	return func(p *Publisher) error {
		p.connOpts = opts
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
	return "publisher_nats"
}

// HandleCommit implements the HandleCommit method of the
// eventmachine.CommitListener interface.
func (p *Publisher) HandleCommit(ctx context.Context, events []em.Event) error {
	for _, event := range events {
		data, err := p.codec.MarshalEvent(ctx, event)
		if err != nil {
			return fmt.Errorf("could not marshal event: %w", err)
		}

		msg := &nats.Msg{
			Subject: p.subject,
			Data:    data,
			Header:  nats.Header{},
		}
		msg.Header.Set(aggregateIDHeader, event.AggregateID())
		msg.Header.Set(aggregateTypeHeader, event.AggregateType().String())
		msg.Header.Set(eventTypeHeader, event.EventType().String())

		if err := p.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("could not publish event: %w", err)
		}
	}

	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("could not flush events: %w", err)
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

	queueGroup := p.appID + "_" + name

	sub, err := p.conn.QueueSubscribe(p.subject, queueGroup, p.handler(ctx, name, l))
	if err != nil {
		return fmt.Errorf("could not subscribe to queue: %w", err)
	}

	// Make sure the subscription is known by the server before returning.
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("could not subscribe to queue: %w", err)
	}

	p.subscribed[name] = struct{}{}

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		select {
		case <-ctx.Done():
		case <-p.done:
		}

		if err := sub.Unsubscribe(); err != nil {
			p.logger.Error("could not unsubscribe", slog.String("listener", name), slog.Any("error", err))
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
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		p.conn.Close()
	})

	return nil
}

func (p *Publisher) handler(ctx context.Context, name string, l em.CommitListener) func(msg *nats.Msg) {
	return func(msg *nats.Msg) {
		event, err := p.codec.UnmarshalEvent(ctx, msg.Data)
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
		}
	}
}

func (p *Publisher) sendErr(ctx context.Context, err error) {
	if err := publisher.SendErr(p.errCh, err); err != nil {
		p.logger.ErrorContext(ctx, "missed error in NATS publisher", slog.Any("error", err))
	}
}
