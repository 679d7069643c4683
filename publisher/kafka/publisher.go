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

// Package kafka publishes committed events on a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/codec/json"
	"github.com/looplab/eventmachine/publisher"
)

const (
	aggregateTypeHeader = "aggregate_type"
	eventTypeHeader     = "event_type"
)

// Publisher publishes events on the topic <appID>_events, keyed by aggregate
// ID so that the events of an aggregate stay in one partition and in order.
// Subscriptions are consumer groups, one per listener name.
type Publisher struct {
	// TODO: Support multiple brokers.
	addr         string
	appID        string
	topic        string
	partitions   int
	writer       *kafka.Writer
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
func NewPublisher(addr, appID string, options ...Option) (*Publisher, error) {
	ctx, cancel := context.WithCancel(context.Background())

	p := &Publisher{
		addr:       addr,
		appID:      appID,
		topic:      appID + "_events",
		partitions: 1,
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

	if err := p.createTopic(ctx); err != nil {
		cancel()
		return nil, err
	}

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(addr),
		Topic:        p.topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    1,                // Write every event without delay.
		RequiredAcks: kafka.RequireOne, // Stronger consistency.
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

// WithPartitions sets the number of partitions of a created topic.
func WithPartitions(n int) Option {
	return func(p *Publisher) error {
		if n < 1 {
			return fmt.Errorf("invalid number of partitions: %d", n)
		}

		p.partitions = n

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

func (p *Publisher) createTopic(ctx context.Context) error {
	client := &kafka.Client{
		Addr: kafka.TCP(p.addr),
	}

	var (
		resp *kafka.CreateTopicsResponse
		err  error
	)

	for i := 0; i < 10; i++ {
		resp, err = client.CreateTopics(ctx, &kafka.CreateTopicsRequest{
			Topics: []kafka.TopicConfig{{
				Topic:             p.topic,
				NumPartitions:     p.partitions,
				ReplicationFactor: 1,
			}},
		})
		if errors.Is(err, kafka.BrokerNotAvailable) {
			time.Sleep(5 * time.Second)
			continue
		} else if err != nil {
			return fmt.Errorf("error creating Kafka topic: %w", err)
		}

		break
	}

	if resp == nil {
		return fmt.Errorf("could not get/create Kafka topic in time: %w", err)
	}

	if topicErr, ok := resp.Errors[p.topic]; ok && topicErr != nil {
		if !errors.Is(topicErr, kafka.TopicAlreadyExists) {
			return fmt.Errorf("invalid Kafka topic: %w", topicErr)
		}
	}

	return nil
}

// ListenerName implements the ListenerName method of the
// eventmachine.CommitListener interface.
func (p *Publisher) ListenerName() string {
	return "publisher_kafka"
}

// HandleCommit implements the HandleCommit method of the
// eventmachine.CommitListener interface.
func (p *Publisher) HandleCommit(ctx context.Context, events []em.Event) error {
	msgs := make([]kafka.Message, 0, len(events))

	for _, event := range events {
		data, err := p.codec.MarshalEvent(ctx, event)
		if err != nil {
			return fmt.Errorf("could not marshal event: %w", err)
		}

		msgs = append(msgs, kafka.Message{
			Key:   []byte(event.AggregateID()),
			Value: data,
			Headers: []kafka.Header{
				{
					Key:   aggregateTypeHeader,
					Value: []byte(event.AggregateType().String()),
				},
				{
					Key:   eventTypeHeader,
					Value: []byte(event.EventType().String()),
				},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
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

	joined := make(chan struct{})
	groupID := p.appID + "_" + name
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:                []string{p.addr},
		Topic:                  p.topic,
		GroupID:                groupID,     // Send messages to only one subscriber per group.
		MaxBytes:               100e3,       // 100KB
		MaxWait:                time.Second, // Allow to exit readloop in max 1s.
		PartitionWatchInterval: time.Second,
		WatchPartitionChanges:  true,
		StartOffset:            kafka.LastOffset, // Don't read old messages.
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			// NOTE: Hacky way to use logger to find out when the reader is ready.
			if strings.HasPrefix(msg, "Joined group") {
				select {
				case <-joined:
				default:
					close(joined) // Close once.
				}
			}
		}),
	})

	select {
	case <-joined:
	case <-time.After(10 * time.Second):
		r.Close()
		return fmt.Errorf("did not join group in time")
	}

	p.subscribed[name] = struct{}{}

	p.wg.Add(1)

	go p.handle(ctx, name, l, r)

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

	return p.writer.Close()
}

// handle handles all messages of a subscription until the context is
// cancelled or the publisher is closed.
func (p *Publisher) handle(ctx context.Context, name string, l em.CommitListener, r *kafka.Reader) {
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

	for {
		msg, err := r.FetchMessage(ctx)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			break
		}

		if err != nil {
			p.sendErr(ctx, &publisher.Error{
				Err:      fmt.Errorf("could not receive: %w", err),
				Listener: name,
			})

			// Retry the receive loop if there was an error.
			time.Sleep(time.Second)

			continue
		}

		p.handleMessage(ctx, name, l, r, msg)
	}

	if err := r.Close(); err != nil {
		p.logger.Error("could not close Kafka reader", slog.String("listener", name), slog.Any("error", err))
	}
}

func (p *Publisher) handleMessage(ctx context.Context, name string, l em.CommitListener, r *kafka.Reader, msg kafka.Message) {
	event, err := p.codec.UnmarshalEvent(ctx, msg.Value)
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

	if err := r.CommitMessages(ctx, msg); err != nil {
		p.sendErr(ctx, &publisher.Error{
			Err:      fmt.Errorf("could not commit message: %w", err),
			Listener: name,
			Event:    event,
		})
	}
}

func (p *Publisher) sendErr(ctx context.Context, err error) {
	if err := publisher.SendErr(p.errCh, err); err != nil {
		p.logger.ErrorContext(ctx, "missed error in Kafka publisher", slog.Any("error", err))
	}
}
