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

// Package websocket is a live feed of committed events over websockets.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/codec/json"
)

// DefaultBufferSize is the number of events buffered for each connection.
const DefaultBufferSize = 100

// AggregateTypeParam is the URL query parameter that limits a connection to
// the events of one aggregate type.
const AggregateTypeParam = "aggregate_type"

// Feed is a commit listener and a http.Handler. Requests are upgraded to
// websockets that receive every committed event as a text message, encoded by
// the codec. Connections that can't keep up are closed.
type Feed struct {
	upgrader   websocket.Upgrader
	codec      em.EventCodec
	logger     *slog.Logger
	bufferSize int

	conns   map[*conn]struct{}
	connsMu sync.RWMutex
}

type conn struct {
	aggregateType em.AggregateType
	ch            chan []byte
	closeOnce     sync.Once
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.ch)
	})
}

var _ = em.CommitListener(&Feed{})

// NewFeed creates a new Feed.
func NewFeed(options ...Option) *Feed {
	f := &Feed{
		codec:      &json.EventCodec{},
		logger:     slog.Default(),
		bufferSize: DefaultBufferSize,
		conns:      map[*conn]struct{}{},
	}

	for _, option := range options {
		option(f)
	}

	return f
}

// Option is an option setter used to configure creation.
type Option func(*Feed)

// WithCodec uses the specified codec for encoding events.
func WithCodec(codec em.EventCodec) Option {
	return func(f *Feed) {
		f.codec = codec
	}
}

// WithUpgrader uses the upgrader for requests, for example to check the
// origin of requests.
func WithUpgrader(upgrader websocket.Upgrader) Option {
	return func(f *Feed) {
		f.upgrader = upgrader
	}
}

// WithBufferSize sets the number of events buffered for each connection.
func WithBufferSize(size int) Option {
	return func(f *Feed) {
		f.bufferSize = size
	}
}

// WithLogger sets the logger of the feed.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) {
		f.logger = logger
	}
}

// ListenerName implements the ListenerName method of the
// eventmachine.CommitListener interface.
func (f *Feed) ListenerName() string {
	return "publisher_websocket"
}

// HandleCommit implements the HandleCommit method of the
// eventmachine.CommitListener interface. It never blocks on connections.
func (f *Feed) HandleCommit(ctx context.Context, events []em.Event) error {
	msgs := make([][]byte, len(events))

	for i, event := range events {
		b, err := f.codec.MarshalEvent(ctx, event)
		if err != nil {
			return fmt.Errorf("could not marshal event: %w", err)
		}

		msgs[i] = b
	}

	f.connsMu.Lock()
	defer f.connsMu.Unlock()

	for c := range f.conns {
		for i, event := range events {
			if c.aggregateType != "" && c.aggregateType != event.AggregateType() {
				continue
			}

			select {
			case c.ch <- msgs[i]:
			default:
				f.logger.WarnContext(ctx, "websocket connection too slow, closing")
				delete(f.conns, c)
				c.close()
			}

			if _, ok := f.conns[c]; !ok {
				break
			}
		}
	}

	return nil
}

// ServeHTTP implements the http.Handler interface.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an error.
		f.logger.InfoContext(r.Context(), "could not upgrade to websocket", slog.Any("error", err))
		return
	}
	defer ws.Close()

	c := &conn{
		aggregateType: em.AggregateType(r.URL.Query().Get(AggregateTypeParam)),
		ch:            make(chan []byte, f.bufferSize),
	}

	f.connsMu.Lock()
	f.conns[c] = struct{}{}
	f.connsMu.Unlock()

	defer f.remove(c)

	// Detect closed connections, incoming messages are ignored.
	go func() {
		for {
			if _, _, err := ws.NextReader(); err != nil {
				f.remove(c)
				return
			}
		}
	}()

	for msg := range c.ch {
		if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			f.logger.DebugContext(r.Context(), "could not write to websocket", slog.Any("error", err))
			return
		}
	}

	_ = ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Len returns the number of open connections.
func (f *Feed) Len() int {
	f.connsMu.RLock()
	defer f.connsMu.RUnlock()

	return len(f.conns)
}

// Close closes all connections.
func (f *Feed) Close() error {
	f.connsMu.Lock()
	defer f.connsMu.Unlock()

	for c := range f.conns {
		delete(f.conns, c)
		c.close()
	}

	return nil
}

func (f *Feed) remove(c *conn) {
	f.connsMu.Lock()
	defer f.connsMu.Unlock()

	delete(f.conns, c)
	c.close()
}

// Subscribe connects to a Feed at the websocket URL and hands every received
// event to the listener, one event per commit. It returns when the context is
// done or the connection is closed.
func Subscribe(ctx context.Context, url string, l em.CommitListener, codec em.EventCodec) error {
	if codec == nil {
		codec = &json.EventCodec{}
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("could not connect: %w", err)
	}
	defer ws.Close()

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return nil
			}

			return fmt.Errorf("could not read: %w", err)
		}

		event, err := codec.UnmarshalEvent(ctx, msg)
		if err != nil {
			return fmt.Errorf("could not unmarshal event: %w", err)
		}

		if err := l.HandleCommit(ctx, []em.Event{event}); err != nil {
			return fmt.Errorf("could not handle event: %w", err)
		}
	}
}
