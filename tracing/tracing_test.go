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
	"testing"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/mocks"
	"github.com/looplab/eventmachine/query"
	"github.com/looplab/eventmachine/schema"
)

func useMockTracer(t *testing.T) *mocktracer.MockTracer {
	t.Helper()

	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)

	t.Cleanup(func() {
		opentracing.SetGlobalTracer(opentracing.NoopTracer{})
	})

	return tracer
}

func TestCommandHandlerMiddleware(t *testing.T) {
	tracer := useMockTracer(t)

	inner := &mocks.CommandHandler{
		Result: em.CommandResult{AggregateID: "a1", Version: 3},
	}
	h := em.UseCommandHandlerMiddleware(inner, NewCommandHandlerMiddleware())

	cmd := em.NewCommand(mocks.CommandType, "a1", mocks.Content("c"),
		em.WithExpectedVersion(2),
		em.WithCommandMetadata(map[string]interface{}{"user": "alice"}),
	)

	res, err := h.HandleCommand(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Version)

	// The handled command carries the span.
	require.Len(t, inner.Commands, 1)
	handled := inner.Commands[0]
	assert.Equal(t, "alice", handled.Metadata()["user"])
	assert.Contains(t, handled.Metadata(), SpanMetadataKey)
	assert.Equal(t, cmd.Payload(), handled.Payload())

	v, ok := handled.ExpectedVersion()
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "Command(Command)", spans[0].OperationName)
	assert.Equal(t, "a1", spans[0].Tag("em.aggregate_id"))
	assert.Equal(t, 3, spans[0].Tag("em.version"))

	// Errors are logged on the span.
	inner.Err = errors.New("handler error")

	_, err = h.HandleCommand(context.Background(), cmd)
	assert.ErrorIs(t, err, inner.Err)

	spans = tracer.FinishedSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, true, spans[1].Tag("error"))
}

func TestContextWithSpan(t *testing.T) {
	tracer := useMockTracer(t)

	parent := tracer.StartSpan("parent")
	ctx := opentracing.ContextWithSpan(context.Background(), parent)

	md := map[string]interface{}{}
	require.True(t, InjectSpan(ctx, md))
	assert.False(t, InjectSpan(context.Background(), map[string]interface{}{}))

	sp, ctx := ContextWithSpan(context.Background(), "Publish", md)
	assert.Equal(t, sp, opentracing.SpanFromContext(ctx))
	sp.Finish()
	parent.Finish()

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, parent.Context().(mocktracer.MockSpanContext).SpanID, spans[0].ParentID)

	// Without metadata the span is a root span.
	sp, _ = ContextWithSpan(context.Background(), "Publish", nil)
	sp.Finish()

	spans = tracer.FinishedSpans()
	assert.Equal(t, 0, spans[2].ParentID)
}

func TestCommitListener(t *testing.T) {
	tracer := useMockTracer(t)

	inner := mocks.NewCommitListener("projection")
	l := NewCommitListener(inner)
	assert.Equal(t, "projection", l.ListenerName())

	event := em.NewEvent(mocks.EventType, mocks.Content("e"), time.Now(),
		em.ForAggregate(mocks.AggregateType, "a1", 1))

	require.NoError(t, l.HandleCommit(context.Background(), []em.Event{event}))
	assert.Len(t, inner.Received(), 1)

	inner.SetErr(errors.New("listener error"))
	assert.Error(t, l.HandleCommit(context.Background(), []em.Event{event}))

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "Listener(projection)", spans[0].OperationName)
	assert.Equal(t, "a1", spans[0].Tag("em.aggregate_id"))
	assert.Nil(t, spans[0].Tag("error"))
	assert.Equal(t, true, spans[1].Tag("error"))
}

func TestQueryMiddleware(t *testing.T) {
	tracer := useMockTracer(t)

	registry := schema.NewRegistry()
	registry.MustRegister("Result", schema.Object(schema.Fields{"ok": schema.Boolean()}))

	s, err := query.NewService(registry, query.WithMiddleware(NewQueryMiddleware()))
	require.NoError(t, err)
	require.NoError(t, s.Register(query.Definition{
		Type:       "Check",
		ReturnType: "Result",
		Resolver: query.ResolverFunc(func(ctx context.Context, params em.Payload) (em.Payload, error) {
			return em.Payload{"ok": true}, nil
		}),
	}))

	ctx := em.NewContextWithMinVersion(context.Background(), 2)

	_, err = s.Query(ctx, "Check", nil)
	require.NoError(t, err)

	_, err = s.Query(ctx, "Missing", nil)
	assert.ErrorIs(t, err, em.ErrUnknownQuery)

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "Query(Check)", spans[0].OperationName)
	assert.Equal(t, 2, spans[0].Tag("em.min_version"))
	assert.Nil(t, spans[0].Tag("error"))
	assert.Equal(t, true, spans[1].Tag("error"))
}
