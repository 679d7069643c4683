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

// Package tracing adds opentracing spans to command handling, queries, commit
// listeners and read model repos.
package tracing

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	em "github.com/looplab/eventmachine"
)

// NewCommandHandlerMiddleware returns a new command handler middleware that
// adds tracing spans. The span context is added to the command metadata, and
// so to the produced events, to let event consumers continue the trace.
func NewCommandHandlerMiddleware() em.CommandHandlerMiddleware {
	return em.CommandHandlerMiddleware(func(h em.CommandHandler) em.CommandHandler {
		return em.CommandHandlerFunc(func(ctx context.Context, cmd em.Command) (em.CommandResult, error) {
			opName := fmt.Sprintf("Command(%s)", cmd.CommandType())
			sp, ctx := opentracing.StartSpanFromContext(ctx, opName)

			result, err := h.HandleCommand(ctx, withSpanMetadata(ctx, cmd))

			sp.SetTag("em.command_type", cmd.CommandType().String())
			sp.SetTag("em.aggregate_id", cmd.AggregateID())
			sp.SetTag("em.version", result.Version)
			sp.SetTag("em.events", len(result.Events))

			if err != nil {
				ext.LogError(sp, err)
			}

			sp.Finish()

			return result, err
		})
	})
}

func withSpanMetadata(ctx context.Context, cmd em.Command) em.Command {
	md := map[string]interface{}{}
	if !InjectSpan(ctx, md) {
		return cmd
	}

	options := []em.CommandOption{
		em.WithCommandMetadata(cmd.Metadata()),
		em.WithCommandMetadata(md),
	}
	if v, ok := cmd.ExpectedVersion(); ok {
		options = append(options, em.WithExpectedVersion(v))
	}

	return em.NewCommand(cmd.CommandType(), cmd.AggregateID(), cmd.Payload(), options...)
}
