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
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/query"
)

// NewQueryMiddleware returns a new query middleware that adds tracing spans.
// Results that violate their type are tagged as errors, other failures only
// when they are not a missing entity.
func NewQueryMiddleware() query.Middleware {
	return query.Middleware(func(h query.Handler) query.Handler {
		return query.HandlerFunc(func(ctx context.Context, queryType em.QueryType, params em.Payload) (em.Payload, error) {
			opName := fmt.Sprintf("Query(%s)", queryType)
			sp, ctx := opentracing.StartSpanFromContext(ctx, opName)

			result, err := h.HandleQuery(ctx, queryType, params)

			sp.SetTag("em.query_type", queryType.String())

			if minVersion, ok := em.MinVersionFromContext(ctx); ok {
				sp.SetTag("em.min_version", minVersion)
			}

			if err != nil && !errors.Is(err, em.ErrEntityNotFound) {
				ext.LogError(sp, err)
			}

			sp.Finish()

			return result, err
		})
	})
}
