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
	"encoding/json"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
)

// SpanMetadataKey is the metadata key of the span context of the command
// that produced an event.
const SpanMetadataKey = "em_tracing_span"

// InjectSpan adds the span context of the span in ctx to metadata, encoded
// with the global tracer. It returns false if there was nothing to add.
func InjectSpan(ctx context.Context, metadata map[string]interface{}) bool {
	span := opentracing.SpanFromContext(ctx)
	if span == nil {
		return false
	}

	carrier := opentracing.TextMapCarrier{}
	if err := opentracing.GlobalTracer().Inject(span.Context(), opentracing.TextMap, carrier); err != nil {
		return false
	}

	if len(carrier) == 0 {
		return false
	}

	js, err := json.Marshal(carrier)
	if err != nil {
		return false
	}

	metadata[SpanMetadataKey] = string(js)

	return true
}

// ContextWithSpan returns a context with a new span named opName, that
// follows the span in metadata added by InjectSpan. The span must be
// finished by the caller. Without a span in metadata, or a tracer that
// can read it, the new span is a root span.
func ContextWithSpan(ctx context.Context, opName string, metadata map[string]interface{}) (opentracing.Span, context.Context) {
	tracer := opentracing.GlobalTracer()

	var options []opentracing.StartSpanOption

	if js, ok := metadata[SpanMetadataKey].(string); ok {
		carrier := opentracing.TextMapCarrier{}
		if err := json.Unmarshal([]byte(js), &carrier); err == nil {
			if parent, err := tracer.Extract(opentracing.TextMap, carrier); err == nil {
				options = append(options, ext.RPCServerOption(parent))
			}
		}
	}

	span := tracer.StartSpan(opName, options...)

	return span, opentracing.ContextWithSpan(ctx, span)
}
