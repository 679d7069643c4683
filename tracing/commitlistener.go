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
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	em "github.com/looplab/eventmachine"
)

// NewCommitListener wraps a commit listener with tracing spans.
func NewCommitListener(l em.CommitListener) em.CommitListener {
	return &commitListener{l}
}

type commitListener struct {
	em.CommitListener
}

// HandleCommit implements the HandleCommit method of the
// eventmachine.CommitListener interface.
func (l *commitListener) HandleCommit(ctx context.Context, events []em.Event) error {
	opName := fmt.Sprintf("Listener(%s)", l.ListenerName())
	sp, ctx := opentracing.StartSpanFromContext(ctx, opName)

	err := l.CommitListener.HandleCommit(ctx, events)
	if err != nil {
		ext.LogError(sp, err)
	}

	if len(events) > 0 {
		sp.SetTag("em.aggregate_type", events[0].AggregateType().String())
		sp.SetTag("em.aggregate_id", events[0].AggregateID())
		sp.SetTag("em.version", events[len(events)-1].Version())
	}

	sp.SetTag("em.events", len(events))
	sp.Finish()

	return err
}
