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

package lock

import (
	"context"
	"log/slog"

	em "github.com/looplab/eventmachine"
)

// NewMiddleware returns a middleware that handles the commands of an
// aggregate one at a time. Failing unlocks are logged with the logger,
// which may be nil.
func NewMiddleware(l Lock, logger *slog.Logger) em.CommandHandlerMiddleware {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return em.CommandHandlerMiddleware(func(h em.CommandHandler) em.CommandHandler {
		return em.CommandHandlerFunc(func(ctx context.Context, cmd em.Command) (em.CommandResult, error) {
			id := cmd.AggregateID()

			if err := l.Lock(ctx, id); err != nil {
				return em.CommandResult{}, err
			}

			defer func() {
				// The command may have been cancelled, the lock must still be released.
				if err := l.Unlock(context.WithoutCancel(ctx), id); err != nil {
					logger.ErrorContext(ctx, "could not unlock aggregate",
						slog.String("aggregate_id", id),
						slog.String("command_type", cmd.CommandType().String()),
						slog.Any("error", err),
					)
				}
			}()

			return h.HandleCommand(ctx, cmd)
		})
	})
}
