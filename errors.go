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

package eventmachine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnroutableCommand is when no handler is registered for a command type.
	ErrUnroutableCommand = errors.New("unroutable command")
	// ErrUnknownQuery is when no resolver is registered for a query type.
	ErrUnknownQuery = errors.New("unknown query")
	// ErrBusinessRule is matched by all BusinessRuleViolation errors.
	ErrBusinessRule = errors.New("business rule violation")
	// ErrConcurrencyConflict is when the stored version of an aggregate does
	// not match the expected version when appending events. It is transient,
	// the command can be retried against the new state.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrStorageUnavailable is when the storage could not be reached, even
	// after retrying.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrEventTypeDrift is matched by all EventTypeDriftError errors.
	ErrEventTypeDrift = errors.New("event type drift")
	// ErrResultViolation is matched by all ResultViolationError errors.
	ErrResultViolation = errors.New("query result violates its schema")
)

// BusinessRuleViolation is returned by command handlers that reject a
// command. It is a normal negative outcome: nothing is persisted and the
// command is never retried.
type BusinessRuleViolation struct {
	Reason string
}

// NewBusinessRuleViolation creates a BusinessRuleViolation with a formatted reason.
func NewBusinessRuleViolation(format string, args ...interface{}) *BusinessRuleViolation {
	return &BusinessRuleViolation{Reason: fmt.Sprintf(format, args...)}
}

// Error implements the Error method of the errors.Error interface.
func (e *BusinessRuleViolation) Error() string {
	return "business rule violation: " + e.Reason
}

// Is makes errors.Is(err, ErrBusinessRule) match.
func (e *BusinessRuleViolation) Is(target error) bool {
	return target == ErrBusinessRule
}

// EventTypeDriftError is when replaying a stream finds an event type that the
// aggregate can not apply. This is a deployment or migration bug: the
// aggregate must not be processed further.
type EventTypeDriftError struct {
	AggregateType AggregateType
	AggregateID   string
	EventType     EventType
	Version       int
}

// Error implements the Error method of the errors.Error interface.
func (e *EventTypeDriftError) Error() string {
	return fmt.Sprintf("event type drift: %s can not apply %s (%s, v%d)",
		e.AggregateType, e.EventType, e.AggregateID, e.Version)
}

// Is makes errors.Is(err, ErrEventTypeDrift) match.
func (e *EventTypeDriftError) Is(target error) bool {
	return target == ErrEventTypeDrift
}

// ResultViolationError is when a query produced a result that does not
// match its return type. It indicates a bug in a projection or resolver, not
// a caller error.
type ResultViolationError struct {
	Query QueryType
	Err   error
}

// Error implements the Error method of the errors.Error interface.
func (e *ResultViolationError) Error() string {
	return fmt.Sprintf("query %s: invalid result: %s", e.Query, e.Err)
}

// Unwrap implements the errors.Unwrap method.
func (e *ResultViolationError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrResultViolation) match.
func (e *ResultViolationError) Is(target error) bool {
	return target == ErrResultViolation
}

type transientError struct {
	err error
}

func (e transientError) Error() string {
	return e.err.Error()
}

func (e transientError) Unwrap() error {
	return e.err
}

// MarkTransient marks an error as a transient storage failure that is safe to
// retry, for example a lost connection or a busy database.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}

	return transientError{err}
}

// IsTransient returns true if the error is a transient storage failure.
// Concurrency conflicts are not transient in this sense, they are handled by
// reloading the aggregate instead of repeating the same write.
func IsTransient(err error) bool {
	var t transientError
	return errors.As(err, &t)
}
