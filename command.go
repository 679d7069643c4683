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

import "fmt"

// Command is a domain command that is sent to a command bus.
//
// A command name should 1) be in present tense and 2) contain the intent
// (CheckInUser vs UpdateBuilding).
//
// Commands carry their data as a Payload that is validated against the
// schema registered under the command type. A command is consumed exactly
// once by the bus and is never persisted itself.
type Command interface {
	// CommandType returns the type of the command.
	CommandType() CommandType
	// AggregateID returns the ID of the aggregate that the command targets.
	AggregateID() string
	// Payload returns the data of the command.
	Payload() Payload
	// ExpectedVersion returns the version of the aggregate that the caller
	// based its decision on, if any.
	ExpectedVersion() (int, bool)
	// Metadata is app-specific metadata that is copied to produced events.
	Metadata() map[string]interface{}
}

// CommandOption is an option to use when creating commands.
type CommandOption func(*command)

// WithExpectedVersion sets the expected version of the target aggregate. The
// command is rejected with a concurrency conflict if the aggregate has moved
// on since that version.
func WithExpectedVersion(version int) CommandOption {
	return func(c *command) {
		c.expectedVersion = version
		c.hasExpectedVersion = true
	}
}

// WithCommandMetadata adds metadata to a command.
func WithCommandMetadata(metadata map[string]interface{}) CommandOption {
	return func(c *command) {
		if c.metadata == nil {
			c.metadata = map[string]interface{}{}
		}
		for k, v := range metadata {
			c.metadata[k] = v
		}
	}
}

// NewCommand creates a command of a type targeting an aggregate.
func NewCommand(commandType CommandType, aggregateID string, payload Payload, options ...CommandOption) Command {
	c := &command{
		commandType: commandType,
		aggregateID: aggregateID,
		payload:     payload,
	}

	for _, option := range options {
		if option == nil {
			continue
		}
		option(c)
	}

	return c
}

type command struct {
	commandType        CommandType
	aggregateID        string
	payload            Payload
	expectedVersion    int
	hasExpectedVersion bool
	metadata           map[string]interface{}
}

// CommandType implements the CommandType method of the Command interface.
func (c *command) CommandType() CommandType {
	return c.commandType
}

// AggregateID implements the AggregateID method of the Command interface.
func (c *command) AggregateID() string {
	return c.aggregateID
}

// Payload implements the Payload method of the Command interface.
func (c *command) Payload() Payload {
	return c.payload
}

// ExpectedVersion implements the ExpectedVersion method of the Command interface.
func (c *command) ExpectedVersion() (int, bool) {
	return c.expectedVersion, c.hasExpectedVersion
}

// Metadata implements the Metadata method of the Command interface.
func (c *command) Metadata() map[string]interface{} {
	return c.metadata
}

func (c *command) String() string {
	return fmt.Sprintf("%s(%s)", c.commandType, c.aggregateID)
}
