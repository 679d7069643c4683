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

package machine

import (
	"context"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/aggregate"
	"github.com/looplab/eventmachine/commandbus"
	"github.com/looplab/eventmachine/query"
	"github.com/looplab/eventmachine/schema"
)

// Machine is a built, immutable set of registry, runtime, command bus and
// query service. It is safe for concurrent use.
type Machine struct {
	registry *schema.Registry
	store    em.EventStore
	runtime  *aggregate.Runtime
	bus      *commandbus.Bus
	queries  *query.Service
}

// Dispatch validates and handles a command. The returned version can be
// passed to em.NewContextWithMinVersion to read a projection that has caught
// up with the command.
func (m *Machine) Dispatch(ctx context.Context, cmdType em.CommandType, aggregateID string, payload em.Payload, options ...em.CommandOption) (em.CommandResult, error) {
	return m.bus.Dispatch(ctx, cmdType, aggregateID, payload, options...)
}

// HandleCommand implements the HandleCommand method of the
// eventmachine.CommandHandler interface.
func (m *Machine) HandleCommand(ctx context.Context, cmd em.Command) (em.CommandResult, error) {
	return m.bus.HandleCommand(ctx, cmd)
}

// Query runs a registered query.
func (m *Machine) Query(ctx context.Context, queryType em.QueryType, params em.Payload) (em.Payload, error) {
	return m.queries.Query(ctx, queryType, params)
}

// HandleQuery implements the HandleQuery method of the query.Handler interface.
func (m *Machine) HandleQuery(ctx context.Context, queryType em.QueryType, params em.Payload) (em.Payload, error) {
	return m.queries.Query(ctx, queryType, params)
}

// Handles returns true if the command type is routed.
func (m *Machine) Handles(cmdType em.CommandType) bool {
	return m.bus.Handles(cmdType)
}

// QueryTypes returns the registered query types.
func (m *Machine) QueryTypes() []em.QueryType {
	return m.queries.Types()
}

// Registry returns the frozen schema registry.
func (m *Machine) Registry() *schema.Registry {
	return m.registry
}

// Store returns the event store.
func (m *Machine) Store() em.EventStore {
	return m.store
}

// Runtime returns the aggregate runtime.
func (m *Machine) Runtime() *aggregate.Runtime {
	return m.runtime
}

// Close closes the event store.
func (m *Machine) Close() error {
	return m.store.Close()
}
