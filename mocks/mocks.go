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

// Package mocks contains test doubles for the eventmachine interfaces.
package mocks

import (
	"context"
	"sync"
	"testing"
	"time"

	em "github.com/looplab/eventmachine"
)

const (
	// AggregateType is the type for Aggregate.
	AggregateType em.AggregateType = "Aggregate"

	// EventType is a the type for Event.
	EventType em.EventType = "Event"
	// EventOtherType is the type for EventOther.
	EventOtherType em.EventType = "EventOther"

	// CommandType is the type for Command.
	CommandType em.CommandType = "Command"
	// CommandOtherType is the type for CommandOther.
	CommandOtherType em.CommandType = "CommandOther"
)

// Content is a helper to create the payload used by the mocked event and
// command types.
func Content(content string) em.Payload {
	return em.Payload{"content": content}
}

// Model is a mocked read model, useful in testing.
type Model struct {
	ID        string    `json:"id"         bson:"_id"`
	Version   int       `json:"version"    bson:"version"`
	Content   string    `json:"content"    bson:"content"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// EntityID implements the EntityID method of the eventmachine.Entity interface.
func (m *Model) EntityID() string {
	return m.ID
}

// AggregateVersion implements the AggregateVersion method of the eventmachine.Versionable interface.
func (m *Model) AggregateVersion() int {
	return m.Version
}

// SimpleModel is a mocked read model, useful in testing, without a version.
type SimpleModel struct {
	ID      string `json:"id"      bson:"_id"`
	Content string `json:"content" bson:"content"`
}

// EntityID implements the EntityID method of the eventmachine.Entity interface.
func (m *SimpleModel) EntityID() string {
	return m.ID
}

// CommandHandler is a mocked eventmachine.CommandHandler, useful in testing.
type CommandHandler struct {
	sync.Mutex

	Commands []em.Command
	Context  context.Context
	Result   em.CommandResult
	// Used to simulate errors when handling.
	Err error
}

// HandleCommand implements the HandleCommand method of the eventmachine.CommandHandler interface.
func (h *CommandHandler) HandleCommand(ctx context.Context, cmd em.Command) (em.CommandResult, error) {
	h.Lock()
	defer h.Unlock()

	if h.Err != nil {
		return em.CommandResult{}, h.Err
	}

	h.Commands = append(h.Commands, cmd)
	h.Context = ctx

	return h.Result, nil
}

// CommitListener is a mocked eventmachine.CommitListener, useful in testing.
type CommitListener struct {
	sync.Mutex

	Name    string
	Events  []em.Event
	Commits int
	Context context.Context
	Recv    chan []em.Event
	// Used to simulate errors when handling.
	Err error
}

// NewCommitListener creates a new CommitListener.
func NewCommitListener(name string) *CommitListener {
	return &CommitListener{
		Name:    name,
		Events:  []em.Event{},
		Context: context.Background(),
		Recv:    make(chan []em.Event, 10),
	}
}

// ListenerName implements the ListenerName method of the eventmachine.CommitListener interface.
func (l *CommitListener) ListenerName() string {
	return l.Name
}

// HandleCommit implements the HandleCommit method of the eventmachine.CommitListener interface.
func (l *CommitListener) HandleCommit(ctx context.Context, events []em.Event) error {
	l.Lock()
	defer l.Unlock()

	if l.Err != nil {
		return l.Err
	}

	l.Events = append(l.Events, events...)
	l.Commits++
	l.Context = ctx

	select {
	case l.Recv <- events:
	default:
	}

	return nil
}

// SetErr sets the error to simulate, safe for concurrent use.
func (l *CommitListener) SetErr(err error) {
	l.Lock()
	defer l.Unlock()

	l.Err = err
}

// Received returns a copy of the handled events, safe for concurrent use.
func (l *CommitListener) Received() []em.Event {
	l.Lock()
	defer l.Unlock()

	return append([]em.Event(nil), l.Events...)
}

// WaitForCommit is a helper to wait until a commit has been handled, it
// timeouts after 1 second.
func (l *CommitListener) WaitForCommit(t *testing.T) []em.Event {
	t.Helper()

	select {
	case events := <-l.Recv:
		return events
	case <-time.After(time.Second):
		t.Error("did not receive commit in time")
		return nil
	}
}

// EventStore is a mocked eventmachine.EventStore, useful in testing.
type EventStore struct {
	sync.Mutex

	Events  []em.Event
	Loaded  string
	Saves   int
	Context context.Context
	// Used to simulate errors in the store.
	Err error
}

// Save implements the Save method of the eventmachine.EventStore interface.
func (m *EventStore) Save(ctx context.Context, events []em.Event, originalVersion int) error {
	m.Lock()
	defer m.Unlock()

	if m.Err != nil {
		return m.Err
	}

	m.Events = append(m.Events, events...)
	m.Saves++
	m.Context = ctx

	return nil
}

// Load implements the Load method of the eventmachine.EventStore interface.
func (m *EventStore) Load(ctx context.Context, id string) ([]em.Event, error) {
	return m.LoadFrom(ctx, id, 1)
}

// LoadFrom implements the LoadFrom method of the eventmachine.EventStore interface.
func (m *EventStore) LoadFrom(ctx context.Context, id string, version int) ([]em.Event, error) {
	m.Lock()
	defer m.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	m.Loaded = id
	m.Context = ctx

	events := []em.Event{}
	for _, e := range m.Events {
		if e.AggregateID() == id && e.Version() >= version {
			events = append(events, e)
		}
	}

	return events, nil
}

// LoadAll implements the LoadAll method of the eventmachine.EventStore interface.
func (m *EventStore) LoadAll(ctx context.Context, afterPosition int64, limit int) ([]em.Event, error) {
	m.Lock()
	defer m.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	m.Context = ctx

	events := []em.Event{}
	for i, e := range m.Events {
		if int64(i+1) <= afterPosition {
			continue
		}
		if limit > 0 && len(events) == limit {
			break
		}
		events = append(events, e)
	}

	return events, nil
}

// Close implements the Close method of the eventmachine.EventStore interface.
func (m *EventStore) Close() error {
	return nil
}

// Repo is a mocked eventmachine.ReadWriteRepo, useful in testing.
type Repo struct {
	sync.Mutex

	FindCalled    bool
	FindAllCalled bool
	SaveCalled    bool
	RemoveCalled  bool
	// Entity is returned by Find and set by Save.
	Entity em.Entity
	// Entities is returned by FindAll.
	Entities []em.Entity
	// Used to simulate errors in the repo.
	Err error
}

// Find implements the Find method of the eventmachine.ReadRepo interface.
func (r *Repo) Find(ctx context.Context, id string) (em.Entity, error) {
	r.Lock()
	defer r.Unlock()

	r.FindCalled = true

	if r.Err != nil {
		return nil, r.Err
	}

	if r.Entity == nil || r.Entity.EntityID() != id {
		return nil, &em.RepoError{Err: em.ErrEntityNotFound, Op: em.RepoOpFind, EntityID: id}
	}

	return r.Entity, nil
}

// FindAll implements the FindAll method of the eventmachine.ReadRepo interface.
func (r *Repo) FindAll(ctx context.Context) ([]em.Entity, error) {
	r.Lock()
	defer r.Unlock()

	r.FindAllCalled = true

	if r.Err != nil {
		return nil, r.Err
	}

	return r.Entities, nil
}

// Save implements the Save method of the eventmachine.WriteRepo interface.
func (r *Repo) Save(ctx context.Context, entity em.Entity) error {
	r.Lock()
	defer r.Unlock()

	r.SaveCalled = true

	if r.Err != nil {
		return r.Err
	}

	r.Entity = entity

	return nil
}

// Remove implements the Remove method of the eventmachine.WriteRepo interface.
func (r *Repo) Remove(ctx context.Context, id string) error {
	r.Lock()
	defer r.Unlock()

	r.RemoveCalled = true

	if r.Err != nil {
		return r.Err
	}

	r.Entity = nil

	return nil
}

type contextKey int

const (
	contextKeyOne contextKey = iota
)

// WithContextOne sets a value for One one the context.
func WithContextOne(ctx context.Context, val string) context.Context {
	return context.WithValue(ctx, contextKeyOne, val)
}

// ContextOne returns a value for One from the context.
func ContextOne(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(contextKeyOne).(string)
	return val, ok
}
