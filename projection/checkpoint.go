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

package projection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	em "github.com/looplab/eventmachine"
)

// CheckpointStore keeps the global position up to which a projection has
// handled events.
type CheckpointStore interface {
	// Checkpoint returns the stored position for name, 0 if there is none.
	Checkpoint(ctx context.Context, name string) (int64, error)
	// SetCheckpoint stores the position for name.
	SetCheckpoint(ctx context.Context, name string, position int64) error
}

// MemoryCheckpoints is a CheckpointStore in memory.
type MemoryCheckpoints struct {
	positions map[string]int64
	mu        sync.RWMutex
}

// NewMemoryCheckpoints creates a new MemoryCheckpoints.
func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{
		positions: map[string]int64{},
	}
}

// Checkpoint implements the Checkpoint method of the CheckpointStore interface.
func (c *MemoryCheckpoints) Checkpoint(ctx context.Context, name string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.positions[name], nil
}

// SetCheckpoint implements the SetCheckpoint method of the CheckpointStore interface.
func (c *MemoryCheckpoints) SetCheckpoint(ctx context.Context, name string, position int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.positions[name] = position

	return nil
}

// Checkpoint is the read model stored by RepoCheckpoints.
type Checkpoint struct {
	Name     string `json:"name"     bson:"_id"`
	Position int64  `json:"position" bson:"position"`
}

// EntityID implements the EntityID method of the eventmachine.Entity interface.
func (c *Checkpoint) EntityID() string {
	return c.Name
}

// RepoCheckpoints is a CheckpointStore that keeps *Checkpoint entities in a
// read repo, for example next to the projected models.
type RepoCheckpoints struct {
	repo em.ReadWriteRepo
}

// NewRepoCheckpoints creates a new RepoCheckpoints. A repo that needs an
// entity factory should create *Checkpoint entities.
func NewRepoCheckpoints(repo em.ReadWriteRepo) *RepoCheckpoints {
	return &RepoCheckpoints{repo: repo}
}

// Checkpoint implements the Checkpoint method of the CheckpointStore interface.
func (c *RepoCheckpoints) Checkpoint(ctx context.Context, name string) (int64, error) {
	entity, err := c.repo.Find(ctx, name)
	if errors.Is(err, em.ErrEntityNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("could not find checkpoint: %w", err)
	}

	cp, ok := entity.(*Checkpoint)
	if !ok {
		return 0, fmt.Errorf("incorrect checkpoint entity %T", entity)
	}

	return cp.Position, nil
}

// SetCheckpoint implements the SetCheckpoint method of the CheckpointStore interface.
func (c *RepoCheckpoints) SetCheckpoint(ctx context.Context, name string, position int64) error {
	if err := c.repo.Save(ctx, &Checkpoint{Name: name, Position: position}); err != nil {
		return fmt.Errorf("could not save checkpoint: %w", err)
	}

	return nil
}
