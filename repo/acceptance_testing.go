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

package repo

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/mocks"
	"github.com/looplab/eventmachine/uuid"
)

// AcceptanceTest is the acceptance test that all implementations of a read
// model repo should pass. The repo must store *mocks.Model entities. It should
// manually be called from a test case in each implementation:
//
//	func TestRepo(t *testing.T) {
//		r := NewRepo()
//		repo.AcceptanceTest(t, r, context.Background())
//	}
func AcceptanceTest(t *testing.T, repo em.ReadWriteRepo, ctx context.Context) {
	createdAt := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)

	// Find non-existing item.
	entity, err := repo.Find(ctx, uuid.NewString())
	if !errors.Is(err, em.ErrEntityNotFound) {
		t.Error("there should be a ErrEntityNotFound error:", err)
	}

	if entity != nil {
		t.Error("there should be no entity:", entity)
	}

	// FindAll with no items.
	result, err := repo.FindAll(ctx)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if len(result) != 0 {
		t.Error("there should be no items:", len(result))
	}

	// Save model without ID.
	entityMissingID := &mocks.Model{
		Content:   "entity1",
		CreatedAt: createdAt,
	}

	err = repo.Save(ctx, entityMissingID)
	if !errors.Is(err, em.ErrMissingEntityID) {
		t.Error("there should be a ErrMissingEntityID error:", err)
	}

	repoErr := &em.RepoError{}
	if !errors.As(err, &repoErr) || repoErr.Op != em.RepoOpSave {
		t.Error("there should be a repo error:", err)
	}

	// Save and find one item.
	entity1 := &mocks.Model{
		ID:        uuid.NewString(),
		Version:   1,
		Content:   "entity1",
		CreatedAt: createdAt,
	}
	if err = repo.Save(ctx, entity1); err != nil {
		t.Error("there should be no error:", err)
	}

	entity, err = repo.Find(ctx, entity1.ID)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if !reflect.DeepEqual(entity, entity1) {
		t.Error("the item should be correct:", entity)
	}

	// FindAll with one item.
	result, err = repo.FindAll(ctx)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if !reflect.DeepEqual(result, []em.Entity{entity1}) {
		t.Error("the item should be correct:", result)
	}

	// Save and overwrite with same ID.
	entity1Alt := &mocks.Model{
		ID:        entity1.ID,
		Version:   2,
		Content:   "entity1Alt",
		CreatedAt: createdAt,
	}
	if err = repo.Save(ctx, entity1Alt); err != nil {
		t.Error("there should be no error:", err)
	}

	entity, err = repo.Find(ctx, entity1Alt.ID)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if !reflect.DeepEqual(entity, entity1Alt) {
		t.Error("the item should be correct:", entity)
	}

	// Save with another ID.
	entity2 := &mocks.Model{
		ID:        uuid.NewString(),
		Version:   1,
		Content:   "entity2",
		CreatedAt: createdAt,
	}
	if err = repo.Save(ctx, entity2); err != nil {
		t.Error("there should be no error:", err)
	}

	entity, err = repo.Find(ctx, entity2.ID)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if !reflect.DeepEqual(entity, entity2) {
		t.Error("the item should be correct:", entity)
	}

	// FindAll with two items, retrieval in any order is accepted.
	result, err = repo.FindAll(ctx)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if !reflect.DeepEqual(result, []em.Entity{entity1Alt, entity2}) &&
		!reflect.DeepEqual(result, []em.Entity{entity2, entity1Alt}) {
		t.Error("the items should be correct:", result)
	}

	// Remove item.
	if err := repo.Remove(ctx, entity1Alt.ID); err != nil {
		t.Error("there should be no error:", err)
	}

	entity, err = repo.Find(ctx, entity1Alt.ID)
	if !errors.Is(err, em.ErrEntityNotFound) {
		t.Error("there should be a ErrEntityNotFound error:", err)
	}

	if entity != nil {
		t.Error("there should be no entity:", entity)
	}

	// Remove non-existing item.
	err = repo.Remove(ctx, entity1Alt.ID)
	if !errors.Is(err, em.ErrEntityNotFound) {
		t.Error("there should be a ErrEntityNotFound error:", err)
	}

	// Clean up for the next run.
	if err := repo.Remove(ctx, entity2.ID); err != nil {
		t.Error("there should be no error:", err)
	}
}
