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

package memory

import (
	"context"
	"testing"
	"time"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/mocks"
	"github.com/looplab/eventmachine/repo"
)

func TestReadRepo(t *testing.T) {
	r := NewRepo()
	if r == nil {
		t.Fatal("there should be a repository")
	}

	repo.AcceptanceTest(t, r, context.Background())

	// The acceptance test cleans up after itself.
	repo.AcceptanceTest(t, r, context.Background())

	if r.Len() != 0 {
		t.Error("the repo should be empty:", r.Len())
	}
}

func TestRepoCopiesEntities(t *testing.T) {
	r := NewRepo()
	ctx := context.Background()

	model := &mocks.Model{
		ID:        "m1",
		Version:   1,
		Content:   "original",
		CreatedAt: time.Now(),
	}
	if err := r.Save(ctx, model); err != nil {
		t.Fatal("there should be no error:", err)
	}

	model.Content = "changed"

	entity, err := r.Find(ctx, "m1")
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	found, ok := entity.(*mocks.Model)
	if !ok {
		t.Fatal("the entity should be a model:", entity)
	}

	if found.Content != "original" {
		t.Error("the stored model should not change:", found.Content)
	}

	found.Content = "changed again"

	all, err := r.FindAll(ctx)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if all[0].(*mocks.Model).Content != "original" {
		t.Error("the stored model should not change:", all[0])
	}
}

func TestRepoValueEntity(t *testing.T) {
	r := NewRepo()
	ctx := context.Background()

	if err := r.Save(ctx, valueEntity("v1")); err != nil {
		t.Fatal("there should be no error:", err)
	}

	entity, err := r.Find(ctx, "v1")
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	if entity != em.Entity(valueEntity("v1")) {
		t.Error("the entity should be correct:", entity)
	}
}

type valueEntity string

func (e valueEntity) EntityID() string {
	return string(e)
}
