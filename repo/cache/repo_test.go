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

package cache

import (
	"context"
	"reflect"
	"testing"
	"time"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/mocks"
	"github.com/looplab/eventmachine/repo"
	"github.com/looplab/eventmachine/repo/memory"
)

func TestReadRepo(t *testing.T) {
	r := NewRepo(memory.NewRepo(), DefaultSize)
	if r == nil {
		t.Fatal("there should be a repository")
	}

	repo.AcceptanceTest(t, r, context.Background())
}

func TestCacheOnFind(t *testing.T) {
	ctx := context.Background()
	simpleModel := &mocks.SimpleModel{
		ID:      "m1",
		Content: "simpleModel",
	}

	baseRepo := &mocks.Repo{Entity: simpleModel}
	r := NewRepo(baseRepo, DefaultSize)

	entity, err := r.Find(ctx, simpleModel.ID)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if entity != simpleModel {
		t.Error("the item should be correct")
	}

	if !baseRepo.FindCalled {
		t.Error("the item should have been read from the store")
	}

	baseRepo.FindCalled = false

	if entity, _ = r.Find(ctx, simpleModel.ID); entity != simpleModel {
		t.Error("the item should be correct")
	}

	if baseRepo.FindCalled {
		t.Error("the item should have been read from the cache")
	}
}

func TestCacheOnFindAll(t *testing.T) {
	ctx := context.Background()
	simpleModel := &mocks.SimpleModel{
		ID:      "m1",
		Content: "simpleModel",
	}

	baseRepo := &mocks.Repo{Entities: []em.Entity{simpleModel}}
	r := NewRepo(baseRepo, DefaultSize)

	entities, err := r.FindAll(ctx)
	if err != nil {
		t.Error("there should be no error:", err)
	}

	if !reflect.DeepEqual(entities, []em.Entity{simpleModel}) {
		t.Error("the items should be correct")
	}

	if entity, err := r.Find(ctx, simpleModel.ID); err != nil || entity != simpleModel {
		t.Error("the item should be correct:", entity, err)
	}

	if baseRepo.FindCalled {
		t.Error("the item should have been read from the cache")
	}
}

func TestCacheBust(t *testing.T) {
	ctx := context.Background()
	model := &mocks.Model{
		ID:        "m1",
		Version:   1,
		CreatedAt: time.Now(),
	}

	baseRepo := &mocks.Repo{Entity: model}
	r := NewRepo(baseRepo, DefaultSize)

	if _, err := r.Find(ctx, model.ID); err != nil {
		t.Fatal("there should be no error:", err)
	}

	// Bust on save.
	if err := r.Save(ctx, model); err != nil {
		t.Error("there should be no error:", err)
	}

	if r.Len() != 0 {
		t.Error("the cache should be busted on save")
	}

	// Bust on commit.
	if _, err := r.Find(ctx, model.ID); err != nil {
		t.Fatal("there should be no error:", err)
	}

	event := em.NewEvent(mocks.EventType, nil, time.Now(),
		em.ForAggregate(mocks.AggregateType, model.ID, 2))
	if err := r.HandleCommit(ctx, []em.Event{event}); err != nil {
		t.Error("there should be no error:", err)
	}

	if r.Len() != 0 {
		t.Error("the cache should be busted on commit")
	}

	// Bust on remove.
	if _, err := r.Find(ctx, model.ID); err != nil {
		t.Fatal("there should be no error:", err)
	}

	if err := r.Remove(ctx, model.ID); err != nil {
		t.Error("there should be no error:", err)
	}

	if r.Len() != 0 || !baseRepo.RemoveCalled {
		t.Error("the cache should be busted on remove")
	}
}

func TestCacheSize(t *testing.T) {
	ctx := context.Background()
	base := memory.NewRepo()
	r := NewRepo(base, 2)

	for _, id := range []string{"a", "b", "c"} {
		if err := base.Save(ctx, &mocks.SimpleModel{ID: id}); err != nil {
			t.Fatal("there should be no error:", err)
		}

		if _, err := r.Find(ctx, id); err != nil {
			t.Fatal("there should be no error:", err)
		}
	}

	if r.Len() != 2 {
		t.Error("the cache should be bounded:", r.Len())
	}
}
