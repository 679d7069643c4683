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
	"context"
	"errors"
)

// Entity is an item which is identified by an ID, typically a read model
// kept up to date by a projection.
type Entity interface {
	// EntityID returns the ID of the entity.
	EntityID() string
}

// Versionable is an item that has a version number, used by projections and
// min version queries.
type Versionable interface {
	// AggregateVersion returns the version of the item.
	AggregateVersion() int
}

// RepoOperation is the operation done when an error happened.
type RepoOperation string

const (
	// Errors during finding of an entity.
	RepoOpFind RepoOperation = "find"
	// Errors during finding of all entities.
	RepoOpFindAll RepoOperation = "find all"
	// Errors during saving of an entity.
	RepoOpSave RepoOperation = "save"
	// Errors during removing of an entity.
	RepoOpRemove RepoOperation = "remove"
)

// RepoError is an error in the read repository.
type RepoError struct {
	// Err is the error.
	Err error
	// Op is the operation for the error.
	Op RepoOperation
	// EntityID of related operation.
	EntityID string
}

// Error implements the Error method of the errors.Error interface.
func (e *RepoError) Error() string {
	str := "repo: "

	if e.Op != "" {
		str += string(e.Op) + ": "
	}

	if e.Err != nil {
		str += e.Err.Error()
	} else {
		str += "unknown error"
	}

	if e.EntityID != "" {
		str += " (" + e.EntityID + ")"
	}

	return str
}

// Unwrap implements the errors.Unwrap method.
func (e *RepoError) Unwrap() error {
	return e.Err
}

var (
	// ErrEntityNotFound is when a entity could not be found.
	ErrEntityNotFound = errors.New("could not find entity")
	// ErrMissingEntityID is when a entity has no ID.
	ErrMissingEntityID = errors.New("missing entity ID")
	// ErrEntityHasNoVersion is when an entity has no version number.
	ErrEntityHasNoVersion = errors.New("entity has no version")
	// ErrIncorrectEntityVersion is when an entity has an incorrect version.
	ErrIncorrectEntityVersion = errors.New("incorrect entity version")
)

// ReadRepo is a read repository for entities.
type ReadRepo interface {
	// Find returns an entity for an ID.
	Find(ctx context.Context, id string) (Entity, error)

	// FindAll returns all entities in the repository.
	FindAll(ctx context.Context) ([]Entity, error)
}

// WriteRepo is a write repository for entities.
type WriteRepo interface {
	// Save saves a entity in the storage.
	Save(ctx context.Context, entity Entity) error

	// Remove removes a entity by ID from the storage.
	Remove(ctx context.Context, id string) error
}

// ReadWriteRepo is a combined read and write repo, used by projections.
type ReadWriteRepo interface {
	ReadRepo
	WriteRepo
}
