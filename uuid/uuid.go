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

// Package uuid wraps github.com/google/uuid so that the rest of the module
// depends on one place for event IDs and UUID shaped aggregate IDs.
package uuid

import "github.com/google/uuid"

// UUID is an alias type for github.com/google/uuid.UUID
type UUID = uuid.UUID

// Nil is an empty UUID.
var Nil = UUID(uuid.Nil)

// New creates a new random UUID.
func New() UUID {
	return UUID(uuid.New())
}

// NewString creates a new random UUID in its canonical string form.
func NewString() string {
	return uuid.NewString()
}

// Parse parses a UUID from a string, or returns an error.
func Parse(s string) (UUID, error) {
	id, err := uuid.Parse(s)
	return UUID(id), err
}

// MustParse parses a UUID from a string, or panics.
func MustParse(s string) UUID {
	return UUID(uuid.MustParse(s))
}

// Valid reports whether s is a UUID in one of the forms accepted by Parse.
func Valid(s string) bool {
	return uuid.Validate(s) == nil
}
