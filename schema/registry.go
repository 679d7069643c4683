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

package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDuplicateType is when a type name is registered twice.
	ErrDuplicateType = errors.New("duplicate type")
	// ErrEmptyTypeName is when a type is registered without a name.
	ErrEmptyTypeName = errors.New("empty type name")
	// ErrNilType is when a nil type is registered.
	ErrNilType = errors.New("nil type")
	// ErrUnknownType is when validating against a name that is not registered.
	ErrUnknownType = errors.New("unknown type")
	// ErrFrozen is when registering types after the registry was frozen.
	ErrFrozen = errors.New("registry is frozen")
	// ErrUnresolvedRef is when a type refers to a name that is not registered.
	ErrUnresolvedRef = errors.New("unresolved type reference")
)

// Registry holds named type definitions. Types are registered at startup,
// after Freeze the registry is immutable and safe for concurrent use.
type Registry struct {
	types  map[string]*Type
	frozen bool
	mu     sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		types: map[string]*Type{},
	}
}

// Register registers a type under a name. Names are unique for the lifetime
// of the registry.
func (r *Registry) Register(name string, t *Type) error {
	if name == "" {
		return ErrEmptyTypeName
	}

	if t == nil {
		return fmt.Errorf("%w: %s", ErrNilType, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: can not register %s", ErrFrozen, name)
	}

	if _, ok := r.types[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, name)
	}

	r.types[name] = t

	return nil
}

// MustRegister is like Register but panics on errors.
func (r *Registry) MustRegister(name string, t *Type) {
	if err := r.Register(name, t); err != nil {
		panic("schema: " + err.Error())
	}
}

// Freeze checks that all references resolve and stops further registration.
func (r *Registry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.sortedNames() {
		if err := r.checkRefs(name, r.types[name]); err != nil {
			return err
		}
	}

	r.frozen = true

	return nil
}

// Frozen returns true if the registry has been frozen.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.frozen
}

func (r *Registry) checkRefs(name string, t *Type) error {
	switch t.kind {
	case KindRef:
		if _, ok := r.types[t.ref]; !ok {
			return fmt.Errorf("%w: %s refers to %s", ErrUnresolvedRef, name, t.ref)
		}
	case KindArray:
		return r.checkRefs(name, t.items)
	case KindObject:
		for _, f := range t.fields {
			if err := r.checkRefs(name, f); err != nil {
				return err
			}
		}
	}

	return nil
}

// Lookup returns the type registered under name.
func (r *Registry) Lookup(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[name]

	return t, ok
}

// Has returns true if a type is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names returns the sorted names of all registered types.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedNames()
}

func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Validate validates a payload against the type registered under name. The
// payload is returned unchanged on success, otherwise the first violation
// is returned as a *Violation.
func (r *Registry) Validate(name string, payload interface{}) (map[string]interface{}, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}

	var first *Violation

	v := &validator{
		registry: r,
		report: func(path, reason string) bool {
			first = &Violation{Name: name, Path: path, Reason: reason}
			return false
		},
	}
	v.validate(t, payload, rootPath)

	if first != nil {
		return nil, first
	}

	m, ok := payload.(map[string]interface{})
	if !ok && payload != nil {
		// Valid non-object payloads, e.g. for array types, are not payloads.
		return nil, nil
	}

	return m, nil
}

// ValidateAll is like Validate but reports all violations, as Violations.
func (r *Registry) ValidateAll(name string, payload interface{}) error {
	t, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, name)
	}

	var all Violations

	v := &validator{
		registry: r,
		report: func(path, reason string) bool {
			all = append(all, &Violation{Name: name, Path: path, Reason: reason})
			return true
		},
	}
	v.validate(t, payload, rootPath)

	if len(all) > 0 {
		return all
	}

	return nil
}
