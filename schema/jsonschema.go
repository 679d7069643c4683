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
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
)

const defsPrefix = "#/$defs/"

// JSONSchema exports the type registered under name as a JSON Schema
// document. Referenced types are included under $defs.
func (r *Registry) JSONSchema(name string) (*jsonschema.Schema, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}

	defs := map[string]*jsonschema.Schema{}
	s := r.export(t, defs)
	if len(defs) > 0 {
		s.Defs = defs
	}

	return s, nil
}

// Describe exports all registered types, keyed by name.
func (r *Registry) Describe() map[string]*jsonschema.Schema {
	all := map[string]*jsonschema.Schema{}
	for _, name := range r.Names() {
		s, err := r.JSONSchema(name)
		if err != nil {
			continue
		}
		all[name] = s
	}

	return all
}

func (r *Registry) export(t *Type, defs map[string]*jsonschema.Schema) *jsonschema.Schema {
	s := &jsonschema.Schema{Description: t.description}

	switch t.kind {
	case KindObject:
		s.Type = "object"
		s.Properties = map[string]*jsonschema.Schema{}
		for _, name := range sortedFields(t.fields) {
			f := t.fields[name]
			s.Properties[name] = r.export(f, defs)
			if !f.optional {
				s.Required = append(s.Required, name)
			}
		}
		if !t.allowAdditional {
			s.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}}
		}
	case KindArray:
		s.Type = "array"
		s.Items = r.export(t.items, defs)
		if t.minItems > 0 {
			s.MinItems = intPtr(t.minItems)
		}
		if t.maxItems >= 0 {
			s.MaxItems = intPtr(t.maxItems)
		}
	case KindEnum:
		s.Type = "string"
		for _, v := range t.values {
			s.Enum = append(s.Enum, v)
		}
	case KindString:
		s.Type = "string"
		s.Format = string(t.format)
		if t.minLength > 0 {
			s.MinLength = intPtr(t.minLength)
		}
		if t.maxLength >= 0 {
			s.MaxLength = intPtr(t.maxLength)
		}
		if t.pattern != nil {
			s.Pattern = t.pattern.String()
		}
	case KindInteger, KindNumber:
		s.Type = t.kind.String()
		s.Minimum = t.min
		s.Maximum = t.max
	case KindBoolean:
		s.Type = "boolean"
	case KindRef:
		s.Ref = defsPrefix + t.ref
		if _, ok := defs[t.ref]; !ok {
			if ref, ok := r.Lookup(t.ref); ok {
				// Placeholder first, refs may be recursive.
				defs[t.ref] = &jsonschema.Schema{}
				defs[t.ref] = r.export(ref, defs)
			}
		}
	}

	if t.nullable {
		if t.kind == KindRef {
			s = &jsonschema.Schema{
				Description: t.description,
				AnyOf:       []*jsonschema.Schema{{Ref: s.Ref}, {Type: "null"}},
			}
		} else {
			s.Types = []string{s.Type, "null"}
			s.Type = ""
		}
	}

	return s
}

func sortedFields(fields Fields) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func intPtr(i int) *int {
	return &i
}
