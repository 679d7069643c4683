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

// Package schema is a registry of named structural types that commands,
// events and query results are validated against.
//
// Types are composed with the constructors in this package and registered
// once at startup:
//
//	reg := schema.NewRegistry()
//	reg.MustRegister("Building", schema.Object(schema.Fields{
//	    "id":    schema.String().Format(schema.FormatUUID),
//	    "name":  schema.String().MinLength(1),
//	    "users": schema.Array(schema.String()),
//	}))
//	reg.Freeze()
//
// Objects reject fields that are not declared unless AllowAdditional is used.
package schema

import "regexp"

// Kind is the kind of a type.
type Kind int

const (
	KindObject Kind = iota
	KindArray
	KindEnum
	KindString
	KindInteger
	KindNumber
	KindBoolean
	KindRef
)

// String returns the string representation of a kind.
func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindEnum:
		return "enum"
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindRef:
		return "ref"
	default:
		return "unknown"
	}
}

// Format is a format constraint for strings.
type Format string

const (
	// FormatUUID requires a UUID in canonical or URN form.
	FormatUUID Format = "uuid"
	// FormatEmail requires something that looks like an email address.
	FormatEmail Format = "email"
	// FormatDateTime requires an RFC 3339 timestamp.
	FormatDateTime Format = "date-time"
)

// Fields are the fields of an object type.
type Fields map[string]*Type

// Type is a structural type definition. Types are values: the modifier
// methods return modified copies and never change the receiver, so a type
// can be shared between several definitions.
type Type struct {
	kind        Kind
	description string
	nullable    bool
	optional    bool

	// Objects.
	fields          Fields
	allowAdditional bool

	// Arrays.
	items    *Type
	minItems int
	maxItems int

	// Enums.
	values []string

	// Strings.
	format    Format
	minLength int
	maxLength int
	pattern   *regexp.Regexp

	// Numbers.
	min *float64
	max *float64

	// Refs.
	ref string
}

// Object creates an object type with fields. All fields are required unless
// marked with Optional.
func Object(fields Fields) *Type {
	fs := make(Fields, len(fields))
	for name, t := range fields {
		fs[name] = t
	}

	return &Type{kind: KindObject, fields: fs, maxItems: -1, maxLength: -1}
}

// Array creates an array type of items.
func Array(items *Type) *Type {
	return &Type{kind: KindArray, items: items, maxItems: -1, maxLength: -1}
}

// Enum creates a string type that only accepts one of the values.
func Enum(values ...string) *Type {
	return &Type{kind: KindEnum, values: append([]string(nil), values...), maxItems: -1, maxLength: -1}
}

// String creates a string type.
func String() *Type {
	return &Type{kind: KindString, maxItems: -1, maxLength: -1}
}

// Integer creates an integer type.
func Integer() *Type {
	return &Type{kind: KindInteger, maxItems: -1, maxLength: -1}
}

// Number creates a number type.
func Number() *Type {
	return &Type{kind: KindNumber, maxItems: -1, maxLength: -1}
}

// Boolean creates a boolean type.
func Boolean() *Type {
	return &Type{kind: KindBoolean, maxItems: -1, maxLength: -1}
}

// Ref creates a reference to another type registered under name. Refs are
// resolved when validating and checked when the registry is frozen.
func Ref(name string) *Type {
	return &Type{kind: KindRef, ref: name, maxItems: -1, maxLength: -1}
}

// Kind returns the kind of the type.
func (t *Type) Kind() Kind {
	return t.kind
}

// Fields returns a copy of the fields of an object type.
func (t *Type) Fields() Fields {
	fs := make(Fields, len(t.fields))
	for name, f := range t.fields {
		fs[name] = f
	}

	return fs
}

// Items returns the item type of an array type.
func (t *Type) Items() *Type {
	return t.items
}

// Values returns the accepted values of an enum type.
func (t *Type) Values() []string {
	return append([]string(nil), t.values...)
}

// RefName returns the referenced type name of a ref type.
func (t *Type) RefName() string {
	return t.ref
}

// IsOptional returns true if the type is an optional object field.
func (t *Type) IsOptional() bool {
	return t.optional
}

// IsNullable returns true if null is accepted.
func (t *Type) IsNullable() bool {
	return t.nullable
}

func (t *Type) clone() *Type {
	c := *t
	return &c
}

// Describe sets a human readable description, used when exporting.
func (t *Type) Describe(description string) *Type {
	c := t.clone()
	c.description = description
	return c
}

// Optional marks an object field as not required.
func (t *Type) Optional() *Type {
	c := t.clone()
	c.optional = true
	return c
}

// Nullable accepts null in addition to the type's values.
func (t *Type) Nullable() *Type {
	c := t.clone()
	c.nullable = true
	return c
}

// AllowAdditional makes an object type accept undeclared fields.
func (t *Type) AllowAdditional() *Type {
	c := t.clone()
	c.allowAdditional = true
	return c
}

// Format sets a format constraint on a string type.
func (t *Type) Format(f Format) *Type {
	c := t.clone()
	c.format = f
	return c
}

// MinLength sets the minimum length in runes of a string type.
func (t *Type) MinLength(n int) *Type {
	c := t.clone()
	c.minLength = n
	return c
}

// MaxLength sets the maximum length in runes of a string type.
func (t *Type) MaxLength(n int) *Type {
	c := t.clone()
	c.maxLength = n
	return c
}

// Pattern sets a regular expression that a string type must match. It
// panics if the expression does not compile, types are defined at startup.
func (t *Type) Pattern(expr string) *Type {
	c := t.clone()
	c.pattern = regexp.MustCompile(expr)
	return c
}

// Min sets the inclusive minimum of a number or integer type.
func (t *Type) Min(v float64) *Type {
	c := t.clone()
	c.min = &v
	return c
}

// Max sets the inclusive maximum of a number or integer type.
func (t *Type) Max(v float64) *Type {
	c := t.clone()
	c.max = &v
	return c
}

// MinItems sets the minimum number of items of an array type.
func (t *Type) MinItems(n int) *Type {
	c := t.clone()
	c.minItems = n
	return c
}

// MaxItems sets the maximum number of items of an array type.
func (t *Type) MaxItems(n int) *Type {
	c := t.clone()
	c.maxItems = n
	return c
}
