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
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"reflect"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/looplab/eventmachine/uuid"
)

const rootPath = "$"

// maxRefDepth guards against self referencing types without a base case.
const maxRefDepth = 64

type validator struct {
	registry *Registry
	// report is called for every violation and returns false to stop.
	report  func(path, reason string) bool
	stopped bool
	depth   int
}

func (v *validator) fail(path, format string, args ...interface{}) {
	if v.stopped {
		return
	}

	if !v.report(path, fmt.Sprintf(format, args...)) {
		v.stopped = true
	}
}

func (v *validator) validate(t *Type, value interface{}, path string) {
	if v.stopped {
		return
	}

	if value == nil {
		if !t.nullable && t.kind != KindRef {
			v.fail(path, "expected %s, got null", t.kind)
		} else if t.kind == KindRef && !t.nullable {
			v.validateRef(t, value, path)
		}

		return
	}

	switch t.kind {
	case KindObject:
		v.validateObject(t, value, path)
	case KindArray:
		v.validateArray(t, value, path)
	case KindEnum:
		v.validateEnum(t, value, path)
	case KindString:
		v.validateString(t, value, path)
	case KindInteger:
		v.validateNumber(t, value, path, true)
	case KindNumber:
		v.validateNumber(t, value, path, false)
	case KindBoolean:
		if _, ok := value.(bool); !ok {
			v.fail(path, "expected boolean, got %s", describe(value))
		}
	case KindRef:
		v.validateRef(t, value, path)
	default:
		v.fail(path, "unsupported type kind %d", t.kind)
	}
}

func (v *validator) validateRef(t *Type, value interface{}, path string) {
	ref, ok := v.registry.Lookup(t.ref)
	if !ok {
		v.fail(path, "unresolved type reference %s", t.ref)
		return
	}

	if v.depth >= maxRefDepth {
		v.fail(path, "type references nested too deep")
		return
	}

	v.depth++
	v.validate(ref, value, path)
	v.depth--
}

func (v *validator) validateObject(t *Type, value interface{}, path string) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		v.fail(path, "expected object, got %s", describe(value))
		return
	}

	names := make([]string, 0, len(t.fields))
	for name := range t.fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := t.fields[name]
		fv := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !fv.IsValid() {
			if !field.optional {
				v.fail(path+"."+name, "required field is missing")
			}
			continue
		}

		v.validate(field, fv.Interface(), path+"."+name)
	}

	if t.allowAdditional {
		return
	}

	extra := []string{}
	for _, k := range rv.MapKeys() {
		if _, ok := t.fields[k.String()]; !ok {
			extra = append(extra, k.String())
		}
	}
	sort.Strings(extra)

	for _, name := range extra {
		v.fail(path+"."+name, "unknown field")
	}
}

func (v *validator) validateArray(t *Type, value interface{}, path string) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		v.fail(path, "expected array, got %s", describe(value))
		return
	}

	if rv.Len() < t.minItems {
		v.fail(path, "expected at least %d items, got %d", t.minItems, rv.Len())
	}

	if t.maxItems >= 0 && rv.Len() > t.maxItems {
		v.fail(path, "expected at most %d items, got %d", t.maxItems, rv.Len())
	}

	for i := 0; i < rv.Len(); i++ {
		v.validate(t.items, rv.Index(i).Interface(), path+"["+strconv.Itoa(i)+"]")
	}
}

func (v *validator) validateEnum(t *Type, value interface{}, path string) {
	s, ok := stringValue(value)
	if !ok {
		v.fail(path, "expected one of %v, got %s", t.values, describe(value))
		return
	}

	for _, allowed := range t.values {
		if s == allowed {
			return
		}
	}

	v.fail(path, "expected one of %v, got %q", t.values, s)
}

func (v *validator) validateString(t *Type, value interface{}, path string) {
	s, ok := stringValue(value)
	if !ok {
		v.fail(path, "expected string, got %s", describe(value))
		return
	}

	n := utf8.RuneCountInString(s)
	if n < t.minLength {
		v.fail(path, "expected at least %d characters, got %d", t.minLength, n)
	}

	if t.maxLength >= 0 && n > t.maxLength {
		v.fail(path, "expected at most %d characters, got %d", t.maxLength, n)
	}

	if t.pattern != nil && !t.pattern.MatchString(s) {
		v.fail(path, "does not match pattern %s", t.pattern)
	}

	switch t.format {
	case "":
	case FormatUUID:
		if !uuid.Valid(s) {
			v.fail(path, "expected uuid, got %q", s)
		}
	case FormatEmail:
		if _, err := mail.ParseAddress(s); err != nil {
			v.fail(path, "expected email, got %q", s)
		}
	case FormatDateTime:
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			v.fail(path, "expected date-time, got %q", s)
		}
	default:
		v.fail(path, "unknown format %s", t.format)
	}
}

func (v *validator) validateNumber(t *Type, value interface{}, path string, integer bool) {
	f, ok := numberValue(value)
	if !ok {
		v.fail(path, "expected %s, got %s", t.kind, describe(value))
		return
	}

	if integer && f != math.Trunc(f) {
		v.fail(path, "expected integer, got %v", f)
		return
	}

	if t.min != nil && f < *t.min {
		v.fail(path, "expected at least %v, got %v", *t.min, f)
	}

	if t.max != nil && f > *t.max {
		v.fail(path, "expected at most %v, got %v", *t.max, f)
	}
}

func stringValue(value interface{}) (string, bool) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.String {
		return "", false
	}

	// json.Number is a string kind but not a string value.
	if _, ok := value.(json.Number); ok {
		return "", false
	}

	return rv.String(), true
}

func numberValue(value interface{}) (float64, bool) {
	if n, ok := value.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}

func describe(value interface{}) string {
	if value == nil {
		return "null"
	}

	if _, ok := numberValue(value); ok {
		return "number"
	}

	switch reflect.ValueOf(value).Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Map:
		return "object"
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return fmt.Sprintf("%T", value)
	}
}
