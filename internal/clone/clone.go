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

// Package clone deep copies read models and aggregate states.
package clone

import (
	"fmt"
	"reflect"

	"github.com/jinzhu/copier"
)

// Clone returns a deep copy of v. Values without references, like ints and
// strings, are returned as is.
func Clone[T any](v T) (T, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return v, nil
	}

	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return v, nil
		}

		dst := reflect.New(rv.Type().Elem())
		if err := copier.CopyWithOption(dst.Interface(), rv.Interface(), copier.Option{DeepCopy: true}); err != nil {
			return v, fmt.Errorf("could not copy %T: %w", v, err)
		}

		return dst.Interface().(T), nil
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return v, nil
		}
	case reflect.Struct:
	default:
		return v, nil
	}

	dst := reflect.New(rv.Type())
	if err := copier.CopyWithOption(dst.Interface(), rv.Interface(), copier.Option{DeepCopy: true}); err != nil {
		return v, fmt.Errorf("could not copy %T: %w", v, err)
	}

	return dst.Elem().Interface().(T), nil
}
