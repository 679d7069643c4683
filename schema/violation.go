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
	"strings"
)

// ErrViolation is matched by Violation and Violations errors.
var ErrViolation = errors.New("schema violation")

// Violation is when a payload does not match its type. It is a caller
// error and is never retried.
type Violation struct {
	// Name is the name of the type that was validated against.
	Name string
	// Path is the path of the violating value, "$" is the payload itself.
	Path string
	// Reason describes the violation.
	Reason string
}

// Error implements the Error method of the errors.Error interface.
func (v *Violation) Error() string {
	return "schema violation: " + v.Name + " at " + v.Path + ": " + v.Reason
}

// Is makes errors.Is(err, ErrViolation) match.
func (v *Violation) Is(target error) bool {
	return target == ErrViolation
}

// Violations are all violations found in a payload.
type Violations []*Violation

// Error implements the Error method of the errors.Error interface.
func (vs Violations) Error() string {
	if len(vs) == 0 {
		return "schema violation"
	}

	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.Path + ": " + v.Reason
	}

	return "schema violation: " + vs[0].Name + ": " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrViolation) match.
func (vs Violations) Is(target error) bool {
	return target == ErrViolation
}

// Paths returns the paths of all violations.
func (vs Violations) Paths() []string {
	paths := make([]string, len(vs))
	for i, v := range vs {
		paths[i] = v.Path
	}

	return paths
}
