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

package httputils

import (
	"errors"
	"net/http"
	"path"

	"github.com/looplab/eventmachine/schema"
)

// SchemaHandler exports the registered types as JSON Schema documents. If the
// URL ends with a / all types are returned by name, otherwise the last part
// of the path is the name of the type to return.
func SchemaHandler(registry *schema.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "unsuported method: "+r.Method, http.StatusMethodNotAllowed)
			return
		}

		_, name := path.Split(r.URL.Path)
		if name == "" {
			writeJSON(w, http.StatusOK, registry.Describe())
			return
		}

		s, err := registry.JSONSchema(name)
		if errors.Is(err, schema.ErrUnknownType) {
			http.Error(w, "could not find type", http.StatusNotFound)
			return
		} else if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, s)
	})
}
