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
	"encoding/json"
	"errors"
	"net/http"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/schema"
)

// StatusCode returns the HTTP status code for an error from dispatching a
// command or running a query.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, schema.ErrViolation), errors.Is(err, em.ErrMissingAggregateID):
		return http.StatusBadRequest
	case errors.Is(err, em.ErrUnroutableCommand), errors.Is(err, em.ErrUnknownQuery),
		errors.Is(err, em.ErrEntityNotFound):
		return http.StatusNotFound
	case errors.Is(err, em.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, em.ErrBusinessRule):
		return http.StatusUnprocessableEntity
	case em.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusCode(err), errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "could not encode result: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
