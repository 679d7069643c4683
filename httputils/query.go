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
	"net/http"
	"path"
	"strconv"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/query"
)

// QueryHandler runs queries by the last part of the URL path. Parameters are
// taken from the URL query for GET requests, where every parameter is a
// string, or from a JSON object in the body for POST requests.
func QueryHandler(h query.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, queryType := path.Split(r.URL.Path)
		if queryType == "" {
			http.Error(w, "missing query type", http.StatusBadRequest)
			return
		}

		var params em.Payload

		switch r.Method {
		case http.MethodGet:
			values := r.URL.Query()
			if len(values) > 0 {
				params = em.Payload{}
			}

			for k := range values {
				params[k] = values.Get(k)
			}
		case http.MethodPost:
			dec := json.NewDecoder(r.Body)
			dec.UseNumber()

			if err := dec.Decode(&params); err != nil {
				http.Error(w, "could not decode parameters: "+err.Error(), http.StatusBadRequest)
				return
			}
		default:
			http.Error(w, "unsuported method: "+r.Method, http.StatusMethodNotAllowed)
			return
		}

		ctx := r.Context()

		if v := r.Header.Get(MinVersionHeader); v != "" {
			minVersion, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, "could not parse min version: "+err.Error(), http.StatusBadRequest)
				return
			}

			var cancel func()

			ctx, cancel = em.NewContextWithMinVersionWait(ctx, minVersion)
			defer cancel()
		}

		result, err := h.HandleQuery(ctx, em.QueryType(queryType), params)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	})
}

// MinVersionHeader is the request header with the version returned by a
// previous command, for reading projections that include it.
const MinVersionHeader = "X-Min-Version"
