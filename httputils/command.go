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

	em "github.com/looplab/eventmachine"
)

type commandRequest struct {
	AggregateID     string                 `json:"aggregate_id"`
	ExpectedVersion *int                   `json:"expected_version,omitempty"`
	Payload         em.Payload             `json:"payload"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

type commandResponse struct {
	AggregateID string          `json:"aggregate_id"`
	Version     int             `json:"version"`
	Events      []eventResponse `json:"events"`
}

type eventResponse struct {
	ID        string       `json:"id"`
	EventType em.EventType `json:"event_type"`
	Version   int          `json:"version"`
	Position  int64        `json:"position,omitempty"`
	Data      em.Payload   `json:"data,omitempty"`
}

// CommandHandler is a handler for commands posted as JSON. The last part of
// the URL path is the command type, the body holds the aggregate ID, the
// payload and an optional expected version. Numbers in the payload are kept
// as json.Number.
func CommandHandler(h em.CommandHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "unsuported method: "+r.Method, http.StatusMethodNotAllowed)
			return
		}

		_, cmdType := path.Split(r.URL.Path)
		if cmdType == "" {
			http.Error(w, "missing command type", http.StatusBadRequest)
			return
		}

		var req commandRequest

		dec := json.NewDecoder(r.Body)
		dec.UseNumber()

		if err := dec.Decode(&req); err != nil {
			http.Error(w, "could not decode command: "+err.Error(), http.StatusBadRequest)
			return
		}

		if req.Payload == nil {
			req.Payload = em.Payload{}
		}

		var options []em.CommandOption
		if req.ExpectedVersion != nil {
			options = append(options, em.WithExpectedVersion(*req.ExpectedVersion))
		}

		if req.Metadata != nil {
			options = append(options, em.WithCommandMetadata(req.Metadata))
		}

		cmd := em.NewCommand(em.CommandType(cmdType), req.AggregateID, req.Payload, options...)

		res, err := h.HandleCommand(r.Context(), cmd)
		if err != nil {
			writeError(w, err)
			return
		}

		resp := commandResponse{
			AggregateID: res.AggregateID,
			Version:     res.Version,
			Events:      make([]eventResponse, 0, len(res.Events)),
		}
		for _, e := range res.Events {
			resp.Events = append(resp.Events, eventResponse{
				ID:        e.ID().String(),
				EventType: e.EventType(),
				Version:   e.Version(),
				Position:  e.Position(),
				Data:      e.Data(),
			})
		}

		writeJSON(w, http.StatusOK, resp)
	})
}
