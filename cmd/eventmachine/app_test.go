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

package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplab/eventmachine/httputils"
	"github.com/looplab/eventmachine/uuid"
)

func newTestApp(t *testing.T, args ...string) (*app, *httptest.Server) {
	t.Helper()

	cfg, err := ParseConfig(flag.NewFlagSet("test", flag.ContinueOnError), args)
	require.NoError(t, err)

	a, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	srv := httptest.NewServer(a.Handler())

	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})

	return a, srv
}

func post(t *testing.T, url, body string) (int, map[string]interface{}) {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return resp.StatusCode, out
}

func get(t *testing.T, url string) (int, map[string]interface{}) {
	t.Helper()

	return getWithMinVersion(t, url, 0)
}

func getWithMinVersion(t *testing.T, url string, minVersion int) (int, map[string]interface{}) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)

	if minVersion > 0 {
		req.Header.Set(httputils.MinVersionHeader, strconv.Itoa(minVersion))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return resp.StatusCode, out
}

func TestAppCommandsAndQueries(t *testing.T) {
	_, srv := newTestApp(t)

	id := uuid.NewString()

	status, out := post(t, srv.URL+"/api/command/CreateBuilding",
		`{"aggregate_id": "`+id+`", "payload": {"id": "`+id+`", "name": "HQ"}}`)
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, float64(1), out["version"])

	status, out = post(t, srv.URL+"/api/command/CheckInUser",
		`{"aggregate_id": "`+id+`", "expected_version": 1, "payload": {"id": "`+id+`", "username": "jane"}}`)
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, float64(2), out["version"])

	status, out = post(t, srv.URL+"/api/command/CheckInUser",
		`{"aggregate_id": "`+id+`", "payload": {"id": "`+id+`", "username": "jane"}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status, out)

	status, out = post(t, srv.URL+"/api/command/CheckOutUser",
		`{"aggregate_id": "`+id+`", "expected_version": 1, "payload": {"id": "`+id+`", "username": "jane"}}`)
	assert.Equal(t, http.StatusConflict, status, out)

	status, out = post(t, srv.URL+"/api/command/CreateBuilding",
		`{"aggregate_id": "`+id+`", "payload": {"id": "`+id+`"}}`)
	assert.Equal(t, http.StatusBadRequest, status, out)

	status, out = post(t, srv.URL+"/api/command/DemolishBuilding",
		`{"aggregate_id": "`+id+`", "payload": {}}`)
	assert.Equal(t, http.StatusNotFound, status, out)

	status, out = get(t, srv.URL+"/api/query/GetBuilding?id="+id)
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, "HQ", out["name"])
	assert.Equal(t, []interface{}{"jane"}, out["users"])

	status, out = get(t, srv.URL+"/api/query/BuildingCount")
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, float64(1), out["count"])

	status, out = get(t, srv.URL+"/api/query/HealthCheck")
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, true, out["system"])

	status, out = get(t, srv.URL+"/api/query/GetBuilding?id="+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, status, out)

	status, out = get(t, srv.URL+"/api/schema/Building")
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, "object", out["type"])
}

func TestAppCatchUp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	args := []string{"-store", "sqlite", "-sqlite-path", path}

	first, srv := newTestApp(t, args...)

	for i := 0; i < 3; i++ {
		id := uuid.NewString()

		status, out := post(t, srv.URL+"/api/command/CreateBuilding",
			`{"aggregate_id": "`+id+`", "payload": {"id": "`+id+`", "name": "HQ"}}`)
		require.Equal(t, http.StatusOK, status, out)
	}

	srv.Close()
	require.NoError(t, first.Close())

	// The in memory read models of a restarted app are rebuilt from the store.
	_, srv = newTestApp(t, args...)

	status, out := get(t, srv.URL+"/api/query/BuildingCount")
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, float64(3), out["count"])

	status, out = get(t, srv.URL+"/api/query/Buildings")
	require.Equal(t, http.StatusOK, status, out)
	assert.Len(t, out["buildings"], 3)
}

func TestAppAsyncProjections(t *testing.T) {
	a, srv := newTestApp(t, "-projection-policy", "async")
	require.Len(t, a.async, 2)

	id := uuid.NewString()

	status, out := post(t, srv.URL+"/api/command/CreateBuilding",
		`{"aggregate_id": "`+id+`", "payload": {"id": "`+id+`", "name": "HQ"}}`)
	require.Equal(t, http.StatusOK, status, out)

	status, out = post(t, srv.URL+"/api/command/CheckInUser",
		`{"aggregate_id": "`+id+`", "payload": {"id": "`+id+`", "username": "jane"}}`)
	require.Equal(t, http.StatusOK, status, out)

	// The projected view waits for the version of the last command.
	status, out = getWithMinVersion(t, srv.URL+"/api/query/GetBuildingView?id="+id, 2)
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, []interface{}{"jane"}, out["users"])

	for _, async := range a.async {
		require.NoError(t, async.Flush(context.Background()))
	}

	status, out = get(t, srv.URL+"/api/query/BuildingCount")
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, float64(1), out["count"])
}
