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

package clone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type state struct {
	Name    string
	Users   []string
	Meta    map[string]interface{}
	Created time.Time
}

func TestClonePointer(t *testing.T) {
	created := time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)
	s := &state{
		Name:    "HQ",
		Users:   []string{"alice"},
		Meta:    map[string]interface{}{"floor": 1},
		Created: created,
	}

	c, err := Clone(s)
	require.NoError(t, err)
	assert.Equal(t, s, c)
	assert.NotSame(t, s, c)

	c.Users[0] = "bob"
	c.Meta["floor"] = 2

	assert.Equal(t, "alice", s.Users[0])
	assert.Equal(t, 1, s.Meta["floor"])
	assert.Equal(t, created, c.Created)
}

func TestCloneValue(t *testing.T) {
	s := state{Name: "HQ", Users: make([]string, 1, 4)}
	s.Users[0] = "alice"

	var v interface{} = s

	c, err := Clone(v)
	require.NoError(t, err)

	cs := c.(state)
	cs.Users = append(cs.Users, "bob")
	cs.Users[0] = "carol"

	assert.Equal(t, []string{"alice"}, s.Users)
	assert.Equal(t, s.Users[:2][1], "", "the original backing array should not be touched")
}

func TestCloneMap(t *testing.T) {
	m := map[string]interface{}{"users": []interface{}{"alice"}}

	c, err := Clone(m)
	require.NoError(t, err)
	assert.Equal(t, m, c)

	c["users"] = nil
	assert.NotNil(t, m["users"])
}

func TestCloneNil(t *testing.T) {
	var s *state

	c, err := Clone(s)
	require.NoError(t, err)
	assert.Nil(t, c)

	var v interface{}

	cv, err := Clone(v)
	require.NoError(t, err)
	assert.Nil(t, cv)

	n, err := Clone(42)
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}
