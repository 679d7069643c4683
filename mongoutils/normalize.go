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

package mongoutils

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Normalize converts decoded BSON documents and arrays into plain maps and
// slices, recursively, so that decoded payloads look like decoded JSON.
func Normalize(v interface{}) interface{} {
	switch v := v.(type) {
	case bson.M:
		return NormalizeMap(v)
	case map[string]interface{}:
		return NormalizeMap(v)
	case bson.D:
		m := make(map[string]interface{}, len(v))
		for _, e := range v {
			m[e.Key] = Normalize(e.Value)
		}
		return m
	case bson.A:
		return normalizeSlice(v)
	case []interface{}:
		return normalizeSlice(v)
	default:
		return v
	}
}

// NormalizeMap is like Normalize for a map, nil stays nil.
func NormalizeMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}

	res := make(map[string]interface{}, len(m))
	for k, v := range m {
		res[k] = Normalize(v)
	}

	return res
}

func normalizeSlice(s []interface{}) []interface{} {
	res := make([]interface{}, len(s))
	for i, v := range s {
		res[i] = Normalize(v)
	}

	return res
}
