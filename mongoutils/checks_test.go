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
	"testing"
)

func TestCheckValidCollectionName(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		wantErr bool
	}{
		{"empty name", "", true},
		{"valid name", "valid", false},
		{"with spaces", "invalid name", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := CheckCollectionName(tt.arg); (err != nil) != tt.wantErr {
				t.Errorf("CheckCollectionName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckValidDatabaseName(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		wantErr bool
	}{
		{"empty name", "", true},
		{"valid name", "eventmachine", false},
		{"with dot", "event.machine", true},
		{"with slash", "event/machine", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := CheckDatabaseName(tt.arg); (err != nil) != tt.wantErr {
				t.Errorf("CheckDatabaseName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
