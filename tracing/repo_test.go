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

package tracing

import (
	"context"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"

	"github.com/looplab/eventmachine/repo"
	"github.com/looplab/eventmachine/repo/memory"
)

// NOTE: Not named "Integration" to enable running with the unit tests.
func TestReadRepo(t *testing.T) {
	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)

	defer opentracing.SetGlobalTracer(opentracing.NoopTracer{})

	r := NewRepo(memory.NewRepo())
	if r == nil {
		t.Fatal("there should be a repository")
	}

	repo.AcceptanceTest(t, r, context.Background())

	var finds, saves int

	for _, sp := range tracer.FinishedSpans() {
		switch sp.OperationName {
		case "Repo.Find":
			finds++
		case "Repo.Save":
			saves++
		}

		if sp.OperationName == "Repo.Find" && sp.Tag("error") != nil {
			t.Error("a missing entity should not be traced as an error")
		}
	}

	if finds == 0 || saves == 0 {
		t.Error("there should be spans:", finds, saves)
	}
}
