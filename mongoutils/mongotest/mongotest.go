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

// Package mongotest starts MongoDB for integration tests.
package mongotest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Image is the MongoDB image used when no MONGODB_ADDR is set.
const Image = "mongo:7"

// URI returns the URI of a MongoDB replica set for tests. MONGODB_ADDR
// (host:port of a replica set member) is used when set, otherwise a
// container is started and terminated when the test ends. The test is
// skipped in short mode.
func URI(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test")
	}

	if addr := os.Getenv("MONGODB_ADDR"); addr != "" {
		return "mongodb://" + addr + "/?directConnection=true"
	}

	ctx := context.Background()

	container, err := mongodb.Run(ctx, Image, mongodb.WithReplicaSet("rs0"))
	testcontainers.CleanupContainer(t, container)

	if err != nil {
		t.Fatal("could not start MongoDB:", err)
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatal("could not get the MongoDB address:", err)
	}

	return uri
}

// Client connects to the MongoDB of URI and disconnects when the test ends.
func Client(t *testing.T) *mongo.Client {
	t.Helper()

	uri := URI(t)

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatal("could not connect to MongoDB:", err)
	}

	t.Cleanup(func() {
		client.Disconnect(context.Background())
	})

	return client
}

// DBName returns a random database name.
func DBName(t *testing.T) string {
	t.Helper()

	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		t.Fatal(err)
	}

	db := "test-" + hex.EncodeToString(b)

	t.Log("using DB:", db)

	return db
}
