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
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/eventstore/sqlite"
)

// Config holds the process configuration.
type Config struct {
	HTTPAddr        string        `env:"EM_HTTP_ADDR" envDefault:":8080"`
	AppID           string        `env:"EM_APP_ID" envDefault:"eventmachine"`
	LogLevel        string        `env:"EM_LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"EM_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Store          string `env:"EM_STORE" envDefault:"memory"`
	SQLitePath     string `env:"EM_SQLITE_PATH" envDefault:"data/events.db"`
	SQLiteStrategy string `env:"EM_SQLITE_STRATEGY" envDefault:"single_stream"`
	MongoDBURI     string `env:"EM_MONGODB_URI" envDefault:"mongodb://localhost:27017"`
	MongoDBName    string `env:"EM_MONGODB_DATABASE" envDefault:"eventmachine"`
	MaxRetries     int    `env:"EM_MAX_RETRIES" envDefault:"3"`

	ReadStore        string `env:"EM_READ_STORE" envDefault:"memory"`
	ProjectionPolicy string `env:"EM_PROJECTION_POLICY" envDefault:"in_transaction"`
	CacheSize        int    `env:"EM_CACHE_SIZE" envDefault:"0"`

	RedisAddr      string `env:"EM_REDIS_ADDR"`
	NATSURL        string `env:"EM_NATS_URL"`
	KafkaBrokers   string `env:"EM_KAFKA_BROKERS"`
	GCPProject     string `env:"EM_GCP_PROJECT"`
	PublisherCodec string `env:"EM_PUBLISHER_CODEC" envDefault:"json"`
	JaegerAgent    string `env:"EM_JAEGER_AGENT"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The HTTP listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "The log level")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "The event store: memory, sqlite or mongodb")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "The SQLite database path")
	fs.StringVar(&cfg.SQLiteStrategy, "sqlite-strategy", cfg.SQLiteStrategy, "The SQLite stream strategy: single_stream or aggregate_stream")
	fs.StringVar(&cfg.ReadStore, "read-store", cfg.ReadStore, "The read model store: memory or mongodb")
	fs.StringVar(&cfg.ProjectionPolicy, "projection-policy", cfg.ProjectionPolicy, "When projections run: in_transaction, after_commit or async")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store {
	case "memory", "sqlite", "mongodb":
	default:
		return fmt.Errorf("unknown event store: %q", c.Store)
	}

	switch c.ReadStore {
	case "memory", "mongodb":
	default:
		return fmt.Errorf("unknown read store: %q", c.ReadStore)
	}

	if _, err := sqlite.ParseStrategy(c.SQLiteStrategy); err != nil {
		return err
	}

	if _, err := c.policy(); err != nil {
		return err
	}

	switch c.PublisherCodec {
	case "json", "bson":
	default:
		return fmt.Errorf("unknown publisher codec: %q", c.PublisherCodec)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("invalid max retries: %d", c.MaxRetries)
	}

	return nil
}

func (c Config) policy() (em.ListenerPolicy, error) {
	switch c.ProjectionPolicy {
	case "in_transaction":
		return em.InTransaction, nil
	case "after_commit", "async":
		return em.AfterCommit, nil
	default:
		return 0, fmt.Errorf("unknown projection policy: %q", c.ProjectionPolicy)
	}
}
