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

package sqlite

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	em "github.com/looplab/eventmachine"
)

// Strategy is how events are laid out in tables.
type Strategy int

const (
	// SingleStream stores the events of all aggregates in one events table,
	// keyed by aggregate ID and version, with the position as row ID.
	SingleStream Strategy = iota
	// AggregateStream stores the events of every aggregate instance in its
	// own table. A streams table maps aggregates to their tables and a
	// positions table keeps the global commit order.
	AggregateStream
)

// String returns the string representation of a strategy.
func (s Strategy) String() string {
	switch s {
	case SingleStream:
		return "single_stream"
	case AggregateStream:
		return "aggregate_stream"
	default:
		return "unknown"
	}
}

// ParseStrategy parses the string representation of a strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "single_stream", "single", "":
		return SingleStream, nil
	case "aggregate_stream", "aggregate":
		return AggregateStream, nil
	default:
		return 0, fmt.Errorf("unknown strategy: %q", s)
	}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type layout interface {
	migrate(ctx context.Context, db querier) error
	// version returns the stored version of an aggregate, 0 if it has none.
	version(ctx context.Context, tx querier, id string) (int, error)
	// append inserts the events and sets their positions.
	append(ctx context.Context, tx querier, at em.AggregateType, id string, originalVersion int, events []*evt) error
	load(ctx context.Context, db querier, id string, fromVersion int) ([]*evt, error)
	loadAll(ctx context.Context, db querier, afterPosition int64, limit int) ([]*evt, error)
}

const eventColumns = `position, event_id, event_type, timestamp, aggregate_type, aggregate_id, version, data, metadata`

func scanEvents(rows *sql.Rows) ([]*evt, error) {
	defer rows.Close()

	events := []*evt{}

	for rows.Next() {
		e := &evt{}
		if err := rows.Scan(
			&e.Position,
			&e.EventID,
			&e.EventType,
			&e.Timestamp,
			&e.AggregateType,
			&e.AggregateID,
			&e.Version,
			&e.RawData,
			&e.RawMetadata,
		); err != nil {
			return nil, fmt.Errorf("could not scan event: %w", err)
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error when scanning events: %w", err)
	}

	return events, nil
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}

	return fmt.Sprintf(" LIMIT %d", limit)
}

type singleStream struct{}

func (singleStream) migrate(ctx context.Context, db querier) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS events (
	position       INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id       TEXT    NOT NULL UNIQUE,
	event_type     TEXT    NOT NULL,
	timestamp      TEXT    NOT NULL,
	aggregate_type TEXT    NOT NULL,
	aggregate_id   TEXT    NOT NULL,
	version        INTEGER NOT NULL,
	data           TEXT,
	metadata       TEXT,
	UNIQUE (aggregate_id, version)
)`)

	return err
}

func (singleStream) version(ctx context.Context, tx querier, id string) (int, error) {
	var version int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`, id,
	).Scan(&version)

	return version, err
}

func (singleStream) append(ctx context.Context, tx querier, _ em.AggregateType, _ string, _ int, events []*evt) error {
	for _, e := range events {
		res, err := tx.ExecContext(ctx, `
INSERT INTO events (event_id, event_type, timestamp, aggregate_type, aggregate_id, version, data, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.EventID, string(e.EventType), e.Timestamp, string(e.AggregateType),
			e.AggregateID, e.Version, e.RawData, e.RawMetadata,
		)
		if err != nil {
			return err
		}

		if e.Position, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	return nil
}

func (singleStream) load(ctx context.Context, db querier, id string, fromVersion int) ([]*evt, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE aggregate_id = ? AND version >= ? ORDER BY version`,
		id, fromVersion,
	)
	if err != nil {
		return nil, err
	}

	return scanEvents(rows)
}

func (singleStream) loadAll(ctx context.Context, db querier, afterPosition int64, limit int) ([]*evt, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE position > ? ORDER BY position`+limitClause(limit),
		afterPosition,
	)
	if err != nil {
		return nil, err
	}

	return scanEvents(rows)
}

type aggregateStream struct{}

// streamTable returns the name of the table of an aggregate instance.
func streamTable(aggregateType, id string) string {
	h := sha1.Sum([]byte(aggregateType + id))
	return "_" + hex.EncodeToString(h[:])
}

func (aggregateStream) migrate(ctx context.Context, db querier) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS streams (
	table_name     TEXT    PRIMARY KEY,
	aggregate_type TEXT    NOT NULL,
	aggregate_id   TEXT    NOT NULL UNIQUE,
	version        INTEGER NOT NULL
)`); err != nil {
		return err
	}

	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS positions (
	position   INTEGER PRIMARY KEY AUTOINCREMENT,
	table_name TEXT    NOT NULL,
	version    INTEGER NOT NULL,
	UNIQUE (table_name, version)
)`)

	return err
}

func (aggregateStream) version(ctx context.Context, tx querier, id string) (int, error) {
	var version int
	err := tx.QueryRowContext(ctx,
		`SELECT version FROM streams WHERE aggregate_id = ?`, id,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	return version, err
}

func (aggregateStream) append(ctx context.Context, tx querier, at em.AggregateType, id string, originalVersion int, events []*evt) error {
	table := streamTable(at.String(), id)
	newVersion := originalVersion + len(events)

	if originalVersion == 0 {
		// Fails with a constraint error if the stream was created concurrently.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO streams (table_name, aggregate_type, aggregate_id, version) VALUES (?, ?, ?, ?)`,
			table, at.String(), id, newVersion,
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %q (
	version   INTEGER PRIMARY KEY,
	position  INTEGER NOT NULL UNIQUE,
	event_id  TEXT    NOT NULL UNIQUE,
	event_type TEXT   NOT NULL,
	timestamp TEXT    NOT NULL,
	data      TEXT,
	metadata  TEXT
)`, table)); err != nil {
			return err
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`UPDATE streams SET version = ? WHERE aggregate_id = ? AND version = ?`,
			newVersion, id, originalVersion,
		)
		if err != nil {
			return err
		}

		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return errStreamMoved
		}
	}

	for _, e := range events {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO positions (table_name, version) VALUES (?, ?)`,
			table, e.Version,
		)
		if err != nil {
			return err
		}

		if e.Position, err = res.LastInsertId(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %q (version, position, event_id, event_type, timestamp, data, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?)`, table),
			e.Version, e.Position, e.EventID, string(e.EventType), e.Timestamp, e.RawData, e.RawMetadata,
		); err != nil {
			return err
		}
	}

	return nil
}

func (l aggregateStream) load(ctx context.Context, db querier, id string, fromVersion int) ([]*evt, error) {
	var table, at string
	err := db.QueryRowContext(ctx,
		`SELECT table_name, aggregate_type FROM streams WHERE aggregate_id = ?`, id,
	).Scan(&table, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return []*evt{}, nil
	} else if err != nil {
		return nil, err
	}

	return l.loadTable(ctx, db, table, at, id, "version >= ?", fromVersion)
}

func (aggregateStream) loadTable(ctx context.Context, db querier, table, at, id, where string, args ...interface{}) ([]*evt, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		`SELECT position, event_id, event_type, timestamp, ?, ?, version, data, metadata FROM %q WHERE %s ORDER BY version`,
		table, where,
	), append([]interface{}{at, id}, args...)...)
	if err != nil {
		return nil, err
	}

	return scanEvents(rows)
}

func (l aggregateStream) loadAll(ctx context.Context, db querier, afterPosition int64, limit int) ([]*evt, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT p.position, p.table_name, s.aggregate_type, s.aggregate_id
FROM positions p JOIN streams s ON s.table_name = p.table_name
WHERE p.position > ? ORDER BY p.position`+limitClause(limit),
		afterPosition,
	)
	if err != nil {
		return nil, err
	}

	type ref struct {
		table, at, id string
	}

	var (
		order  []int64
		tables = map[string]ref{}
		last   int64
	)

	for rows.Next() {
		var (
			pos int64
			r   ref
		)
		if err := rows.Scan(&pos, &r.table, &r.at, &r.id); err != nil {
			rows.Close()
			return nil, err
		}

		order = append(order, pos)
		tables[r.table] = r
		last = pos
	}

	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}

	rows.Close()

	byPosition := make(map[int64]*evt, len(order))

	// Sorted for a deterministic query order.
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r := tables[name]

		events, err := l.loadTable(ctx, db, r.table, r.at, r.id,
			"position > ? AND position <= ?", afterPosition, last)
		if err != nil {
			return nil, err
		}

		for _, e := range events {
			byPosition[e.Position] = e
		}
	}

	events := make([]*evt, 0, len(order))
	for _, pos := range order {
		if e, ok := byPosition[pos]; ok {
			events = append(events, e)
		}
	}

	return events, nil
}
