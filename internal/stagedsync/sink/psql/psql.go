// Package psql implements an event sink backed by a PostgreSQL database.
package psql

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"

	"github.com/adlio/schema"

	"github.com/tendermint/stagesync/internal/stagedsync"

	// Register the Postgres database driver.
	_ "github.com/lib/pq"
)

const (
	TableStageEvents = "stage_events"
	DriverName       = "postgres"

	schemaMigrationID = "2022-05-01 stage events"
)

//go:embed schema.sql
var schemaScript string

var _ stagedsync.EventSink = (*EventSink)(nil)

// EventSink is an event sink storing stage events in a PostgreSQL database
// using the schema defined in schema.sql.
type EventSink struct {
	store *sql.DB
}

// NewEventSink constructs an event sink associated with the PostgreSQL
// database specified by connStr.
func NewEventSink(connStr string) (*EventSink, error) {
	db, err := sql.Open(DriverName, connStr)
	if err != nil {
		return nil, err
	}
	return &EventSink{store: db}, nil
}

// DB returns the underlying Postgres connection used by the sink.
// This is exported to support testing.
func (es *EventSink) DB() *sql.DB { return es.store }

// Migrate installs the sink's schema unless it is already present.
func (es *EventSink) Migrate() error {
	return schema.NewMigrator().Apply(es.store, Migrations())
}

// Migrations returns the schema migrations of the sink.
func Migrations() []*schema.Migration {
	return []*schema.Migration{{
		ID:     schemaMigrationID,
		Script: schemaScript,
	}}
}

// Type returns the structure type for this sink, which is Postgres.
func (es *EventSink) Type() stagedsync.EventSinkType { return stagedsync.PSQL }

// IndexStageEvent inserts one row per event.
func (es *EventSink) IndexStageEvent(ev stagedsync.StageEvent) error {
	if ev.BlockNumber > math.MaxInt64 {
		return fmt.Errorf("height %d does not fit the height column", ev.BlockNumber)
	}
	_, err := es.store.Exec(
		`INSERT INTO `+TableStageEvents+` (run_id, stage, event_type, height, created_at)
		VALUES ($1, $2, $3, $4, $5);`,
		ev.RunID, string(ev.Stage), string(ev.Type), int64(ev.BlockNumber), ev.Time,
	)
	return err
}

// SearchStageEvents returns the stage's events in insertion order.
func (es *EventSink) SearchStageEvents(ctx context.Context, stage stagedsync.StageID) ([]stagedsync.StageEvent, error) {
	rows, err := es.store.QueryContext(ctx,
		`SELECT run_id, event_type, height, created_at FROM `+TableStageEvents+`
		WHERE stage = $1 ORDER BY rowid;`, string(stage))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []stagedsync.StageEvent
	for rows.Next() {
		var (
			ev        = stagedsync.StageEvent{Stage: stage}
			eventType string
			height    int64
		)
		if err := rows.Scan(&ev.RunID, &eventType, &height, &ev.Time); err != nil {
			return nil, err
		}
		if height < 0 {
			return nil, errors.New("negative height in stage events table")
		}
		ev.Type = stagedsync.EventType(eventType)
		ev.BlockNumber = uint64(height)
		ev.Time = ev.Time.UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Stop closes the underlying PostgreSQL database.
func (es *EventSink) Stop() error { return es.store.Close() }
