package stagedsync

import (
	"context"
	"time"
)

// EventType names a pipeline lifecycle event.
type EventType string

const (
	EventStageStarted  EventType = "StageStarted"
	EventStageFinished EventType = "StageFinished"
	EventStageUnwound  EventType = "StageUnwound"
)

// StageEvent is fired on the pipeline's event switch and handed to every
// event sink. BlockNumber is the stage's checkpoint when the event fired.
type StageEvent struct {
	RunID       string
	Stage       StageID
	Type        EventType
	BlockNumber uint64
	Time        time.Time
}

// EventSinkType identifies an event sink backend.
type EventSinkType string

const (
	NULL EventSinkType = "null"
	KV   EventSinkType = "kv"
	PSQL EventSinkType = "psql"
)

//go:generate mockery --case underscore --name EventSink

// EventSink persists stage lifecycle events.
type EventSink interface {
	// IndexStageEvent stores one event.
	IndexStageEvent(ev StageEvent) error

	// SearchStageEvents returns the events recorded for the stage, oldest
	// first.
	SearchStageEvents(ctx context.Context, stage StageID) ([]StageEvent, error)

	// Type returns the type of the event sink.
	Type() EventSinkType

	// Stop releases the sink's resources.
	Stop() error
}
