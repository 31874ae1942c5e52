package null

import (
	"context"

	"github.com/tendermint/stagesync/internal/stagedsync"
)

var _ stagedsync.EventSink = (*EventSink)(nil)

// EventSink implements a no-op stagedsync.EventSink.
type EventSink struct{}

func NewEventSink() stagedsync.EventSink {
	return &EventSink{}
}

func (nes *EventSink) Type() stagedsync.EventSinkType {
	return stagedsync.NULL
}

func (nes *EventSink) IndexStageEvent(stagedsync.StageEvent) error {
	return nil
}

func (nes *EventSink) SearchStageEvents(context.Context, stagedsync.StageID) ([]stagedsync.StageEvent, error) {
	return nil, nil
}

func (nes *EventSink) Stop() error {
	return nil
}
