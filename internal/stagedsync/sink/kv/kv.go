package kv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/tendermint/stagesync/internal/stagedsync"
)

const (
	prefixEvent = int64(0)
	prefixSeq   = int64(1)
)

var _ stagedsync.EventSink = (*EventSink)(nil)

// EventSink stores stage events in a tm-db database, keyed by stage and
// insertion order.
type EventSink struct {
	store dbm.DB

	mtx sync.Mutex
	seq uint64
}

// NewEventSink returns a sink over store, resuming the insertion counter
// persisted in it.
func NewEventSink(store dbm.DB) (*EventSink, error) {
	bz, err := store.Get(seqKey())
	if err != nil {
		return nil, err
	}
	es := &EventSink{store: store}
	if bz != nil {
		if _, err := orderedcode.Parse(string(bz), &es.seq); err != nil {
			return nil, fmt.Errorf("decoding event sequence: %w", err)
		}
	}
	return es, nil
}

func (kves *EventSink) Type() stagedsync.EventSinkType {
	return stagedsync.KV
}

func (kves *EventSink) IndexStageEvent(ev stagedsync.StageEvent) error {
	kves.mtx.Lock()
	defer kves.mtx.Unlock()

	seq := kves.seq + 1
	batch := kves.store.NewBatch()
	defer batch.Close()

	if err := batch.Set(eventKey(ev.Stage, seq), encodeEvent(ev)); err != nil {
		return err
	}
	if err := batch.Set(seqKey(), mustAppend(seq)); err != nil {
		return err
	}
	if err := batch.WriteSync(); err != nil {
		return err
	}
	kves.seq = seq
	return nil
}

func (kves *EventSink) SearchStageEvents(ctx context.Context, stage stagedsync.StageID) ([]stagedsync.StageEvent, error) {
	it, err := dbm.IteratePrefix(kves.store, mustAppend(prefixEvent, string(stage)))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var events []stagedsync.StageEvent
	for ; it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ev, err := decodeEvent(it.Value())
		if err != nil {
			return nil, err
		}
		ev.Stage = stage
		events = append(events, ev)
	}
	return events, it.Error()
}

func (kves *EventSink) Stop() error {
	return kves.store.Close()
}

func eventKey(stage stagedsync.StageID, seq uint64) []byte {
	return mustAppend(prefixEvent, string(stage), seq)
}

func seqKey() []byte {
	return mustAppend(prefixSeq)
}

func encodeEvent(ev stagedsync.StageEvent) []byte {
	return mustAppend(ev.RunID, string(ev.Type), ev.BlockNumber, ev.Time.UnixNano())
}

func decodeEvent(bz []byte) (stagedsync.StageEvent, error) {
	var (
		ev        stagedsync.StageEvent
		eventType string
		nanos     int64
	)
	remaining, err := orderedcode.Parse(string(bz), &ev.RunID, &eventType, &ev.BlockNumber, &nanos)
	if err != nil {
		return stagedsync.StageEvent{}, fmt.Errorf("decoding stage event: %w", err)
	}
	if remaining != "" {
		return stagedsync.StageEvent{}, fmt.Errorf("decoding stage event: %d trailing bytes", len(remaining))
	}
	ev.Type = stagedsync.EventType(eventType)
	ev.Time = time.Unix(0, nanos).UTC()
	return ev, nil
}

func mustAppend(items ...interface{}) []byte {
	key, err := orderedcode.Append(nil, items...)
	if err != nil {
		panic(err)
	}
	return key
}
