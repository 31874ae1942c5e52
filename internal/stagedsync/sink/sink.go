package sink

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tendermint/stagesync/config"
	"github.com/tendermint/stagesync/internal/stagedsync"
	"github.com/tendermint/stagesync/internal/stagedsync/sink/kv"
	"github.com/tendermint/stagesync/internal/stagedsync/sink/null"
	"github.com/tendermint/stagesync/internal/stagedsync/sink/psql"
)

// EventSinksFromConfig constructs a slice of stagedsync.EventSink using the
// provided configuration.
func EventSinksFromConfig(cfg *config.Config, dbProvider config.DBProvider) ([]stagedsync.EventSink, error) {
	if len(cfg.EventSink.Sinks) == 0 {
		return []stagedsync.EventSink{null.NewEventSink()}, nil
	}

	// check for duplicated sinks
	seen := map[string]struct{}{}
	for _, s := range cfg.EventSink.Sinks {
		sl := strings.ToLower(s)
		if _, ok := seen[sl]; ok {
			return nil, errors.New("found duplicated sinks, please check the event-sink section in the config.toml")
		}
		seen[sl] = struct{}{}
	}

	eventSinks := []stagedsync.EventSink{}
	for _, s := range cfg.EventSink.Sinks {
		switch stagedsync.EventSinkType(strings.ToLower(s)) {
		case stagedsync.NULL:
			// When we see null in the config, the eventsinks will be reset with the
			// nullEventSink.
			stopAll(eventSinks)
			return []stagedsync.EventSink{null.NewEventSink()}, nil

		case stagedsync.KV:
			store, err := dbProvider(&config.DBContext{ID: "stage_events", Config: cfg})
			if err != nil {
				stopAll(eventSinks)
				return nil, err
			}
			es, err := kv.NewEventSink(store)
			if err != nil {
				stopAll(eventSinks)
				return nil, err
			}
			eventSinks = append(eventSinks, es)

		case stagedsync.PSQL:
			conn := cfg.EventSink.PsqlConn
			if conn == "" {
				stopAll(eventSinks)
				return nil, errors.New("the psql connection settings cannot be empty")
			}
			es, err := psql.NewEventSink(conn)
			if err != nil {
				stopAll(eventSinks)
				return nil, err
			}
			if err := es.Migrate(); err != nil {
				_ = es.Stop()
				stopAll(eventSinks)
				return nil, fmt.Errorf("applying event sink schema: %w", err)
			}
			eventSinks = append(eventSinks, es)

		default:
			stopAll(eventSinks)
			return nil, fmt.Errorf("unsupported event sink type %q", s)
		}
	}
	return eventSinks, nil
}

func stopAll(sinks []stagedsync.EventSink) {
	for _, s := range sinks {
		_ = s.Stop()
	}
}
