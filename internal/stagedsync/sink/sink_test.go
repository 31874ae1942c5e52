package sink_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/tendermint/stagesync/config"
	"github.com/tendermint/stagesync/internal/stagedsync"
	"github.com/tendermint/stagesync/internal/stagedsync/sink"
)

func memDBProvider(*config.DBContext) (dbm.DB, error) {
	return dbm.NewMemDB(), nil
}

func TestEventSinksFromConfig(t *testing.T) {
	testCases := map[string]struct {
		sinks   []string
		psql    string
		want    []stagedsync.EventSinkType
		wantErr bool
	}{
		"no sinks":         {sinks: nil, want: []stagedsync.EventSinkType{stagedsync.NULL}},
		"kv":               {sinks: []string{"kv"}, want: []stagedsync.EventSinkType{stagedsync.KV}},
		"null wins":        {sinks: []string{"kv", "null"}, want: []stagedsync.EventSinkType{stagedsync.NULL}},
		"case insensitive": {sinks: []string{"KV"}, want: []stagedsync.EventSinkType{stagedsync.KV}},
		"duplicates":       {sinks: []string{"kv", "KV"}, wantErr: true},
		"psql without dsn": {sinks: []string{"psql"}, wantErr: true},
		"unknown":          {sinks: []string{"kafka"}, wantErr: true},
	}
	for name, tc := range testCases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			cfg := config.TestConfig()
			cfg.EventSink.Sinks = tc.sinks
			cfg.EventSink.PsqlConn = tc.psql

			sinks, err := sink.EventSinksFromConfig(cfg, memDBProvider)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			var got []stagedsync.EventSinkType
			for _, s := range sinks {
				got = append(got, s.Type())
				assert.NoError(t, s.Stop())
			}
			assert.Equal(t, tc.want, got)
		})
	}
}
