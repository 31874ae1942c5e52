package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	assert := assert.New(t)

	// set up some defaults
	cfg := DefaultConfig()
	assert.NotNil(cfg.Sync)
	assert.NotNil(cfg.Source)
	assert.NotNil(cfg.EventSink)
	assert.NotNil(cfg.Instrumentation)
	assert.EqualValues(1000, cfg.Sync.CommitThreshold)

	// check the root dir stuff...
	cfg.SetRoot("/foo")
	assert.Equal("/foo/data", cfg.DBDir())

	cfg.DBPath = "/opt/data"
	assert.Equal("/opt/data", cfg.DBDir())
}

func TestConfigValidateBasic(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.ValidateBasic())
	assert.NoError(t, TestConfig().ValidateBasic())

	cfg.Sync.CommitThreshold = 0
	err := cfg.ValidateBasic()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[sync]")
}

func TestBaseConfigValidateBasic(t *testing.T) {
	testCases := map[string]struct {
		modify    func(*BaseConfig)
		expectErr bool
	}{
		"defaults":            {func(*BaseConfig) {}, false},
		"json format":         {func(c *BaseConfig) { c.LogFormat = LogFormatJSON }, false},
		"invalid log format":  {func(c *BaseConfig) { c.LogFormat = "invalid" }, true},
		"invalid log level":   {func(c *BaseConfig) { c.LogLevel = "loud" }, true},
		"memdb backend":       {func(c *BaseConfig) { c.DBBackend = "memdb" }, false},
		"unsupported backend": {func(c *BaseConfig) { c.DBBackend = "rocksdb" }, true},
	}

	for desc, tc := range testCases {
		tc := tc
		t.Run(desc, func(t *testing.T) {
			cfg := TestBaseConfig()
			tc.modify(&cfg)
			err := cfg.ValidateBasic()
			if tc.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSyncConfigValidateBasic(t *testing.T) {
	cfg := TestSyncConfig()
	assert.NoError(t, cfg.ValidateBasic())

	fieldsToTest := map[string]func(*SyncConfig){
		"CommitThreshold":    func(c *SyncConfig) { c.CommitThreshold = 0 },
		"MaxRetries":         func(c *SyncConfig) { c.MaxRetries = -1 },
		"RetryBackoff":       func(c *SyncConfig) { c.RetryBackoff = -time.Second },
		"LoopInterval":       func(c *SyncConfig) { c.LoopInterval = 0 },
		"MaxBadBlockUnwinds": func(c *SyncConfig) { c.MaxBadBlockUnwinds = 0 },
	}

	for name, tamper := range fieldsToTest {
		cfg := TestSyncConfig()
		tamper(cfg)
		assert.Error(t, cfg.ValidateBasic(), name)
	}
}

func TestSyncConfigTarget(t *testing.T) {
	cfg := DefaultSyncConfig()
	assert.Nil(t, cfg.Target())

	cfg.StopHeight = 42
	target := cfg.Target()
	require.NotNil(t, target)
	assert.EqualValues(t, 42, *target)
}

func TestSourceConfigValidateBasic(t *testing.T) {
	cfg := TestSourceConfig()
	assert.NoError(t, cfg.ValidateBasic())

	cfg.BodyFetchers = 0
	assert.Error(t, cfg.ValidateBasic())

	cfg = TestSourceConfig()
	cfg.BlockInterval = -time.Second
	assert.Error(t, cfg.ValidateBasic())
}

func TestEventSinkConfigValidateBasic(t *testing.T) {
	testCases := []struct {
		name      string
		sinks     []string
		conn      string
		expectErr bool
	}{
		{"empty", nil, "", false},
		{"null", []string{SinkNull}, "", false},
		{"kv and null", []string{SinkKV, SinkNull}, "", false},
		{"psql without conn", []string{SinkPSQL}, "", true},
		{"psql with conn", []string{SinkPSQL}, "postgresql://localhost/db", false},
		{"duplicated", []string{SinkKV, SinkKV}, "", true},
		{"unknown", []string{"elastic"}, "", true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := &EventSinkConfig{Sinks: tc.sinks, PsqlConn: tc.conn}
			err := cfg.ValidateBasic()
			if tc.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInstrumentationConfigValidateBasic(t *testing.T) {
	cfg := TestInstrumentationConfig()
	assert.NoError(t, cfg.ValidateBasic())

	cfg.Prometheus = true
	cfg.PrometheusListenAddr = ""
	assert.Error(t, cfg.ValidateBasic())

	cfg = TestInstrumentationConfig()
	cfg.Namespace = ""
	assert.Error(t, cfg.ValidateBasic())
}
