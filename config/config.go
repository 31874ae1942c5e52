package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/tendermint/stagesync/libs/log"
)

const (
	// LogFormatPlain is a format for colored text
	LogFormatPlain = "plain"
	// LogFormatJSON is a format for json output
	LogFormatJSON = "json"

	// SinkNull discards every stage event.
	SinkNull = "null"
	// SinkKV stores stage events in a local key/value database.
	SinkKV = "kv"
	// SinkPSQL stores stage events in PostgreSQL.
	SinkPSQL = "psql"
)

// NOTE: Most of the structs & relevant comments + the
// default configuration options were used to manually
// generate the config.toml. Please reflect any changes
// made here in the defaultConfigTemplate constant in
// config/toml.go
// NOTE: libs/cli must know to look in the config dir!
var (
	DefaultStageSyncDir = ".stagesync"
	defaultConfigDir    = "config"
	defaultDataDir      = "data"

	defaultConfigFileName = "config.toml"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
)

// Config defines the top level configuration for a stagesync node
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	Sync            *SyncConfig            `mapstructure:"sync"`
	Source          *SourceConfig          `mapstructure:"source"`
	EventSink       *EventSinkConfig       `mapstructure:"event-sink"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for a stagesync node
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Sync:            DefaultSyncConfig(),
		Source:          DefaultSourceConfig(),
		EventSink:       DefaultEventSinkConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		Sync:            TestSyncConfig(),
		Source:          TestSourceConfig(),
		EventSink:       TestEventSinkConfig(),
		Instrumentation: TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Sync.ValidateBasic(); err != nil {
		return pkgerrors.Wrap(err, "error in [sync] section")
	}
	if err := cfg.Source.ValidateBasic(); err != nil {
		return pkgerrors.Wrap(err, "error in [source] section")
	}
	if err := cfg.EventSink.ValidateBasic(); err != nil {
		return pkgerrors.Wrap(err, "error in [event-sink] section")
	}
	return pkgerrors.Wrap(
		cfg.Instrumentation.ValidateBasic(),
		"error in [instrumentation] section",
	)
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for a stagesync node
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// A custom human readable name for this node
	Moniker string `mapstructure:"moniker"`

	// Database backend: goleveldb | memdb
	// * goleveldb (github.com/syndtr/goleveldb - most popular implementation)
	//   - pure go
	//   - stable
	// * memdb
	//   - in memory, nothing survives a restart
	DBBackend string `mapstructure:"db-backend"`

	// Database directory
	DBPath string `mapstructure:"db-dir"`

	// Output level for logging
	LogLevel string `mapstructure:"log-level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log-format"`
}

// DefaultBaseConfig returns a default base configuration for a stagesync node
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:   defaultMoniker,
		LogLevel:  log.LogLevelInfo,
		LogFormat: LogFormatPlain,
		DBBackend: "goleveldb",
		DBPath:    defaultDataDir,
	}
}

// TestBaseConfig returns a base configuration for testing a stagesync node
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.DBBackend = "memdb"
	cfg.LogLevel = log.LogLevelDebug
	return cfg
}

// DBDir returns the full path to the database directory
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case LogFormatPlain, LogFormatJSON:
	default:
		return errors.New("unknown log-format (must be 'plain' or 'json')")
	}
	switch cfg.LogLevel {
	case log.LogLevelDebug, log.LogLevelInfo, log.LogLevelWarn, log.LogLevelError:
	default:
		return fmt.Errorf("unknown log-level %q", cfg.LogLevel)
	}
	switch cfg.DBBackend {
	case "goleveldb", "memdb":
	default:
		return fmt.Errorf("unsupported db-backend %q (must be 'goleveldb' or 'memdb')", cfg.DBBackend)
	}
	return nil
}

//-----------------------------------------------------------------------------
// SyncConfig

// SyncConfig defines the configuration of the staged sync pipeline.
type SyncConfig struct {
	// Maximum number of blocks a stage processes in a single call before its
	// progress is committed.
	CommitThreshold uint64 `mapstructure:"commit-threshold"`

	// How many times a stage call failing with a retryable error is retried
	// before the run aborts.
	MaxRetries int `mapstructure:"max-retries"`

	// Initial wait between retries. Doubles on every attempt.
	RetryBackoff time.Duration `mapstructure:"retry-backoff"`

	// Pause between two pipeline runs when running continuously.
	LoopInterval time.Duration `mapstructure:"loop-interval"`

	// Consult each stage's own completeness checks before committing.
	VerifyStages bool `mapstructure:"verify-stages"`

	// How many consecutive unwinds for the same bad block are tolerated
	// before the pipeline gives up.
	MaxBadBlockUnwinds int `mapstructure:"max-bad-block-unwinds"`

	// Height at which the pipeline stops syncing. 0 means follow the source.
	StopHeight uint64 `mapstructure:"stop-height"`
}

// DefaultSyncConfig returns a default configuration for the pipeline.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		CommitThreshold:    1000,
		MaxRetries:         5,
		RetryBackoff:       500 * time.Millisecond,
		LoopInterval:       time.Second,
		VerifyStages:       false,
		MaxBadBlockUnwinds: 3,
		StopHeight:         0,
	}
}

// TestSyncConfig returns a configuration for the pipeline used in tests.
func TestSyncConfig() *SyncConfig {
	cfg := DefaultSyncConfig()
	cfg.CommitThreshold = 16
	cfg.RetryBackoff = 10 * time.Millisecond
	cfg.LoopInterval = 10 * time.Millisecond
	cfg.VerifyStages = true
	return cfg
}

// ValidateBasic performs basic validation.
func (cfg *SyncConfig) ValidateBasic() error {
	if cfg.CommitThreshold == 0 {
		return errors.New("commit-threshold can't be zero")
	}
	if cfg.MaxRetries < 0 {
		return errors.New("max-retries can't be negative")
	}
	if cfg.RetryBackoff < 0 {
		return errors.New("retry-backoff can't be negative")
	}
	if cfg.LoopInterval <= 0 {
		return errors.New("loop-interval must be positive")
	}
	if cfg.MaxBadBlockUnwinds < 1 {
		return errors.New("max-bad-block-unwinds must be at least 1")
	}
	return nil
}

// Target returns the run target implied by stop-height, nil if unset.
func (cfg *SyncConfig) Target() *uint64 {
	if cfg.StopHeight == 0 {
		return nil
	}
	h := cfg.StopHeight
	return &h
}

//-----------------------------------------------------------------------------
// SourceConfig

// SourceConfig defines the synthetic chain the node replicates.
type SourceConfig struct {
	// Number of blocks generated above genesis on startup.
	Blocks uint64 `mapstructure:"blocks"`

	// Seed for deterministic block generation.
	Seed int64 `mapstructure:"seed"`

	// Number of concurrent body fetchers used by the bodies stage.
	BodyFetchers int `mapstructure:"body-fetchers"`

	// When positive, a new block is appended to the source at this interval.
	BlockInterval time.Duration `mapstructure:"block-interval"`
}

// DefaultSourceConfig returns a default source configuration.
func DefaultSourceConfig() *SourceConfig {
	return &SourceConfig{
		Blocks:        10000,
		Seed:          1,
		BodyFetchers:  4,
		BlockInterval: time.Second,
	}
}

// TestSourceConfig returns a source configuration used in tests.
func TestSourceConfig() *SourceConfig {
	cfg := DefaultSourceConfig()
	cfg.Blocks = 64
	cfg.BodyFetchers = 2
	cfg.BlockInterval = 0
	return cfg
}

// ValidateBasic performs basic validation.
func (cfg *SourceConfig) ValidateBasic() error {
	if cfg.BodyFetchers < 1 {
		return errors.New("body-fetchers must be at least 1")
	}
	if cfg.BlockInterval < 0 {
		return errors.New("block-interval can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// EventSinkConfig

// EventSinkConfig defines where stage lifecycle events are indexed.
type EventSinkConfig struct {
	// The backends receiving stage events: null | kv | psql.
	// An empty list is equivalent to ["null"].
	Sinks []string `mapstructure:"sinks"`

	// PostgreSQL connection string used by the psql sink.
	PsqlConn string `mapstructure:"psql-conn"`
}

// DefaultEventSinkConfig returns a default event sink configuration.
func DefaultEventSinkConfig() *EventSinkConfig {
	return &EventSinkConfig{
		Sinks:    []string{SinkKV},
		PsqlConn: "",
	}
}

// TestEventSinkConfig returns an event sink configuration used in tests.
func TestEventSinkConfig() *EventSinkConfig {
	cfg := DefaultEventSinkConfig()
	cfg.Sinks = []string{SinkNull}
	return cfg
}

// ValidateBasic performs basic validation.
func (cfg *EventSinkConfig) ValidateBasic() error {
	seen := make(map[string]struct{}, len(cfg.Sinks))
	for _, s := range cfg.Sinks {
		switch s {
		case SinkNull, SinkKV:
		case SinkPSQL:
			if cfg.PsqlConn == "" {
				return errors.New("psql-conn must be set when the psql sink is enabled")
			}
		default:
			return fmt.Errorf("unsupported event sink %q", s)
		}
		if _, ok := seen[s]; ok {
			return fmt.Errorf("duplicated event sink %q", s)
		}
		seen[s] = struct{}{}
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus-listen-addr"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		Namespace:            "stagesync",
	}
}

// TestInstrumentationConfig returns a default configuration for metrics
// reporting.
func TestInstrumentationConfig() *InstrumentationConfig {
	return DefaultInstrumentationConfig()
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.Prometheus && cfg.PrometheusListenAddr == "" {
		return errors.New("prometheus-listen-addr can't be empty when prometheus is enabled")
	}
	if cfg.Namespace == "" {
		return errors.New("namespace can't be empty")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

//-----------------------------------------------------------------------------
// Moniker

var defaultMoniker = getDefaultMoniker()

// getDefaultMoniker returns a default moniker, which is the host name. If runtime
// fails to get the host name, "anonymous" will be returned.
func getDefaultMoniker() string {
	moniker, err := os.Hostname()
	if err != nil {
		moniker = "anonymous"
	}
	return moniker
}
