package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/creachadair/atomicfile"

	tmos "github.com/tendermint/stagesync/libs/os"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate")
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// EnsureRoot creates the root, config, and data directories if they don't exist,
// and returns an error if it fails.
func EnsureRoot(rootDir string) error {
	if err := tmos.EnsureDir(rootDir, defaultDirPerm); err != nil {
		return err
	}
	if err := tmos.EnsureDir(filepath.Join(rootDir, defaultConfigDir), defaultDirPerm); err != nil {
		return err
	}
	return tmos.EnsureDir(filepath.Join(rootDir, defaultDataDir), defaultDirPerm)
}

// WriteConfigFile renders config using the template and writes it to
// configFilePath. This function is called by cmd/stagesync/commands/init.go
func WriteConfigFile(rootDir string, config *Config) error {
	return config.WriteToTemplate(filepath.Join(rootDir, defaultConfigFilePath))
}

// WriteToTemplate writes the config to the exact file specified by
// the path, in the default toml template and does not mangle the path
// or filename at all.
func (cfg *Config) WriteToTemplate(path string) error {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, cfg); err != nil {
		return err
	}

	_, err := atomicfile.WriteAll(path, &buffer, 0644)
	return err
}

// ConfigFile returns the full path of the config file under rootDir.
func ConfigFile(rootDir string) string {
	return filepath.Join(rootDir, defaultConfigFilePath)
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/stagesync/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.stagesync" by default, but could be changed via $SSHOME env variable
# or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# A custom human readable name for this node
moniker = "{{ .BaseConfig.Moniker }}"

# Database backend: goleveldb | memdb
# * goleveldb (github.com/syndtr/goleveldb - most popular implementation)
#   - pure go
#   - stable
# * memdb
#   - in memory, nothing survives a restart
db-backend = "{{ .BaseConfig.DBBackend }}"

# Database directory
db-dir = "{{ js .BaseConfig.DBPath }}"

# Output level for logging: debug | info | warn | error
log-level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log-format = "{{ .BaseConfig.LogFormat }}"

#######################################################################
###                 Staged Sync Configuration Options               ###
#######################################################################
[sync]

# Maximum number of blocks a stage processes in a single call before its
# progress is committed.
commit-threshold = {{ .Sync.CommitThreshold }}

# How many times a stage call failing with a retryable error is retried
# before the run aborts.
max-retries = {{ .Sync.MaxRetries }}

# Initial wait between retries. Doubles on every attempt.
retry-backoff = "{{ .Sync.RetryBackoff }}"

# Pause between two pipeline runs when running continuously.
loop-interval = "{{ .Sync.LoopInterval }}"

# Consult each stage's own completeness checks before committing.
verify-stages = {{ .Sync.VerifyStages }}

# How many consecutive unwinds for the same bad block are tolerated
# before the pipeline gives up.
max-bad-block-unwinds = {{ .Sync.MaxBadBlockUnwinds }}

# Height at which the pipeline stops syncing. 0 means follow the source.
stop-height = {{ .Sync.StopHeight }}

#######################################################################
###                    Chain Source Configuration                   ###
#######################################################################
[source]

# Number of blocks generated above genesis on startup.
blocks = {{ .Source.Blocks }}

# Seed for deterministic block generation.
seed = {{ .Source.Seed }}

# Number of concurrent body fetchers used by the bodies stage.
body-fetchers = {{ .Source.BodyFetchers }}

# When positive, a new block is appended to the source at this interval.
block-interval = "{{ .Source.BlockInterval }}"

#######################################################################
###                    Event Sink Configuration                     ###
#######################################################################
[event-sink]

# The backends receiving stage lifecycle events.
#
# Options:
#   1) "null"
#   2) "kv" - events are stored in the node database.
#   3) "psql" - events are stored in PostgreSQL, see psql-conn.
sinks = [{{ range $i, $e := .EventSink.Sinks }}{{if $i}}, {{end}}{{ printf "%q" $e }}{{end}}]

# The PostgreSQL connection configuration, the connection format:
#   postgresql://<user>:<password>@<host>:<port>/<db>?<opts>
psql-conn = "{{ .EventSink.PsqlConn }}"

#######################################################################
###                 Instrumentation Configuration Options           ###
#######################################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# PrometheusListenAddr.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections
prometheus-listen-addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`

/****** these are for test settings ***********/

// ResetTestRoot creates a fresh home directory below dir, writes a test
// configuration into it and returns that configuration.
func ResetTestRoot(dir, testName string) (*Config, error) {
	rootDir, err := os.MkdirTemp(dir, fmt.Sprintf("%s-", testName))
	if err != nil {
		return nil, err
	}

	if err := EnsureRoot(rootDir); err != nil {
		return nil, err
	}

	cfg := TestConfig().SetRoot(rootDir)
	if err := WriteConfigFile(rootDir, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
