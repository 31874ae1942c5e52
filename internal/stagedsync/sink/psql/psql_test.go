package psql

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/ory/dockertest"
	"github.com/ory/dockertest/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendermint/stagesync/internal/stagedsync"
)

// A hook that test cases can call to obtain the shared database instance
// used for testing the sink. This is initialized in TestMain (see below).
var testDB func() *sql.DB

const (
	user     = "postgres"
	password = "secret"
	port     = "5432"
	dsn      = "postgres://%s:%s@localhost:%s/%s?sslmode=disable"
	dbName   = "postgres"
)

func TestMain(m *testing.M) {
	// Set up docker and start a container running PostgreSQL.
	pool, err := dockertest.NewPool(os.Getenv("DOCKER_URL"))
	if err != nil {
		log.Fatalf("Creating docker pool: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		log.Printf("Docker is not reachable, skipping PostgreSQL tests: %v", err)
		os.Exit(0)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "13",
		Env: []string{
			"POSTGRES_USER=" + user,
			"POSTGRES_PASSWORD=" + password,
			"POSTGRES_DB=" + dbName,
			"listen_addresses = '*'",
		},
		ExposedPorts: []string{port},
	}, func(config *docker.HostConfig) {
		// set AutoRemove to true so that stopped container goes away by itself
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{
			Name: "no",
		}
	})
	if err != nil {
		log.Fatalf("Starting docker pool: %v", err)
	}

	const expireSeconds = 60
	_ = resource.Expire(expireSeconds)

	// Connect to the database and install the schema.
	conn := fmt.Sprintf(dsn, user, password, resource.GetPort(port+"/tcp"), dbName)
	var db *sql.DB

	if err := pool.Retry(func() error {
		sink, err := NewEventSink(conn)
		if err != nil {
			return err
		}
		db = sink.DB() // set global for test use
		return db.Ping()
	}); err != nil {
		log.Fatalf("Connecting to database: %v", err)
	}

	sink := &EventSink{store: db}
	if err := sink.Migrate(); err != nil {
		log.Fatalf("Applying schema: %v", err)
	}
	// Applying the schema a second time is a no-op.
	if err := sink.Migrate(); err != nil {
		log.Fatalf("Re-applying schema: %v", err)
	}

	testDB = func() *sql.DB { return db }

	code := m.Run()

	log.Print("Shutting down database")
	if err := pool.Purge(resource); err != nil {
		log.Printf("WARNING: Purging pool failed: %v", err)
	}
	if err := db.Close(); err != nil {
		log.Printf("WARNING: Closing database failed: %v", err)
	}

	os.Exit(code)
}

func TestType(t *testing.T) {
	psqlSink := &EventSink{store: testDB()}
	assert.Equal(t, stagedsync.PSQL, psqlSink.Type())
}

func TestIndexing(t *testing.T) {
	ctx := context.Background()
	sink := &EventSink{store: testDB()}
	created := time.Date(2022, 5, 1, 12, 0, 0, 0, time.UTC)

	want := []stagedsync.StageEvent{
		{RunID: "run-1", Stage: "Execution", Type: stagedsync.EventStageStarted, BlockNumber: 0, Time: created},
		{RunID: "run-1", Stage: "Execution", Type: stagedsync.EventStageFinished, BlockNumber: 128, Time: created},
		{RunID: "run-2", Stage: "Execution", Type: stagedsync.EventStageUnwound, BlockNumber: 100, Time: created},
	}
	for _, ev := range want {
		require.NoError(t, sink.IndexStageEvent(ev))
	}
	require.NoError(t, sink.IndexStageEvent(stagedsync.StageEvent{
		RunID: "run-1", Stage: "TxLookup", Type: stagedsync.EventStageStarted, Time: created,
	}))

	got, err := sink.SearchStageEvents(ctx, "Execution")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	var count int
	require.NoError(t, testDB().QueryRow(`SELECT COUNT(*) FROM `+TableStageEvents+` WHERE run_id = $1;`, "run-1").Scan(&count))
	assert.Equal(t, 3, count)
}

func TestIndexRejectsOversizedHeight(t *testing.T) {
	sink := &EventSink{store: testDB()}
	err := sink.IndexStageEvent(stagedsync.StageEvent{Stage: "Headers", BlockNumber: 1 << 63})
	assert.Error(t, err)
}
