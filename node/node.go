package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dbm "github.com/tendermint/tm-db"

	"github.com/tendermint/stagesync/config"
	"github.com/tendermint/stagesync/internal/chain"
	"github.com/tendermint/stagesync/internal/stagedsync"
	"github.com/tendermint/stagesync/internal/stagedsync/sink"
	"github.com/tendermint/stagesync/internal/stages"
	"github.com/tendermint/stagesync/internal/store"
	"github.com/tendermint/stagesync/libs/log"
	"github.com/tendermint/stagesync/libs/service"
)

// Node is the highest level interface to a syncing node: it owns the store,
// the chain source and the pipeline syncing one into the other.
type Node struct {
	service.BaseService
	logger log.Logger
	config *config.Config

	db       dbm.DB
	provider *store.Provider
	source   *chain.MemoryChain
	sinks    []stagedsync.EventSink
	pipeline *stagedsync.Pipeline

	prometheusSrv  *http.Server
	prometheusAddr net.Addr

	cancel    context.CancelFunc
	producers sync.WaitGroup
	closeOnce sync.Once
}

// NewDefault constructs a node using the default database provider.
func NewDefault(cfg *config.Config, logger log.Logger) (*Node, error) {
	return New(cfg, logger, config.DefaultDBProvider)
}

// New assembles a node from cfg. Nothing runs before Start.
func New(cfg *config.Config, logger log.Logger, dbProvider config.DBProvider) (*Node, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := dbProvider(&config.DBContext{ID: "stagesync", Config: cfg})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sinks, err := sink.EventSinksFromConfig(cfg, dbProvider)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating event sinks: %w", err)
	}

	metrics := stagedsync.NopMetrics()
	if cfg.Instrumentation.Prometheus {
		metrics = stagedsync.PrometheusMetrics(cfg.Instrumentation.Namespace, "moniker", cfg.Moniker)
	}

	provider := store.NewProvider(db)
	source := chain.NewMemoryChain(cfg.Source.Seed, cfg.Source.Blocks)
	pipeline, err := stagedsync.NewPipeline(
		logger.With("module", "stagedsync"),
		provider,
		stages.DefaultStages(logger.With("module", "stages"), cfg, source),
		stagedsync.WithSyncConfig(cfg.Sync),
		stagedsync.WithMetrics(metrics),
		stagedsync.WithEventSinks(sinks...),
	)
	if err != nil {
		for _, s := range sinks {
			_ = s.Stop()
		}
		_ = db.Close()
		return nil, err
	}

	n := &Node{
		logger:   logger,
		config:   cfg,
		db:       db,
		provider: provider,
		source:   source,
		sinks:    sinks,
		pipeline: pipeline,
	}
	n.BaseService = *service.NewBaseService(logger, "Node", n)
	return n, nil
}

// OnStart starts the metrics server, the block producer and the pipeline.
func (n *Node) OnStart(ctx context.Context) error {
	if n.config.Instrumentation.Prometheus {
		srv, addr, err := n.startPrometheusServer(n.config.Instrumentation.PrometheusListenAddr)
		if err != nil {
			return err
		}
		n.prometheusSrv, n.prometheusAddr = srv, addr
	}

	ctx, n.cancel = context.WithCancel(ctx)
	if interval := n.config.Source.BlockInterval; interval > 0 {
		n.producers.Add(1)
		go n.produceBlocks(ctx, interval)
	}

	if err := n.pipeline.Start(ctx); err != nil {
		n.cancel()
		n.producers.Wait()
		n.stopPrometheusServer()
		return err
	}
	go n.watchPipeline()

	n.logger.Info("started node", "moniker", n.config.Moniker, "tip", n.tip())
	return nil
}

// OnStop stops the node's services and releases its resources.
func (n *Node) OnStop() {
	n.logger.Info("stopping node")
	n.cancel()
	n.producers.Wait()

	if err := n.pipeline.Stop(); err != nil && !errors.Is(err, service.ErrAlreadyStopped) {
		n.logger.Error("failed to stop pipeline", "err", err)
	}
	// the pipeline may be stopping on its own
	n.pipeline.Wait()

	n.stopPrometheusServer()
	if err := n.Close(); err != nil {
		n.logger.Error("failed to close node resources", "err", err)
	}
}

// Close releases the database and event sinks of a node that is not
// running.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		for _, s := range n.sinks {
			if serr := s.Stop(); serr != nil {
				n.logger.Error("failed to stop event sink", "sink", s.Type(), "err", serr)
			}
		}
		err = n.provider.Close()
	})
	return err
}

// Err returns the error that made the pipeline stop, if any.
func (n *Node) Err() error {
	return n.pipeline.Err()
}

// Pipeline returns the node's sync pipeline.
func (n *Node) Pipeline() *stagedsync.Pipeline { return n.pipeline }

// Source returns the chain the node syncs from.
func (n *Node) Source() *chain.MemoryChain { return n.source }

// Store returns the node's store.
func (n *Node) Store() *store.Provider { return n.provider }

// PrometheusAddr returns the address the metrics server listens on, or nil
// when it is disabled.
func (n *Node) PrometheusAddr() net.Addr { return n.prometheusAddr }

// watchPipeline stops the node when the pipeline gives up.
func (n *Node) watchPipeline() {
	n.pipeline.Wait()
	if err := n.pipeline.Err(); err != nil && n.IsRunning() {
		n.logger.Error("pipeline failed, stopping node", "err", err)
		if err := n.Stop(); err != nil && !errors.Is(err, service.ErrAlreadyStopped) {
			n.logger.Error("failed to stop node", "err", err)
		}
	}
}

// produceBlocks extends the source chain by one block per interval.
func (n *Node) produceBlocks(ctx context.Context, interval time.Duration) {
	defer n.producers.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.source.Generate(1)
			n.logger.Debug("produced block", "height", n.tip())
		}
	}
}

func (n *Node) tip() uint64 {
	tip, err := n.source.Tip(context.Background())
	if err != nil {
		return 0
	}
	return tip
}

// startPrometheusServer starts a Prometheus HTTP server, listening for metrics
// collectors on addr.
func (n *Node) startPrometheusServer(addr string) (*http.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("prometheus listener: %w", err)
	}
	srv := &http.Server{
		Handler: promhttp.InstrumentMetricHandler(
			prometheus.DefaultRegisterer, promhttp.HandlerFor(
				prometheus.DefaultGatherer,
				promhttp.HandlerOpts{},
			),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Error starting or closing listener:
			n.logger.Error("Prometheus HTTP server Serve", "err", err)
		}
	}()
	return srv, ln.Addr(), nil
}

func (n *Node) stopPrometheusServer() {
	if n.prometheusSrv == nil {
		return
	}
	if err := n.prometheusSrv.Shutdown(context.Background()); err != nil {
		n.logger.Error("prometheus server shutdown", "err", err)
	}
	n.prometheusSrv, n.prometheusAddr = nil, nil
}
