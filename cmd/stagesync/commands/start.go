package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendermint/stagesync/config"
	"github.com/tendermint/stagesync/libs/log"
	tmos "github.com/tendermint/stagesync/libs/os"
	"github.com/tendermint/stagesync/node"
)

// AddNodeFlags exposes some common configuration options on the command-line.
func AddNodeFlags(cmd *cobra.Command, conf *config.Config) {
	cmd.Flags().String("moniker", conf.Moniker, "node name")

	// sync flags
	cmd.Flags().Uint64("sync.stop-height", conf.Sync.StopHeight,
		"height at which syncing stops (0 follows the source)")
	cmd.Flags().Uint64("sync.commit-threshold", conf.Sync.CommitThreshold,
		"maximum number of blocks a stage processes per commit")
	cmd.Flags().Bool("sync.verify-stages", conf.Sync.VerifyStages,
		"consult each stage's completeness checks before committing")

	// source flags
	cmd.Flags().Uint64("source.blocks", conf.Source.Blocks, "number of blocks the source starts with")
	cmd.Flags().Int64("source.seed", conf.Source.Seed, "seed of the generated source chain")
	cmd.Flags().Duration("source.block-interval", conf.Source.BlockInterval,
		"interval at which the source grows by one block (0 disables growth)")

	// instrumentation flags
	cmd.Flags().Bool("instrumentation.prometheus", conf.Instrumentation.Prometheus,
		"serve Prometheus metrics")
	cmd.Flags().String("instrumentation.prometheus-listen-addr", conf.Instrumentation.PrometheusListenAddr,
		"Prometheus listen address")

	addDBFlags(cmd, conf)
}

// MakeStartCommand returns the command that runs a node until it is
// interrupted or its pipeline fails.
func MakeStartCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"node", "run"},
		Short:   "Run the stagesync node",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := node.NewDefault(conf, logger)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}

			if err := n.Start(cmd.Context()); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}

			// Stop upon receiving SIGTERM or CTRL-C.
			tmos.TrapSignal(logger, func() {
				if n.IsRunning() {
					if err := n.Stop(); err != nil {
						logger.Error("unable to stop the node", "error", err)
					}
				}
			})

			n.Wait()
			return n.Err()
		},
	}

	AddNodeFlags(cmd, conf)
	return cmd
}
