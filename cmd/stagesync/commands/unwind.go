package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tendermint/stagesync/config"
	"github.com/tendermint/stagesync/libs/log"
	"github.com/tendermint/stagesync/node"
)

// MakeUnwindCommand returns the command that rolls every stage back to the
// given height. The node must be stopped.
func MakeUnwindCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unwind [height]",
		Short: "Unwind every stage to the given height",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			height, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid height %q: %w", args[0], err)
			}

			n, err := node.NewDefault(conf, logger)
			if err != nil {
				return fmt.Errorf("failed to open node: %w", err)
			}
			defer n.Close()

			if err := n.Pipeline().UnwindTo(cmd.Context(), height); err != nil {
				return fmt.Errorf("failed to unwind to %d: %w", height, err)
			}
			logger.Info("unwound stages", "height", height)
			return nil
		},
	}
	addDBFlags(cmd, conf)
	return cmd
}
