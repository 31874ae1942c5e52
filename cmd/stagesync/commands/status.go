package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendermint/stagesync/config"
	"github.com/tendermint/stagesync/internal/stages"
	"github.com/tendermint/stagesync/internal/store"
	"github.com/tendermint/stagesync/libs/log"
	"github.com/tendermint/stagesync/node"
)

type stageStatus struct {
	Stage      string  `json:"stage"`
	Checkpoint *uint64 `json:"checkpoint"`
}

type syncStatus struct {
	SyncHead *uint64       `json:"sync_head"`
	TxCount  uint64        `json:"tx_count"`
	Stages   []stageStatus `json:"stages"`
}

// MakeStatusCommand returns the command that prints the committed progress
// of every stage. It must not run while a node holds the database.
func MakeStatusCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the checkpoint of every stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := node.NewDefault(conf, logger)
			if err != nil {
				return fmt.Errorf("failed to open node: %w", err)
			}
			defer n.Close()

			status, err := readStatus(cmd, n)
			if err != nil {
				return err
			}
			bz, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(bz))
			return nil
		},
	}
	addDBFlags(cmd, conf)
	return cmd
}

func readStatus(cmd *cobra.Command, n *node.Node) (*syncStatus, error) {
	progress, err := n.Pipeline().Progress(cmd.Context())
	if err != nil {
		return nil, err
	}

	status := &syncStatus{Stages: make([]stageStatus, 0, len(progress))}
	for _, sp := range progress {
		st := stageStatus{Stage: string(sp.ID)}
		if sp.Found {
			height := sp.Checkpoint.BlockNumber
			st.Checkpoint = &height
		}
		if sp.ID == stages.ExecutionID && sp.Found {
			if status.TxCount, err = stages.TxCount(sp.Checkpoint); err != nil {
				return nil, err
			}
		}
		status.Stages = append(status.Stages, st)
	}

	head, found, err := store.ReadSyncHead(n.Store().Reader())
	if err != nil {
		return nil, err
	}
	if found {
		status.SyncHead = &head
	}
	return status, nil
}
