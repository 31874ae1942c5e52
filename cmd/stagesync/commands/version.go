package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendermint/stagesync/version"
)

const versionCommandName = "version"

// MakeVersionCommand creates a command that prints the version.
func MakeVersionCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   versionCommandName,
		Short: "Show version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !verbose {
				fmt.Fprintln(cmd.OutOrStdout(), version.Version)
				return nil
			}
			values, err := json.MarshalIndent(struct {
				StageSync     string `json:"stagesync"`
				StoreProtocol uint64 `json:"store_protocol"`
			}{
				StageSync:     version.Version,
				StoreProtocol: version.StoreProtocol.Uint64(),
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(values))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show store protocol version")
	return cmd
}
