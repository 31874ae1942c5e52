package commands

import (
	"github.com/spf13/cobra"

	"github.com/tendermint/stagesync/config"
	"github.com/tendermint/stagesync/libs/log"
	tmos "github.com/tendermint/stagesync/libs/os"
)

// MakeInitCommand returns the command that writes a default config file into
// the home directory.
func MakeInitCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initializes a stagesync home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initFiles(conf, logger)
		},
	}
}

func initFiles(conf *config.Config, logger log.Logger) error {
	if err := config.EnsureRoot(conf.RootDir); err != nil {
		return err
	}

	path := config.ConfigFile(conf.RootDir)
	if tmos.FileExists(path) {
		logger.Info("Found config file", "path", path)
		return nil
	}
	if err := config.WriteConfigFile(conf.RootDir, conf); err != nil {
		return err
	}
	logger.Info("Generated config file", "path", path)
	return nil
}
