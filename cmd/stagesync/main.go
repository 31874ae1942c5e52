package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/tendermint/stagesync/cmd/stagesync/commands"
	"github.com/tendermint/stagesync/config"
	"github.com/tendermint/stagesync/libs/cli"
	"github.com/tendermint/stagesync/libs/log"
)

func main() {
	ctx := context.Background()

	conf := config.DefaultConfig()
	logger, err := log.NewDefaultLogger(conf.LogFormat, conf.LogLevel)
	if err != nil {
		panic(err)
	}

	rcmd := commands.RootCommand(conf, logger)
	rcmd.AddCommand(
		commands.MakeInitCommand(conf, logger),
		commands.MakeStartCommand(conf, logger),
		commands.MakeStatusCommand(conf, logger),
		commands.MakeUnwindCommand(conf, logger),
		commands.MakeVersionCommand(),
	)

	if err := rcmd.ExecuteContext(ctx); err != nil {
		if viper.GetBool(cli.TraceFlag) {
			fmt.Fprintf(os.Stderr, "ERROR: %+v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		}
		os.Exit(1)
	}
}
