// cmd/lobbyctl is a terminal client and operator tool for the lobby server.
package main

import (
	"os"

	"github.com/jason-s-yu/lobbyd/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cliConfig resolves flags over LOBBY_* environment variables.
var cliConfig *viper.Viper

func newRootCmd() *cobra.Command {
	cliConfig = config.NewCLI()
	root := &cobra.Command{
		Use:           "lobbyctl",
		Short:         "Lobby server client and operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.String(config.CLIServer, "http://localhost:3000", "lobby server base URL (env LOBBY_SERVER)")
	flags.String(config.CLILogLevel, "warn", "client log level (env LOBBY_LOG_LEVEL)")
	cobra.CheckErr(cliConfig.BindPFlag(config.CLIServer, flags.Lookup(config.CLIServer)))
	cobra.CheckErr(cliConfig.BindPFlag(config.CLILogLevel, flags.Lookup(config.CLILogLevel)))

	root.AddCommand(newPlayCmd(), newStatsCmd(), newLobbiesCmd(), newKeygenCmd(), newTokenCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Fatal("lobbyctl")
	}
}

func serverURL() string {
	return cliConfig.GetString(config.CLIServer)
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cliConfig.GetString(config.CLILogLevel))
	if err != nil {
		level = logrus.WarnLevel
	}
	logger.SetLevel(level)
	logger.SetOutput(os.Stderr)
	return logger
}
