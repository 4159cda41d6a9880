package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Keys read by lobbyctl. Each maps to LOBBY_<KEY> in the environment, with dashes as
// underscores; a bound flag set on the command line takes precedence.
const (
	CLIServer   = "server"
	CLIToken    = "token"
	CLILogLevel = "log-level"
)

var cliDefaults = map[string]any{
	CLIServer:   "http://localhost:3000",
	CLIToken:    "",
	CLILogLevel: "warn",
}

// NewCLI returns the viper instance lobbyctl binds its flags to.
func NewCLI() *viper.Viper {
	v := viper.New()
	for key, value := range cliDefaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix("LOBBY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}
