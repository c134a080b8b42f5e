package commands

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/iota-community/sponsored-transactions-demo/api"
)

var clientAPIFlags struct {
	apiAddr    string
	apiToken   string
	apiTimeout time.Duration
}

var clientAPIFlag = &cli.StringFlag{
	Name:        "api",
	Usage:       "Address of the sponsor api.",
	EnvVars:     []string{"SPONSOR_API"},
	Value:       "http://127.0.0.1:3001",
	Destination: &clientAPIFlags.apiAddr,
}

var clientTokenFlag = &cli.StringFlag{
	Name:        "api-token",
	Usage:       "Bearer token for the gas station endpoints.",
	EnvVars:     []string{"GAS_STATION_AUTH"},
	Value:       "",
	Destination: &clientAPIFlags.apiToken,
}

var clientTimeoutFlag = &cli.DurationFlag{
	Name:        "api-timeout",
	Usage:       "Timeout for a single api request.",
	EnvVars:     []string{"SPONSOR_API_TIMEOUT"},
	Value:       2 * time.Minute,
	Destination: &clientAPIFlags.apiTimeout,
}

// clientAPIFlagSet are used by commands that act as clients of a daemon's API
var clientAPIFlagSet = []cli.Flag{
	clientAPIFlag,
	clientTokenFlag,
	clientTimeoutFlag,
}

func flagSet(fs ...[]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, f := range fs {
		flags = append(flags, f...)
	}
	return flags
}

func newAPIClient() (*api.Client, error) {
	return api.NewClient(clientAPIFlags.apiAddr, clientAPIFlags.apiToken, clientAPIFlags.apiTimeout)
}
