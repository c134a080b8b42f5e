package main

import (
	"context"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/iota-community/sponsored-transactions-demo/commands"
	"github.com/iota-community/sponsored-transactions-demo/version"
)

var log = logging.Logger("sponsor")

func main() {
	app := &cli.App{
		Name:    "sponsor",
		Usage:   "Sponsored transactions for the IOTA network",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				EnvVars:     []string{"GOLOG_LOG_LEVEL"},
				Value:       "info",
				Usage:       "Set the default log level for all loggers to `LEVEL`",
				Destination: &commands.SponsorLogFlags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-level-named",
				EnvVars:     []string{"SPONSOR_LOG_LEVEL_NAMED"},
				Value:       "",
				Usage:       "A comma delimited list of named loggers and log levels formatted as name:level, for example 'logger1:debug,logger2:info'",
				Destination: &commands.SponsorLogFlags.LogLevelNamed,
			},
			&cli.BoolFlag{
				Name:        "tracing",
				EnvVars:     []string{"SPONSOR_TRACING"},
				Value:       false,
				Usage:       "Export traces to jaeger.",
				Destination: &commands.SponsorTracingFlags.Enabled,
			},
			&cli.StringFlag{
				Name:        "trace-service-name",
				EnvVars:     []string{"SPONSOR_TRACING_SERVICE_NAME"},
				Value:       "sponsor",
				Destination: &commands.SponsorTracingFlags.ServiceName,
			},
			&cli.StringFlag{
				Name:        "trace-provider-url",
				EnvVars:     []string{"SPONSOR_TRACING_PROVIDER_URL", "OTEL_EXPORTER_JAEGER_ENDPOINT"},
				Value:       "http://localhost:14268/api/traces",
				Destination: &commands.SponsorTracingFlags.ProviderURL,
			},
			&cli.Float64Flag{
				Name:        "trace-sampler-param",
				EnvVars:     []string{"SPONSOR_TRACING_SAMPLER_PARAM"},
				Value:       0.0001,
				Usage:       "Share of root spans that are sampled, 1 samples all of them.",
				Destination: &commands.SponsorTracingFlags.JaegerSamplerParam,
			},
			&cli.StringFlag{
				Name:        "prometheus-port",
				EnvVars:     []string{"SPONSOR_PROMETHEUS_PORT"},
				Value:       ":9991",
				Usage:       "Address to serve prometheus metrics on, empty to disable.",
				Destination: &commands.SponsorMetricFlags.PrometheusPort,
			},
		},
		Before: func(cctx *cli.Context) error {
			return commands.SetupLogging(commands.SponsorLogFlags)
		},
		Commands: []*cli.Command{
			commands.DaemonCmd,
			commands.ConfigCmd,
			commands.KeysCmd,
			commands.FundCmd,
			commands.SponsorCmd,
			commands.CosignCmd,
			commands.GasCmd,
		},
	}
	if err := app.RunContext(context.Background(), os.Args); err != nil {
		log.Errorf("%+v", err)
		os.Exit(1)
	}
}
