package commands

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	fslock "github.com/ipfs/go-fs-lock"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/config"
	"github.com/iota-community/sponsored-transactions-demo/node"
)

const daemonLockFile = "daemon.lock"

var daemonFlags struct {
	repo         string
	config       string
	startTimeout time.Duration
	stopTimeout  time.Duration
}

var repoFlag = &cli.StringFlag{
	Name:        "repo",
	Usage:       "Directory holding the sponsor config and lock file.",
	EnvVars:     []string{"SPONSOR_REPO"},
	Value:       "~/.sponsor",
	Destination: &daemonFlags.repo,
}

var configFlag = &cli.StringFlag{
	Name:        "config",
	Usage:       "Path of the config file. Defaults to config.toml inside the repo.",
	EnvVars:     []string{"SPONSOR_CONFIG"},
	Destination: &daemonFlags.config,
}

var DaemonCmd = &cli.Command{
	Name:  "daemon",
	Usage: "Start the sponsor daemon.",
	Description: `Starts the sponsor daemon. The daemon serves the faucet, the sponsor
endpoint and the gas station api, and runs the jobs that expire overdue
reservations and refill the coin pool.

The sponsor account is taken from the Sponsor.Address config value or, if
that is empty, from the single key of the configured keystore. Only one
daemon may use a repo at a time.

  sponsor config init --repo=<path>
  sponsor daemon --repo=<path>
`,
	Flags: []cli.Flag{
		repoFlag,
		configFlag,
		&cli.DurationFlag{
			Name:        "start-timeout",
			Usage:       "How long to wait for the chain and storage to become ready.",
			Value:       time.Minute,
			Destination: &daemonFlags.startTimeout,
		},
		&cli.DurationFlag{
			Name:        "stop-timeout",
			Usage:       "How long to wait for in flight requests when stopping.",
			Value:       30 * time.Second,
			Destination: &daemonFlags.stopTimeout,
		},
	},
	Action: func(cctx *cli.Context) (err error) {
		if err := setupMetrics(SponsorMetricFlags); err != nil {
			return xerrors.Errorf("setup metrics: %w", err)
		}

		tp, err := setupTracing(SponsorTracingFlags)
		if err != nil {
			return xerrors.Errorf("setup tracing: %w", err)
		}
		if tp != nil {
			defer func() {
				if err := tp.Shutdown(context.Background()); err != nil {
					log.Errorw("shutdown tracing", "error", err)
				}
			}()
		}

		repoDir, cfg, err := loadConfig()
		if err != nil {
			return err
		}

		unlocker, err := fslock.Lock(repoDir, daemonLockFile)
		if err != nil {
			le := fslock.LockedError("")
			if xerrors.As(err, &le) {
				return xerrors.Errorf("another daemon is using %s: %w", repoDir, err)
			}
			return xerrors.Errorf("acquire repo lock: %w", err)
		}
		defer func() {
			err = multierr.Append(err, unlocker.Close())
		}()

		ctx, cancel := context.WithCancel(cctx.Context)
		defer cancel()

		app := fx.New(node.Options(ctx, cfg))
		startCtx, startCancel := context.WithTimeout(ctx, daemonFlags.startTimeout)
		defer startCancel()
		if err := app.Start(startCtx); err != nil {
			return xerrors.Errorf("start daemon: %w", err)
		}
		log.Infow("sponsor daemon started", "listen", cfg.API.ListenAddress)

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)
		select {
		case sig := <-interrupt:
			log.Infow("received signal, stopping", "signal", sig)
		case <-app.Done():
			log.Info("daemon shutting down")
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), daemonFlags.stopTimeout)
		defer stopCancel()
		return app.Stop(stopCtx)
	},
}

// loadConfig reads and validates the config named by the daemon flags, returning the
// expanded repo directory alongside it. The repo directory is created if needed.
func loadConfig() (string, *config.Conf, error) {
	repoDir, err := homedir.Expand(daemonFlags.repo)
	if err != nil {
		return "", nil, xerrors.Errorf("expand repo path: %w", err)
	}
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		return "", nil, xerrors.Errorf("create repo: %w", err)
	}

	path := daemonFlags.config
	if path == "" {
		path = filepath.Join(repoDir, "config.toml")
	}
	cfg, err := config.FromFile(path)
	if err != nil {
		return "", nil, xerrors.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return "", nil, xerrors.Errorf("invalid config %s: %w", path, err)
	}
	log.Infow("loaded config", "path", path)
	return repoDir, cfg, nil
}
