package commands

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/config"
)

var ConfigCmd = &cli.Command{
	Name:  "config",
	Usage: "Manage the daemon config.",
	Subcommands: []*cli.Command{
		ConfigInitCmd,
		ConfigShowCmd,
	},
}

var ConfigInitCmd = &cli.Command{
	Name:  "init",
	Usage: "Write a default config file unless one exists.",
	Flags: []cli.Flag{repoFlag, configFlag},
	Action: func(cctx *cli.Context) error {
		repoDir, err := homedir.Expand(daemonFlags.repo)
		if err != nil {
			return xerrors.Errorf("expand repo path: %w", err)
		}
		path := daemonFlags.config
		if path == "" {
			path = filepath.Join(repoDir, "config.toml")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return xerrors.Errorf("create config directory: %w", err)
		}
		if err := config.EnsureExists(path); err != nil {
			return xerrors.Errorf("ensuring config is present at %q: %w", path, err)
		}
		log.Infow("config ready", "path", path)
		return nil
	},
}

var ConfigShowCmd = &cli.Command{
	Name:  "show",
	Usage: "Print the effective config, defaults included.",
	Flags: []cli.Flag{repoFlag, configFlag},
	Action: func(cctx *cli.Context) error {
		_, cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return toml.NewEncoder(cctx.App.Writer).Encode(cfg)
	},
}
