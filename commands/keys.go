package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/iota-community/sponsored-transactions-demo/keys"
)

var keysFlags struct {
	keystore string
	scheme   string
}

var keystoreFlag = &cli.StringFlag{
	Name:        "keystore",
	Usage:       "Path of the keystore file.",
	EnvVars:     []string{"SPONSOR_KEYSTORE"},
	Value:       keys.DefaultKeystorePath,
	Destination: &keysFlags.keystore,
}

var KeysCmd = &cli.Command{
	Name:  "keys",
	Usage: "Manage the keys of a keystore.",
	Subcommands: []*cli.Command{
		KeysNewCmd,
		KeysListCmd,
	},
}

var KeysNewCmd = &cli.Command{
	Name:  "new",
	Usage: "Generate a key and add it to the keystore.",
	Flags: []cli.Flag{
		keystoreFlag,
		&cli.StringFlag{
			Name:        "scheme",
			Usage:       "Signature scheme of the key, ed25519 or secp256k1.",
			Value:       keys.Ed25519.String(),
			Destination: &keysFlags.scheme,
		},
	},
	Action: func(cctx *cli.Context) error {
		scheme, err := keys.ParseScheme(keysFlags.scheme)
		if err != nil {
			return err
		}
		ks, err := keys.OpenFileKeystore(keysFlags.keystore)
		if err != nil {
			return err
		}
		kp, err := ks.Generate(scheme)
		if err != nil {
			return err
		}
		fmt.Fprintln(cctx.App.Writer, kp.Address())
		return nil
	},
}

var KeysListCmd = &cli.Command{
	Name:  "list",
	Usage: "List the addresses held by the keystore.",
	Flags: []cli.Flag{keystoreFlag},
	Action: func(cctx *cli.Context) error {
		ks, err := keys.OpenFileKeystore(keysFlags.keystore)
		if err != nil {
			return err
		}
		t := table.NewWriter()
		t.SetOutputMirror(cctx.App.Writer)
		t.AppendHeader(table.Row{"address"})
		for _, addr := range ks.List() {
			t.AppendRow(table.Row{addr})
		}
		t.Render()
		return nil
	},
}
