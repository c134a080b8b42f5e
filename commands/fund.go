package commands

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/api"
	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/config"
	"github.com/iota-community/sponsored-transactions-demo/keys"
	"github.com/iota-community/sponsored-transactions-demo/lens"
	"github.com/iota-community/sponsored-transactions-demo/lens/iota"
	"github.com/iota-community/sponsored-transactions-demo/sigs"
)

var chainFlags struct {
	url string
}

var chainURLFlag = &cli.StringFlag{
	Name:        "chain",
	Usage:       "JSON-RPC url of the IOTA node used to submit transactions.",
	EnvVars:     []string{"SPONSOR_CHAIN_URL"},
	Value:       config.DefaultConf().Chain.URL,
	Destination: &chainFlags.url,
}

func openChain(cctx *cli.Context) (lens.API, lens.APICloser, error) {
	return iota.NewAPIOpener(chainFlags.url, os.Getenv(config.DefaultConf().Chain.TokenEnv)).Open(cctx.Context)
}

var FundCmd = &cli.Command{
	Name:      "fund",
	Usage:     "Ask the daemon's faucet to fund an address once.",
	ArgsUsage: "<address>",
	Flags:     flagSet(clientAPIFlagSet),
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return xerrors.New("expected a single address argument")
		}
		addr, err := types.ParseAddress(cctx.Args().First())
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.Fund(cctx.Context, addr)
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "%s %s coin %s\n", resp.Address, resp.Status, resp.Coin)
		return nil
	},
}

var sponsorFlags struct {
	content string
	station bool
}

var SponsorCmd = &cli.Command{
	Name:  "sponsor",
	Usage: "Request a sponsored demo transaction, co-sign it and submit it.",
	Description: `Asks the daemon for the demo transaction with the given address as
sender. The daemon pays the gas and returns the transaction with its
signature. The sender's key from the keystore adds the second signature.

By default the signed transaction is submitted straight to the chain. With
--station it is handed back to the gas station instead, which needs the
gas station token.`,
	ArgsUsage: "<sender>",
	Flags: flagSet(clientAPIFlagSet, []cli.Flag{
		keystoreFlag,
		chainURLFlag,
		&cli.StringFlag{
			Name:        "content",
			Usage:       "Content type subscribed to by the demo call.",
			Value:       config.DefaultConf().Contract.DefaultContent,
			Destination: &sponsorFlags.content,
		},
		&cli.BoolFlag{
			Name:        "station",
			Usage:       "Submit through the gas station instead of the chain.",
			Destination: &sponsorFlags.station,
		},
	}),
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return xerrors.New("expected a single sender argument")
		}
		sender, err := types.ParseAddress(cctx.Args().First())
		if err != nil {
			return err
		}
		ks, err := keys.OpenFileKeystore(keysFlags.keystore)
		if err != nil {
			return err
		}
		if !ks.Has(sender) {
			return xerrors.Errorf("%w: %s", keys.ErrKeyNotFound, sender)
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.Sponsor(cctx.Context, sender, sponsorFlags.content)
		if err != nil {
			return err
		}
		log.Infow("received sponsored transaction", "reservation", resp.ReservationID, "expires", resp.ExpiresAt)
		var station *api.Client
		if sponsorFlags.station {
			station = client
		}
		return cosignAndSubmit(cctx, ks, sender, resp.TxBytes, resp.SponsorSignature, station, resp.ReservationID)
	},
}

var cosignFlags struct {
	txBytes    string
	sponsorSig string
}

var CosignCmd = &cli.Command{
	Name:  "cosign",
	Usage: "Add the sender signature to a sponsor signed transaction and submit it.",
	Description: `Takes base64 transaction bytes and the sponsor's base64 signature, as
returned by the sponsor endpoint, signs them with the sender's key and submits
the transaction with both signatures to the chain.`,
	ArgsUsage: "<sender>",
	Flags: []cli.Flag{
		keystoreFlag,
		chainURLFlag,
		&cli.StringFlag{
			Name:        "tx-bytes",
			Usage:       "Base64 encoded transaction bytes.",
			Required:    true,
			Destination: &cosignFlags.txBytes,
		},
		&cli.StringFlag{
			Name:        "sponsor-sig",
			Usage:       "Base64 encoded sponsor signature.",
			Required:    true,
			Destination: &cosignFlags.sponsorSig,
		},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return xerrors.New("expected a single sender argument")
		}
		sender, err := types.ParseAddress(cctx.Args().First())
		if err != nil {
			return err
		}
		ks, err := keys.OpenFileKeystore(keysFlags.keystore)
		if err != nil {
			return err
		}
		return cosignAndSubmit(cctx, ks, sender, cosignFlags.txBytes, cosignFlags.sponsorSig, nil, 0)
	},
}

// cosignAndSubmit signs txBytes64 as sender and submits it with the sponsor's signature.
// With a client the gas station executes it under reservation, otherwise it goes
// straight to the chain.
func cosignAndSubmit(cctx *cli.Context, ks keys.Keystore, sender types.Address, txBytes64, sponsorSig64 string, station *api.Client, reservation uint64) error {
	txBytes, err := base64.StdEncoding.DecodeString(txBytes64)
	if err != nil {
		return xerrors.Errorf("decode transaction bytes: %w", err)
	}
	sponsorSig, err := keys.ParseSignatureBase64(sponsorSig64)
	if err != nil {
		return xerrors.Errorf("decode sponsor signature: %w", err)
	}
	env, err := sigs.CoSign(cctx.Context, ks, sender, txBytes, sponsorSig)
	if err != nil {
		return err
	}

	if station != nil {
		effects, err := station.ExecuteTx(cctx.Context, reservation, env.TxBytes, env.Signatures[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "%s %s\n", effects.Digest, effects.Status)
		if !effects.Succeeded() {
			return xerrors.Errorf("transaction %s failed: %s", effects.Digest, effects.Error)
		}
		return nil
	}

	chain, closer, err := openChain(cctx)
	if err != nil {
		return xerrors.Errorf("connect to chain: %w", err)
	}
	defer closer()
	effects, err := chain.ExecuteTransaction(cctx.Context, env.TxBytes, env.Signatures)
	if err != nil {
		return err
	}
	fmt.Fprintf(cctx.App.Writer, "%s %s\n", effects.Digest, effects.Status)
	if !effects.Succeeded() {
		return xerrors.Errorf("transaction %s failed: %s", effects.Digest, effects.Error)
	}
	return nil
}
