package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/api"
	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/config"
	"github.com/iota-community/sponsored-transactions-demo/gasstation"
	"github.com/iota-community/sponsored-transactions-demo/keys"
	"github.com/iota-community/sponsored-transactions-demo/sponsor"
)

var gasFlags struct {
	budget      uint64
	duration    time.Duration
	content     string
	count       int
	concurrency int
}

var gasBudgetFlag = &cli.Uint64Flag{
	Name:        "budget",
	Usage:       "Gas budget to reserve.",
	Value:       config.DefaultConf().Sponsor.GasBudget,
	Destination: &gasFlags.budget,
}

var gasDurationFlag = &cli.DurationFlag{
	Name:        "duration",
	Usage:       "How long the reservation is held. Rounded down to whole seconds.",
	Value:       time.Duration(config.DefaultConf().Sponsor.DefaultTTL),
	Destination: &gasFlags.duration,
}

var GasCmd = &cli.Command{
	Name:  "gas",
	Usage: "Use the gas station api of a daemon.",
	Subcommands: []*cli.Command{
		GasReserveCmd,
		GasCallCmd,
		GasReservationsCmd,
		GasStatsCmd,
	},
}

var GasReserveCmd = &cli.Command{
	Name:  "reserve",
	Usage: "Reserve sponsor gas coins.",
	Flags: flagSet(clientAPIFlagSet, []cli.Flag{gasBudgetFlag, gasDurationFlag}),
	Action: func(cctx *cli.Context) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := client.ReserveGas(cctx.Context, gasFlags.budget, gasFlags.duration)
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "reservation %d sponsored by %s\n", res.ReservationID, res.SponsorAddress)
		for _, c := range res.GasCoins {
			fmt.Fprintf(cctx.App.Writer, "  %s\n", c)
		}
		return nil
	},
}

var GasCallCmd = &cli.Command{
	Name:  "call",
	Usage: "Run the demo call through the gas station: reserve, sign as sender, execute.",
	Description: `Runs the complete gas station flow for the demo Move call. Each call
reserves gas, builds the transaction with the reserved coins as payment,
signs it with the sender's key and asks the gas station to add the sponsor
signature and execute it. Calls may run in parallel.`,
	ArgsUsage: "<sender>",
	Flags: flagSet(clientAPIFlagSet, []cli.Flag{
		keystoreFlag,
		chainURLFlag,
		repoFlag,
		configFlag,
		gasBudgetFlag,
		gasDurationFlag,
		&cli.StringFlag{
			Name:        "content",
			Usage:       "Content type subscribed to by the demo call.",
			Value:       config.DefaultConf().Contract.DefaultContent,
			Destination: &gasFlags.content,
		},
		&cli.IntFlag{
			Name:        "count",
			Usage:       "Number of calls to make.",
			Value:       1,
			Destination: &gasFlags.count,
		},
		&cli.IntFlag{
			Name:        "concurrency",
			Usage:       "Number of calls in flight at once.",
			Value:       1,
			Destination: &gasFlags.concurrency,
		},
	}),
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return xerrors.New("expected a single sender argument")
		}
		if gasFlags.concurrency < 1 {
			return xerrors.New("concurrency must be at least 1")
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
		_, cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pt, err := sponsor.FreeTrialPayload(cfg.Contract, gasFlags.content)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		chain, closer, err := openChain(cctx)
		if err != nil {
			return xerrors.Errorf("connect to chain: %w", err)
		}
		defer closer()
		price, err := chain.GetReferenceGasPrice(cctx.Context)
		if err != nil {
			return xerrors.Errorf("reference gas price: %w", err)
		}

		call := &demoCall{client: client, ks: ks, sender: sender, payload: pt, price: price}
		var succeeded atomic.Int64
		grp, ctx := errgroup.WithContext(cctx.Context)
		grp.SetLimit(gasFlags.concurrency)
		for i := 0; i < gasFlags.count; i++ {
			grp.Go(func() error {
				effects, err := call.run(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cctx.App.Writer, "%s %s gas %d\n", effects.Digest, effects.Status,
					uint64(effects.GasUsed.ComputationCost)+uint64(effects.GasUsed.StorageCost))
				if !effects.Succeeded() {
					return xerrors.Errorf("transaction %s failed: %s", effects.Digest, effects.Error)
				}
				succeeded.Inc()
				return nil
			})
		}
		err = grp.Wait()
		log.Infow("demo calls finished", "succeeded", succeeded.Load(), "requested", gasFlags.count)
		return err
	},
}

// demoCall runs the sender's side of one gas station round trip.
type demoCall struct {
	client  *api.Client
	ks      keys.Keystore
	sender  types.Address
	payload types.ProgrammableTransaction
	price   uint64
}

func (d *demoCall) run(ctx context.Context) (*api.Effects, error) {
	res, err := d.client.ReserveGas(ctx, gasFlags.budget, gasFlags.duration)
	if err != nil {
		return nil, err
	}
	tx := types.NewProgrammable(d.sender, res.GasCoins, d.payload, gasFlags.budget, d.price)
	tx.GasData.Owner = res.SponsorAddress
	raw, err := tx.Bytes()
	if err != nil {
		return nil, xerrors.Errorf("serialize transaction: %w", err)
	}
	sig, err := d.ks.Sign(d.sender, types.TransactionIntent, raw)
	if err != nil {
		return nil, err
	}
	effects, err := d.client.ExecuteTx(ctx, res.ReservationID, raw, sig)
	if err != nil {
		return nil, xerrors.Errorf("reservation %d: %w", res.ReservationID, err)
	}
	return effects, nil
}

var GasReservationsCmd = &cli.Command{
	Name:      "reservations",
	Usage:     "List the reservations known to the gas station.",
	ArgsUsage: "[id]",
	Flags:     flagSet(clientAPIFlagSet),
	Action: func(cctx *cli.Context) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var list []gasstation.Reservation
		if cctx.NArg() > 0 {
			id, err := strconv.ParseUint(cctx.Args().First(), 10, 64)
			if err != nil {
				return xerrors.Errorf("parse reservation id: %w", err)
			}
			r, err := client.Reservation(cctx.Context, id)
			if err != nil {
				return err
			}
			list = append(list, *r)
		} else {
			list, err = client.Reservations(cctx.Context)
			if err != nil {
				return err
			}
		}

		t := table.NewWriter()
		t.SetOutputMirror(cctx.App.Writer)
		t.AppendHeader(table.Row{"id", "state", "amount", "coins", "expires", "sender", "digest", "gas used"})
		for _, r := range list {
			var sender, digest string
			if r.Sender != nil {
				sender = r.Sender.String()
			}
			if r.Digest != nil {
				digest = r.Digest.String()
			}
			t.AppendRow(table.Row{r.ID, r.State, r.Amount, len(r.Coins), r.ExpiresAt.Format(time.RFC3339), sender, digest, r.GasUsed})
		}
		t.Render()
		return nil
	},
}

var GasStatsCmd = &cli.Command{
	Name:  "stats",
	Usage: "Show the state of the sponsor's coin pool.",
	Flags: flagSet(clientAPIFlagSet),
	Action: func(cctx *cli.Context) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		s, err := client.Stats(cctx.Context)
		if err != nil {
			return err
		}
		t := table.NewWriter()
		t.SetOutputMirror(cctx.App.Writer)
		t.AppendRows([]table.Row{
			{"sponsor", s.Sponsor},
			{"pool coins", s.PoolCoins},
			{"pool balance", s.PoolBalance},
			{"leased coins", s.LeasedCoins},
			{"unconfirmed coins", s.Unconfirmed},
			{"active reservations", s.Active},
			{"executed", s.Executed},
			{"sponsored fees", s.SponsoredFees},
		})
		t.Render()
		return nil
	},
}
