package node

import (
	"context"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/api"
	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/config"
	"github.com/iota-community/sponsored-transactions-demo/faucet"
	"github.com/iota-community/sponsored-transactions-demo/gasstation"
	"github.com/iota-community/sponsored-transactions-demo/guard"
	"github.com/iota-community/sponsored-transactions-demo/keys"
	"github.com/iota-community/sponsored-transactions-demo/lens"
	"github.com/iota-community/sponsored-transactions-demo/lens/iota"
	"github.com/iota-community/sponsored-transactions-demo/model"
	"github.com/iota-community/sponsored-transactions-demo/schedule"
	"github.com/iota-community/sponsored-transactions-demo/sponsor"
	"github.com/iota-community/sponsored-transactions-demo/storage"
)

var log = logging.Logger("sponsor/node")

// MetricsCtx is the root context of the node, carrying metric tags.
type MetricsCtx context.Context

func NewStorageCatalog(cfg *config.Conf) (*storage.Catalog, error) {
	return storage.NewCatalog(cfg.Storage)
}

// NewChain dials the configured node and wraps it with request metrics.
func NewChain(mctx MetricsCtx, lc fx.Lifecycle, cfg *config.Conf) (lens.API, error) {
	chain, closer, err := iota.NewAPIOpener(cfg.Chain.URL, cfg.ChainToken()).Open(mctx)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closer()
			return nil
		},
	})
	return chain, nil
}

func NewKeystore(cfg *config.Conf) (keys.Keystore, error) {
	return keys.OpenFileKeystore(cfg.Sponsor.Keystore)
}

// SponsorAddress is the configured sponsor, or the only key of the keystore when none is
// configured.
func SponsorAddress(cfg *config.Conf, ks keys.Keystore) (types.Address, error) {
	if cfg.Sponsor.Address != "" {
		return types.ParseAddress(cfg.Sponsor.Address)
	}
	addrs := ks.List()
	if len(addrs) != 1 {
		return types.Address{}, xerrors.Errorf("sponsor address not configured and keystore holds %d keys", len(addrs))
	}
	return addrs[0], nil
}

// recipientSource is implemented by storages that can list funded recipients.
type recipientSource interface {
	FundedRecipients(ctx context.Context) ([]string, error)
}

// NewAuditStorage connects the storage named by the sponsor config. A postgres storage
// is locked for the sponsor account for the lifetime of the node, so that two daemons
// never sponsor from the same account.
func NewAuditStorage(mctx MetricsCtx, lc fx.Lifecycle, cfg *config.Conf, catalog *storage.Catalog, sponsorAddr types.Address) (model.Storage, error) {
	st, err := catalog.Connect(mctx, cfg.Sponsor.Storage)
	if err != nil {
		return nil, err
	}
	db, ok := st.(*storage.Database)
	if !ok {
		return st, nil
	}

	unlock, err := db.LockSponsor(mctx, sponsorAddr)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return multierr.Combine(unlock(), db.Close())
		},
	})
	return db, nil
}

// NewGuard returns a funding guard that already knows every recipient recorded in st.
func NewGuard(mctx MetricsCtx, st model.Storage) (*guard.Guard, error) {
	g := guard.New()
	src, ok := st.(recipientSource)
	if !ok {
		return g, nil
	}
	recipients, err := src.FundedRecipients(mctx)
	if err != nil {
		return nil, xerrors.Errorf("restore funding guard: %w", err)
	}
	addrs := make([]types.Address, 0, len(recipients))
	for _, r := range recipients {
		a, err := types.ParseAddress(r)
		if err != nil {
			log.Warnw("skipping unparsable funded recipient", "recipient", r, "error", err)
			continue
		}
		addrs = append(addrs, a)
	}
	g.Restore(addrs)
	log.Infow("restored funding guard", "recipients", len(addrs))
	return g, nil
}

func NewFaucetClient(cfg *config.Conf, chain lens.API) (*faucet.Client, error) {
	return faucet.NewClient(faucet.Config{
		URL:                 cfg.Faucet.URL,
		PollInterval:        time.Duration(cfg.Faucet.PollInterval),
		ConfirmationTimeout: time.Duration(cfg.Faucet.ConfirmationTimeout),
	}, chain)
}

func NewFundingService(g *guard.Guard, client *faucet.Client, st model.Storage) *faucet.Service {
	return faucet.NewService(g, client, st, clock.New())
}

func NewBuilder(cfg *config.Conf, chain lens.API) *sponsor.Builder {
	return sponsor.NewBuilder(sponsor.Config{
		MinCoinBalance: cfg.Sponsor.MinCoinBalance,
		GasBudget:      cfg.Sponsor.GasBudget,
	}, chain)
}

// NewGasStation loads the sponsor's coins when the node starts.
func NewGasStation(lc fx.Lifecycle, cfg *config.Conf, chain lens.API, ks keys.Keystore, sponsorAddr types.Address, st model.Storage) (*gasstation.Manager, error) {
	m, err := gasstation.NewManager(gasstation.Config{
		Sponsor:        sponsorAddr,
		MinCoinBalance: cfg.Sponsor.MinCoinBalance,
		DefaultTTL:     time.Duration(cfg.Sponsor.DefaultTTL),
		MaxTTL:         time.Duration(cfg.Sponsor.MaxTTL),
		HistorySize:    cfg.Sponsor.HistorySize,
		ConfirmWorkers: cfg.Sponsor.ConfirmWorkers,
	}, chain, ks, st, clock.New())
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			n, err := m.Refresh(ctx)
			if err != nil {
				return xerrors.Errorf("load sponsor coins: %w", err)
			}
			if n == 0 {
				log.Warnw("sponsor owns no usable gas coins", "sponsor", sponsorAddr)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			m.Close()
			return nil
		},
	})
	return m, nil
}

// NewScheduler runs the background jobs of the gas station: expiring overdue
// reservations and refilling the pool from the chain.
func NewScheduler(mctx MetricsCtx, lc fx.Lifecycle, cfg *config.Conf, m *gasstation.Manager) *schedule.Scheduler {
	interval := time.Duration(cfg.Sponsor.SweepInterval)
	s := schedule.NewScheduler(
		&schedule.JobConfig{
			Name: "sweep",
			Job: &schedule.Periodic{
				Name:     "sweep",
				Interval: interval,
				Func: func(ctx context.Context) error {
					_, err := m.Sweep(ctx)
					return err
				},
			},
			RestartOnFailure: true,
			RestartDelay:     interval,
		},
		&schedule.JobConfig{
			Name: "refresh",
			Job: &schedule.Periodic{
				Name:     "refresh",
				Interval: 60 * interval,
				Func: func(ctx context.Context) error {
					_, err := m.Refresh(ctx)
					return err
				},
			},
			RestartOnFailure: true,
			RestartDelay:     interval,
		},
	)

	ctx, cancel := context.WithCancel(mctx)
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := s.Run(ctx); err != nil && !xerrors.Is(err, context.Canceled) {
					log.Errorw("scheduler stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
	return s
}

func NewServer(lc fx.Lifecycle, cfg *config.Conf, chain lens.API, funding *faucet.Service, builder *sponsor.Builder, m *gasstation.Manager, ks keys.Keystore) *api.Server {
	srv := api.NewServer(api.Config{
		ListenAddress: cfg.API.ListenAddress,
		AuthToken:     cfg.AuthToken(),
		Timeout:       time.Duration(cfg.API.Timeout),
		GasBudget:     cfg.Sponsor.GasBudget,
		Contract:      cfg.Contract,
	}, chain, funding, builder, m, ks)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !xerrors.Is(err, http.ErrServerClosed) {
					log.Errorw("api server stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	return srv
}
