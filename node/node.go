// Package node wires the sponsor daemon together with fx.
package node

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/iota-community/sponsored-transactions-demo/api"
	"github.com/iota-community/sponsored-transactions-demo/config"
	"github.com/iota-community/sponsored-transactions-demo/schedule"
)

// Options is the complete daemon: the chain connection and the keystore named by cfg
// plus everything in Core.
func Options(mctx context.Context, cfg *config.Conf) fx.Option {
	return fx.Options(
		Core(mctx, cfg),
		fx.Provide(NewChain, NewKeystore),
	)
}

// Core provides the services that sit on top of a lens.API and a keys.Keystore, which
// the caller must provide.
func Core(mctx context.Context, cfg *config.Conf) fx.Option {
	return fx.Options(
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Desugar()}
		}),
		fx.Provide(
			func() MetricsCtx { return mctx },
			func() *config.Conf { return cfg },
			NewStorageCatalog,
			SponsorAddress,
			NewAuditStorage,
			NewGuard,
			NewFaucetClient,
			NewFundingService,
			NewBuilder,
			NewGasStation,
			NewScheduler,
			NewServer,
		),
		fx.Invoke(func(*api.Server, *schedule.Scheduler) {}),
	)
}
