// Package sponsor builds transactions whose gas is paid by a sponsor rather than by the
// sender.
package sponsor

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/lens"
)

var log = logging.Logger("sponsor/builder")

var (
	// ErrInsufficientGas is returned when no set of available coins covers an amount.
	ErrInsufficientGas = xerrors.New("insufficient gas")
	// ErrStaleCoinReference is returned when a gas coin was consumed, mutated or
	// transferred after it was selected.
	ErrStaleCoinReference = xerrors.New("stale coin reference")
	// ErrSelfSponsored is returned when the sponsor and the sender are the same address.
	ErrSelfSponsored = xerrors.New("sponsor and sender must differ")
)

type Config struct {
	// MinCoinBalance excludes coins holding less than this from selection.
	MinCoinBalance uint64
	// GasBudget is used when a request does not name a budget.
	GasBudget uint64
	// PageSize is the number of coins fetched per GetCoins request.
	PageSize uint
}

// Builder assembles sponsored transactions. It reads coins and the reference gas price
// from the chain and never submits anything.
type Builder struct {
	cfg   Config
	chain lens.ReadAPI
	price singleflight.Group
}

func NewBuilder(cfg Config, chain lens.ReadAPI) *Builder {
	if cfg.PageSize == 0 {
		cfg.PageSize = 50
	}
	return &Builder{cfg: cfg, chain: chain}
}

// BuildRequest describes a sponsored transaction. Zero GasBudget and GasPrice are
// filled from configuration and the chain. Empty GasCoins are selected from the
// sponsor's coins with SelectCoins.
type BuildRequest struct {
	Sender    types.Address
	Sponsor   types.Address
	Payload   types.ProgrammableTransaction
	GasCoins  []types.ObjectRef
	GasBudget uint64
	GasPrice  uint64
}

// Build returns transaction data with the sponsor as gas owner. Given gas coins are
// refreshed from the chain first, so the payment carries their latest versions.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*types.TransactionData, error) {
	ctx, span := otel.Tracer("").Start(ctx, "Builder.Build")
	defer span.End()
	span.SetAttributes(
		attribute.String("sender", req.Sender.String()),
		attribute.String("sponsor", req.Sponsor.String()),
	)

	if req.Sender == req.Sponsor {
		return nil, ErrSelfSponsored
	}
	if len(req.Payload.Commands) == 0 {
		return nil, xerrors.Errorf("%w: empty payload", types.ErrMalformedTxData)
	}

	budget := req.GasBudget
	if budget == 0 {
		budget = b.cfg.GasBudget
	}
	if budget == 0 {
		return nil, types.ErrZeroGasBudget
	}

	price := req.GasPrice
	if price == 0 {
		var err error
		price, err = b.ReferenceGasPrice(ctx)
		if err != nil {
			return nil, err
		}
	}

	var payment []types.ObjectRef
	if len(req.GasCoins) == 0 {
		coins, err := b.SelectCoins(ctx, req.Sponsor, budget)
		if err != nil {
			return nil, err
		}
		for _, c := range coins {
			payment = append(payment, c.Ref)
		}
	} else {
		var err error
		payment, err = b.RefreshCoins(ctx, req.Sponsor, req.GasCoins)
		if err != nil {
			return nil, err
		}
	}

	tx := types.NewProgrammable(req.Sender, payment, req.Payload, budget, price)
	tx.GasData.Owner = req.Sponsor
	if err := tx.Validate(); err != nil {
		return nil, xerrors.Errorf("build sponsored transaction: %w", err)
	}

	log.Debugw("built sponsored transaction", "sender", req.Sender, "sponsor", req.Sponsor, "coins", len(payment), "budget", budget, "price", price)
	return tx, nil
}

// ReferenceGasPrice fetches the chain's current reference gas price. Concurrent callers
// share one request.
func (b *Builder) ReferenceGasPrice(ctx context.Context) (uint64, error) {
	v, err, _ := b.price.Do("price", func() (interface{}, error) {
		return b.chain.GetReferenceGasPrice(ctx)
	})
	if err != nil {
		return 0, xerrors.Errorf("get reference gas price: %w", err)
	}
	price := v.(uint64)
	if price == 0 {
		return 0, types.ErrZeroGasPrice
	}
	return price, nil
}

// SelectCoins enumerates the sponsor's gas coins and chooses among them with
// ChooseCoins.
func (b *Builder) SelectCoins(ctx context.Context, sponsor types.Address, amount uint64) ([]lens.Coin, error) {
	coins, err := lens.CollectCoins(ctx, b.chain, sponsor, lens.GasCoinType, b.cfg.PageSize)
	if err != nil {
		return nil, err
	}
	chosen, err := ChooseCoins(coins, amount, b.cfg.MinCoinBalance)
	if err != nil {
		return nil, xerrors.Errorf("select coins of %s: %w", sponsor, err)
	}
	return chosen, nil
}

// ChooseCoins applies the coin selection policy to coins in the order given. Coins with
// a balance below minBalance are ignored. The first coin covering amount on its own is
// chosen; otherwise coins are accumulated in order until their total covers amount. If
// all eligible coins together fall short, ErrInsufficientGas is returned.
func ChooseCoins(coins []lens.Coin, amount, minBalance uint64) ([]lens.Coin, error) {
	if amount == 0 {
		return nil, xerrors.Errorf("%w: amount must be positive", ErrInsufficientGas)
	}

	var eligible []lens.Coin
	for _, c := range coins {
		if c.Balance < minBalance {
			continue
		}
		if c.Balance >= amount {
			return []lens.Coin{c}, nil
		}
		eligible = append(eligible, c)
	}

	var total uint64
	for i, c := range eligible {
		total += c.Balance
		if total >= amount {
			return append([]lens.Coin{}, eligible[:i+1]...), nil
		}
	}
	return nil, xerrors.Errorf("%w: need %d, have %d in %d coins", ErrInsufficientGas, amount, total, len(eligible))
}

// RefreshCoins returns the current references of refs. A coin that no longer exists or
// is no longer owned by sponsor yields ErrStaleCoinReference.
func (b *Builder) RefreshCoins(ctx context.Context, sponsor types.Address, refs []types.ObjectRef) ([]types.ObjectRef, error) {
	ids := make([]types.ObjectID, len(refs))
	for i, r := range refs {
		ids[i] = r.ObjectID
	}
	objs, err := b.chain.MultiGetObjects(ctx, ids)
	if err != nil {
		return nil, xerrors.Errorf("refresh gas coins: %w", err)
	}
	if len(objs) != len(ids) {
		return nil, xerrors.Errorf("refresh gas coins: asked for %d objects, got %d", len(ids), len(objs))
	}

	out := make([]types.ObjectRef, len(objs))
	for i, obj := range objs {
		if obj == nil {
			return nil, xerrors.Errorf("%w: %s no longer exists", ErrStaleCoinReference, ids[i])
		}
		owner, ok := obj.Owner.AddressOwner()
		if !ok || owner != sponsor {
			return nil, xerrors.Errorf("%w: %s is no longer owned by %s", ErrStaleCoinReference, ids[i], sponsor)
		}
		if obj.Ref.Version != refs[i].Version {
			log.Debugw("gas coin moved on", "coin", ids[i], "from", uint64(refs[i].Version), "to", uint64(obj.Ref.Version))
		}
		out[i] = obj.Ref
	}
	return out, nil
}
