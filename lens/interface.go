package lens

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/keys"
)

// GasCoinType is the coin type used to pay for gas.
const GasCoinType = "0x2::iota::IOTA"

var (
	ErrObjectNotFound = xerrors.New("object not found")
	// ErrStaleObject is returned when the node rejects a transaction because one of its
	// owned inputs is no longer at the referenced version or is locked by another
	// transaction.
	ErrStaleObject = xerrors.New("stale or locked object reference")
)

// ReadAPI is the subset of the node API used to inspect chain state.
type ReadAPI interface {
	GetObject(ctx context.Context, id types.ObjectID) (*Object, error)
	// MultiGetObjects returns one entry per id, in order. Missing objects yield nil.
	MultiGetObjects(ctx context.Context, ids []types.ObjectID) ([]*Object, error)
	GetReferenceGasPrice(ctx context.Context) (uint64, error)
	GetCoins(ctx context.Context, owner types.Address, coinType string, cursor *string, limit uint) (*CoinPage, error)
	ChainIdentifier(ctx context.Context) (string, error)
}

// WriteAPI submits fully signed transactions.
type WriteAPI interface {
	// ExecuteTransaction submits txBytes with its signatures and waits for local
	// execution. Rejections for stale inputs are reported as ErrStaleObject.
	ExecuteTransaction(ctx context.Context, txBytes []byte, sigs []keys.Signature) (*TransactionEffects, error)
}

type API interface {
	ReadAPI
	WriteAPI
}

type APICloser func()

type APIOpener interface {
	Open(context.Context) (API, APICloser, error)
}

// Object is an object's current reference and metadata.
type Object struct {
	Ref   types.ObjectRef
	Owner types.Owner
	Type  string
	// Balance is the balance of a coin object and zero for any other object.
	Balance uint64
}

// Coin is a gas coin with its balance.
type Coin struct {
	Ref      types.ObjectRef
	CoinType string
	Balance  uint64
}

type CoinPage struct {
	Data        []Coin
	NextCursor  *string
	HasNextPage bool
}

// GasCostSummary breaks down what a transaction paid.
type GasCostSummary struct {
	ComputationCost         uint64
	StorageCost             uint64
	StorageRebate           uint64
	NonRefundableStorageFee uint64
}

// Net is the amount deducted from the gas coin. It never goes below zero.
func (g GasCostSummary) Net() uint64 {
	total := g.ComputationCost + g.StorageCost
	if g.StorageRebate >= total {
		return 0
	}
	return total - g.StorageRebate
}

type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailure ExecutionStatus = "failure"
)

// TransactionEffects is the outcome of an executed transaction.
type TransactionEffects struct {
	Digest  types.Digest
	Status  ExecutionStatus
	Error   string
	GasUsed GasCostSummary
	// GasObject is the gas coin after execution, with its new version.
	GasObject types.ObjectRef
	GasOwner  types.Owner
}

func (e *TransactionEffects) Succeeded() bool {
	return e.Status == StatusSuccess
}

// CollectCoins pages through every coin of coinType owned by owner, in the order the
// node returns them.
func CollectCoins(ctx context.Context, api ReadAPI, owner types.Address, coinType string, pageSize uint) ([]Coin, error) {
	var (
		out    []Coin
		cursor *string
	)
	for {
		page, err := api.GetCoins(ctx, owner, coinType, cursor, pageSize)
		if err != nil {
			return nil, xerrors.Errorf("get coins of %s: %w", owner, err)
		}
		out = append(out, page.Data...)
		if !page.HasNextPage || page.NextCursor == nil {
			return out, nil
		}
		cursor = page.NextCursor
	}
}
