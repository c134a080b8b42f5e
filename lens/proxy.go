package lens

import (
	"context"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/keys"
	"github.com/iota-community/sponsored-transactions-demo/metrics"
)

// APIStruct implements API by delegating to function fields, so that wrappers can
// intercept every call.
type APIStruct struct {
	Internal struct {
		GetObject            func(ctx context.Context, id types.ObjectID) (*Object, error)
		MultiGetObjects      func(ctx context.Context, ids []types.ObjectID) ([]*Object, error)
		GetReferenceGasPrice func(ctx context.Context) (uint64, error)
		GetCoins             func(ctx context.Context, owner types.Address, coinType string, cursor *string, limit uint) (*CoinPage, error)
		ChainIdentifier      func(ctx context.Context) (string, error)
		ExecuteTransaction   func(ctx context.Context, txBytes []byte, sigs []keys.Signature) (*TransactionEffects, error)
	}
}

var _ API = (*APIStruct)(nil)

// MeteredAPI wraps a so that every request is timed and failures are counted.
func MeteredAPI(a API) API {
	var out APIStruct
	metrics.Proxy(a, &out.Internal)
	return &out
}

func (s *APIStruct) GetObject(ctx context.Context, id types.ObjectID) (*Object, error) {
	return s.Internal.GetObject(ctx, id)
}

func (s *APIStruct) MultiGetObjects(ctx context.Context, ids []types.ObjectID) ([]*Object, error) {
	return s.Internal.MultiGetObjects(ctx, ids)
}

func (s *APIStruct) GetReferenceGasPrice(ctx context.Context) (uint64, error) {
	return s.Internal.GetReferenceGasPrice(ctx)
}

func (s *APIStruct) GetCoins(ctx context.Context, owner types.Address, coinType string, cursor *string, limit uint) (*CoinPage, error) {
	return s.Internal.GetCoins(ctx, owner, coinType, cursor, limit)
}

func (s *APIStruct) ChainIdentifier(ctx context.Context) (string, error) {
	return s.Internal.ChainIdentifier(ctx)
}

func (s *APIStruct) ExecuteTransaction(ctx context.Context, txBytes []byte, sigs []keys.Signature) (*TransactionEffects, error) {
	return s.Internal.ExecuteTransaction(ctx, txBytes, sigs)
}
