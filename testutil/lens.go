package testutil

import (
	"context"
	"sync"

	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/keys"
	"github.com/iota-community/sponsored-transactions-demo/lens"
)

type fakeObject struct {
	ref     types.ObjectRef
	owner   types.Owner
	balance uint64
	deleted bool
}

// FakeChain is an in-memory lens.API. Coins are returned by GetCoins in the order they
// were added. Executing a transaction checks the gas payment references, merges every
// payment coin into the first one and charges GasCharge to it.
type FakeChain struct {
	mu       sync.Mutex
	objects  map[types.ObjectID]*fakeObject
	order    []types.ObjectID
	executed [][]byte

	GasPrice  uint64
	GasCharge uint64
	// ExecuteErr, when set, is returned by the next ExecuteTransaction call.
	ExecuteErr error
	// Verify, when set, checks the signatures of every executed transaction.
	Verify func(txBytes []byte, sigs []keys.Signature) error
}

var _ lens.API = (*FakeChain)(nil)

func NewFakeChain() *FakeChain {
	return &FakeChain{objects: map[types.ObjectID]*fakeObject{}, GasPrice: 1000, GasCharge: 1_000}
}

// AddCoin creates a gas coin owned by owner and returns its reference.
func (c *FakeChain) AddCoin(id string, owner types.Address, balance uint64) types.ObjectRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	oid := types.MustParseObjectID(id)
	ref := types.ObjectRef{ObjectID: oid, Version: 1}
	ref.Digest = digestFor(ref)
	c.objects[oid] = &fakeObject{ref: ref, owner: types.Owner{Kind: types.OwnerAddress, Address: owner}, balance: balance}
	c.order = append(c.order, oid)
	return ref
}

// Mutate bumps the version of an object as if another transaction used it.
func (c *FakeChain) Mutate(id types.ObjectID) types.ObjectRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := c.objects[id]
	c.bump(o)
	return o.ref
}

// Transfer moves an object to a new owner and bumps its version.
func (c *FakeChain) Transfer(id types.ObjectID, to types.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := c.objects[id]
	o.owner = types.Owner{Kind: types.OwnerAddress, Address: to}
	c.bump(o)
}

func (c *FakeChain) Delete(id types.ObjectID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[id].deleted = true
}

// Ref returns the current reference of an object.
func (c *FakeChain) Ref(id types.ObjectID) types.ObjectRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.objects[id].ref
}

func (c *FakeChain) Balance(id types.ObjectID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.objects[id].balance
}

// Executed returns the bytes of every transaction executed so far.
func (c *FakeChain) Executed() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte{}, c.executed...)
}

func (c *FakeChain) bump(o *fakeObject) {
	o.ref.Version++
	o.ref.Digest = digestFor(o.ref)
}

func digestFor(ref types.ObjectRef) types.Digest {
	return types.Digest(types.Blake2b256(ref.ObjectID[:], types.PureU64(uint64(ref.Version))))
}

func (c *FakeChain) GetObject(ctx context.Context, id types.ObjectID) (*lens.Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.objects[id]
	if !ok || o.deleted {
		return nil, xerrors.Errorf("%w: %s", lens.ErrObjectNotFound, id)
	}
	return &lens.Object{Ref: o.ref, Owner: o.owner, Type: "0x2::coin::Coin<" + lens.GasCoinType + ">", Balance: o.balance}, nil
}

func (c *FakeChain) MultiGetObjects(ctx context.Context, ids []types.ObjectID) ([]*lens.Object, error) {
	out := make([]*lens.Object, len(ids))
	for i, id := range ids {
		obj, err := c.GetObject(ctx, id)
		if xerrors.Is(err, lens.ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[i] = obj
	}
	return out, nil
}

func (c *FakeChain) GetReferenceGasPrice(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.GasPrice, nil
}

// GetCoins pages through owned coins; the cursor is the id of the last returned coin.
func (c *FakeChain) GetCoins(ctx context.Context, owner types.Address, coinType string, cursor *string, limit uint) (*lens.CoinPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit == 0 {
		limit = 50
	}
	page := &lens.CoinPage{}
	started := cursor == nil
	for _, id := range c.order {
		o := c.objects[id]
		if !started {
			started = id.String() == *cursor
			continue
		}
		if o.deleted || o.owner.Kind != types.OwnerAddress || o.owner.Address != owner {
			continue
		}
		if uint(len(page.Data)) == limit {
			page.HasNextPage = true
			last := page.Data[len(page.Data)-1].Ref.ObjectID.String()
			page.NextCursor = &last
			break
		}
		page.Data = append(page.Data, lens.Coin{Ref: o.ref, CoinType: lens.GasCoinType, Balance: o.balance})
	}
	return page, nil
}

func (c *FakeChain) ChainIdentifier(ctx context.Context) (string, error) {
	return "fake", nil
}

func (c *FakeChain) ExecuteTransaction(ctx context.Context, txBytes []byte, sigs []keys.Signature) (*lens.TransactionEffects, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ExecuteErr; err != nil {
		c.ExecuteErr = nil
		return nil, err
	}
	if c.Verify != nil {
		if err := c.Verify(txBytes, sigs); err != nil {
			return nil, err
		}
	}
	tx, err := types.DecodeTransactionData(txBytes)
	if err != nil {
		return nil, err
	}
	if len(tx.GasData.Payment) == 0 {
		return nil, types.ErrNoGasPayment
	}
	for _, ref := range tx.GasData.Payment {
		o, ok := c.objects[ref.ObjectID]
		if !ok || o.deleted || !o.ref.SameVersion(ref) {
			return nil, xerrors.Errorf("%w: %s is not available for consumption", lens.ErrStaleObject, ref)
		}
		if o.owner.Address != tx.GasData.Owner {
			return nil, xerrors.Errorf("gas coin %s not owned by %s", ref.ObjectID, tx.GasData.Owner)
		}
	}

	gas := c.objects[tx.GasData.Payment[0].ObjectID]
	for _, ref := range tx.GasData.Payment[1:] {
		merged := c.objects[ref.ObjectID]
		gas.balance += merged.balance
		merged.deleted = true
	}
	charge := c.GasCharge
	if charge > gas.balance {
		charge = gas.balance
	}
	gas.balance -= charge
	c.bump(gas)
	c.executed = append(c.executed, append([]byte{}, txBytes...))

	return &lens.TransactionEffects{
		Digest:    types.TransactionDigest(txBytes),
		Status:    lens.StatusSuccess,
		GasUsed:   lens.GasCostSummary{ComputationCost: charge},
		GasObject: gas.ref,
		GasOwner:  gas.owner,
	}, nil
}
