package sponsor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/config"
	"github.com/iota-community/sponsored-transactions-demo/keys"
	"github.com/iota-community/sponsored-transactions-demo/lens"
	"github.com/iota-community/sponsored-transactions-demo/sigs"
	"github.com/iota-community/sponsored-transactions-demo/testutil"
)

func testPayload(t *testing.T) types.ProgrammableTransaction {
	pt, err := FreeTrialPayload(config.DefaultConf().Contract, "")
	require.NoError(t, err)
	return pt
}

func coinsOf(balances ...uint64) []lens.Coin {
	out := make([]lens.Coin, len(balances))
	for i, b := range balances {
		out[i] = lens.Coin{
			Ref:      types.ObjectRef{ObjectID: types.ObjectID{byte(i + 1)}, Version: 1},
			CoinType: lens.GasCoinType,
			Balance:  b,
		}
	}
	return out
}

func TestChooseCoins(t *testing.T) {
	testCases := []struct {
		name     string
		balances []uint64
		amount   uint64
		expected []uint64
	}{
		{name: "first covering coin", balances: []uint64{5, 20, 30}, amount: 15, expected: []uint64{20}},
		{name: "single coin wins over accumulation", balances: []uint64{8, 8, 16}, amount: 15, expected: []uint64{16}},
		{name: "accumulate in order", balances: []uint64{8, 4, 9}, amount: 15, expected: []uint64{8, 4, 9}},
		{name: "dust is skipped", balances: []uint64{1, 10, 2, 10}, amount: 15, expected: []uint64{10, 10}},
		{name: "exact balance", balances: []uint64{15}, amount: 15, expected: []uint64{15}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			chosen, err := ChooseCoins(coinsOf(tc.balances...), tc.amount, 3)
			require.NoError(t, err)
			var got []uint64
			for _, c := range chosen {
				got = append(got, c.Balance)
			}
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestChooseCoinsIsDeterministic(t *testing.T) {
	coins := coinsOf(8, 4, 9, 30)
	first, err := ChooseCoins(coins, 12, 0)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := ChooseCoins(coins, 12, 0)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestChooseCoinsInsufficient(t *testing.T) {
	_, err := ChooseCoins(coinsOf(5, 5, 100), 50, 10)
	assert.ErrorIs(t, err, ErrInsufficientGas)

	_, err = ChooseCoins(coinsOf(100), 50, 200)
	assert.ErrorIs(t, err, ErrInsufficientGas)

	_, err = ChooseCoins(nil, 1, 0)
	assert.ErrorIs(t, err, ErrInsufficientGas)

	_, err = ChooseCoins(coinsOf(100), 0, 0)
	assert.ErrorIs(t, err, ErrInsufficientGas)
}

var (
	sender      = types.MustParseAddress("0xabc")
	sponsorAddr = types.MustParseAddress("0x50")
)

func TestBuildSelectsSponsorCoins(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.AddCoin("0x1", sponsorAddr, 10)
	chain.AddCoin("0x2", sender, 50_000_000)
	chain.AddCoin("0x3", sponsorAddr, 4_000_000)
	big := chain.AddCoin("0x4", sponsorAddr, 12_000_000)

	b := NewBuilder(Config{MinCoinBalance: 1000, GasBudget: 10_000_000, PageSize: 1}, chain)
	tx, err := b.Build(context.Background(), BuildRequest{Sender: sender, Sponsor: sponsorAddr, Payload: testPayload(t)})
	require.NoError(t, err)

	assert.Equal(t, sender, tx.Sender)
	assert.Equal(t, sponsorAddr, tx.GasOwner())
	assert.True(t, tx.IsSponsored())
	assert.Equal(t, []types.ObjectRef{big}, tx.GasData.Payment)
	assert.Equal(t, uint64(10_000_000), tx.GasData.Budget)
	assert.Equal(t, uint64(1000), tx.GasData.Price)
}

func TestBuildRefreshesGivenCoins(t *testing.T) {
	chain := testutil.NewFakeChain()
	old := chain.AddCoin("0x1", sponsorAddr, 20_000_000)
	fresh := chain.Mutate(old.ObjectID)

	b := NewBuilder(Config{GasBudget: 10_000_000}, chain)
	tx, err := b.Build(context.Background(), BuildRequest{
		Sender:   sender,
		Sponsor:  sponsorAddr,
		Payload:  testPayload(t),
		GasCoins: []types.ObjectRef{old},
		GasPrice: 1500,
	})
	require.NoError(t, err)
	assert.Equal(t, []types.ObjectRef{fresh}, tx.GasData.Payment)
	assert.Equal(t, uint64(1500), tx.GasData.Price)
}

func TestRefreshCoinsDetectsStaleCoins(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	moved := chain.AddCoin("0x1", sponsorAddr, 20_000_000)
	gone := chain.AddCoin("0x2", sponsorAddr, 20_000_000)
	kept := chain.AddCoin("0x3", sponsorAddr, 20_000_000)
	chain.Transfer(moved.ObjectID, sender)
	chain.Delete(gone.ObjectID)

	b := NewBuilder(Config{}, chain)

	_, err := b.RefreshCoins(ctx, sponsorAddr, []types.ObjectRef{kept, moved})
	assert.ErrorIs(t, err, ErrStaleCoinReference)

	_, err = b.RefreshCoins(ctx, sponsorAddr, []types.ObjectRef{gone})
	assert.ErrorIs(t, err, ErrStaleCoinReference)

	refs, err := b.RefreshCoins(ctx, sponsorAddr, []types.ObjectRef{kept})
	require.NoError(t, err)
	assert.Equal(t, []types.ObjectRef{kept}, refs)
}

func TestBuildRejectsBadRequests(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	chain.AddCoin("0x1", sponsorAddr, 5)

	b := NewBuilder(Config{GasBudget: 10_000_000}, chain)

	_, err := b.Build(ctx, BuildRequest{Sender: sender, Sponsor: sender, Payload: testPayload(t)})
	assert.ErrorIs(t, err, ErrSelfSponsored)

	_, err = b.Build(ctx, BuildRequest{Sender: sender, Sponsor: sponsorAddr})
	assert.ErrorIs(t, err, types.ErrMalformedTxData)

	_, err = b.Build(ctx, BuildRequest{Sender: sender, Sponsor: sponsorAddr, Payload: testPayload(t)})
	assert.ErrorIs(t, err, ErrInsufficientGas)

	_, err = NewBuilder(Config{}, chain).Build(ctx, BuildRequest{Sender: sender, Sponsor: sponsorAddr, Payload: testPayload(t)})
	assert.ErrorIs(t, err, types.ErrZeroGasBudget)
}

type mockPriceAPI struct {
	lens.ReadAPI
	mock.Mock
}

func (m *mockPriceAPI) GetReferenceGasPrice(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func TestReferenceGasPrice(t *testing.T) {
	ctx := context.Background()

	api := &mockPriceAPI{}
	api.On("GetReferenceGasPrice", mock.Anything).Return(uint64(0), xerrors.New("node unavailable")).Once()
	api.On("GetReferenceGasPrice", mock.Anything).Return(uint64(0), nil).Once()
	api.On("GetReferenceGasPrice", mock.Anything).Return(uint64(750), nil).Once()

	b := NewBuilder(Config{}, api)
	_, err := b.ReferenceGasPrice(ctx)
	assert.Error(t, err)

	_, err = b.ReferenceGasPrice(ctx)
	assert.ErrorIs(t, err, types.ErrZeroGasPrice)

	price, err := b.ReferenceGasPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(750), price)
	api.AssertExpectations(t)
}

func TestFreeTrialPayload(t *testing.T) {
	cfg := config.DefaultConf().Contract

	pt, err := FreeTrialPayload(cfg, "")
	require.NoError(t, err)
	require.Len(t, pt.Inputs, 2)
	assert.Equal(t, types.PureString("Music"), pt.Inputs[0].Pure)

	shared := pt.Inputs[1].Object.Shared
	require.NotNil(t, shared)
	assert.Equal(t, types.MustParseObjectID(cfg.SubscriptionManager), shared.ObjectID)
	assert.Equal(t, uint64(5134), shared.InitialSharedVersion)
	assert.True(t, shared.Mutable)

	require.Len(t, pt.Commands, 1)
	call := pt.Commands[0].MoveCall
	require.NotNil(t, call)
	assert.Equal(t, types.MustParseObjectID(cfg.Package), call.Package)
	assert.Equal(t, "sponsored_transactions_packages", call.Module)
	assert.Equal(t, "free_trial", call.Function)

	pt, err = FreeTrialPayload(cfg, "News")
	require.NoError(t, err)
	assert.Equal(t, types.PureString("News"), pt.Inputs[0].Pure)

	_, err = FreeTrialPayload(cfg, "Podcasts")
	assert.ErrorIs(t, err, ErrUnknownContent)
}

func TestBuiltTransactionCarriesBothSignatures(t *testing.T) {
	ctx := context.Background()
	senderKey := testutil.MustKeyPair(t, keys.Ed25519, 1)
	sponsorKey := testutil.MustKeyPair(t, keys.Secp256k1, 2)

	chain := testutil.NewFakeChain()
	chain.AddCoin("0x1", sponsorKey.Address(), 20_000_000)

	b := NewBuilder(Config{GasBudget: 10_000_000}, chain)
	tx, err := b.Build(ctx, BuildRequest{Sender: senderKey.Address(), Sponsor: sponsorKey.Address(), Payload: testPayload(t)})
	require.NoError(t, err)

	sponsored, err := sigs.SponsorSign(ctx, keys.NewMemKeystore(sponsorKey), sponsorKey.Address(), tx)
	require.NoError(t, err)

	env, err := sigs.CoSign(ctx, keys.NewMemKeystore(senderKey), senderKey.Address(), sponsored.TxBytes, sponsored.Signature)
	require.NoError(t, err)
	require.Len(t, env.Signatures, 2)
	for _, sig := range env.Signatures {
		assert.NoError(t, sigs.Verify(sponsored.TxBytes, sig))
	}
	assert.Equal(t, senderKey.Address(), env.Signatures[0].Signer())
	assert.Equal(t, sponsorKey.Address(), env.Signatures[1].Signer())

	effects, err := chain.ExecuteTransaction(ctx, env.TxBytes, env.Signatures)
	require.NoError(t, err)
	assert.True(t, effects.Succeeded())
}
