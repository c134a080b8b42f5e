package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/config"
	"github.com/iota-community/sponsored-transactions-demo/faucet"
	"github.com/iota-community/sponsored-transactions-demo/gasstation"
	"github.com/iota-community/sponsored-transactions-demo/guard"
	"github.com/iota-community/sponsored-transactions-demo/keys"
	"github.com/iota-community/sponsored-transactions-demo/sigs"
	"github.com/iota-community/sponsored-transactions-demo/sponsor"
	"github.com/iota-community/sponsored-transactions-demo/testutil"
)

const testToken = "s3cret"

type mockFunder struct {
	mock.Mock
}

func (m *mockFunder) Fund(ctx context.Context, addr types.Address) (types.ObjectID, error) {
	args := m.Called(ctx, addr)
	return args.Get(0).(types.ObjectID), args.Error(1)
}

type serverFixture struct {
	chain     *testutil.FakeChain
	clock     *clock.Mock
	station   *gasstation.Manager
	funder    *mockFunder
	senderKey *keys.KeyPair
	sender    types.Address
	sponsor   types.Address
	url       string
	client    *Client
}

func newServerFixture(t *testing.T, token string, balances ...uint64) *serverFixture {
	f := &serverFixture{
		chain:     testutil.NewFakeChain(),
		clock:     testutil.NewMockClock(),
		funder:    &mockFunder{},
		senderKey: testutil.MustKeyPair(t, keys.Ed25519, 1),
	}
	sponsorKey := testutil.MustKeyPair(t, keys.Ed25519, 2)
	f.sender = f.senderKey.Address()
	f.sponsor = sponsorKey.Address()

	ids := []string{"0x1", "0x2", "0x3"}
	for i, b := range balances {
		f.chain.AddCoin(ids[i], f.sponsor, b)
	}

	ks := keys.NewMemKeystore(sponsorKey)
	station, err := gasstation.NewManager(gasstation.Config{
		Sponsor:        f.sponsor,
		MinCoinBalance: 1000,
		DefaultTTL:     10 * time.Second,
		MaxTTL:         time.Minute,
	}, f.chain, ks, nil, f.clock)
	require.NoError(t, err)
	t.Cleanup(station.Close)
	_, err = station.Refresh(context.Background())
	require.NoError(t, err)
	f.station = station

	srv := NewServer(Config{
		AuthToken: token,
		Timeout:   5 * time.Second,
		GasBudget: 1_000_000,
		Contract:  config.DefaultConf().Contract,
	}, f.chain, f.funder, sponsor.NewBuilder(sponsor.Config{GasBudget: 1_000_000}, f.chain), station, ks)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	f.url = ts.URL

	f.client, err = NewClient(ts.URL, token, 5*time.Second)
	require.NoError(t, err)
	return f
}

// signedTx builds the demo call for the fixture's sender paying with coins, and signs it
// as the sender.
func (f *serverFixture) signedTx(t *testing.T, coins []types.ObjectRef, budget uint64) ([]byte, keys.Signature) {
	pt, err := sponsor.FreeTrialPayload(config.DefaultConf().Contract, "Music")
	require.NoError(t, err)
	tx := types.NewProgrammable(f.sender, coins, pt, budget, 1000)
	tx.GasData.Owner = f.sponsor
	raw, err := tx.Bytes()
	require.NoError(t, err)
	return raw, f.senderKey.Sign(types.TransactionIntent, raw)
}

func (f *serverFixture) post(t *testing.T, path, body, token string) *http.Response {
	req, err := http.NewRequest(http.MethodPost, f.url+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func statusCode(t *testing.T, err error) int {
	var se *StatusError
	require.True(t, xerrors.As(err, &se), "expected a status error, got %v", err)
	return se.Code
}

func TestWelcome(t *testing.T) {
	f := newServerFixture(t, testToken)
	msg, err := f.client.Welcome(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "welcome to IOTA Testnet fake", msg)
}

func TestFundStatuses(t *testing.T) {
	coin := types.MustParseObjectID("0xc1")
	testCases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "funded", status: http.StatusOK},
		{name: "already funded", err: xerrors.Errorf("fund: %w", guard.ErrAlreadyFunded), status: http.StatusConflict},
		{name: "faucet error", err: xerrors.Errorf("fund: %w", &faucet.FaucetError{TaskID: "t1", Message: "DISCARDED"}), status: http.StatusBadGateway},
		{name: "timeout", err: xerrors.Errorf("fund: %w", faucet.ErrConfirmationTimeout), status: http.StatusGatewayTimeout},
		{name: "other", err: xerrors.New("boom"), status: http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newServerFixture(t, testToken)
			f.funder.On("Fund", mock.Anything, f.sender).Return(coin, tc.err).Once()

			res, err := f.client.Fund(context.Background(), f.sender)
			if tc.err == nil {
				require.NoError(t, err)
				assert.Equal(t, "funded", res.Status)
				assert.Equal(t, f.sender, res.Address)
				assert.Equal(t, coin, res.Coin)
			} else {
				assert.Equal(t, tc.status, statusCode(t, err))
			}
			f.funder.AssertExpectations(t)
		})
	}
}

func TestFundRejectsBadAddress(t *testing.T) {
	f := newServerFixture(t, testToken)
	resp := f.post(t, "/faucet", `{"sender":"0xnothex"}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	f.funder.AssertNotCalled(t, "Fund", mock.Anything, mock.Anything)
}

func TestGasStationRequiresToken(t *testing.T) {
	f := newServerFixture(t, testToken, 5_000_000)
	body := `{"gas_budget":1000000,"reserve_duration_secs":10}`

	assert.Equal(t, http.StatusUnauthorized, f.post(t, "/v1/reserve_gas", body, "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, f.post(t, "/v1/reserve_gas", body, "wrong").StatusCode)
	assert.Equal(t, http.StatusOK, f.post(t, "/v1/reserve_gas", body, testToken).StatusCode)
}

func TestGasStationClosedWithoutToken(t *testing.T) {
	f := newServerFixture(t, "", 5_000_000)
	resp := f.post(t, "/v1/reserve_gas", `{"gas_budget":1000000,"reserve_duration_secs":10}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, f.station.Stats().Active)
}

func TestReserveAndExecute(t *testing.T) {
	ctx := context.Background()
	f := newServerFixture(t, testToken, 5_000_000)

	res, err := f.client.ReserveGas(ctx, 1_000_000, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, f.sponsor, res.SponsorAddress)
	require.Len(t, res.GasCoins, 1)

	txBytes, sig := f.signedTx(t, res.GasCoins, 1_000_000)
	effects, err := f.client.ExecuteTx(ctx, res.ReservationID, txBytes, sig)
	require.NoError(t, err)
	assert.True(t, effects.Succeeded())
	assert.Equal(t, types.TransactionDigest(txBytes), effects.Digest)
	assert.Equal(t, types.Uint64(1_000), effects.GasUsed.ComputationCost)

	got, err := f.client.Reservation(ctx, res.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, gasstation.StateSettled, got.State)

	stats, err := f.client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Executed)
	assert.Equal(t, uint64(1_000), stats.SponsoredFees)
	assert.Equal(t, 1, stats.PoolCoins)
}

func TestExecuteAfterExpiryIsGone(t *testing.T) {
	ctx := context.Background()
	f := newServerFixture(t, testToken, 5_000_000)

	res, err := f.client.ReserveGas(ctx, 1_000_000, 10*time.Second)
	require.NoError(t, err)
	f.clock.Add(11 * time.Second)

	txBytes, sig := f.signedTx(t, res.GasCoins, 1_000_000)
	_, err = f.client.ExecuteTx(ctx, res.ReservationID, txBytes, sig)
	assert.Equal(t, http.StatusGone, statusCode(t, err))
	assert.Empty(t, f.chain.Executed())

	// the coin is free again
	again, err := f.client.ReserveGas(ctx, 1_000_000, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, res.GasCoins[0].ObjectID, again.GasCoins[0].ObjectID)
}

func TestGasStationErrorStatuses(t *testing.T) {
	ctx := context.Background()
	f := newServerFixture(t, testToken, 5_000_000)

	_, err := f.client.ReserveGas(ctx, 0, 10*time.Second)
	assert.Equal(t, http.StatusBadRequest, statusCode(t, err))

	_, err = f.client.ReserveGas(ctx, 50_000_000, 10*time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, statusCode(t, err))

	txBytes, sig := f.signedTx(t, []types.ObjectRef{f.chain.Ref(types.MustParseObjectID("0x1"))}, 1_000_000)
	_, err = f.client.ExecuteTx(ctx, 99, txBytes, sig)
	assert.Equal(t, http.StatusNotFound, statusCode(t, err))

	_, err = f.client.Reservation(ctx, 99)
	assert.Equal(t, http.StatusNotFound, statusCode(t, err))

	resp := f.post(t, "/v1/execute_tx", `{"reservation_id":1,"tx_bytes":"!!","user_sig":""}`, testToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSponsorReturnsSignedTransaction(t *testing.T) {
	ctx := context.Background()
	f := newServerFixture(t, testToken, 5_000_000)

	res, err := f.client.Sponsor(ctx, f.sender, "News")
	require.NoError(t, err)
	assert.True(t, testutil.KnownTime.Add(10*time.Second).Equal(res.ExpiresAt))

	txBytes, err := base64.StdEncoding.DecodeString(res.TxBytes)
	require.NoError(t, err)
	tx, err := types.DecodeTransactionData(txBytes)
	require.NoError(t, err)
	assert.Equal(t, f.sender, tx.Sender)
	assert.Equal(t, f.sponsor, tx.GasOwner())
	assert.Equal(t, uint64(1_000_000), tx.GasData.Budget)

	sponsorSig, err := keys.ParseSignatureBase64(res.SponsorSignature)
	require.NoError(t, err)
	assert.Equal(t, f.sponsor, sponsorSig.Signer())
	require.NoError(t, sigs.Verify(txBytes, sponsorSig))

	// the recipient co-signs and hands the transaction back through the gas station
	env, err := sigs.CoSign(ctx, keys.NewMemKeystore(f.senderKey), f.sender, txBytes, sponsorSig)
	require.NoError(t, err)
	effects, err := f.client.ExecuteTx(ctx, res.ReservationID, env.TxBytes, env.Signatures[0])
	require.NoError(t, err)
	assert.True(t, effects.Succeeded())
}

func TestSponsorReleasesOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newServerFixture(t, testToken, 5_000_000)

	_, err := f.client.Sponsor(ctx, f.sender, "Podcasts")
	assert.Equal(t, http.StatusBadRequest, statusCode(t, err))

	_, err = f.client.Sponsor(ctx, f.sponsor, "")
	assert.Equal(t, http.StatusBadRequest, statusCode(t, err))

	stats := f.station.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 1, stats.PoolCoins)
}

func TestListReservations(t *testing.T) {
	ctx := context.Background()
	f := newServerFixture(t, testToken, 5_000_000, 5_000_000)

	first, err := f.client.ReserveGas(ctx, 1_000_000, 10*time.Second)
	require.NoError(t, err)
	second, err := f.client.ReserveGas(ctx, 1_000_000, 10*time.Second)
	require.NoError(t, err)

	list, err := f.client.Reservations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ReservationID, list[0].ID)
	assert.Equal(t, second.ReservationID, list[1].ID)
	assert.Equal(t, gasstation.StateActive, list[0].State)

	req, err := http.NewRequest(http.MethodGet, f.url+"/v1/reservations/abc", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint: errcheck
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusOf(t *testing.T) {
	testCases := []struct {
		err    error
		status int
	}{
		{xerrors.Errorf("x: %w", guard.ErrAlreadyFunded), http.StatusConflict},
		{xerrors.Errorf("x: %w", gasstation.ErrStaleCoinReference), http.StatusConflict},
		{&faucet.FaucetError{Message: "nope"}, http.StatusBadGateway},
		{faucet.ErrConfirmationTimeout, http.StatusGatewayTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{gasstation.ErrUnknownReservation, http.StatusNotFound},
		{gasstation.ErrReservationExpired, http.StatusGone},
		{gasstation.ErrInsufficientGas, http.StatusServiceUnavailable},
		{xerrors.Errorf("x: %w", gasstation.ErrPaymentMismatch), http.StatusBadRequest},
		{xerrors.Errorf("x: %w", sigs.ErrSignatureMismatch), http.StatusBadRequest},
		{types.ErrInvalidAddress, http.StatusBadRequest},
		{sponsor.ErrUnknownContent, http.StatusBadRequest},
		{xerrors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.status, statusOf(tc.err), tc.err.Error())
	}
}
