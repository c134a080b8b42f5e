package sigs

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/keys"
)

type fixture struct {
	ks      *keys.MemKeystore
	sender  types.Address
	sponsor types.Address
	other   types.Address
	tx      *types.TransactionData
}

func newFixture(t *testing.T) *fixture {
	mk := func(scheme keys.Scheme, fill byte) *keys.KeyPair {
		kp, err := keys.NewKeyPair(scheme, bytes.Repeat([]byte{fill}, 32))
		require.NoError(t, err)
		return kp
	}
	senderKey, sponsorKey, otherKey := mk(keys.Ed25519, 1), mk(keys.Secp256k1, 2), mk(keys.Ed25519, 3)
	f := &fixture{
		ks:      keys.NewMemKeystore(senderKey, sponsorKey, otherKey),
		sender:  senderKey.Address(),
		sponsor: sponsorKey.Address(),
		other:   otherKey.Address(),
	}

	b := types.NewPTBBuilder()
	b.MoveCall(types.MustParseObjectID("0x7"), "m", "f", nil, []types.Argument{b.Pure(types.PureString("Music"))})
	pt, err := b.Finish()
	require.NoError(t, err)

	coin := types.ObjectRef{ObjectID: types.MustParseObjectID("0xc1"), Version: 4}
	f.tx = types.NewProgrammable(f.sender, []types.ObjectRef{coin}, pt, 10_000_000, 1000)
	f.tx.GasData.Owner = f.sponsor
	return f
}

func TestComposeOrdersSenderFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sponsorSig, err := SignAs(ctx, f.ks, f.sponsor, f.tx)
	require.NoError(t, err)
	senderSig, err := SignAs(ctx, f.ks, f.sender, f.tx)
	require.NoError(t, err)

	env, err := Compose(f.tx, sponsorSig, senderSig)
	require.NoError(t, err)
	require.Len(t, env.Signatures, 2)
	assert.Equal(t, f.sender, env.Signatures[0].Signer())
	assert.Equal(t, f.sponsor, env.Signatures[1].Signer())

	// both signatures cover the exact bytes that are submitted
	for _, sig := range env.Signatures {
		assert.NoError(t, Verify(env.TxBytes, sig))
	}
	assert.Equal(t, []string{senderSig.Base64(), sponsorSig.Base64()}, env.Base64Signatures())
}

func TestComposeRejectsMismatchedBytes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	senderSig, err := SignAs(ctx, f.ks, f.sender, f.tx)
	require.NoError(t, err)

	altered := *f.tx
	altered.GasData.Budget++
	sponsorSig, err := SignAs(ctx, f.ks, f.sponsor, &altered)
	require.NoError(t, err)

	_, err = Compose(f.tx, senderSig, sponsorSig)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestComposeRejectsDuplicatesAndStrangers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	senderSig, err := SignAs(ctx, f.ks, f.sender, f.tx)
	require.NoError(t, err)
	sponsorSig, err := SignAs(ctx, f.ks, f.sponsor, f.tx)
	require.NoError(t, err)
	otherSig, err := SignAs(ctx, f.ks, f.other, f.tx)
	require.NoError(t, err)

	_, err = Compose(f.tx, senderSig, senderSig, sponsorSig)
	assert.ErrorIs(t, err, ErrDuplicateSigner)

	_, err = Compose(f.tx, senderSig, sponsorSig, otherSig)
	assert.ErrorIs(t, err, ErrUnexpectedSigner)

	_, err = Compose(f.tx, senderSig)
	assert.ErrorIs(t, err, ErrMissingSignature)

	_, err = Compose(f.tx, sponsorSig)
	assert.ErrorIs(t, err, ErrMissingSignature)
}

func TestComposeUnsponsored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.tx.GasData.Owner = f.sender

	senderSig, err := SignAs(ctx, f.ks, f.sender, f.tx)
	require.NoError(t, err)
	env, err := Compose(f.tx, senderSig)
	require.NoError(t, err)
	assert.Len(t, env.Signatures, 1)
}

func TestSignAsUnknownKey(t *testing.T) {
	f := newFixture(t)
	_, err := SignAs(context.Background(), keys.NewMemKeystore(), f.sender, f.tx)
	assert.ErrorIs(t, err, keys.ErrKeyNotFound)
}

func TestSponsorSignThenCoSign(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	half, err := SponsorSign(ctx, f.ks, f.sponsor, f.tx)
	require.NoError(t, err)
	assert.Equal(t, f.sponsor, half.Signature.Signer())

	env, err := CoSign(ctx, f.ks, f.sender, half.TxBytes, half.Signature)
	require.NoError(t, err)
	assert.Equal(t, half.TxBytes, env.TxBytes)
	assert.Equal(t, f.sender, env.Signatures[0].Signer())
	assert.Equal(t, half.Signature, env.Signatures[1])

	_, err = CoSign(ctx, f.ks, f.other, half.TxBytes, half.Signature)
	assert.ErrorIs(t, err, ErrUnexpectedSigner)
}

func TestSponsorSignRejectsForeignGasOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := SponsorSign(ctx, f.ks, f.other, f.tx)
	assert.ErrorIs(t, err, ErrUnexpectedSigner)

	f.tx.GasData.Owner = f.sender
	_, err = SponsorSign(ctx, f.ks, f.sender, f.tx)
	assert.Error(t, err)
}

func TestSponsorSignRejectsGasCoinPayload(t *testing.T) {
	f := newFixture(t)

	b := types.NewPTBBuilder()
	split := b.SplitCoins(types.GasCoin(), []types.Argument{b.Pure(types.PureU64(1_000))})
	b.TransferObjects([]types.Argument{split}, b.Pure(types.PureAddress(f.sender)))
	pt, err := b.Finish()
	require.NoError(t, err)
	f.tx.Kind = pt

	_, err = SponsorSign(context.Background(), f.ks, f.sponsor, f.tx)
	assert.ErrorIs(t, err, ErrGasCoinUsed)
}
