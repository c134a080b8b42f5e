package keys

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
)

func fixedKey(t *testing.T, scheme Scheme, fill byte) *KeyPair {
	kp, err := NewKeyPair(scheme, bytes.Repeat([]byte{fill}, secretLength))
	require.NoError(t, err)
	return kp
}

func TestSignVerify(t *testing.T) {
	msg := []byte("transaction bytes")
	for _, scheme := range []Scheme{Ed25519, Secp256k1} {
		t.Run(scheme.String(), func(t *testing.T) {
			kp := fixedKey(t, scheme, 7)
			sig := kp.Sign(types.TransactionIntent, msg)

			assert.Equal(t, kp.Address(), sig.Signer())
			require.NoError(t, sig.Verify(types.TransactionIntent, msg))

			assert.ErrorIs(t, sig.Verify(types.TransactionIntent, []byte("other bytes")), ErrInvalidSignature)
			assert.ErrorIs(t, sig.Verify(types.PersonalMessageIntent, msg), ErrInvalidSignature)

			parsed, err := ParseSignatureBase64(sig.Base64())
			require.NoError(t, err)
			assert.Equal(t, sig, parsed)
			require.NoError(t, parsed.Verify(types.TransactionIntent, msg))
		})
	}
}

func TestSignatureLayout(t *testing.T) {
	ed := fixedKey(t, Ed25519, 1).Sign(types.TransactionIntent, []byte{1})
	assert.Len(t, ed.Bytes(), 1+64+32)
	assert.Equal(t, byte(0x00), ed.Bytes()[0])

	k1 := fixedKey(t, Secp256k1, 1).Sign(types.TransactionIntent, []byte{1})
	assert.Len(t, k1.Bytes(), 1+64+33)
	assert.Equal(t, byte(0x01), k1.Bytes()[0])

	_, err := ParseSignature(ed.Bytes()[:50])
	assert.ErrorIs(t, err, ErrInvalidSignature)
	_, err = ParseSignature(append([]byte{0x05}, ed.Bytes()[1:]...))
	assert.ErrorIs(t, err, ErrInvalidSignature)
	_, err = ParseSignatureBase64("not base64!")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSignatureFromOtherKeyDoesNotVerify(t *testing.T) {
	msg := []byte("payload")
	a := fixedKey(t, Ed25519, 1)
	b := fixedKey(t, Ed25519, 2)

	forged := a.Sign(types.TransactionIntent, msg)
	forged.PublicKey = b.PublicKey()
	assert.Error(t, forged.Verify(types.TransactionIntent, msg))
}

func TestMemKeystore(t *testing.T) {
	a := fixedKey(t, Ed25519, 1)
	ks := NewMemKeystore(a)
	assert.True(t, ks.Has(a.Address()))

	sig, err := ks.Sign(a.Address(), types.TransactionIntent, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, a.Address(), sig.Signer())

	missing := fixedKey(t, Secp256k1, 2).Address()
	_, err = ks.Sign(missing, types.TransactionIntent, []byte("x"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestFileKeystoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "iota.keystore")

	ks, err := OpenFileKeystore(path)
	require.NoError(t, err)
	assert.Empty(t, ks.List())

	ed, err := ks.Generate(Ed25519)
	require.NoError(t, err)
	k1 := fixedKey(t, Secp256k1, 9)
	_, err = ks.Add(k1)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := OpenFileKeystore(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.Address{ed.Address(), k1.Address()}, reopened.List())

	sig, err := reopened.Sign(k1.Address(), types.TransactionIntent, []byte("m"))
	require.NoError(t, err)
	require.NoError(t, sig.Verify(types.TransactionIntent, []byte("m")))
}

func TestFileKeystoreRejectsCorruptEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iota.keystore")
	require.NoError(t, os.WriteFile(path, []byte(`["AAEC"]`), 0o600))
	_, err := OpenFileKeystore(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))
	_, err = OpenFileKeystore(path)
	assert.Error(t, err)
}

func TestEncodeDecodeKeyPair(t *testing.T) {
	kp := fixedKey(t, Secp256k1, 3)
	decoded, err := DecodeKeyPair(EncodeKeyPair(kp))
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), decoded.Address())
}
