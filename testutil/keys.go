package testutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-community/sponsored-transactions-demo/keys"
)

// MustKeyPair returns a deterministic key pair whose secret is 32 copies of fill.
func MustKeyPair(t testing.TB, scheme keys.Scheme, fill byte) *keys.KeyPair {
	kp, err := keys.NewKeyPair(scheme, bytes.Repeat([]byte{fill}, 32))
	require.NoError(t, err)
	return kp
}
