package types

import (
	"github.com/minio/blake2b-simd"
)

// IntentScope says what kind of message a signature authorizes. Signatures are made over
// an intent-prefixed message so that a transaction signature can never be replayed as a
// personal message signature or vice versa.
type IntentScope uint8

const (
	ScopeTransactionData IntentScope = 0
	ScopePersonalMessage IntentScope = 3
)

// Intent is the three byte domain separator prepended to every signed message.
type Intent struct {
	Scope   IntentScope
	Version uint8
	AppID   uint8
}

// TransactionIntent is the intent used for transaction data.
var TransactionIntent = Intent{Scope: ScopeTransactionData}

// PersonalMessageIntent is the intent used for free-form messages.
var PersonalMessageIntent = Intent{Scope: ScopePersonalMessage}

func (i Intent) Bytes() []byte {
	return []byte{byte(i.Scope), i.Version, i.AppID}
}

// SigningDigest returns blake2b-256(intent || msg), the digest every signature scheme
// signs.
func SigningDigest(intent Intent, msg []byte) [32]byte {
	h := blake2b.New256()
	_, _ = h.Write(intent.Bytes())
	_, _ = h.Write(msg)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

const transactionDigestSalt = "TransactionData::"

// TransactionDigest returns the digest that identifies a transaction on chain.
func TransactionDigest(txBytes []byte) Digest {
	h := blake2b.New256()
	_, _ = h.Write([]byte(transactionDigestSalt))
	_, _ = h.Write(txBytes)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Blake2b256 hashes the concatenation of parts.
func Blake2b256(parts ...[]byte) [32]byte {
	h := blake2b.New256()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
