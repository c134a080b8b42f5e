package keys

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/minio/sha256-simd"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
)

// Scheme is a signature scheme, identified on the wire by its flag byte.
type Scheme uint8

const (
	Ed25519   Scheme = 0x00
	Secp256k1 Scheme = 0x01
)

const secretLength = 32

var ErrUnknownScheme = xerrors.New("unknown signature scheme")

func (s Scheme) String() string {
	switch s {
	case Ed25519:
		return "ed25519"
	case Secp256k1:
		return "secp256k1"
	default:
		return "unknown"
	}
}

// ParseScheme maps a scheme name as used on the command line to a Scheme.
func ParseScheme(name string) (Scheme, error) {
	switch name {
	case "ed25519":
		return Ed25519, nil
	case "secp256k1":
		return Secp256k1, nil
	}
	return 0, xerrors.Errorf("%w: %q", ErrUnknownScheme, name)
}

func (s Scheme) publicKeySize() int {
	switch s {
	case Ed25519:
		return ed25519.PublicKeySize
	case Secp256k1:
		return secp256k1.PubKeyBytesLenCompressed
	}
	return 0
}

func (s Scheme) signatureSize() int {
	switch s {
	case Ed25519:
		return ed25519.SignatureSize
	case Secp256k1:
		return 64
	}
	return 0
}

// AddressOf derives the account address of a public key: blake2b-256(flag || pubkey).
func AddressOf(scheme Scheme, pubkey []byte) types.Address {
	return types.Address(types.Blake2b256([]byte{byte(scheme)}, pubkey))
}

// KeyPair is a private key of either scheme.
type KeyPair struct {
	scheme Scheme
	ed     ed25519.PrivateKey
	k1     *secp256k1.PrivateKey
}

// NewKeyPair restores a key pair from its 32 byte secret.
func NewKeyPair(scheme Scheme, secret []byte) (*KeyPair, error) {
	if len(secret) != secretLength {
		return nil, xerrors.Errorf("expected %d byte secret, got %d", secretLength, len(secret))
	}
	switch scheme {
	case Ed25519:
		return &KeyPair{scheme: scheme, ed: ed25519.NewKeyFromSeed(secret)}, nil
	case Secp256k1:
		return &KeyPair{scheme: scheme, k1: secp256k1.PrivKeyFromBytes(secret)}, nil
	}
	return nil, xerrors.Errorf("%w: flag %d", ErrUnknownScheme, scheme)
}

// GenerateKeyPair creates a fresh random key pair.
func GenerateKeyPair(scheme Scheme) (*KeyPair, error) {
	switch scheme {
	case Ed25519:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, xerrors.Errorf("generate ed25519 key: %w", err)
		}
		return &KeyPair{scheme: scheme, ed: priv}, nil
	case Secp256k1:
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, xerrors.Errorf("generate secp256k1 key: %w", err)
		}
		return &KeyPair{scheme: scheme, k1: priv}, nil
	}
	return nil, xerrors.Errorf("%w: flag %d", ErrUnknownScheme, scheme)
}

func (k *KeyPair) Scheme() Scheme {
	return k.scheme
}

func (k *KeyPair) Secret() []byte {
	if k.scheme == Ed25519 {
		return append([]byte{}, k.ed.Seed()...)
	}
	return k.k1.Serialize()
}

func (k *KeyPair) PublicKey() []byte {
	if k.scheme == Ed25519 {
		return append([]byte{}, k.ed.Public().(ed25519.PublicKey)...)
	}
	return k.k1.PubKey().SerializeCompressed()
}

func (k *KeyPair) Address() types.Address {
	return AddressOf(k.scheme, k.PublicKey())
}

// Sign signs msg under the given intent.
func (k *KeyPair) Sign(intent types.Intent, msg []byte) Signature {
	digest := types.SigningDigest(intent, msg)
	var raw []byte
	switch k.scheme {
	case Ed25519:
		raw = ed25519.Sign(k.ed, digest[:])
	case Secp256k1:
		h := sha256.Sum256(digest[:])
		// compact signatures carry a leading recovery code
		raw = ecdsa.SignCompact(k.k1, h[:], true)[1:]
	}
	return Signature{Scheme: k.scheme, Sig: raw, PublicKey: k.PublicKey()}
}

func verifyRaw(scheme Scheme, pubkey, sig []byte, digest [32]byte) bool {
	switch scheme {
	case Ed25519:
		return ed25519.Verify(ed25519.PublicKey(pubkey), digest[:], sig)
	case Secp256k1:
		pub, err := secp256k1.ParsePubKey(pubkey)
		if err != nil {
			return false
		}
		var r, s secp256k1.ModNScalar
		if overflow := r.SetByteSlice(sig[:32]); overflow || r.IsZero() {
			return false
		}
		if overflow := s.SetByteSlice(sig[32:]); overflow || s.IsZero() {
			return false
		}
		// only low-S signatures are accepted, matching what the network enforces
		if s.IsOverHalfOrder() {
			return false
		}
		h := sha256.Sum256(digest[:])
		return ecdsa.NewSignature(&r, &s).Verify(h[:], pub)
	}
	return false
}
