package keys

import (
	"encoding/base64"

	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
)

// ErrInvalidSignature is returned for signatures that do not verify or cannot be parsed.
var ErrInvalidSignature = xerrors.New("invalid signature")

// Signature is a serialized user signature: flag || sig || pubkey. It carries the public
// key so the verifier can derive the signing address without any lookup.
type Signature struct {
	Scheme    Scheme
	Sig       []byte
	PublicKey []byte
}

// ParseSignature decodes the flag || sig || pubkey form.
func ParseSignature(b []byte) (Signature, error) {
	if len(b) == 0 {
		return Signature{}, xerrors.Errorf("%w: empty", ErrInvalidSignature)
	}
	scheme := Scheme(b[0])
	sigLen, pkLen := scheme.signatureSize(), scheme.publicKeySize()
	if sigLen == 0 {
		return Signature{}, xerrors.Errorf("%w: unknown scheme flag %d", ErrInvalidSignature, b[0])
	}
	if len(b) != 1+sigLen+pkLen {
		return Signature{}, xerrors.Errorf("%w: %s signature must be %d bytes, got %d", ErrInvalidSignature, scheme, 1+sigLen+pkLen, len(b))
	}
	return Signature{
		Scheme:    scheme,
		Sig:       append([]byte{}, b[1:1+sigLen]...),
		PublicKey: append([]byte{}, b[1+sigLen:]...),
	}, nil
}

// ParseSignatureBase64 decodes the base64 form exchanged with clients and nodes.
func ParseSignatureBase64(s string) (Signature, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Signature{}, xerrors.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ParseSignature(b)
}

func (s Signature) Bytes() []byte {
	out := make([]byte, 0, 1+len(s.Sig)+len(s.PublicKey))
	out = append(out, byte(s.Scheme))
	out = append(out, s.Sig...)
	return append(out, s.PublicKey...)
}

func (s Signature) Base64() string {
	return base64.StdEncoding.EncodeToString(s.Bytes())
}

func (s Signature) String() string {
	return s.Base64()
}

// Signer is the address the signature claims to come from.
func (s Signature) Signer() types.Address {
	return AddressOf(s.Scheme, s.PublicKey)
}

// Verify checks the signature over msg under intent.
func (s Signature) Verify(intent types.Intent, msg []byte) error {
	if len(s.Sig) != s.Scheme.signatureSize() || len(s.PublicKey) != s.Scheme.publicKeySize() || len(s.Sig) == 0 {
		return xerrors.Errorf("%w: malformed %s signature", ErrInvalidSignature, s.Scheme)
	}
	if !verifyRaw(s.Scheme, s.PublicKey, s.Sig, types.SigningDigest(intent, msg)) {
		return xerrors.Errorf("%w: %s signature by %s does not match message", ErrInvalidSignature, s.Scheme, s.Signer())
	}
	return nil
}

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.Base64()), nil
}

func (s *Signature) UnmarshalText(text []byte) error {
	parsed, err := ParseSignatureBase64(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
