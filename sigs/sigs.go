// Package sigs composes the signatures a sponsored transaction needs: one by the sender
// and one by the gas owner, both over the very same transaction bytes.
package sigs

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/keys"
)

var log = logging.Logger("sponsor/sigs")

var (
	// ErrSignatureMismatch means a signature does not verify against the transaction
	// bytes it is composed with.
	ErrSignatureMismatch = xerrors.New("signature does not match transaction bytes")
	ErrDuplicateSigner   = xerrors.New("duplicate signer")
	ErrUnexpectedSigner  = xerrors.New("signer is neither sender nor gas owner")
	ErrMissingSignature  = xerrors.New("missing required signature")
	// ErrGasCoinUsed is returned when a sponsored payload reads the gas coin.
	ErrGasCoinUsed = xerrors.New("payload uses the sponsor's gas coin")
)

// SignedEnvelope is a transaction together with every signature it needs, ordered sender
// first and gas owner second.
type SignedEnvelope struct {
	TxBytes    []byte
	Data       *types.TransactionData
	Signatures []keys.Signature
}

// Base64Signatures renders the signatures in envelope order for submission.
func (e *SignedEnvelope) Base64Signatures() []string {
	out := make([]string, len(e.Signatures))
	for i, s := range e.Signatures {
		out[i] = s.Base64()
	}
	return out
}

// SignAs signs tx as signer using ks. The signature covers the canonical bytes of tx
// under the transaction intent.
func SignAs(ctx context.Context, ks keys.Keystore, signer types.Address, tx *types.TransactionData) (keys.Signature, error) {
	_, span := otel.Tracer("").Start(ctx, "sigs.SignAs")
	defer span.End()
	span.SetAttributes(attribute.String("signer", signer.String()))

	raw, err := tx.Bytes()
	if err != nil {
		return keys.Signature{}, xerrors.Errorf("serialize transaction: %w", err)
	}
	return SignBytes(ks, signer, raw)
}

// SignBytes signs already serialized transaction bytes.
func SignBytes(ks keys.Keystore, signer types.Address, txBytes []byte) (keys.Signature, error) {
	sig, err := ks.Sign(signer, types.TransactionIntent, txBytes)
	if err != nil {
		return keys.Signature{}, xerrors.Errorf("sign as %s: %w", signer, err)
	}
	return sig, nil
}

// Verify checks that sig is a valid signature over txBytes.
func Verify(txBytes []byte, sig keys.Signature) error {
	if err := sig.Verify(types.TransactionIntent, txBytes); err != nil {
		return xerrors.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	return nil
}

// Compose builds the envelope for tx from sigs, given in any order. Every signature must
// verify against the same bytes, each required signer must appear exactly once and no
// other signer is accepted.
func Compose(tx *types.TransactionData, sigs ...keys.Signature) (*SignedEnvelope, error) {
	raw, err := tx.Bytes()
	if err != nil {
		return nil, xerrors.Errorf("serialize transaction: %w", err)
	}
	return ComposeBytes(raw, tx, sigs...)
}

// ComposeBytes is Compose for callers that already hold the serialized bytes, such as a
// sender co-signing bytes received from the sponsor. txBytes must be the serialization
// of tx.
func ComposeBytes(txBytes []byte, tx *types.TransactionData, sigs ...keys.Signature) (*SignedEnvelope, error) {
	required := tx.RequiredSigners()
	bySigner := make(map[types.Address]keys.Signature, len(sigs))
	for _, sig := range sigs {
		signer := sig.Signer()
		if _, dup := bySigner[signer]; dup {
			return nil, xerrors.Errorf("%w: %s", ErrDuplicateSigner, signer)
		}
		if !contains(required, signer) {
			return nil, xerrors.Errorf("%w: %s", ErrUnexpectedSigner, signer)
		}
		if err := Verify(txBytes, sig); err != nil {
			return nil, xerrors.Errorf("signature by %s: %w", signer, err)
		}
		bySigner[signer] = sig
	}

	env := &SignedEnvelope{TxBytes: txBytes, Data: tx, Signatures: make([]keys.Signature, 0, len(required))}
	for _, signer := range required {
		sig, ok := bySigner[signer]
		if !ok {
			return nil, xerrors.Errorf("%w: %s", ErrMissingSignature, signer)
		}
		env.Signatures = append(env.Signatures, sig)
	}
	log.Debugw("composed envelope", "sender", tx.Sender, "gas_owner", tx.GasOwner(), "signatures", len(env.Signatures))
	return env, nil
}

// SponsorSignature is the sponsor's half of a sponsored transaction, handed to the
// sender who adds its own signature and submits.
type SponsorSignature struct {
	TxBytes   []byte
	Signature keys.Signature
}

// SponsorSign signs tx as its gas owner without submitting it. It refuses transactions
// that are not sponsored by sponsor.
func SponsorSign(ctx context.Context, ks keys.Keystore, sponsor types.Address, tx *types.TransactionData) (*SponsorSignature, error) {
	_, span := otel.Tracer("").Start(ctx, "sigs.SponsorSign")
	defer span.End()

	if tx.GasOwner() != sponsor {
		return nil, xerrors.Errorf("%w: gas owner is %s, not %s", ErrUnexpectedSigner, tx.GasOwner(), sponsor)
	}
	if !tx.IsSponsored() {
		return nil, xerrors.Errorf("transaction from %s pays its own gas", tx.Sender)
	}
	if tx.Kind.UsesGasCoin() {
		return nil, ErrGasCoinUsed
	}
	if err := tx.Validate(); err != nil {
		return nil, xerrors.Errorf("validate transaction: %w", err)
	}
	raw, err := tx.Bytes()
	if err != nil {
		return nil, xerrors.Errorf("serialize transaction: %w", err)
	}
	sig, err := SignBytes(ks, sponsor, raw)
	if err != nil {
		return nil, err
	}
	return &SponsorSignature{TxBytes: raw, Signature: sig}, nil
}

// CoSign is the sender's half: it decodes the bytes produced by SponsorSign, checks the
// sponsor signature, signs as sender and composes the envelope.
func CoSign(ctx context.Context, ks keys.Keystore, sender types.Address, txBytes []byte, sponsorSig keys.Signature) (*SignedEnvelope, error) {
	_, span := otel.Tracer("").Start(ctx, "sigs.CoSign")
	defer span.End()

	tx, err := types.DecodeTransactionData(txBytes)
	if err != nil {
		return nil, xerrors.Errorf("decode transaction: %w", err)
	}
	if tx.Sender != sender {
		return nil, xerrors.Errorf("%w: transaction sender is %s, not %s", ErrUnexpectedSigner, tx.Sender, sender)
	}
	senderSig, err := SignBytes(ks, sender, txBytes)
	if err != nil {
		return nil, err
	}
	return ComposeBytes(txBytes, tx, senderSig, sponsorSig)
}

func contains(addrs []types.Address, a types.Address) bool {
	for _, x := range addrs {
		if x == a {
			return true
		}
	}
	return false
}
