package types

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/xerrors"
)

// AddressLength is the size in bytes of account addresses and object ids.
const AddressLength = 32

// DigestLength is the size in bytes of object and transaction digests.
const DigestLength = 32

// Address identifies a chain account.
type Address [AddressLength]byte

// ObjectID identifies an on-chain object. It shares the address space with accounts.
type ObjectID [AddressLength]byte

// Digest is a blake2b-256 digest of an object or a transaction.
type Digest [DigestLength]byte

var (
	ErrInvalidAddress = xerrors.New("invalid address")
	ErrInvalidDigest  = xerrors.New("invalid digest")
)

// ParseAddress parses a hex address with or without the 0x prefix. Short forms such as
// 0x2 are left padded with zeros.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := parseHex32(s)
	if err != nil {
		return a, xerrors.Errorf("%w %q: %v", ErrInvalidAddress, s, err)
	}
	copy(a[:], b)
	return a, nil
}

// MustParseAddress is like ParseAddress but panics on malformed input.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func ParseObjectID(s string) (ObjectID, error) {
	var id ObjectID
	b, err := parseHex32(s)
	if err != nil {
		return id, xerrors.Errorf("invalid object id %q: %w", s, err)
	}
	copy(id[:], b)
	return id, nil
}

func MustParseObjectID(s string) ObjectID {
	id, err := ParseObjectID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ObjectID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

func (id ObjectID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ObjectID) UnmarshalText(text []byte) error {
	parsed, err := ParseObjectID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseDigest decodes the base58 form used by the node APIs.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := base58.Decode(s)
	if err != nil {
		return d, xerrors.Errorf("%w %q: %v", ErrInvalidDigest, s, err)
	}
	if len(b) != DigestLength {
		return d, xerrors.Errorf("%w %q: expected %d bytes, got %d", ErrInvalidDigest, s, DigestLength, len(b))
	}
	copy(d[:], b)
	return d, nil
}

func (d Digest) String() string {
	return base58.Encode(d[:])
}

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func parseHex32(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, xerrors.New("empty")
	}
	if len(s) > 2*AddressLength {
		return nil, xerrors.Errorf("too long: %d hex characters", len(s))
	}
	s = strings.Repeat("0", 2*AddressLength-len(s)) + s
	return hex.DecodeString(s)
}

// SequenceNumber is an object version. Node APIs render it either as a JSON number or
// as a decimal string; both are accepted.
type SequenceNumber uint64

func (n *SequenceNumber) UnmarshalJSON(b []byte) error {
	var v json.Number
	if err := json.Unmarshal(b, &v); err != nil {
		return xerrors.Errorf("sequence number: %w", err)
	}
	u, err := parseUint(string(v))
	if err != nil {
		return xerrors.Errorf("sequence number: %w", err)
	}
	*n = SequenceNumber(u)
	return nil
}
