package types

import (
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/xerrors"
)

// ObjectRef pins an object at a specific version. A reference goes stale as soon as the
// object is mutated or consumed on chain and must be fetched again.
type ObjectRef struct {
	ObjectID ObjectID       `json:"objectId"`
	Version  SequenceNumber `json:"version"`
	Digest   Digest         `json:"digest"`
}

func (r ObjectRef) String() string {
	return fmt.Sprintf("%s@%d", r.ObjectID, r.Version)
}

// SameVersion reports whether r and o point to the same object at the same version.
func (r ObjectRef) SameVersion(o ObjectRef) bool {
	return r.ObjectID == o.ObjectID && r.Version == o.Version && r.Digest == o.Digest
}

// Uint64 is an unsigned amount that node APIs encode as a decimal string.
type Uint64 uint64

func (u Uint64) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(u), 10))
}

func (u *Uint64) UnmarshalJSON(b []byte) error {
	var v json.Number
	if err := json.Unmarshal(b, &v); err != nil {
		return xerrors.Errorf("amount: %w", err)
	}
	n, err := parseUint(string(v))
	if err != nil {
		return xerrors.Errorf("amount: %w", err)
	}
	*u = Uint64(n)
	return nil
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

// OwnerKind distinguishes the ownership models of on-chain objects.
type OwnerKind int

const (
	OwnerUnknown OwnerKind = iota
	OwnerAddress
	OwnerObject
	OwnerShared
	OwnerImmutable
)

// Owner is the owner metadata of an object as reported by the read API.
type Owner struct {
	Kind    OwnerKind
	Address Address // set for OwnerAddress and OwnerObject
	// InitialSharedVersion is set for OwnerShared.
	InitialSharedVersion uint64
}

// AddressOwner returns the owning account when the object is address-owned.
func (o Owner) AddressOwner() (Address, bool) {
	if o.Kind != OwnerAddress {
		return Address{}, false
	}
	return o.Address, true
}

type sharedOwner struct {
	InitialSharedVersion SequenceNumber `json:"initial_shared_version"`
}

type ownerJSON struct {
	AddressOwner *Address     `json:"AddressOwner,omitempty"`
	ObjectOwner  *Address     `json:"ObjectOwner,omitempty"`
	Shared       *sharedOwner `json:"Shared,omitempty"`
}

func (o Owner) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case OwnerAddress:
		return json.Marshal(ownerJSON{AddressOwner: &o.Address})
	case OwnerObject:
		return json.Marshal(ownerJSON{ObjectOwner: &o.Address})
	case OwnerShared:
		return json.Marshal(ownerJSON{Shared: &sharedOwner{InitialSharedVersion: SequenceNumber(o.InitialSharedVersion)}})
	case OwnerImmutable:
		return json.Marshal("Immutable")
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts the tagged forms {"AddressOwner": ...}, {"ObjectOwner": ...},
// {"Shared": {...}} and the bare string "Immutable".
func (o *Owner) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s != "Immutable" {
			return xerrors.Errorf("unknown owner %q", s)
		}
		*o = Owner{Kind: OwnerImmutable}
		return nil
	}
	var raw ownerJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return xerrors.Errorf("owner: %w", err)
	}
	switch {
	case raw.AddressOwner != nil:
		*o = Owner{Kind: OwnerAddress, Address: *raw.AddressOwner}
	case raw.ObjectOwner != nil:
		*o = Owner{Kind: OwnerObject, Address: *raw.ObjectOwner}
	case raw.Shared != nil:
		*o = Owner{Kind: OwnerShared, InitialSharedVersion: uint64(raw.Shared.InitialSharedVersion)}
	default:
		*o = Owner{Kind: OwnerUnknown}
	}
	return nil
}
