package types

import (
	"github.com/fardream/go-bcs/bcs"
	"golang.org/x/xerrors"
)

// ErrTrailingBytes is returned when a decoded value does not consume its whole input.
var ErrTrailingBytes = xerrors.New("bcs: trailing bytes")

// The bcs* types below mirror the on-chain layout of a transaction. Structs that
// implement bcs.Enum encode as a variant index followed by their single non-nil field,
// so field order is the variant order and must not change.

type bcsUnit struct{}

type bcsTransactionData struct {
	V1 *bcsTransactionDataV1
}

func (bcsTransactionData) IsBcsEnum() {}

type bcsTransactionDataV1 struct {
	Kind       bcsTransactionKind
	Sender     Address
	GasData    bcsGasData
	Expiration bcsExpiration
}

type bcsTransactionKind struct {
	ProgrammableTransaction *bcsProgrammable
}

func (bcsTransactionKind) IsBcsEnum() {}

type bcsExpiration struct {
	None  *bcsUnit
	Epoch *uint64
}

func (bcsExpiration) IsBcsEnum() {}

type bcsGasData struct {
	Payment []bcsObjectRef
	Owner   Address
	Price   uint64
	Budget  uint64
}

type bcsObjectRef struct {
	ObjectID ObjectID
	Version  uint64
	Digest   []byte
}

type bcsProgrammable struct {
	Inputs   []bcsCallArg
	Commands []bcsCommand
}

type bcsPure struct {
	Bytes []byte
}

type bcsCallArg struct {
	Pure   *bcsPure
	Object *bcsObjectArg
}

func (bcsCallArg) IsBcsEnum() {}

type bcsSharedObject struct {
	ObjectID             ObjectID
	InitialSharedVersion uint64
	Mutable              bool
}

type bcsObjectArg struct {
	ImmOrOwned *bcsObjectRef
	Shared     *bcsSharedObject
	Receiving  *bcsObjectRef
}

func (bcsObjectArg) IsBcsEnum() {}

type bcsNestedResult struct {
	Result uint16
	Index  uint16
}

type bcsArgument struct {
	GasCoin      *bcsUnit
	Input        *uint16
	Result       *uint16
	NestedResult *bcsNestedResult
}

func (bcsArgument) IsBcsEnum() {}

type bcsMoveCall struct {
	Package       ObjectID
	Module        string
	Function      string
	TypeArguments []bcsTypeTag
	Arguments     []bcsArgument
}

type bcsTransferObjects struct {
	Objects []bcsArgument
	Address bcsArgument
}

type bcsSplitCoins struct {
	Coin    bcsArgument
	Amounts []bcsArgument
}

type bcsMergeCoins struct {
	Destination bcsArgument
	Sources     []bcsArgument
}

type bcsPublish struct {
	Modules      [][]byte
	Dependencies []ObjectID
}

type bcsMakeMoveVec struct {
	Type     *bcsTypeTag `bcs:"optional"`
	Elements []bcsArgument
}

type bcsUpgrade struct {
	Modules      [][]byte
	Dependencies []ObjectID
	Package      ObjectID
	Ticket       bcsArgument
}

type bcsCommand struct {
	MoveCall        *bcsMoveCall
	TransferObjects *bcsTransferObjects
	SplitCoins      *bcsSplitCoins
	MergeCoins      *bcsMergeCoins
	Publish         *bcsPublish
	MakeMoveVec     *bcsMakeMoveVec
	Upgrade         *bcsUpgrade
}

func (bcsCommand) IsBcsEnum() {}

type bcsStructTag struct {
	Address    Address
	Module     string
	Name       string
	TypeParams []bcsTypeTag
}

type bcsTypeTag struct {
	Bool    *bcsUnit
	U8      *bcsUnit
	U64     *bcsUnit
	U128    *bcsUnit
	Address *bcsUnit
	Signer  *bcsUnit
	Vector  *bcsTypeTag
	Struct  *bcsStructTag
	U16     *bcsUnit
	U32     *bcsUnit
	U256    *bcsUnit
}

func (bcsTypeTag) IsBcsEnum() {}

// unmarshalExact decodes b into v and fails unless every byte is consumed. The decoder
// works on untrusted input, so a panic inside it is reported as an error.
func unmarshalExact(b []byte, v interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Errorf("bcs: %v", r)
		}
	}()
	n, err := bcs.Unmarshal(b, v)
	if err != nil {
		return xerrors.Errorf("bcs: %w", err)
	}
	if n != len(b) {
		return xerrors.Errorf("%w: %d of %d bytes consumed", ErrTrailingBytes, n, len(b))
	}
	return nil
}

func mustMarshal(v interface{}) []byte {
	b, err := bcs.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Pure argument encoders for the common Move primitive types.

func PureU64(v uint64) []byte {
	return mustMarshal(v)
}

func PureBool(v bool) []byte {
	return mustMarshal(v)
}

func PureString(s string) []byte {
	return mustMarshal(s)
}

func PureAddress(a Address) []byte {
	return mustMarshal(a)
}
