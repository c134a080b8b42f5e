package types

import (
	"github.com/fardream/go-bcs/bcs"
	"golang.org/x/xerrors"
)

// TransactionData is a version 1 transaction: a programmable payload executed on behalf
// of Sender, paid for with GasData. GasData.Owner may differ from Sender, in which case
// the transaction is sponsored and needs signatures from both.
type TransactionData struct {
	Sender     Address
	Kind       ProgrammableTransaction
	GasData    GasData
	Expiration TransactionExpiration
}

// GasData describes how the transaction pays for execution.
type GasData struct {
	Payment []ObjectRef
	Owner   Address
	Price   uint64
	Budget  uint64
}

// TransactionExpiration is either none or an epoch after which the transaction can no
// longer be executed.
type TransactionExpiration struct {
	Epoch *uint64
}

// ProgrammableTransaction is a sequence of commands over a list of inputs.
type ProgrammableTransaction struct {
	Inputs   []CallArg
	Commands []Command
}

// CallArg is an input of a programmable transaction. Exactly one field is set.
type CallArg struct {
	Pure   []byte
	Object *ObjectArg
}

// ObjectArg references an object input. Exactly one field is set.
type ObjectArg struct {
	ImmOrOwned *ObjectRef
	Shared     *SharedObjectRef
	Receiving  *ObjectRef
}

type SharedObjectRef struct {
	ObjectID             ObjectID
	InitialSharedVersion uint64
	Mutable              bool
}

type ArgumentKind uint8

const (
	ArgGasCoin ArgumentKind = iota
	ArgInput
	ArgResult
	ArgNestedResult
)

// Argument refers to the gas coin, an input, or the result of an earlier command.
type Argument struct {
	Kind   ArgumentKind
	Index  uint16
	Nested uint16 // only for ArgNestedResult
}

func GasCoin() Argument { return Argument{Kind: ArgGasCoin} }
func Input(i uint16) Argument { return Argument{Kind: ArgInput, Index: i} }
func Result(i uint16) Argument { return Argument{Kind: ArgResult, Index: i} }
func NestedResult(i, j uint16) Argument { return Argument{Kind: ArgNestedResult, Index: i, Nested: j} }

// Command is a single step of a programmable transaction. Exactly one field is set.
type Command struct {
	MoveCall        *MoveCall
	TransferObjects *TransferObjects
	SplitCoins      *SplitCoins
	MergeCoins      *MergeCoins
	MakeMoveVec     *MakeMoveVec
}

// Arguments returns every argument the command reads, in encoding order.
func (c *Command) Arguments() []Argument {
	switch {
	case c.MoveCall != nil:
		return c.MoveCall.Arguments
	case c.TransferObjects != nil:
		return append(append([]Argument{}, c.TransferObjects.Objects...), c.TransferObjects.Address)
	case c.SplitCoins != nil:
		return append([]Argument{c.SplitCoins.Coin}, c.SplitCoins.Amounts...)
	case c.MergeCoins != nil:
		return append([]Argument{c.MergeCoins.Destination}, c.MergeCoins.Sources...)
	case c.MakeMoveVec != nil:
		return c.MakeMoveVec.Elements
	}
	return nil
}

// UsesGasCoin reports whether any command reads the gas coin. A sponsor must not sign
// such a transaction, since the sender could spend the sponsor's coin beyond fees.
func (pt *ProgrammableTransaction) UsesGasCoin() bool {
	for i := range pt.Commands {
		for _, a := range pt.Commands[i].Arguments() {
			if a.Kind == ArgGasCoin {
				return true
			}
		}
	}
	return false
}

type MoveCall struct {
	Package       ObjectID
	Module        string
	Function      string
	TypeArguments []TypeTag
	Arguments     []Argument
}

type TransferObjects struct {
	Objects []Argument
	Address Argument
}

type SplitCoins struct {
	Coin    Argument
	Amounts []Argument
}

type MergeCoins struct {
	Destination Argument
	Sources     []Argument
}

type MakeMoveVec struct {
	Type     *TypeTag
	Elements []Argument
}

type TypeTagKind uint8

const (
	TypeBool TypeTagKind = iota
	TypeU8
	TypeU64
	TypeU128
	TypeAddress
	TypeSigner
	TypeVector
	TypeStruct
	TypeU16
	TypeU32
	TypeU256
)

// TypeTag is a Move type. Elem is set for vectors, Struct for struct types.
type TypeTag struct {
	Kind   TypeTagKind
	Elem   *TypeTag
	Struct *StructTag
}

type StructTag struct {
	Address    Address
	Module     string
	Name       string
	TypeParams []TypeTag
}

var (
	ErrNoGasPayment    = xerrors.New("transaction has no gas payment")
	ErrZeroGasBudget   = xerrors.New("transaction gas budget is zero")
	ErrZeroGasPrice    = xerrors.New("transaction gas price is zero")
	ErrMalformedTxData = xerrors.New("malformed transaction data")
)

// GasOwner returns the account that pays for the transaction.
func (tx *TransactionData) GasOwner() Address {
	return tx.GasData.Owner
}

// IsSponsored reports whether gas is paid by an account other than the sender.
func (tx *TransactionData) IsSponsored() bool {
	return tx.GasData.Owner != tx.Sender
}

// RequiredSigners lists the accounts whose signature is needed: the sender and, when
// sponsored, the gas owner.
func (tx *TransactionData) RequiredSigners() []Address {
	if tx.IsSponsored() {
		return []Address{tx.Sender, tx.GasData.Owner}
	}
	return []Address{tx.Sender}
}

// Validate checks the structural invariants that do not need chain state.
func (tx *TransactionData) Validate() error {
	if len(tx.GasData.Payment) == 0 {
		return ErrNoGasPayment
	}
	if tx.GasData.Budget == 0 {
		return ErrZeroGasBudget
	}
	if tx.GasData.Price == 0 {
		return ErrZeroGasPrice
	}
	seen := make(map[ObjectID]struct{}, len(tx.GasData.Payment))
	for _, ref := range tx.GasData.Payment {
		if _, ok := seen[ref.ObjectID]; ok {
			return xerrors.Errorf("%w: gas coin %s listed twice", ErrMalformedTxData, ref.ObjectID)
		}
		seen[ref.ObjectID] = struct{}{}
	}
	return nil
}

// Bytes returns the canonical serialization of the transaction. These are the bytes
// every signer signs and the node receives.
func (tx *TransactionData) Bytes() ([]byte, error) {
	pt, err := programmableToBCS(&tx.Kind)
	if err != nil {
		return nil, err
	}
	v1 := &bcsTransactionDataV1{
		Kind:    bcsTransactionKind{ProgrammableTransaction: pt},
		Sender:  tx.Sender,
		GasData: bcsGasData{Owner: tx.GasData.Owner, Price: tx.GasData.Price, Budget: tx.GasData.Budget},
	}
	v1.GasData.Payment = make([]bcsObjectRef, 0, len(tx.GasData.Payment))
	for _, ref := range tx.GasData.Payment {
		v1.GasData.Payment = append(v1.GasData.Payment, objectRefToBCS(ref))
	}
	if tx.Expiration.Epoch == nil {
		v1.Expiration.None = &bcsUnit{}
	} else {
		epoch := *tx.Expiration.Epoch
		v1.Expiration.Epoch = &epoch
	}

	raw, err := bcs.Marshal(bcsTransactionData{V1: v1})
	if err != nil {
		return nil, xerrors.Errorf("encode transaction: %w", err)
	}
	return raw, nil
}

// DecodeTransactionData parses bytes produced by Bytes (or by any other implementation
// of the same serialization).
func DecodeTransactionData(b []byte) (*TransactionData, error) {
	var data bcsTransactionData
	if err := unmarshalExact(b, &data); err != nil {
		return nil, xerrors.Errorf("%w: %v", ErrMalformedTxData, err)
	}
	v1 := data.V1
	if v1 == nil || v1.Kind.ProgrammableTransaction == nil {
		return nil, xerrors.Errorf("%w: unsupported transaction kind", ErrMalformedTxData)
	}

	tx := &TransactionData{
		Sender: v1.Sender,
		GasData: GasData{
			Payment: make([]ObjectRef, 0, len(v1.GasData.Payment)),
			Owner:   v1.GasData.Owner,
			Price:   v1.GasData.Price,
			Budget:  v1.GasData.Budget,
		},
	}
	for _, ref := range v1.GasData.Payment {
		r, err := objectRefFromBCS(ref)
		if err != nil {
			return nil, err
		}
		tx.GasData.Payment = append(tx.GasData.Payment, r)
	}
	if v1.Expiration.Epoch != nil {
		epoch := *v1.Expiration.Epoch
		tx.Expiration.Epoch = &epoch
	}
	pt, err := programmableFromBCS(v1.Kind.ProgrammableTransaction)
	if err != nil {
		return nil, err
	}
	tx.Kind = *pt
	return tx, nil
}

func objectRefToBCS(ref ObjectRef) bcsObjectRef {
	return bcsObjectRef{ObjectID: ref.ObjectID, Version: uint64(ref.Version), Digest: append([]byte{}, ref.Digest[:]...)}
}

func objectRefFromBCS(b bcsObjectRef) (ObjectRef, error) {
	ref := ObjectRef{ObjectID: b.ObjectID, Version: SequenceNumber(b.Version)}
	if len(b.Digest) != DigestLength {
		return ref, xerrors.Errorf("%w: object digest has %d bytes", ErrMalformedTxData, len(b.Digest))
	}
	copy(ref.Digest[:], b.Digest)
	return ref, nil
}

func programmableToBCS(pt *ProgrammableTransaction) (*bcsProgrammable, error) {
	out := &bcsProgrammable{
		Inputs:   make([]bcsCallArg, 0, len(pt.Inputs)),
		Commands: make([]bcsCommand, 0, len(pt.Commands)),
	}
	for i, in := range pt.Inputs {
		a, err := callArgToBCS(in)
		if err != nil {
			return nil, xerrors.Errorf("input %d: %w", i, err)
		}
		out.Inputs = append(out.Inputs, a)
	}
	for i := range pt.Commands {
		c, err := commandToBCS(&pt.Commands[i])
		if err != nil {
			return nil, xerrors.Errorf("command %d: %w", i, err)
		}
		out.Commands = append(out.Commands, c)
	}
	return out, nil
}

func programmableFromBCS(b *bcsProgrammable) (*ProgrammableTransaction, error) {
	pt := &ProgrammableTransaction{
		Inputs:   make([]CallArg, 0, len(b.Inputs)),
		Commands: make([]Command, 0, len(b.Commands)),
	}
	for i, in := range b.Inputs {
		a, err := callArgFromBCS(in)
		if err != nil {
			return nil, xerrors.Errorf("input %d: %w", i, err)
		}
		pt.Inputs = append(pt.Inputs, a)
	}
	for i := range b.Commands {
		c, err := commandFromBCS(&b.Commands[i])
		if err != nil {
			return nil, xerrors.Errorf("command %d: %w", i, err)
		}
		pt.Commands = append(pt.Commands, c)
	}
	return pt, nil
}

func callArgToBCS(a CallArg) (bcsCallArg, error) {
	switch {
	case a.Object != nil:
		o := a.Object
		var out bcsObjectArg
		switch {
		case o.ImmOrOwned != nil:
			ref := objectRefToBCS(*o.ImmOrOwned)
			out.ImmOrOwned = &ref
		case o.Shared != nil:
			out.Shared = &bcsSharedObject{
				ObjectID:             o.Shared.ObjectID,
				InitialSharedVersion: o.Shared.InitialSharedVersion,
				Mutable:              o.Shared.Mutable,
			}
		case o.Receiving != nil:
			ref := objectRefToBCS(*o.Receiving)
			out.Receiving = &ref
		default:
			return bcsCallArg{}, xerrors.Errorf("%w: empty object argument", ErrMalformedTxData)
		}
		return bcsCallArg{Object: &out}, nil
	case a.Pure != nil:
		return bcsCallArg{Pure: &bcsPure{Bytes: a.Pure}}, nil
	default:
		return bcsCallArg{}, xerrors.Errorf("%w: empty call argument", ErrMalformedTxData)
	}
}

func callArgFromBCS(b bcsCallArg) (CallArg, error) {
	switch {
	case b.Pure != nil:
		pure := b.Pure.Bytes
		if pure == nil {
			pure = []byte{}
		}
		return CallArg{Pure: pure}, nil
	case b.Object != nil:
		o := &ObjectArg{}
		switch {
		case b.Object.ImmOrOwned != nil:
			ref, err := objectRefFromBCS(*b.Object.ImmOrOwned)
			if err != nil {
				return CallArg{}, err
			}
			o.ImmOrOwned = &ref
		case b.Object.Shared != nil:
			s := b.Object.Shared
			o.Shared = &SharedObjectRef{ObjectID: s.ObjectID, InitialSharedVersion: s.InitialSharedVersion, Mutable: s.Mutable}
		case b.Object.Receiving != nil:
			ref, err := objectRefFromBCS(*b.Object.Receiving)
			if err != nil {
				return CallArg{}, err
			}
			o.Receiving = &ref
		default:
			return CallArg{}, xerrors.Errorf("%w: empty object argument", ErrMalformedTxData)
		}
		return CallArg{Object: o}, nil
	default:
		return CallArg{}, xerrors.Errorf("%w: empty call argument", ErrMalformedTxData)
	}
}

func argumentToBCS(a Argument) bcsArgument {
	switch a.Kind {
	case ArgInput:
		i := a.Index
		return bcsArgument{Input: &i}
	case ArgResult:
		i := a.Index
		return bcsArgument{Result: &i}
	case ArgNestedResult:
		return bcsArgument{NestedResult: &bcsNestedResult{Result: a.Index, Index: a.Nested}}
	default:
		return bcsArgument{GasCoin: &bcsUnit{}}
	}
}

func argumentFromBCS(b bcsArgument) (Argument, error) {
	switch {
	case b.GasCoin != nil:
		return GasCoin(), nil
	case b.Input != nil:
		return Input(*b.Input), nil
	case b.Result != nil:
		return Result(*b.Result), nil
	case b.NestedResult != nil:
		return NestedResult(b.NestedResult.Result, b.NestedResult.Index), nil
	default:
		return Argument{}, xerrors.Errorf("%w: empty argument", ErrMalformedTxData)
	}
}

func argumentsToBCS(args []Argument) []bcsArgument {
	out := make([]bcsArgument, 0, len(args))
	for _, a := range args {
		out = append(out, argumentToBCS(a))
	}
	return out
}

func argumentsFromBCS(bs []bcsArgument) ([]Argument, error) {
	out := make([]Argument, 0, len(bs))
	for _, b := range bs {
		a, err := argumentFromBCS(b)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func commandToBCS(c *Command) (bcsCommand, error) {
	switch {
	case c.MoveCall != nil:
		m := c.MoveCall
		out := &bcsMoveCall{
			Package:       m.Package,
			Module:        m.Module,
			Function:      m.Function,
			TypeArguments: make([]bcsTypeTag, 0, len(m.TypeArguments)),
			Arguments:     argumentsToBCS(m.Arguments),
		}
		for i := range m.TypeArguments {
			tt, err := typeTagToBCS(&m.TypeArguments[i])
			if err != nil {
				return bcsCommand{}, err
			}
			out.TypeArguments = append(out.TypeArguments, *tt)
		}
		return bcsCommand{MoveCall: out}, nil
	case c.TransferObjects != nil:
		return bcsCommand{TransferObjects: &bcsTransferObjects{
			Objects: argumentsToBCS(c.TransferObjects.Objects),
			Address: argumentToBCS(c.TransferObjects.Address),
		}}, nil
	case c.SplitCoins != nil:
		return bcsCommand{SplitCoins: &bcsSplitCoins{
			Coin:    argumentToBCS(c.SplitCoins.Coin),
			Amounts: argumentsToBCS(c.SplitCoins.Amounts),
		}}, nil
	case c.MergeCoins != nil:
		return bcsCommand{MergeCoins: &bcsMergeCoins{
			Destination: argumentToBCS(c.MergeCoins.Destination),
			Sources:     argumentsToBCS(c.MergeCoins.Sources),
		}}, nil
	case c.MakeMoveVec != nil:
		out := &bcsMakeMoveVec{Elements: argumentsToBCS(c.MakeMoveVec.Elements)}
		if c.MakeMoveVec.Type != nil {
			tt, err := typeTagToBCS(c.MakeMoveVec.Type)
			if err != nil {
				return bcsCommand{}, err
			}
			out.Type = tt
		}
		return bcsCommand{MakeMoveVec: out}, nil
	default:
		return bcsCommand{}, xerrors.Errorf("%w: empty command", ErrMalformedTxData)
	}
}

func commandFromBCS(b *bcsCommand) (Command, error) {
	switch {
	case b.MoveCall != nil:
		m := &MoveCall{Package: b.MoveCall.Package, Module: b.MoveCall.Module, Function: b.MoveCall.Function}
		for i := range b.MoveCall.TypeArguments {
			tt, err := typeTagFromBCS(&b.MoveCall.TypeArguments[i], 0)
			if err != nil {
				return Command{}, err
			}
			m.TypeArguments = append(m.TypeArguments, *tt)
		}
		args, err := argumentsFromBCS(b.MoveCall.Arguments)
		if err != nil {
			return Command{}, err
		}
		m.Arguments = args
		return Command{MoveCall: m}, nil
	case b.TransferObjects != nil:
		objects, err := argumentsFromBCS(b.TransferObjects.Objects)
		if err != nil {
			return Command{}, err
		}
		addr, err := argumentFromBCS(b.TransferObjects.Address)
		if err != nil {
			return Command{}, err
		}
		return Command{TransferObjects: &TransferObjects{Objects: objects, Address: addr}}, nil
	case b.SplitCoins != nil:
		coin, err := argumentFromBCS(b.SplitCoins.Coin)
		if err != nil {
			return Command{}, err
		}
		amounts, err := argumentsFromBCS(b.SplitCoins.Amounts)
		if err != nil {
			return Command{}, err
		}
		return Command{SplitCoins: &SplitCoins{Coin: coin, Amounts: amounts}}, nil
	case b.MergeCoins != nil:
		dst, err := argumentFromBCS(b.MergeCoins.Destination)
		if err != nil {
			return Command{}, err
		}
		srcs, err := argumentsFromBCS(b.MergeCoins.Sources)
		if err != nil {
			return Command{}, err
		}
		return Command{MergeCoins: &MergeCoins{Destination: dst, Sources: srcs}}, nil
	case b.MakeMoveVec != nil:
		mv := &MakeMoveVec{}
		if b.MakeMoveVec.Type != nil {
			tt, err := typeTagFromBCS(b.MakeMoveVec.Type, 0)
			if err != nil {
				return Command{}, err
			}
			mv.Type = tt
		}
		elems, err := argumentsFromBCS(b.MakeMoveVec.Elements)
		if err != nil {
			return Command{}, err
		}
		mv.Elements = elems
		return Command{MakeMoveVec: mv}, nil
	case b.Publish != nil, b.Upgrade != nil:
		return Command{}, xerrors.Errorf("%w: package publish and upgrade are not supported", ErrMalformedTxData)
	default:
		return Command{}, xerrors.Errorf("%w: empty command", ErrMalformedTxData)
	}
}

const maxTypeTagDepth = 16

func typeTagToBCS(t *TypeTag) (*bcsTypeTag, error) {
	unit := &bcsUnit{}
	out := &bcsTypeTag{}
	switch t.Kind {
	case TypeBool:
		out.Bool = unit
	case TypeU8:
		out.U8 = unit
	case TypeU64:
		out.U64 = unit
	case TypeU128:
		out.U128 = unit
	case TypeAddress:
		out.Address = unit
	case TypeSigner:
		out.Signer = unit
	case TypeU16:
		out.U16 = unit
	case TypeU32:
		out.U32 = unit
	case TypeU256:
		out.U256 = unit
	case TypeVector:
		if t.Elem == nil {
			return nil, xerrors.Errorf("%w: vector type without element", ErrMalformedTxData)
		}
		elem, err := typeTagToBCS(t.Elem)
		if err != nil {
			return nil, err
		}
		out.Vector = elem
	case TypeStruct:
		if t.Struct == nil {
			return nil, xerrors.Errorf("%w: struct type without tag", ErrMalformedTxData)
		}
		st := &bcsStructTag{Address: t.Struct.Address, Module: t.Struct.Module, Name: t.Struct.Name}
		for i := range t.Struct.TypeParams {
			p, err := typeTagToBCS(&t.Struct.TypeParams[i])
			if err != nil {
				return nil, err
			}
			st.TypeParams = append(st.TypeParams, *p)
		}
		out.Struct = st
	default:
		return nil, xerrors.Errorf("%w: unknown type tag %d", ErrMalformedTxData, t.Kind)
	}
	return out, nil
}

func typeTagFromBCS(b *bcsTypeTag, depth int) (*TypeTag, error) {
	if depth > maxTypeTagDepth {
		return nil, xerrors.Errorf("%w: type tag nesting exceeds %d", ErrMalformedTxData, maxTypeTagDepth)
	}
	switch {
	case b.Bool != nil:
		return &TypeTag{Kind: TypeBool}, nil
	case b.U8 != nil:
		return &TypeTag{Kind: TypeU8}, nil
	case b.U64 != nil:
		return &TypeTag{Kind: TypeU64}, nil
	case b.U128 != nil:
		return &TypeTag{Kind: TypeU128}, nil
	case b.Address != nil:
		return &TypeTag{Kind: TypeAddress}, nil
	case b.Signer != nil:
		return &TypeTag{Kind: TypeSigner}, nil
	case b.U16 != nil:
		return &TypeTag{Kind: TypeU16}, nil
	case b.U32 != nil:
		return &TypeTag{Kind: TypeU32}, nil
	case b.U256 != nil:
		return &TypeTag{Kind: TypeU256}, nil
	case b.Vector != nil:
		elem, err := typeTagFromBCS(b.Vector, depth+1)
		if err != nil {
			return nil, err
		}
		return &TypeTag{Kind: TypeVector, Elem: elem}, nil
	case b.Struct != nil:
		st := &StructTag{Address: b.Struct.Address, Module: b.Struct.Module, Name: b.Struct.Name}
		for i := range b.Struct.TypeParams {
			p, err := typeTagFromBCS(&b.Struct.TypeParams[i], depth+1)
			if err != nil {
				return nil, err
			}
			st.TypeParams = append(st.TypeParams, *p)
		}
		return &TypeTag{Kind: TypeStruct, Struct: st}, nil
	default:
		return nil, xerrors.Errorf("%w: empty type tag", ErrMalformedTxData)
	}
}
