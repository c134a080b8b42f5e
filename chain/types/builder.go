package types

import (
	"bytes"
	"math"

	"golang.org/x/xerrors"
)

// PTBBuilder assembles a ProgrammableTransaction. Object inputs are deduplicated so the
// same object passed twice resolves to a single input, and pure inputs with identical
// bytes are shared.
type PTBBuilder struct {
	inputs   []CallArg
	objects  map[ObjectID]uint16
	commands []Command
	err      error
}

func NewPTBBuilder() *PTBBuilder {
	return &PTBBuilder{objects: map[ObjectID]uint16{}}
}

func (b *PTBBuilder) addInput(arg CallArg) Argument {
	if len(b.inputs) >= math.MaxUint16 {
		b.err = xerrors.New("too many transaction inputs")
		return Argument{}
	}
	b.inputs = append(b.inputs, arg)
	return Input(uint16(len(b.inputs) - 1))
}

// Pure adds a pure (non-object) input holding already serialized bytes.
func (b *PTBBuilder) Pure(value []byte) Argument {
	for i, in := range b.inputs {
		if in.Pure != nil && bytes.Equal(in.Pure, value) {
			return Input(uint16(i))
		}
	}
	v := make([]byte, len(value))
	copy(v, value)
	return b.addInput(CallArg{Pure: v})
}

// Object adds an object input. A shared object referenced twice keeps the strongest
// mutability.
func (b *PTBBuilder) Object(arg ObjectArg) Argument {
	id, ok := objectArgID(arg)
	if !ok {
		b.err = xerrors.Errorf("%w: empty object argument", ErrMalformedTxData)
		return Argument{}
	}
	if idx, seen := b.objects[id]; seen {
		existing := b.inputs[idx].Object
		if existing.Shared != nil && arg.Shared != nil && arg.Shared.Mutable {
			existing.Shared.Mutable = true
		}
		return Input(idx)
	}
	a := arg
	out := b.addInput(CallArg{Object: &a})
	if b.err == nil {
		b.objects[id] = out.Index
	}
	return out
}

// SharedObject is a convenience for Object with a shared object reference.
func (b *PTBBuilder) SharedObject(id ObjectID, initialSharedVersion uint64, mutable bool) Argument {
	return b.Object(ObjectArg{Shared: &SharedObjectRef{
		ObjectID:             id,
		InitialSharedVersion: initialSharedVersion,
		Mutable:              mutable,
	}})
}

func (b *PTBBuilder) command(c Command) Argument {
	if len(b.commands) >= math.MaxUint16 {
		b.err = xerrors.New("too many transaction commands")
		return Argument{}
	}
	b.commands = append(b.commands, c)
	return Result(uint16(len(b.commands) - 1))
}

// MoveCall appends a call to package::module::function.
func (b *PTBBuilder) MoveCall(pkg ObjectID, module, function string, typeArgs []TypeTag, args []Argument) Argument {
	if module == "" || function == "" {
		b.err = xerrors.Errorf("%w: move call needs a module and a function", ErrMalformedTxData)
		return Argument{}
	}
	return b.command(Command{MoveCall: &MoveCall{
		Package:       pkg,
		Module:        module,
		Function:      function,
		TypeArguments: typeArgs,
		Arguments:     args,
	}})
}

func (b *PTBBuilder) TransferObjects(objects []Argument, recipient Argument) Argument {
	return b.command(Command{TransferObjects: &TransferObjects{Objects: objects, Address: recipient}})
}

func (b *PTBBuilder) SplitCoins(coin Argument, amounts []Argument) Argument {
	return b.command(Command{SplitCoins: &SplitCoins{Coin: coin, Amounts: amounts}})
}

func (b *PTBBuilder) MergeCoins(dst Argument, srcs []Argument) Argument {
	return b.command(Command{MergeCoins: &MergeCoins{Destination: dst, Sources: srcs}})
}

// Finish returns the built transaction or the first error recorded while building.
func (b *PTBBuilder) Finish() (ProgrammableTransaction, error) {
	if b.err != nil {
		return ProgrammableTransaction{}, b.err
	}
	if len(b.commands) == 0 {
		return ProgrammableTransaction{}, xerrors.Errorf("%w: no commands", ErrMalformedTxData)
	}
	return ProgrammableTransaction{
		Inputs:   append([]CallArg{}, b.inputs...),
		Commands: append([]Command{}, b.commands...),
	}, nil
}

func objectArgID(arg ObjectArg) (ObjectID, bool) {
	switch {
	case arg.ImmOrOwned != nil:
		return arg.ImmOrOwned.ObjectID, true
	case arg.Shared != nil:
		return arg.Shared.ObjectID, true
	case arg.Receiving != nil:
		return arg.Receiving.ObjectID, true
	}
	return ObjectID{}, false
}

// NewProgrammable builds transaction data for a programmable payload.
func NewProgrammable(sender Address, payment []ObjectRef, pt ProgrammableTransaction, budget, price uint64) *TransactionData {
	return &TransactionData{
		Sender: sender,
		Kind:   pt,
		GasData: GasData{
			Payment: append([]ObjectRef{}, payment...),
			Owner:   sender,
			Price:   price,
			Budget:  budget,
		},
	}
}
