package iota

import (
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/lens"
)

type objectOptions struct {
	ShowType    bool `json:"showType"`
	ShowOwner   bool `json:"showOwner"`
	ShowContent bool `json:"showContent"`
}

type transactionOptions struct {
	ShowEffects bool `json:"showEffects"`
}

type objectData struct {
	ObjectID types.ObjectID       `json:"objectId"`
	Version  types.SequenceNumber `json:"version"`
	Digest   types.Digest         `json:"digest"`
	Type     string               `json:"type"`
	Owner    *types.Owner         `json:"owner"`
	Content  *objectContent       `json:"content"`
}

// objectContent is the parsed Move content of an object. Only coin balances are read.
type objectContent struct {
	DataType string `json:"dataType"`
	Fields   struct {
		Balance *types.Uint64 `json:"balance"`
	} `json:"fields"`
}

type objectError struct {
	Code     string          `json:"code"`
	ObjectID *types.ObjectID `json:"object_id"`
}

type objectResponse struct {
	Data  *objectData  `json:"data"`
	Error *objectError `json:"error"`
}

func (r *objectResponse) object() (*lens.Object, error) {
	if r == nil {
		return nil, lens.ErrObjectNotFound
	}
	if r.Error != nil {
		switch r.Error.Code {
		case "notExists", "deleted":
			return nil, xerrors.Errorf("%w: %s", lens.ErrObjectNotFound, r.Error.Code)
		default:
			return nil, xerrors.Errorf("node error %s", r.Error.Code)
		}
	}
	if r.Data == nil {
		return nil, lens.ErrObjectNotFound
	}
	obj := &lens.Object{
		Ref:  types.ObjectRef{ObjectID: r.Data.ObjectID, Version: r.Data.Version, Digest: r.Data.Digest},
		Type: r.Data.Type,
	}
	if r.Data.Owner != nil {
		obj.Owner = *r.Data.Owner
	}
	if c := r.Data.Content; c != nil && c.DataType == "moveObject" && c.Fields.Balance != nil {
		obj.Balance = uint64(*c.Fields.Balance)
	}
	return obj, nil
}

type coin struct {
	CoinType     string               `json:"coinType"`
	CoinObjectID types.ObjectID       `json:"coinObjectId"`
	Version      types.SequenceNumber `json:"version"`
	Digest       types.Digest         `json:"digest"`
	Balance      types.Uint64         `json:"balance"`
}

type coinPage struct {
	Data        []coin  `json:"data"`
	NextCursor  *string `json:"nextCursor"`
	HasNextPage bool    `json:"hasNextPage"`
}

type gasCostSummary struct {
	ComputationCost         types.Uint64 `json:"computationCost"`
	StorageCost             types.Uint64 `json:"storageCost"`
	StorageRebate           types.Uint64 `json:"storageRebate"`
	NonRefundableStorageFee types.Uint64 `json:"nonRefundableStorageFee"`
}

type ownedObjectRef struct {
	Owner     types.Owner     `json:"owner"`
	Reference types.ObjectRef `json:"reference"`
}

type executionStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type txEffects struct {
	Status            executionStatus `json:"status"`
	GasUsed           gasCostSummary  `json:"gasUsed"`
	GasObject         ownedObjectRef  `json:"gasObject"`
	TransactionDigest types.Digest    `json:"transactionDigest"`
}

type transactionResponse struct {
	Digest  types.Digest `json:"digest"`
	Effects *txEffects   `json:"effects"`
}

func (r *transactionResponse) effects() *lens.TransactionEffects {
	e := r.Effects
	return &lens.TransactionEffects{
		Digest: r.Digest,
		Status: lens.ExecutionStatus(e.Status.Status),
		Error:  e.Status.Error,
		GasUsed: lens.GasCostSummary{
			ComputationCost:         uint64(e.GasUsed.ComputationCost),
			StorageCost:             uint64(e.GasUsed.StorageCost),
			StorageRebate:           uint64(e.GasUsed.StorageRebate),
			NonRefundableStorageFee: uint64(e.GasUsed.NonRefundableStorageFee),
		},
		GasObject: e.GasObject.Reference,
		GasOwner:  e.GasObject.Owner,
	}
}
