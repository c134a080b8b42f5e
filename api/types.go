package api

import (
	"time"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/gasstation"
	"github.com/iota-community/sponsored-transactions-demo/lens"
)

type FundRequest struct {
	Sender string `json:"sender"`
}

type FundResponse struct {
	Address types.Address  `json:"address"`
	Status  string         `json:"status"`
	Coin    types.ObjectID `json:"coin"`
}

type SponsorRequest struct {
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

// SponsorResponse carries a transaction signed by the sponsor. The recipient adds its
// own signature and either submits both itself or hands them to ExecuteTx.
type SponsorResponse struct {
	TxBytes          string    `json:"tx_bytes"`
	SponsorSignature string    `json:"sponsor_signature"`
	ReservationID    uint64    `json:"reservation_id"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type ReserveGasRequest struct {
	GasBudget           uint64 `json:"gas_budget"`
	ReserveDurationSecs uint64 `json:"reserve_duration_secs"`
}

type ReserveGasResult struct {
	SponsorAddress types.Address     `json:"sponsor_address"`
	ReservationID  uint64            `json:"reservation_id"`
	GasCoins       []types.ObjectRef `json:"gas_coins"`
}

type ReserveGasResponse struct {
	Result *ReserveGasResult `json:"result"`
	Error  *string           `json:"error"`
}

type ExecuteTxRequest struct {
	ReservationID uint64 `json:"reservation_id"`
	TxBytes       string `json:"tx_bytes"`
	UserSig       string `json:"user_sig"`
}

type ExecuteTxResponse struct {
	Effects *Effects `json:"effects"`
	Error   *string  `json:"error"`
}

type GasUsed struct {
	ComputationCost         types.Uint64 `json:"computationCost"`
	StorageCost             types.Uint64 `json:"storageCost"`
	StorageRebate           types.Uint64 `json:"storageRebate"`
	NonRefundableStorageFee types.Uint64 `json:"nonRefundableStorageFee"`
}

// Effects is the wire form of lens.TransactionEffects.
type Effects struct {
	Digest    types.Digest    `json:"transactionDigest"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	GasUsed   GasUsed         `json:"gasUsed"`
	GasObject types.ObjectRef `json:"gasObject"`
}

func (e *Effects) Succeeded() bool {
	return e.Status == string(lens.StatusSuccess)
}

func effectsFrom(e *lens.TransactionEffects) *Effects {
	return &Effects{
		Digest: e.Digest,
		Status: string(e.Status),
		Error:  e.Error,
		GasUsed: GasUsed{
			ComputationCost:         types.Uint64(e.GasUsed.ComputationCost),
			StorageCost:             types.Uint64(e.GasUsed.StorageCost),
			StorageRebate:           types.Uint64(e.GasUsed.StorageRebate),
			NonRefundableStorageFee: types.Uint64(e.GasUsed.NonRefundableStorageFee),
		},
		GasObject: e.GasObject,
	}
}

type StatsResponse = gasstation.Stats

type ErrorResponse struct {
	Error string `json:"error"`
}

func errorString(err error) *string {
	s := err.Error()
	return &s
}
