package api

import (
	"context"
	"net/http"

	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/faucet"
	"github.com/iota-community/sponsored-transactions-demo/gasstation"
	"github.com/iota-community/sponsored-transactions-demo/guard"
	"github.com/iota-community/sponsored-transactions-demo/keys"
	"github.com/iota-community/sponsored-transactions-demo/sigs"
	"github.com/iota-community/sponsored-transactions-demo/sponsor"
)

var badRequests = []error{
	errBadRequest,
	gasstation.ErrInvalidRequest,
	gasstation.ErrPaymentMismatch,
	types.ErrInvalidAddress,
	types.ErrMalformedTxData,
	types.ErrZeroGasBudget,
	types.ErrZeroGasPrice,
	types.ErrNoGasPayment,
	keys.ErrInvalidSignature,
	sigs.ErrSignatureMismatch,
	sigs.ErrUnexpectedSigner,
	sigs.ErrDuplicateSigner,
	sigs.ErrMissingSignature,
	sigs.ErrGasCoinUsed,
	sponsor.ErrUnknownContent,
	sponsor.ErrSelfSponsored,
}

// statusOf maps an error from the sponsoring components to an HTTP status.
func statusOf(err error) int {
	var faucetErr *faucet.FaucetError
	switch {
	case xerrors.Is(err, guard.ErrAlreadyFunded):
		return http.StatusConflict
	case xerrors.Is(err, gasstation.ErrStaleCoinReference):
		return http.StatusConflict
	case xerrors.As(err, &faucetErr):
		return http.StatusBadGateway
	case xerrors.Is(err, faucet.ErrConfirmationTimeout), xerrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case xerrors.Is(err, gasstation.ErrUnknownReservation):
		return http.StatusNotFound
	case xerrors.Is(err, gasstation.ErrReservationExpired):
		return http.StatusGone
	case xerrors.Is(err, gasstation.ErrInsufficientGas):
		return http.StatusServiceUnavailable
	}
	for _, target := range badRequests {
		if xerrors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}
