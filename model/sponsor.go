package model

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/iota-community/sponsored-transactions-demo/metrics"
)

// Models registers every persisted model. Storage backends create one table per entry.
var Models = []interface{}{
	(*SponsoredTransaction)(nil),
	(*FundingRequest)(nil),
}

// SponsoredTransaction records the outcome of a gas reservation.
type SponsoredTransaction struct {
	tableName struct{} `pg:"sponsored_transactions"` // nolint: structcheck,unused

	ReservationID int64  `pg:",pk,notnull,use_zero"`
	Sponsor       string `pg:",notnull"`
	Sender        string
	Digest        string
	// State is the terminal state of the reservation: settled, expired or released.
	State     string    `pg:",notnull"`
	GasBudget int64     `pg:",notnull,use_zero"`
	GasUsed   int64     `pg:",notnull,use_zero"`
	Coins     []string  `pg:",array"`
	CreatedAt time.Time `pg:",notnull"`
	ClosedAt  time.Time `pg:",notnull"`
}

func (s *SponsoredTransaction) Persist(ctx context.Context, b StorageBatch) error {
	ctx, span := otel.Tracer("").Start(ctx, "SponsoredTransaction.Persist")
	defer span.End()

	ctx = metrics.WithTagValue(ctx, metrics.Table, "sponsored_transactions")
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	return b.PersistModel(ctx, s)
}

// FundingRequest records a faucet funding attempt for a recipient.
type FundingRequest struct {
	tableName struct{} `pg:"funding_requests"` // nolint: structcheck,unused

	Recipient string `pg:",pk,notnull"`
	Coin      string
	// Outcome is funded, faucet_error, timeout or error.
	Outcome     string `pg:",notnull"`
	Message     string
	RequestedAt time.Time `pg:",pk,notnull"`
	DurationMs  int64     `pg:",notnull,use_zero"`
}

func (f *FundingRequest) Persist(ctx context.Context, b StorageBatch) error {
	ctx, span := otel.Tracer("").Start(ctx, "FundingRequest.Persist")
	defer span.End()

	ctx = metrics.WithTagValue(ctx, metrics.Table, "funding_requests")
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	return b.PersistModel(ctx, f)
}
