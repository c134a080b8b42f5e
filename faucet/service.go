package faucet

import (
	"context"
	"time"

	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/guard"
	"github.com/iota-community/sponsored-transactions-demo/metrics"
	"github.com/iota-community/sponsored-transactions-demo/model"
	"github.com/iota-community/sponsored-transactions-demo/storage"
)

// Funding outcomes recorded in metrics and storage.
const (
	OutcomeFunded        = "funded"
	OutcomeAlreadyFunded = "already_funded"
	OutcomeFaucetError   = "faucet_error"
	OutcomeTimeout       = "timeout"
	OutcomeError         = "error"
)

// Requester requests funding for an address and confirms it on chain.
type Requester interface {
	RequestAndConfirm(ctx context.Context, addr types.Address) (types.ObjectID, error)
}

// Service funds each recipient at most once: the guard is claimed before the faucet is
// asked, and a claim is kept even when the funding fails.
type Service struct {
	guard   *guard.Guard
	client  Requester
	storage model.Storage
	clock   clock.Clock
}

// NewService returns a Service. A nil st discards funding records.
func NewService(g *guard.Guard, client Requester, st model.Storage, clk clock.Clock) *Service {
	if st == nil {
		st = &storage.NullStorage{}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Service{guard: g, client: client, storage: st, clock: clk}
}

// Fund claims addr in the guard and funds it from the faucet. It returns
// guard.ErrAlreadyFunded for a repeated recipient without contacting the faucet.
func (s *Service) Fund(ctx context.Context, addr types.Address) (types.ObjectID, error) {
	if err := s.guard.TryClaim(ctx, addr); err != nil {
		metrics.RecordInc(metrics.WithTagValue(ctx, metrics.Outcome, OutcomeAlreadyFunded), metrics.FundingOutcome)
		return types.ObjectID{}, err
	}

	start := s.clock.Now()
	coin, err := s.client.RequestAndConfirm(ctx, addr)
	elapsed := s.clock.Since(start)

	outcome := fundingOutcome(err)
	octx := metrics.WithTagValue(ctx, metrics.Outcome, outcome)
	metrics.RecordInc(octx, metrics.FundingOutcome)
	metrics.RecordDuration(octx, metrics.FundingDuration, elapsed)

	rec := &model.FundingRequest{
		Recipient:   addr.String(),
		Outcome:     outcome,
		RequestedAt: start,
		DurationMs:  elapsed.Milliseconds(),
	}
	if err != nil {
		rec.Message = err.Error()
		log.Warnw("funding failed", "recipient", addr, "outcome", outcome, "error", err)
	} else {
		rec.Coin = coin.String()
	}
	if perr := s.record(ctx, rec); perr != nil {
		log.Errorw("failed to record funding request", "recipient", addr, "error", perr)
	}

	if err != nil {
		return types.ObjectID{}, xerrors.Errorf("fund %s: %w", addr, err)
	}
	return coin, nil
}

func (s *Service) record(ctx context.Context, rec *model.FundingRequest) error {
	// the caller's context may already be cancelled, the record is still wanted
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return s.storage.PersistBatch(pctx, rec)
}

func fundingOutcome(err error) string {
	var ferr *FaucetError
	switch {
	case err == nil:
		return OutcomeFunded
	case xerrors.As(err, &ferr):
		return OutcomeFaucetError
	case xerrors.Is(err, ErrConfirmationTimeout):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}
