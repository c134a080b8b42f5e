package gasstation

import (
	"context"
	"sync"

	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/lens"
	"github.com/iota-community/sponsored-transactions-demo/metrics"
)

type confirmOutcome int

const (
	// coin unchanged or moved on while still the sponsor's: back to the pool
	confirmReturned confirmOutcome = iota
	// coin consumed or transferred away: forgotten
	confirmDropped
	// chain read failed: try again later
	confirmRetry
)

type confirmResult struct {
	coin    lens.Coin
	outcome confirmOutcome
	err     error
}

// confirmUnconfirmed re-reads every unconfirmed coin from the chain. Coins still owned
// by the sponsor return to the pool with their current reference and balance, coins
// that were consumed or transferred are dropped, and coins that could not be read stay
// unconfirmed. No lock is held while reading.
func (m *Manager) confirmUnconfirmed(ctx context.Context) error {
	m.mu.Lock()
	coins := m.unconfirmed
	m.unconfirmed = nil
	for _, c := range coins {
		m.confirming[c.Ref.ObjectID] = struct{}{}
	}
	m.mu.Unlock()

	if len(coins) == 0 {
		return nil
	}

	results := m.confirmCoins(ctx, coins)

	var (
		returned []lens.Coin
		retry    []lens.Coin
		pooled   int
		firstErr error
		dropped  int
	)
	for _, res := range results {
		switch res.outcome {
		case confirmReturned:
			if res.coin.Balance >= m.cfg.MinCoinBalance {
				returned = append(returned, res.coin)
			} else {
				dropped++
			}
		case confirmDropped:
			dropped++
		case confirmRetry:
			retry = append(retry, res.coin)
			if firstErr == nil {
				firstErr = res.err
			}
		}
	}

	m.mu.Lock()
	for _, c := range coins {
		delete(m.confirming, c.Ref.ObjectID)
	}
	for _, c := range returned {
		if m.poolLocked(c) {
			pooled++
		}
	}
	m.unconfirmed = append(m.unconfirmed, retry...)
	pool := len(m.pool)
	m.mu.Unlock()

	metrics.RecordGauge(ctx, metrics.PoolCoins, pool)
	log.Infow("confirmed released coins", "returned", pooled, "dropped", dropped, "retry", len(retry))
	if firstErr != nil {
		return xerrors.Errorf("confirm released coins: %w", firstErr)
	}
	return nil
}

// returnReleased is confirmUnconfirmed for callers that cannot act on its error. Coins
// that could not be confirmed are picked up by a later call.
func (m *Manager) returnReleased(ctx context.Context) {
	if err := m.confirmUnconfirmed(ctx); err != nil {
		log.Warnw("released coins left unconfirmed", "error", err)
	}
}

// confirmCoins reads each coin on the confirmation worker pool and waits for all of
// them. Results are in the order of coins.
func (m *Manager) confirmCoins(ctx context.Context, coins []lens.Coin) []confirmResult {
	results := make([]confirmResult, len(coins))
	var wg sync.WaitGroup
	for i := range coins {
		i := i
		wg.Add(1)
		m.workers.Submit(func() {
			defer wg.Done()
			results[i] = m.confirmCoin(ctx, coins[i])
		})
	}
	wg.Wait()
	return results
}

func (m *Manager) confirmCoin(ctx context.Context, c lens.Coin) confirmResult {
	obj, err := m.chain.GetObject(ctx, c.Ref.ObjectID)
	if xerrors.Is(err, lens.ErrObjectNotFound) {
		log.Debugw("released coin no longer exists", "coin", c.Ref.ObjectID)
		return confirmResult{coin: c, outcome: confirmDropped}
	}
	if err != nil {
		return confirmResult{coin: c, outcome: confirmRetry, err: err}
	}
	owner, ok := obj.Owner.AddressOwner()
	if !ok || owner != m.cfg.Sponsor {
		log.Infow("released coin changed hands", "coin", c.Ref.ObjectID, "owner", obj.Owner)
		return confirmResult{coin: c, outcome: confirmDropped}
	}
	if obj.Ref.SameVersion(c.Ref) {
		return confirmResult{coin: c, outcome: confirmReturned}
	}
	log.Infow("released coin was used on chain", "coin", c.Ref.ObjectID, "version", uint64(obj.Ref.Version))
	return confirmResult{
		coin:    lens.Coin{Ref: obj.Ref, CoinType: c.CoinType, Balance: obj.Balance},
		outcome: confirmReturned,
	}
}
