// Package guard remembers which addresses have already been funded so that each one is
// funded at most once.
package guard

import (
	"context"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/metrics"
)

var log = logging.Logger("sponsor/guard")

// ErrAlreadyFunded is returned by TryClaim for an address that was claimed before.
var ErrAlreadyFunded = xerrors.New("address already funded")

// Guard is the set of funded addresses. It only grows: a claim is never rolled back,
// even when the funding that follows it fails.
type Guard struct {
	mu     sync.Mutex
	funded map[types.Address]struct{}
}

func New() *Guard {
	return &Guard{funded: make(map[types.Address]struct{})}
}

// TryClaim records addr as funded and returns nil if it was not yet recorded, and
// ErrAlreadyFunded otherwise. Of any number of concurrent claims for the same address
// exactly one succeeds.
func (g *Guard) TryClaim(ctx context.Context, addr types.Address) error {
	g.mu.Lock()
	if _, ok := g.funded[addr]; ok {
		g.mu.Unlock()
		log.Debugw("rejected repeated funding request", "address", addr)
		return xerrors.Errorf("%w: %s", ErrAlreadyFunded, addr)
	}
	g.funded[addr] = struct{}{}
	n := len(g.funded)
	g.mu.Unlock()

	metrics.RecordGauge(ctx, metrics.FundedAddresses, n)
	log.Infow("claimed address for funding", "address", addr, "funded", n)
	return nil
}

// Funded reports whether addr has been claimed.
func (g *Guard) Funded(addr types.Address) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.funded[addr]
	return ok
}

func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.funded)
}

// Restore marks addrs as funded, for example from persisted funding records at startup.
func (g *Guard) Restore(addrs []types.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, a := range addrs {
		g.funded[a] = struct{}{}
	}
}
