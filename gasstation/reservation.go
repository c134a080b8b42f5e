package gasstation

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/lens"
)

// State is the lifecycle position of a reservation.
type State int

const (
	StateRequested State = iota
	StateActive
	// StateExecuting marks the single Execute call allowed to proceed.
	StateExecuting
	StateSettled
	StateExpired
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateActive:
		return "active"
	case StateExecuting:
		return "executing"
	case StateSettled:
		return "settled"
	case StateExpired:
		return "expired"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSettled || s == StateExpired || s == StateReleased
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for st := StateRequested; st <= StateReleased; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return xerrors.Errorf("unknown reservation state %q", text)
}

// Reservation is a snapshot of a time bounded lease over sponsor coins.
type Reservation struct {
	ID        uint64            `json:"reservation_id"`
	Sponsor   types.Address     `json:"sponsor_address"`
	Coins     []types.ObjectRef `json:"gas_coins"`
	Amount    uint64            `json:"amount"`
	State     State             `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	ClosedAt  time.Time         `json:"closed_at"`
	// Sender, Digest and GasUsed are set once the reservation settles.
	Sender  *types.Address `json:"sender,omitempty"`
	Digest  *types.Digest  `json:"digest,omitempty"`
	GasUsed uint64         `json:"gas_used"`
}

// reservation is the manager's record. Its fields are guarded by the manager's mutex.
type reservation struct {
	Reservation
	coins []lens.Coin
	log   *zap.SugaredLogger
}

func (r *reservation) snapshot() Reservation {
	s := r.Reservation
	s.Coins = make([]types.ObjectRef, len(r.coins))
	for i, c := range r.coins {
		s.Coins[i] = c.Ref
	}
	if r.Digest != nil {
		d := *r.Digest
		s.Digest = &d
	}
	if r.Sender != nil {
		a := *r.Sender
		s.Sender = &a
	}
	return s
}

func (r *reservation) balance() uint64 {
	var total uint64
	for _, c := range r.coins {
		total += c.Balance
	}
	return total
}

// leases reports whether id is one of the reservation's coins.
func (r *reservation) leases(id types.ObjectID) bool {
	for _, c := range r.coins {
		if c.Ref.ObjectID == id {
			return true
		}
	}
	return false
}
