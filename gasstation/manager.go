// Package gasstation leases sponsor owned gas coins to one transaction at a time for a
// bounded time, and signs and submits the transactions that use them.
package gasstation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	lru "github.com/hashicorp/golang-lru"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/atomic"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/keys"
	"github.com/iota-community/sponsored-transactions-demo/lens"
	"github.com/iota-community/sponsored-transactions-demo/metrics"
	"github.com/iota-community/sponsored-transactions-demo/model"
	"github.com/iota-community/sponsored-transactions-demo/sigs"
	"github.com/iota-community/sponsored-transactions-demo/sponsor"
	"github.com/iota-community/sponsored-transactions-demo/storage"
)

var log = logging.Logger("sponsor/gasstation")

var (
	ErrInsufficientGas    = sponsor.ErrInsufficientGas
	ErrStaleCoinReference = sponsor.ErrStaleCoinReference
	// ErrUnknownReservation is returned for an id that was never issued or is no longer
	// active.
	ErrUnknownReservation = xerrors.New("unknown reservation")
	ErrReservationExpired = xerrors.New("reservation expired")
	ErrInvalidRequest     = xerrors.New("invalid reservation request")
	// ErrPaymentMismatch is returned when a transaction does not pay with exactly the
	// coins of its reservation.
	ErrPaymentMismatch = xerrors.New("transaction payment does not match reservation")
)

const (
	DefaultTTL            = time.Minute
	DefaultMaxTTL         = 10 * time.Minute
	DefaultHistorySize    = 1024
	DefaultConfirmWorkers = 4
)

type Config struct {
	Sponsor        types.Address
	MinCoinBalance uint64
	DefaultTTL     time.Duration
	MaxTTL         time.Duration
	// HistorySize bounds the number of closed reservations kept for Get.
	HistorySize    int
	ConfirmWorkers int
	PageSize       uint
}

// Manager owns the sponsor's coin pool. A coin is in at most one place at a time: the
// pool of available coins, the leases of active reservations, the unconfirmed list of
// coins released by reservations that did not settle, or the set being confirmed.
// Released coins return to the pool only after the chain shows they are still the
// sponsor's.
type Manager struct {
	cfg     Config
	chain   lens.API
	ks      keys.Keystore
	clock   clock.Clock
	storage model.Storage

	mu          sync.Mutex
	pool        []lens.Coin
	active      map[uint64]*reservation
	unconfirmed []lens.Coin
	confirming  map[types.ObjectID]struct{}
	nextID      uint64

	history *lru.Cache
	workers *workerpool.WorkerPool

	fees     atomic.Uint64
	executed atomic.Uint64
}

// NewManager returns a manager with an empty pool. Call Refresh to load the sponsor's
// coins. A nil st discards reservation records, a nil clk uses the wall clock.
func NewManager(cfg Config, chain lens.API, ks keys.Keystore, st model.Storage, clk clock.Clock) (*Manager, error) {
	if cfg.Sponsor.IsZero() {
		return nil, xerrors.New("sponsor address is required")
	}
	if !ks.Has(cfg.Sponsor) {
		return nil, xerrors.Errorf("keystore has no key for sponsor %s: %w", cfg.Sponsor, keys.ErrKeyNotFound)
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = DefaultMaxTTL
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.ConfirmWorkers <= 0 {
		cfg.ConfirmWorkers = DefaultConfirmWorkers
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 50
	}
	if st == nil {
		st = &storage.NullStorage{}
	}
	if clk == nil {
		clk = clock.New()
	}

	history, err := lru.New(cfg.HistorySize)
	if err != nil {
		return nil, xerrors.Errorf("new reservation history: %w", err)
	}

	// ids are seeded from the clock so records of different runs do not collide
	return &Manager{
		cfg:        cfg,
		chain:      chain,
		ks:         ks,
		clock:      clk,
		storage:    st,
		active:     make(map[uint64]*reservation),
		confirming: make(map[types.ObjectID]struct{}),
		nextID:     uint64(clk.Now().UnixMicro()),
		history:    history,
		workers:    workerpool.New(cfg.ConfirmWorkers),
	}, nil
}

// Sponsor returns the address that owns the pooled coins.
func (m *Manager) Sponsor() types.Address {
	return m.cfg.Sponsor
}

// DefaultTTL is the lifetime used when a caller does not name one.
func (m *Manager) DefaultTTL() time.Duration {
	return m.cfg.DefaultTTL
}

// Close stops the confirmation workers.
func (m *Manager) Close() {
	m.workers.StopWait()
}

// Refresh merges the sponsor's coins as currently reported by the chain into the pool.
// Coins that are leased or awaiting confirmation are skipped, and a pooled coin keeps
// its reference when it is newer than the one read from the chain.
func (m *Manager) Refresh(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("").Start(ctx, "Manager.Refresh")
	defer span.End()

	coins, err := lens.CollectCoins(ctx, m.chain, m.cfg.Sponsor, lens.GasCoinType, m.cfg.PageSize)
	if err != nil {
		return 0, xerrors.Errorf("refresh coin pool: %w", err)
	}

	m.mu.Lock()
	busy := m.busyLocked()
	pooled := make(map[types.ObjectID]lens.Coin, len(m.pool))
	for _, c := range m.pool {
		pooled[c.Ref.ObjectID] = c
	}
	pool := make([]lens.Coin, 0, len(coins))
	for _, c := range coins {
		if _, ok := busy[c.Ref.ObjectID]; ok {
			continue
		}
		if cur, ok := pooled[c.Ref.ObjectID]; ok && cur.Ref.Version > c.Ref.Version {
			c = cur
		}
		if c.Balance < m.cfg.MinCoinBalance {
			continue
		}
		pool = append(pool, c)
	}
	m.pool = pool
	n := len(pool)
	m.recordGaugesLocked()
	m.mu.Unlock()

	log.Infow("refreshed coin pool", "sponsor", m.cfg.Sponsor, "coins", n, "skipped", len(coins)-n)
	return n, nil
}

// busyLocked returns the ids of coins that must not enter the pool: those leased by
// active reservations, released and waiting for confirmation, or being confirmed.
func (m *Manager) busyLocked() map[types.ObjectID]struct{} {
	busy := make(map[types.ObjectID]struct{}, len(m.unconfirmed)+len(m.confirming))
	for _, r := range m.active {
		for _, c := range r.coins {
			busy[c.Ref.ObjectID] = struct{}{}
		}
	}
	for _, c := range m.unconfirmed {
		busy[c.Ref.ObjectID] = struct{}{}
	}
	for id := range m.confirming {
		busy[id] = struct{}{}
	}
	return busy
}

// poolLocked returns c to the pool. A coin leased by an active reservation is left
// alone and a coin already pooled keeps the newer of the two references. It reports
// whether the pool holds c afterwards.
func (m *Manager) poolLocked(c lens.Coin) bool {
	for _, r := range m.active {
		if r.leases(c.Ref.ObjectID) {
			return false
		}
	}
	for i, cur := range m.pool {
		if cur.Ref.ObjectID != c.Ref.ObjectID {
			continue
		}
		if c.Ref.Version > cur.Ref.Version {
			m.pool[i] = c
			return true
		}
		return cur.Ref.SameVersion(c.Ref)
	}
	m.pool = append(m.pool, c)
	return true
}

// Reserve leases sponsor coins covering amount for ttl. A ttl above the configured
// maximum is clamped to it. When the pool falls short, released coins are confirmed
// and, if the pool is empty, it is refilled from the chain before trying once more.
func (m *Manager) Reserve(ctx context.Context, amount uint64, ttl time.Duration) (*Reservation, error) {
	ctx, span := otel.Tracer("").Start(ctx, "Manager.Reserve")
	defer span.End()
	span.SetAttributes(attribute.Int64("amount", int64(amount)), attribute.String("ttl", ttl.String()))

	if amount == 0 {
		return nil, xerrors.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if ttl <= 0 {
		return nil, xerrors.Errorf("%w: ttl must be positive", ErrInvalidRequest)
	}
	if ttl > m.cfg.MaxTTL {
		ttl = m.cfg.MaxTTL
	}

	for attempt := 0; ; attempt++ {
		res, swept, err := m.lease(amount, ttl)
		m.recordClosed(ctx, swept...)
		if len(swept) > 0 {
			m.returnReleased(ctx)
		}
		if err == nil {
			res.log.Infow("reserved gas", "amount", amount, "coins", len(res.coins), "expires_at", res.ExpiresAt)
			m.mu.Lock()
			snap := res.snapshot()
			m.mu.Unlock()
			return &snap, nil
		}
		if !xerrors.Is(err, ErrInsufficientGas) || attempt > 0 {
			return nil, err
		}

		m.returnReleased(ctx)
		if m.poolEmpty() {
			if _, err := m.Refresh(ctx); err != nil {
				return nil, err
			}
		}
	}
}

// lease is the select and lease critical section. Overdue reservations are expired
// first so their coins join the unconfirmed list.
func (m *Manager) lease(amount uint64, ttl time.Duration) (*reservation, []Reservation, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	swept := m.expireLocked(now)

	chosen, err := sponsor.ChooseCoins(m.pool, amount, m.cfg.MinCoinBalance)
	if err != nil {
		return nil, swept, err
	}

	m.nextID++
	r := &reservation{
		Reservation: Reservation{
			ID:        m.nextID,
			Sponsor:   m.cfg.Sponsor,
			Amount:    amount,
			State:     StateActive,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		},
		coins: chosen,
		log:   log.With("reservation", m.nextID),
	}
	m.active[r.ID] = r

	remaining := m.pool[:0:0]
	for _, c := range m.pool {
		if !r.leases(c.Ref.ObjectID) {
			remaining = append(remaining, c)
		}
	}
	m.pool = remaining
	m.recordGaugesLocked()
	return r, swept, nil
}

// Execute submits txBytes for reservation id, signed by the sender with senderSig and
// by the sponsor. Only one call per reservation gets past the state check. A
// reservation past its expiry is expired instead and its coins are confirmed and
// returned before ErrReservationExpired is returned. Any failure after the check
// releases the reservation.
func (m *Manager) Execute(ctx context.Context, id uint64, txBytes []byte, senderSig keys.Signature) (*lens.TransactionEffects, error) {
	ctx, span := otel.Tracer("").Start(ctx, "Manager.Execute")
	defer span.End()
	span.SetAttributes(attribute.Int64("reservation", int64(id)))

	stop := metrics.Timer(ctx, metrics.ExecuteDuration)
	defer stop()

	now := m.clock.Now()
	m.mu.Lock()
	r, ok := m.active[id]
	if !ok || r.State != StateActive {
		m.mu.Unlock()
		return nil, m.inactiveError(id)
	}
	if !now.Before(r.ExpiresAt) {
		snap := m.closeLocked(r, StateExpired, now, true)
		m.mu.Unlock()

		r.log.Infow("execute after expiry", "expired_at", snap.ExpiresAt)
		m.recordClosed(ctx, snap)
		m.returnReleased(ctx)
		return nil, xerrors.Errorf("%w: reservation %d expired at %s", ErrReservationExpired, id, snap.ExpiresAt.Format(time.RFC3339))
	}
	r.State = StateExecuting
	m.mu.Unlock()

	tx, effects, err := m.submit(ctx, r, txBytes, senderSig)
	if err != nil {
		m.mu.Lock()
		snap := m.closeLocked(r, StateReleased, m.clock.Now(), true)
		m.mu.Unlock()

		r.log.Warnw("execution failed, releasing reservation", "error", err)
		m.recordClosed(ctx, snap)
		m.returnReleased(ctx)
		return nil, err
	}

	m.settle(ctx, r, tx, effects)
	return effects, nil
}

// submit checks the transaction against the reservation, adds the sponsor signature and
// executes it.
func (m *Manager) submit(ctx context.Context, r *reservation, txBytes []byte, senderSig keys.Signature) (*types.TransactionData, *lens.TransactionEffects, error) {
	tx, err := types.DecodeTransactionData(txBytes)
	if err != nil {
		return nil, nil, xerrors.Errorf("decode transaction: %w", err)
	}
	if err := m.checkPayment(r, tx); err != nil {
		return nil, nil, err
	}
	if signer := senderSig.Signer(); signer != tx.Sender {
		return nil, nil, xerrors.Errorf("%w: signed by %s, sender is %s", sigs.ErrSignatureMismatch, signer, tx.Sender)
	}
	if err := sigs.Verify(txBytes, senderSig); err != nil {
		return nil, nil, err
	}

	sponsorSig, err := sigs.SignBytes(m.ks, m.cfg.Sponsor, txBytes)
	if err != nil {
		return nil, nil, err
	}
	env, err := sigs.ComposeBytes(txBytes, tx, senderSig, sponsorSig)
	if err != nil {
		return nil, nil, err
	}

	effects, err := m.chain.ExecuteTransaction(ctx, env.TxBytes, env.Signatures)
	if xerrors.Is(err, lens.ErrStaleObject) {
		return nil, nil, xerrors.Errorf("%w: %v", ErrStaleCoinReference, err)
	}
	if err != nil {
		return nil, nil, xerrors.Errorf("execute transaction: %w", err)
	}
	return tx, effects, nil
}

// checkPayment accepts only transactions paid by the sponsor with exactly the leased
// coins, within the reserved amount, that leave the gas coin alone.
func (m *Manager) checkPayment(r *reservation, tx *types.TransactionData) error {
	if tx.GasOwner() != m.cfg.Sponsor {
		return xerrors.Errorf("%w: gas owner is %s", ErrPaymentMismatch, tx.GasOwner())
	}
	if !tx.IsSponsored() {
		return xerrors.Errorf("%w: sender is the sponsor", ErrPaymentMismatch)
	}
	if err := tx.Validate(); err != nil {
		return err
	}
	if len(tx.GasData.Payment) != len(r.coins) {
		return xerrors.Errorf("%w: pays with %d coins, %d reserved", ErrPaymentMismatch, len(tx.GasData.Payment), len(r.coins))
	}
	for _, ref := range tx.GasData.Payment {
		if !r.leases(ref.ObjectID) {
			return xerrors.Errorf("%w: coin %s is not reserved", ErrPaymentMismatch, ref.ObjectID)
		}
	}
	if tx.GasData.Budget > r.Amount {
		return xerrors.Errorf("%w: budget %d exceeds reserved %d", ErrPaymentMismatch, tx.GasData.Budget, r.Amount)
	}
	if tx.Kind.UsesGasCoin() {
		return sigs.ErrGasCoinUsed
	}
	return nil
}

// settle closes an executed reservation. The smashed gas coin returns to the pool with
// the reserved balance minus the gas charged; merged coins are gone.
func (m *Manager) settle(ctx context.Context, r *reservation, tx *types.TransactionData, effects *lens.TransactionEffects) {
	charged := effects.GasUsed.Net()

	m.mu.Lock()
	sender := tx.Sender
	r.Sender = &sender
	digest := effects.Digest
	r.Digest = &digest
	r.GasUsed = charged
	remaining := r.balance()
	if charged < remaining {
		remaining -= charged
	} else {
		remaining = 0
	}
	snap := m.closeLocked(r, StateSettled, m.clock.Now(), false)
	if owner, ok := effects.GasOwner.AddressOwner(); ok && owner == m.cfg.Sponsor && remaining >= m.cfg.MinCoinBalance && remaining > 0 {
		m.poolLocked(lens.Coin{Ref: effects.GasObject, CoinType: lens.GasCoinType, Balance: remaining})
	}
	m.recordGaugesLocked()
	m.mu.Unlock()

	m.fees.Add(charged)
	m.executed.Inc()
	metrics.RecordCount(ctx, metrics.SponsoredGas, int64(charged))
	r.log.Infow("settled reservation", "digest", digest, "status", effects.Status, "gas_used", charged)
	m.recordClosed(ctx, snap)
}

// Release gives up an active reservation. Its coins are confirmed on chain and returned
// to the pool before Release returns.
func (m *Manager) Release(ctx context.Context, id uint64) error {
	ctx, span := otel.Tracer("").Start(ctx, "Manager.Release")
	defer span.End()

	now := m.clock.Now()
	m.mu.Lock()
	r, ok := m.active[id]
	if !ok || r.State != StateActive {
		m.mu.Unlock()
		return m.inactiveError(id)
	}
	state := StateReleased
	if !now.Before(r.ExpiresAt) {
		state = StateExpired
	}
	snap := m.closeLocked(r, state, now, true)
	m.mu.Unlock()

	r.log.Infow("reservation closed", "state", state)
	m.recordClosed(ctx, snap)
	m.returnReleased(ctx)
	if state == StateExpired {
		return xerrors.Errorf("%w: reservation %d", ErrReservationExpired, id)
	}
	return nil
}

// Sweep expires every overdue active reservation and confirms released coins. It
// returns the number of reservations expired. Expiry never depends on Sweep running;
// it keeps the pool topped up between requests.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("").Start(ctx, "Manager.Sweep")
	defer span.End()

	now := m.clock.Now()
	m.mu.Lock()
	swept := m.expireLocked(now)
	m.mu.Unlock()

	m.recordClosed(ctx, swept...)
	if err := m.confirmUnconfirmed(ctx); err != nil {
		return len(swept), err
	}
	return len(swept), nil
}

// Get returns a snapshot of an active or recently closed reservation. An active
// reservation found past its expiry is expired first.
func (m *Manager) Get(ctx context.Context, id uint64) (*Reservation, error) {
	now := m.clock.Now()
	m.mu.Lock()
	r, ok := m.active[id]
	if ok {
		if r.State == StateActive && !now.Before(r.ExpiresAt) {
			snap := m.closeLocked(r, StateExpired, now, true)
			m.mu.Unlock()
			m.recordClosed(ctx, snap)
			m.returnReleased(ctx)
			return &snap, nil
		}
		snap := r.snapshot()
		m.mu.Unlock()
		return &snap, nil
	}
	m.mu.Unlock()

	if v, ok := m.history.Get(id); ok {
		snap := v.(Reservation)
		return &snap, nil
	}
	return nil, xerrors.Errorf("%w: %d", ErrUnknownReservation, id)
}

// Stats describes the pool. SponsoredFees is an in-memory running total since startup
// and is not authoritative.
type Stats struct {
	Sponsor       types.Address `json:"sponsor_address"`
	PoolCoins     int           `json:"pool_coins"`
	PoolBalance   uint64        `json:"pool_balance"`
	LeasedCoins   int           `json:"leased_coins"`
	Unconfirmed   int           `json:"unconfirmed_coins"`
	Active        int           `json:"active_reservations"`
	Executed      uint64        `json:"executed"`
	SponsoredFees uint64        `json:"sponsored_fees"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Sponsor:       m.cfg.Sponsor,
		PoolCoins:     len(m.pool),
		Unconfirmed:   len(m.unconfirmed) + len(m.confirming),
		Active:        len(m.active),
		Executed:      m.executed.Load(),
		SponsoredFees: m.fees.Load(),
	}
	for _, c := range m.pool {
		s.PoolBalance += c.Balance
	}
	for _, r := range m.active {
		s.LeasedCoins += len(r.coins)
	}
	return s
}

// List returns snapshots of the active reservations ordered by id.
func (m *Manager) List() []Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Reservation, 0, len(m.active))
	for _, r := range m.active {
		out = append(out, r.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) poolEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pool) == 0
}

func (m *Manager) inactiveError(id uint64) error {
	if v, ok := m.history.Get(id); ok {
		return xerrors.Errorf("%w: reservation %d is %s", ErrUnknownReservation, id, v.(Reservation).State)
	}
	return xerrors.Errorf("%w: %d", ErrUnknownReservation, id)
}

// expireLocked closes every active reservation that is past its expiry.
func (m *Manager) expireLocked(now time.Time) []Reservation {
	var out []Reservation
	for _, r := range m.active {
		if r.State == StateActive && !now.Before(r.ExpiresAt) {
			out = append(out, m.closeLocked(r, StateExpired, now, true))
			r.log.Infow("reservation expired", "expired_at", r.ExpiresAt)
		}
	}
	return out
}

// closeLocked moves r to a terminal state. With unconfirmed set its coins wait for
// confirmation before they can be leased again.
func (m *Manager) closeLocked(r *reservation, state State, now time.Time, unconfirmed bool) Reservation {
	r.State = state
	r.ClosedAt = now
	delete(m.active, r.ID)
	if unconfirmed {
		m.unconfirmed = append(m.unconfirmed, r.coins...)
	}
	snap := r.snapshot()
	m.history.Add(r.ID, snap)
	m.recordGaugesLocked()
	return snap
}

func (m *Manager) recordGaugesLocked() {
	ctx := context.Background()
	metrics.RecordGauge(ctx, metrics.ReservationsActive, len(m.active))
	metrics.RecordGauge(ctx, metrics.PoolCoins, len(m.pool))
}

// recordClosed counts and persists closed reservations.
func (m *Manager) recordClosed(ctx context.Context, closed ...Reservation) {
	if len(closed) == 0 {
		return
	}
	ps := make(model.Batch, 0, len(closed))
	for _, r := range closed {
		metrics.RecordInc(metrics.WithTagValue(ctx, metrics.Outcome, r.State.String()), metrics.ReservationOutcome)
		ps = append(ps, toModel(r))
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.storage.PersistBatch(pctx, ps); err != nil {
		log.Errorw("failed to record reservations", "count", len(closed), "error", err)
	}
}

func toModel(r Reservation) *model.SponsoredTransaction {
	st := &model.SponsoredTransaction{
		ReservationID: int64(r.ID),
		Sponsor:       r.Sponsor.String(),
		State:         r.State.String(),
		GasBudget:     int64(r.Amount),
		GasUsed:       int64(r.GasUsed),
		CreatedAt:     r.CreatedAt,
		ClosedAt:      r.ClosedAt,
	}
	if r.Digest != nil {
		st.Digest = r.Digest.String()
	}
	if r.Sender != nil {
		st.Sender = r.Sender.String()
	}
	for _, c := range r.Coins {
		st.Coins = append(st.Coins, c.ObjectID.String())
	}
	return st
}
