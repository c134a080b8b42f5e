package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var defaultMillisecondsDistribution = view.Distribution(0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 5000, 10000, 20000, 30000, 60000, 120000)

var (
	API, _       = tag.NewKey("api")     // name of method on the chain api
	Job, _       = tag.NewKey("job")     // name of scheduled job
	Name, _      = tag.NewKey("name")    // name of the running instance
	Route, _     = tag.NewKey("route")   // http route
	Outcome, _   = tag.NewKey("outcome") // how a reservation or funding request ended
	Status, _    = tag.NewKey("status")  // http status class or faucet task status
	Table, _     = tag.NewKey("table")   // name of table data is persisted for
	ConnState, _ = tag.NewKey("conn_state")
)

var (
	LensRequestDuration = stats.Float64("lens_request_duration_ms", "Duration of chain api requests", stats.UnitMilliseconds)
	LensRequestFailure  = stats.Int64("lens_request_failure", "Number of failed chain api requests", stats.UnitDimensionless)
	HTTPRequestDuration = stats.Float64("http_request_duration_ms", "Duration of inbound http requests", stats.UnitMilliseconds)
	FundingDuration     = stats.Float64("funding_duration_ms", "Time from faucet request to confirmed ownership", stats.UnitMilliseconds)
	FundingOutcome      = stats.Int64("funding_outcome", "Number of funding requests by outcome", stats.UnitDimensionless)
	FaucetPolls         = stats.Int64("faucet_polls", "Number of faucet status polls", stats.UnitDimensionless)
	FundedAddresses     = stats.Int64("funded_addresses", "Number of addresses claimed by the funding guard", stats.UnitDimensionless)
	ReservationOutcome  = stats.Int64("reservation_outcome", "Number of reservations by terminal state", stats.UnitDimensionless)
	ReservationsActive  = stats.Int64("reservations_active", "Number of currently active reservations", stats.UnitDimensionless)
	PoolCoins           = stats.Int64("pool_coins", "Number of sponsor coins available for leasing", stats.UnitDimensionless)
	SponsoredGas        = stats.Int64("sponsored_gas", "Gas paid by the sponsor for executed transactions", stats.UnitDimensionless)
	ExecuteDuration     = stats.Float64("execute_duration_ms", "Time taken to sign and execute a sponsored transaction", stats.UnitMilliseconds)
	PersistDuration     = stats.Float64("persist_duration_ms", "Duration of a models persist operation", stats.UnitMilliseconds)
	PersistFailure      = stats.Int64("persist_failure", "Number of persistence failures", stats.UnitDimensionless)
	DBConns             = stats.Int64("db_conns", "Database connections held", stats.UnitDimensionless)
	JobStart            = stats.Int64("job_start", "Number of jobs started", stats.UnitDimensionless)
	JobComplete         = stats.Int64("job_complete", "Number of jobs completed without error", stats.UnitDimensionless)
	JobError            = stats.Int64("job_error", "Number of jobs stopped due to a fatal error", stats.UnitDimensionless)
)

var DefaultViews = []*view.View{
	{
		Measure:     LensRequestDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{API},
	},
	{
		Name:        "lens_request_total",
		Measure:     LensRequestDuration,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{API},
	},
	{
		Name:        LensRequestFailure.Name() + "_total",
		Measure:     LensRequestFailure,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{API},
	},
	{
		Measure:     HTTPRequestDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Route, Status},
	},
	{
		Measure:     FundingDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Outcome},
	},
	{
		Name:        FundingOutcome.Name() + "_total",
		Measure:     FundingOutcome,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Outcome},
	},
	{
		Name:        FaucetPolls.Name() + "_total",
		Measure:     FaucetPolls,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Status},
	},
	{
		Measure:     FundedAddresses,
		Aggregation: view.LastValue(),
	},
	{
		Name:        ReservationOutcome.Name() + "_total",
		Measure:     ReservationOutcome,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Outcome},
	},
	{
		Measure:     ReservationsActive,
		Aggregation: view.LastValue(),
	},
	{
		Measure:     PoolCoins,
		Aggregation: view.LastValue(),
	},
	{
		Name:        SponsoredGas.Name() + "_total",
		Measure:     SponsoredGas,
		Aggregation: view.Sum(),
	},
	{
		Measure:     ExecuteDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Outcome},
	},
	{
		Measure:     PersistDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Table},
	},
	{
		Name:        PersistFailure.Name() + "_total",
		Measure:     PersistFailure,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Table},
	},
	{
		Measure:     DBConns,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{ConnState},
	},
	{
		Name:        JobStart.Name() + "_total",
		Measure:     JobStart,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Job},
	},
	{
		Name:        JobComplete.Name() + "_total",
		Measure:     JobComplete,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Job},
	},
	{
		Name:        JobError.Name() + "_total",
		Measure:     JobError,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Job},
	},
}

// SinceInMilliseconds returns the duration of time since the provide time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}

// Timer is a function stopwatch, calling it starts the timer,
// calling the returned function will record the duration.
func Timer(ctx context.Context, m *stats.Float64Measure) func() {
	start := time.Now()
	return func() {
		stats.Record(ctx, m.M(SinceInMilliseconds(start)))
	}
}

// RecordDuration records d in milliseconds, for durations measured with a clock other
// than the wall clock.
func RecordDuration(ctx context.Context, m *stats.Float64Measure, d time.Duration) {
	stats.Record(ctx, m.M(float64(d.Nanoseconds())/1e6))
}

// RecordInc is a convenience function that increments a counter.
func RecordInc(ctx context.Context, m *stats.Int64Measure) {
	stats.Record(ctx, m.M(1))
}

// RecordCount is a convenience function that increments a counter by a count.
func RecordCount(ctx context.Context, m *stats.Int64Measure, count int64) {
	stats.Record(ctx, m.M(count))
}

// RecordGauge sets the current value of a last-value measure.
func RecordGauge(ctx context.Context, m *stats.Int64Measure, v int) {
	stats.Record(ctx, m.M(int64(v)))
}

// WithTagValue is a convenience function that upserts the tag value in the given context.
func WithTagValue(ctx context.Context, k tag.Key, v string) context.Context {
	ctx, _ = tag.New(ctx, tag.Upsert(k, v))
	return ctx
}
