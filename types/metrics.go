package types

// MetricsCollector defines methods for collecting operational metrics.
//
// Implementations should be thread-safe as methods may be called
// concurrently by pooled sessions. The zero-cost default is the nop
// collector in internal/metrics.
type MetricsCollector interface {
	// ----------------------
	// Queries
	// ----------------------

	// IncQueryTotal increments the total query counter.
	IncQueryTotal()

	// IncQueryError increments the query error counter.
	IncQueryError()

	// ObserveQueryDuration records a query duration in seconds.
	ObserveQueryDuration(seconds float64)

	// ----------------------
	// Sessions
	// ----------------------

	// IncSessionOpened increments the counter of successfully completed
	// startup handshakes.
	IncSessionOpened()

	// IncSessionDiscarded increments the counter of sessions dropped from
	// the pool after a protocol-level failure.
	IncSessionDiscarded()

	// ----------------------
	// Pool
	// ----------------------

	// IncPoolExhausted increments the counter of fast-failed checkouts.
	IncPoolExhausted()

	// SetPoolSize sets the tracked-session gauge.
	SetPoolSize(n int)

	// SetPoolIdle sets the idle-session gauge.
	SetPoolIdle(n int)
}
