/*
Package resilience provides a circuit breaker for the host's outbound
dependencies: page fetches, downloads and persistence writes.

# States

  - Closed: calls pass through and failures are counted
  - Open: calls fail immediately with ErrCircuitOpen until Timeout elapses
  - Half-Open: up to MaxRequests trial calls decide between Closed and Open

	Closed --[ReadyToTrip]-> Open --[Timeout]-> Half-Open --[successes]-> Closed
	                                               |
	                                           [failure] -> Open

Outcomes are counted per generation; a call that started before a state
change does not affect the new state's counts.

# Usage

	breaker := resilience.New("persist", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	})

	err := breaker.RunContext(ctx, func(ctx context.Context) error {
		return kv.Set(ctx, key, blob)
	})

Cancelled contexts are treated as successes by default so that a caller
giving up does not open the circuit; override Settings.IsSuccessful to
change that.
*/
package resilience
