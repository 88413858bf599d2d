// Package circuitbreaker provides per-target circuit breakers that shield
// the delegator from repeatedly dispatching to failing agents.
//
// Each breaker is a three-state machine. Closed counts failures in a
// rolling window and opens at the threshold. Open rejects calls until the
// recovery timeout elapses, then admits a bounded number of half-open
// trials. Enough trial successes close the breaker; any trial failure
// reopens it.
package circuitbreaker
