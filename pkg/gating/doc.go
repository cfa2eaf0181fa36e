// Package gating blocks or annotates tenant-scoped requests based on
// the parish's reconciled subscription state.
//
// It is a pure read path: the aggregate status check reads one cheap
// column (optionally through a redis cache), the limit check counts a
// tenant-scoped resource against the plan's cap, and the tier check
// compares the plan's ordinal tier. Subscription state is never written
// here; only the billing lifecycle service and webhook engine do that.
package gating
