// Package billing implements the parish subscription lifecycle and the
// billing-reconciliation engine.
//
// Two weakly synchronized sources of truth describe a subscription: the
// payment gateway's objects and the local subscription row. The package
// reconciles them through the webhook Engine, an at-least-once consumer
// of gateway events, while the lifecycle Service handles the explicit
// user actions (create, cancel, pause, resume, signature verification,
// manual activation). Both keep the parish aggregate status — the
// coarse four-value projection read by authentication and feature
// gating — consistent with every subscription transition.
//
// Stores are pluggable: PGStore persists to postgres with transactional
// multi-row writes and a unique index over the gateway payment ID as
// the cross-process idempotence anchor; MemStore backs tests.
package billing
