// Package tracking owns the EmailRecord lifecycle: one row per message the
// provider accepted, plus an append-only log of provider events.
//
// Status reconciliation is rank-based. A new status is written only when
// domain.CanTransition allows it, using a compare-and-swap on the current
// status so two concurrent webhooks for the same message cannot regress it.
package tracking
