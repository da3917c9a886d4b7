// Package scheduler is the admin surface over delayed sends: cancellation
// before dispatch, listings and pipeline stats.
package scheduler
