// Package queue is the producer side of the delivery pipeline: a durable
// Redis-backed job broker and the Manager that fronts it.
//
// Jobs live in a hash per job and move between a waiting list, an active
// list, a delayed sorted set and completed/failed sorted sets. Every state
// change that touches more than one key runs in a Lua script so workers,
// the promoter and admin cancellation never observe a half-moved job.
//
// The Manager selects a Dispatcher once at Initialize. When Redis is
// unreachable or the queue is disabled, sends go straight to the provider
// and callers receive the same Result shape either way.
package queue
