// Package worker is the consumer side of the delivery pipeline.
//
// A Pool runs a fixed number of pull loops against the broker. Every loop
// shares one Limiter, so the configured rate is a ceiling for the whole
// deployment rather than per worker. A Janitor, elected through distlock,
// enforces retention and returns jobs from crashed workers to the queue.
package worker
