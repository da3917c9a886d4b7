// Package domain defines the core types of the outbound email pipeline.
//
// Types in this package are value objects with no database dependencies and
// no HTTP concerns. They are the shared language between the queue, the
// worker pool, the webhook ingestor, the services and the repositories.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Validation and ordering methods are allowed (they're pure functions on the type)
//   - Constants and enums belong here
package domain
