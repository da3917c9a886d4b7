// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Every JSON handler should use these helpers instead of writing raw
// http.ResponseWriter calls. This keeps error envelopes and logging
// consistent across the webhook and admin endpoints.
package httputil
