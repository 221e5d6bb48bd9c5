// Package http provides HTTP handlers and middleware for the meeting broker API.
//
// The router exposes the following endpoints:
//   - POST /meetings: creates a meeting request and runs the first resolution
//     pass. Body: the `meetingRequest` payload defined in meeting_handler.go.
//     Responds with the `meetingDTO` including ranked candidate slots.
//   - GET /meetings: lists meetings, filterable with `state` and `party` query
//     parameters.
//   - GET /meetings/{id}: returns one meeting including its lifecycle history.
//   - GET /meetings/{id}/candidates: returns the current candidate slots,
//     recomputed from fresh calendar reads when the cached list expired.
//   - POST /meetings/{id}/confirm: commits one offered slot. Body:
//     {"slot_index"}. A slot lost since proposal responds 409 with a refreshed
//     candidate list.
//   - POST /meetings/{id}/cancel: ends the lifecycle and releases booked
//     calendar blocks. Body: {"reason"} (optional).
//   - POST /notify: ingests a coarse calendar change notification. Body:
//     {"calendar_id","changed_at"}. Duplicate and spurious deliveries are
//     accepted.
//
// All endpoints require a bearer API token verified against the configured
// argon2id hash. Request/response DTOs live alongside their respective
// handlers so tests and documentation share the same ground truth.
package http
