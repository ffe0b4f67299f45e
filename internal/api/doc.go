// Package api implements the bridge's HTTP fulfillment surface and the
// operator debug WebSocket feed.
//
// This package provides:
//   - The fulfillment endpoint (enumerate/query/execute/disconnect)
//   - A health check and an operational metrics snapshot
//   - A ticket-authenticated WebSocket feed relaying device repository events
//   - Middleware stack (request ID, logging, recovery, CORS, rate limiting)
//   - JWT bearer authentication, scoped to the caller's user id only
//
// # Architecture
//
// The server sits between the assistant platform and the device repository
// and gateway directory: a fulfillment request is decoded, dispatched to
// internal/fulfillment scoped to the caller's token subject, and the result
// written back as JSON. The debug feed has no write path into the bridge —
// it only relays devicesChanged/stateChanged events for operators watching
// a live session.
package api
