// Package gateway implements the per-socket connection state machine
// (handshake → authenticate → subscribed), its topic dispatch into the
// device repository, and the TCP listener that accepts gateway sessions.
package gateway
