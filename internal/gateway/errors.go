package gateway

import "errors"

var (
	// ErrNotSubscribed is returned by SendCommand when the connection is not
	// in the Subscribed state: before authentication has completed, or after
	// the connection has closed.
	ErrNotSubscribed = errors.New("gateway: connection is not subscribed")

	// ErrClosed is returned when a command is pushed onto a send queue that
	// has been closed, and when a payload is decrypted before a session
	// cipher exists.
	ErrClosed = errors.New("gateway: connection is closed")

	// ErrAuthFailed covers decrypt, parse, and unknown-token failures during
	// the AwaitAuth state — all transport-fatal.
	ErrAuthFailed = errors.New("gateway: authentication failed")

	// ErrHandshakeFailed covers a malformed or unparsable handshake payload.
	ErrHandshakeFailed = errors.New("gateway: handshake failed")
)
