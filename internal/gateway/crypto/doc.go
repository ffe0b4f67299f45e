// Package crypto implements the gateway protocol's session cryptography:
// a client-driven Diffie-Hellman handshake over 32-bit operands and an
// AES-128-CBC record cipher keyed from the shared secret.
//
// The handshake and key derivation reproduce the gateway's algorithm
// bit-for-bit, including the small moduli and the fixed-per-session IV —
// both are wire-compatibility requirements, not design choices.
package crypto
