package crypto

import (
	"crypto/md5" //nolint:gosec // wire-protocol requirement, not used for security guarantees
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
)

// ClientHello is the client's 12-byte handshake payload: a prime modulus,
// a generator, and the client's public DH value, each a big-endian uint32.
type ClientHello struct {
	Prime        uint32
	Generator    uint32
	ClientPublic uint32
}

// ClientHelloSize is the fixed wire size of ClientHello.
const ClientHelloSize = 12

// ParseClientHello decodes the 12-byte handshake payload the gateway sends
// as the first bytes of a connection, before any framing.
func ParseClientHello(buf []byte) (ClientHello, error) {
	if len(buf) != ClientHelloSize {
		return ClientHello{}, fmt.Errorf("crypto: client hello must be %d bytes, got %d", ClientHelloSize, len(buf))
	}
	return ClientHello{
		Prime:        binary.BigEndian.Uint32(buf[0:4]),
		Generator:    binary.BigEndian.Uint32(buf[4:8]),
		ClientPublic: binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

// Session holds the derived AES key and IV for one connection's lifetime.
// The IV is fixed for the session's duration: the gateway protocol does
// not renegotiate or increment it per record.
type Session struct {
	ServerPublic uint32
	Key          [16]byte
	IV           [16]byte
}

// errWeakPrime is returned when [2, prime-2] is empty, the one case where no
// private exponent exists at all. The client supplies its own DH parameters
// each session, tiny moduli included, and the server must derive against
// whatever it's given to stay wire-compatible.
var errWeakPrime = fmt.Errorf("crypto: prime too small to admit a private exponent in [2, prime-2]")

// Handshake computes the server's side of the DH exchange from a parsed
// ClientHello: it selects a private exponent uniformly from [2, prime-2],
// derives the server's public value and the shared secret, then derives the
// session key and IV from the shared secret.
func Handshake(hello ClientHello) (Session, error) {
	prime := new(big.Int).SetUint64(uint64(hello.Prime))

	priv, err := randomExponent(prime)
	if err != nil {
		return Session{}, fmt.Errorf("crypto: selecting private exponent: %w", err)
	}

	return deriveSession(hello, priv)
}

// randomExponent returns a value chosen uniformly from [2, prime-2].
func randomExponent(prime *big.Int) (*big.Int, error) {
	// span = prime - 3, so rand.Int over [0, span) then +2 lands in [2, prime-2].
	span := new(big.Int).Sub(prime, big.NewInt(3))
	if span.Sign() <= 0 {
		return nil, errWeakPrime
	}
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return nil, err
	}
	return n.Add(n, big.NewInt(2)), nil
}

// deriveSession computes the server public value, shared secret, and the
// session key/IV for a chosen private exponent. Split out from Handshake so
// tests can pin a fixed private exponent against the literal worked example.
func deriveSession(hello ClientHello, priv *big.Int) (Session, error) {
	prime := new(big.Int).SetUint64(uint64(hello.Prime))
	generator := new(big.Int).SetUint64(uint64(hello.Generator))
	clientPublic := new(big.Int).SetUint64(uint64(hello.ClientPublic))

	serverPublic := new(big.Int).Exp(generator, priv, prime)
	shared := new(big.Int).Exp(clientPublic, priv, prime)

	if !serverPublic.IsUint64() || serverPublic.Uint64() > uint64(^uint32(0)) {
		return Session{}, fmt.Errorf("crypto: server public value overflows uint32")
	}

	key := deriveKey(shared)
	iv := md5.Sum(key[:]) //nolint:gosec // MD5 used only as the wire protocol's key/IV derivation function

	return Session{
		ServerPublic: uint32(serverPublic.Uint64()),
		Key:          key,
		IV:           iv,
	}, nil
}

// deriveKey computes MD5(big-endian bytes of the shared secret) as a fixed
// 16-byte AES-128 key.
func deriveKey(shared *big.Int) [16]byte {
	var sharedBytes [4]byte
	if shared.IsUint64() {
		binary.BigEndian.PutUint32(sharedBytes[:], uint32(shared.Uint64()))
	}
	return md5.Sum(sharedBytes[:]) //nolint:gosec // MD5 used only as the wire protocol's key derivation function
}

// EncodeServerPublic renders the server's public DH value as the 4-byte
// big-endian payload sent back to the gateway.
func EncodeServerPublic(serverPublic uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, serverPublic)
	return buf
}
