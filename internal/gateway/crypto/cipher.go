package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

const blockSize = aes.BlockSize // 16

// Cipher encrypts and decrypts gateway records with AES-128-CBC under a
// session's derived key and fixed IV.
type Cipher struct {
	block cipher.Block
	iv    [16]byte
}

// NewCipher builds a Cipher from a session's derived key and IV.
func NewCipher(sess Session) (*Cipher, error) {
	block, err := aes.NewCipher(sess.Key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: building AES cipher: %w", err)
	}
	return &Cipher{block: block, iv: sess.IV}, nil
}

// Encrypt pads plaintext to a block boundary with PKCS#7 and encrypts it
// under CBC mode using the session's fixed IV.
//
// The IV is intentionally not re-randomized per call: the gateway protocol
// reuses one IV for the life of a session, so identical plaintexts in the
// same session produce identical ciphertexts. That is wire-compatible
// behavior, not a defect to "fix".
func (c *Cipher) Encrypt(plaintext []byte) []byte {
	padded := pkcs7Pad(plaintext, blockSize)
	out := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(c.block, c.iv[:])
	mode.CryptBlocks(out, padded)
	return out
}

// Decrypt reverses Encrypt: CBC-decrypts ciphertext under the session IV
// and strips PKCS#7 padding.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%blockSize != 0 {
		return nil, fmt.Errorf("crypto: ciphertext length %d is not a multiple of block size %d", len(ciphertext), blockSize)
	}
	out := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(c.block, c.iv[:])
	mode.CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out)
}

func pkcs7Pad(data []byte, size int) []byte {
	padLen := size - len(data)%size
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("crypto: cannot unpad empty buffer")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("crypto: invalid padding length %d", padLen)
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("crypto: invalid padding bytes")
		}
	}
	return data[:len(data)-padLen], nil
}
