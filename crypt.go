// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package pak

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// cipherBlockSize is the transform group size. Entries and index
// buffers are zero-padded up to this boundary before encryption.
const cipherBlockSize = 16

// ParseKey decodes externally supplied key material. Accepts a
// 64-character hex string or base64 of exactly 32 bytes.
func ParseKey(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if raw, err := hex.DecodeString(s); err == nil {
		if len(raw) != 32 {
			return nil, fmt.Errorf("%w: got %d bytes, want 32", ErrKeyRejected, len(raw))
		}
		return raw, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex or base64: %v", ErrKeyRejected, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes, want 32", ErrKeyRejected, len(raw))
	}
	return raw, nil
}

// cipherKey holds the expanded in-memory cipher state. Key bytes are
// never persisted.
type cipherKey struct {
	block cipher.Block
}

// newCipherKey expands raw 32-byte key material. The loader reverses
// each 4-byte group of the key once at construction time, mirroring
// the per-block transform, so the same reversal is applied here before
// the key schedule.
func newCipherKey(raw []byte) (*cipherKey, error) {
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes, want 32", ErrKeyRejected, len(raw))
	}
	adjusted := make([]byte, len(raw))
	copy(adjusted, raw)
	reverseWords(adjusted)

	block, err := aes.NewCipher(adjusted)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyRejected, err)
	}
	return &cipherKey{block: block}, nil
}

// reverseWords byte-reverses every aligned 4-byte group in place.
// len(b) must be a multiple of 4.
func reverseWords(b []byte) {
	for i := 0; i+4 <= len(b); i += 4 {
		b[i], b[i+3] = b[i+3], b[i]
		b[i+1], b[i+2] = b[i+2], b[i+1]
	}
}

// encrypt transforms buf in place. len(buf) must be a multiple of 16.
// Within each 16-byte group the four 4-byte words are byte-reversed,
// the group is run through the block cipher, and the words are
// reversed again. This is the loader's wire convention; deviating from
// it produces archives the engine rejects.
func (k *cipherKey) encrypt(buf []byte) {
	for i := 0; i+cipherBlockSize <= len(buf); i += cipherBlockSize {
		group := buf[i : i+cipherBlockSize]
		reverseWords(group)
		k.block.Encrypt(group, group)
		reverseWords(group)
	}
}

// decrypt is the inverse of encrypt.
func (k *cipherKey) decrypt(buf []byte) {
	for i := 0; i+cipherBlockSize <= len(buf); i += cipherBlockSize {
		group := buf[i : i+cipherBlockSize]
		reverseWords(group)
		k.block.Decrypt(group, group)
		reverseWords(group)
	}
}

// align16 rounds n up to the next 16-byte boundary.
func align16(n int) int {
	return (n + cipherBlockSize - 1) &^ (cipherBlockSize - 1)
}

// encryptPrefix encrypts the leading EncryptionLimit(path) bytes of
// payload, zero-padding to a 16-byte boundary when needed. Padding can
// grow the buffer; the returned slice is the on-disk payload and may
// be longer than the logical data. The caller tracks the logical
// length separately.
func (k *cipherKey) encryptPrefix(path string, payload []byte) []byte {
	n := EncryptionLimit(path)
	if n > len(payload) {
		n = len(payload)
	}
	n = align16(n)
	if n > len(payload) {
		padded := make([]byte, n)
		copy(padded, payload)
		payload = padded
	}
	k.encrypt(payload[:n])
	return payload
}

// decryptPrefix reverses encryptPrefix. logicalLen is the
// pre-padding payload length (the last block span end for compressed
// entries, the uncompressed size otherwise), from which the encrypted
// prefix length is recomputed.
func (k *cipherKey) decryptPrefix(path string, payload []byte, logicalLen int) {
	n := EncryptionLimit(path)
	if n > logicalLen {
		n = logicalLen
	}
	n = align16(n)
	if n > len(payload) {
		n = len(payload)
	}
	k.decrypt(payload[:n])
}
