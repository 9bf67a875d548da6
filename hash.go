// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package pak

import (
	"crypto/sha1"
	"encoding/binary"
	"strings"
	"unicode/utf16"

	"github.com/zeebo/blake3"
)

// FNV-1a 64-bit parameters. The engine's path index hashes the
// UTF-16LE encoding of the lower-cased path with the archive's seed
// folded into the offset basis.
const (
	fnvOffsetBasis uint64 = 0xcbf29ce484222325
	fnvPrime       uint64 = 0x00000100000001b3
)

// PathHash computes the keyed path hash used by the flat path-hash
// index. The path is lower-cased, encoded as UTF-16LE, and run through
// seeded FNV-1a-64. Paths use forward slashes; hashing is
// case-insensitive.
func PathHash(path string, seed uint64) uint64 {
	lower := strings.ToLower(path)
	h := fnvOffsetBasis + seed
	for _, u := range utf16.Encode([]rune(lower)) {
		h = (h ^ uint64(u&0xFF)) * fnvPrime
		h = (h ^ uint64(u>>8)) * fnvPrime
	}
	return h
}

// contentHash is the 20-byte digest recorded for entries and index
// buffers. Always computed over pre-encryption bytes.
func contentHash(data []byte) [sha1.Size]byte {
	return sha1.Sum(data)
}

// ChunkHash is the 32-byte digest recorded for container chunks,
// computed over uncompressed bytes.
func ChunkHash(data []byte) [32]byte {
	return blake3.Sum256(data)
}

// encryptionProfile describes one engine generation's partial
// encryption formula. The formula is a reverse-engineered
// compatibility quirk of the target loader, not a security boundary;
// it is kept as a table row so future generations become new rows
// rather than code changes.
type encryptionProfile struct {
	prefix   [4]byte // domain separation prefix, feeds the hash seed
	modulus  uint64
	scale    int
	offset   int
	fallback int // used when the derived limit is zero
}

var defaultEncryptionProfile = encryptionProfile{
	prefix:   [4]byte{'P', 'A', 'K', 0},
	modulus:  61,
	scale:    2048,
	offset:   2048,
	fallback: 4096,
}

// EncryptionLimit returns the number of leading bytes of an entry's
// payload that are passed through the cipher. The limit is a pure
// function of the content path: the lower-cased path is hashed with a
// seed derived from a fixed 4-byte prefix, reduced modulo a small
// constant, scaled, offset, and rounded down to a 64-byte boundary.
// The remainder of the payload is stored as plaintext.
func EncryptionLimit(path string) int {
	return defaultEncryptionProfile.limit(path)
}

func (p encryptionProfile) limit(path string) int {
	seed := uint64(binary.LittleEndian.Uint32(p.prefix[:]))
	h := PathHash(path, seed)
	n := int(h%p.modulus)*p.scale + p.offset
	n &^= 63
	if n == 0 {
		return p.fallback
	}
	return n
}
