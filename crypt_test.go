// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package pak

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = bytes.Repeat([]byte{0x11, 0x22, 0x33, 0x44}, 8)

func TestParseKeyHex(t *testing.T) {
	raw, err := ParseKey(hex.EncodeToString(testKey))
	require.NoError(t, err)
	assert.Equal(t, testKey, raw)
}

func TestParseKeyBase64(t *testing.T) {
	raw, err := ParseKey(base64.StdEncoding.EncodeToString(testKey))
	require.NoError(t, err)
	assert.Equal(t, testKey, raw)
}

func TestParseKeyEmpty(t *testing.T) {
	raw, err := ParseKey("")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestParseKeyRejected(t *testing.T) {
	for _, s := range []string{
		"abcd",                    // hex, wrong length
		strings.Repeat("ab", 16),  // hex, 16 bytes
		base64.StdEncoding.EncodeToString(make([]byte, 16)),
		"not hex and not base64!!",
	} {
		_, err := ParseKey(s)
		assert.ErrorIs(t, err, ErrKeyRejected, "input %q", s)
	}
}

func TestReverseWords(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	reverseWords(b)
	assert.Equal(t, []byte{4, 3, 2, 1, 8, 7, 6, 5}, b)
	reverseWords(b)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, b)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	k, err := newCipherKey(testKey)
	require.NoError(t, err)

	plain := bytes.Repeat([]byte("0123456789abcdef"), 4)
	buf := append([]byte(nil), plain...)
	k.encrypt(buf)
	assert.False(t, bytes.Equal(plain, buf))
	k.decrypt(buf)
	assert.Equal(t, plain, buf)
}

func TestEncryptDiffersFromStandardAES(t *testing.T) {
	// The word reversal applies to the key and every group, so the
	// transform must not degenerate into plain ECB over the raw key.
	k1, err := newCipherKey(testKey)
	require.NoError(t, err)

	plain := []byte("0123456789abcdef")
	buf := append([]byte(nil), plain...)
	k1.encrypt(buf)

	reversed := append([]byte(nil), plain...)
	reverseWords(reversed)
	assert.False(t, bytes.Equal(buf, reversed))
	assert.False(t, bytes.Equal(buf, plain))
}

func TestEncryptPrefixPadsAndRoundTrips(t *testing.T) {
	k, err := newCipherKey(testKey)
	require.NoError(t, err)

	const path = "content/a.uasset"
	plain := []byte("short payload, 23 bytes")
	payload := k.encryptPrefix(path, append([]byte(nil), plain...))
	require.Equal(t, align16(len(plain)), len(payload))
	assert.False(t, bytes.Equal(plain, payload[:len(plain)]))

	k.decryptPrefix(path, payload, len(plain))
	assert.Equal(t, plain, payload[:len(plain)])
}

func TestEncryptPrefixLeavesTailPlaintext(t *testing.T) {
	k, err := newCipherKey(testKey)
	require.NoError(t, err)

	const path = "content/big.ubulk"
	limit := EncryptionLimit(path)
	plain := make([]byte, limit+1024)
	for i := range plain {
		plain[i] = byte(i)
	}
	payload := k.encryptPrefix(path, append([]byte(nil), plain...))
	require.Equal(t, len(plain), len(payload))
	assert.False(t, bytes.Equal(plain[:limit], payload[:limit]))
	assert.Equal(t, plain[limit:], payload[limit:])

	k.decryptPrefix(path, payload, len(plain))
	assert.Equal(t, plain, payload)
}

func TestAlign16(t *testing.T) {
	assert.Equal(t, 0, align16(0))
	assert.Equal(t, 16, align16(1))
	assert.Equal(t, 16, align16(16))
	assert.Equal(t, 32, align16(17))
}
