// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package pak

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compressibleData is highly repetitive, so every real codec shrinks it.
func compressibleData(n int) []byte {
	return bytes.Repeat([]byte("the quick brown fox "), (n+19)/20)[:n]
}

// incompressibleData is a deterministic pseudo-random fill that no
// codec in the method table can shrink.
func incompressibleData(n int) []byte {
	out := make([]byte, n)
	state := uint32(0x9e3779b9)
	for i := range out {
		state = state*1664525 + 1013904223
		out[i] = byte(state >> 24)
	}
	return out
}

func TestMethodString(t *testing.T) {
	assert.Equal(t, "", MethodNone.String())
	assert.Equal(t, "Zlib", MethodZlib.String())
	assert.Equal(t, "Gzip", MethodGzip.String())
	assert.Equal(t, "Zstd", MethodZstd.String())
	assert.Equal(t, "LZ4", MethodLZ4.String())
}

func TestParseMethod(t *testing.T) {
	for _, m := range []Method{MethodZlib, MethodGzip, MethodZstd, MethodLZ4} {
		got, err := ParseMethod(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	got, err := ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodNone, got)

	_, err = ParseMethod("Oodle")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestCompressRoundTrip(t *testing.T) {
	data := compressibleData(10000)
	for _, m := range []Method{MethodZlib, MethodGzip, MethodZstd, MethodLZ4} {
		out, ok, err := Compress(m, data)
		require.NoError(t, err, "method %s", m)
		require.True(t, ok, "method %s should shrink repetitive data", m)
		require.Less(t, len(out), len(data), "method %s", m)

		plain, err := Decompress(m, out, len(data))
		require.NoError(t, err, "method %s", m)
		assert.Equal(t, data, plain, "method %s", m)
	}
}

func TestCompressIncompressible(t *testing.T) {
	data := incompressibleData(4096)
	for _, m := range []Method{MethodZlib, MethodGzip, MethodZstd, MethodLZ4} {
		_, ok, err := Compress(m, data)
		require.NoError(t, err, "method %s", m)
		assert.False(t, ok, "method %s should refuse to grow the block", m)
	}
}

func TestEncodeBlocksSegmentation(t *testing.T) {
	// 200 KiB at a 64 KiB block size yields four blocks, the last one
	// partial.
	data := compressibleData(200 * 1024)
	spans, payload, err := encodeBlocks(MethodZlib, DefaultBlockSize, data)
	require.NoError(t, err)
	require.Len(t, spans, 4)

	for i, span := range spans {
		require.LessOrEqual(t, span.Start, span.End, "block %d", i)
		require.LessOrEqual(t, span.End, uint64(len(payload)), "block %d", i)
		if i > 0 {
			assert.Equal(t, spans[i-1].End, span.Start, "blocks must be contiguous")
		}
	}
	assert.Less(t, len(payload), len(data))

	plain, err := decodeBlocks(MethodZlib, DefaultBlockSize, spans, payload, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, plain)
}

func TestEncodeBlocksRawFallback(t *testing.T) {
	// Incompressible blocks are stored raw: each span length equals the
	// block's plaintext length and the payload equals the input.
	data := incompressibleData(3 * DefaultBlockSize / 2)
	spans, payload, err := encodeBlocks(MethodZlib, DefaultBlockSize, data)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, uint64(DefaultBlockSize), spans[0].End-spans[0].Start)
	assert.Equal(t, uint64(DefaultBlockSize/2), spans[1].End-spans[1].Start)
	assert.Equal(t, data, payload)

	plain, err := decodeBlocks(MethodZlib, DefaultBlockSize, spans, payload, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, plain)
}

func TestEncodeBlocksMixed(t *testing.T) {
	// A compressible block followed by an incompressible one: the
	// fallback is per block, not per entry.
	data := append(compressibleData(DefaultBlockSize), incompressibleData(DefaultBlockSize)...)
	spans, payload, err := encodeBlocks(MethodZstd, DefaultBlockSize, data)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Less(t, spans[0].End-spans[0].Start, uint64(DefaultBlockSize))
	assert.Equal(t, uint64(DefaultBlockSize), spans[1].End-spans[1].Start)

	plain, err := decodeBlocks(MethodZstd, DefaultBlockSize, spans, payload, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, plain)
}

func TestEncodeBlocksMethodNone(t *testing.T) {
	data := compressibleData(1000)
	spans, payload, err := encodeBlocks(MethodNone, DefaultBlockSize, data)
	require.NoError(t, err)
	assert.Nil(t, spans)
	assert.Equal(t, data, payload)
}

func TestDecodeBlocksCorruptSpan(t *testing.T) {
	spans := []blockSpan{{Start: 0, End: 100}}
	_, err := decodeBlocks(MethodZlib, DefaultBlockSize, spans, make([]byte, 10), 50)
	assert.ErrorIs(t, err, ErrCorruptArchive)
}

func TestDecodeBlocksShortCoverage(t *testing.T) {
	data := compressibleData(2 * DefaultBlockSize)
	spans, payload, err := encodeBlocks(MethodZlib, DefaultBlockSize, data)
	require.NoError(t, err)

	_, err = decodeBlocks(MethodZlib, DefaultBlockSize, spans[:1], payload, len(data))
	assert.ErrorIs(t, err, ErrCorruptArchive)
}
