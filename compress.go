// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package pak

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Method identifies a compression algorithm. Method 0 is reserved for
// "no compression"; other values index the archive's method-name
// table. The supported set is small and fixed per archive version, so
// this is an enumeration rather than a plugin system.
type Method uint8

const (
	MethodNone Method = iota
	MethodZlib
	MethodGzip
	MethodZstd
	MethodLZ4
)

// DefaultBlockSize is the flat archive compression block size.
const DefaultBlockSize = 64 * 1024

// ContainerBlockSize is the historical default for chunked
// containers.
const ContainerBlockSize = 128 * 1024

// String returns the method-name-table spelling of a method.
func (m Method) String() string {
	switch m {
	case MethodNone:
		return ""
	case MethodZlib:
		return "Zlib"
	case MethodGzip:
		return "Gzip"
	case MethodZstd:
		return "Zstd"
	case MethodLZ4:
		return "LZ4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ParseMethod parses a method-name-table entry. Recognized-but-
// unsupported names (the engine's proprietary codec among them) return
// ErrUnknownMethod so decode errors name the method instead of
// guessing.
func ParseMethod(name string) (Method, error) {
	switch name {
	case "", "None":
		return MethodNone, nil
	case "Zlib":
		return MethodZlib, nil
	case "Gzip":
		return MethodGzip, nil
	case "Zstd":
		return MethodZstd, nil
	case "LZ4":
		return MethodLZ4, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
	}
}

// Shared zstd coder state. EncodeAll/DecodeAll are safe for concurrent
// use on a single instance.
var (
	zstdEncOnce sync.Once
	zstdEnc     *zstd.Encoder
	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	zstdEncOnce.Do(func() {
		zstdEnc, _ = zstd.NewWriter(nil,
			zstd.WithEncoderConcurrency(1),
			zstd.WithLowerEncoderMem(true))
	})
	return zstdEnc
}

func zstdDecoder() *zstd.Decoder {
	zstdDecOnce.Do(func() {
		zstdDec, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	return zstdDec
}

// Compress compresses one block with the given method. The second
// result is false when the compressor could not shrink the block; the
// caller should store the block raw with method 0 in that case.
func Compress(method Method, data []byte) ([]byte, bool, error) {
	out, err := compressBlock(method, data)
	if err == errIncompressible {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Decompress decompresses one block. uncompressedSize must match the
// original block length exactly.
func Decompress(method Method, data []byte, uncompressedSize int) ([]byte, error) {
	return decompressBlock(method, data, uncompressedSize)
}

// compressBlock compresses one block with the given method. Returns
// errIncompressible when the compressor cannot shrink the block; the
// caller stores the block raw in that case.
func compressBlock(method Method, data []byte) ([]byte, error) {
	switch method {
	case MethodZlib:
		return compressWriter(data, func(buf *bytes.Buffer) (writeCloser, error) {
			return zlib.NewWriterLevel(buf, zlib.BestCompression)
		})

	case MethodGzip:
		return compressWriter(data, func(buf *bytes.Buffer) (writeCloser, error) {
			return gzip.NewWriterLevel(buf, gzip.BestCompression)
		})

	case MethodZstd:
		out := zstdEncoder().EncodeAll(data, nil)
		if len(out) >= len(data) {
			return nil, errIncompressible
		}
		return out, nil

	case MethodLZ4:
		bound := lz4.CompressBlockBound(len(data))
		dst := make([]byte, bound)
		written, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock returns 0 when the data is incompressible.
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return dst[:written], nil

	default:
		return nil, fmt.Errorf("%w: method %d", ErrUnknownMethod, method)
	}
}

type writeCloser interface {
	Write([]byte) (int, error)
	Close() error
}

func compressWriter(data []byte, open func(*bytes.Buffer) (writeCloser, error)) ([]byte, error) {
	var buf bytes.Buffer
	w, err := open(&buf)
	if err != nil {
		return nil, fmt.Errorf("create compressor: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress close: %w", err)
	}
	if buf.Len() >= len(data) {
		return nil, errIncompressible
	}
	return buf.Bytes(), nil
}

// decompressBlock decompresses one block. uncompressedSize must match
// the original block length exactly; a mismatch is an error.
func decompressBlock(method Method, data []byte, uncompressedSize int) ([]byte, error) {
	switch method {
	case MethodNone:
		if len(data) != uncompressedSize {
			return nil, fmt.Errorf("%w: raw block is %d bytes, want %d",
				ErrCorruptArchive, len(data), uncompressedSize)
		}
		return data, nil

	case MethodZlib:
		return decompressReader(data, uncompressedSize, func(r *bytes.Reader) (readCloser, error) {
			return zlib.NewReader(r)
		})

	case MethodGzip:
		return decompressReader(data, uncompressedSize, func(r *bytes.Reader) (readCloser, error) {
			return gzip.NewReader(r)
		})

	case MethodZstd:
		out, err := zstdDecoder().DecodeAll(data, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != uncompressedSize {
			return nil, fmt.Errorf("%w: zstd block expanded to %d bytes, want %d",
				ErrCorruptArchive, len(out), uncompressedSize)
		}
		return out, nil

	case MethodLZ4:
		out := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != uncompressedSize {
			return nil, fmt.Errorf("%w: lz4 block expanded to %d bytes, want %d",
				ErrCorruptArchive, n, uncompressedSize)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: method %d", ErrUnknownMethod, method)
	}
}

type readCloser interface {
	Read([]byte) (int, error)
	Close() error
}

func decompressReader(data []byte, uncompressedSize int, open func(*bytes.Reader) (readCloser, error)) ([]byte, error) {
	r, err := open(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create decompressor: %w", err)
	}
	defer r.Close()

	out := make([]byte, uncompressedSize)
	n := 0
	for n < len(out) {
		read, err := r.Read(out[n:])
		n += read
		if err != nil {
			break
		}
	}
	if n != uncompressedSize {
		return nil, fmt.Errorf("%w: block expanded to %d bytes, want %d",
			ErrCorruptArchive, n, uncompressedSize)
	}
	return out, nil
}

// blockSpan is one compression unit's byte range within an entry's
// payload, before any encryption padding.
type blockSpan struct {
	Start uint64
	End   uint64
}

// encodeBlocks segments data into fixed-size blocks and compresses
// each block only when the result is strictly smaller; otherwise the
// block is stored raw. The policy holds per block, so one entry can
// mix compressed and raw blocks. Readers distinguish the two by span
// length: a span equal to the block's uncompressed length is raw.
func encodeBlocks(method Method, blockSize int, data []byte) ([]blockSpan, []byte, error) {
	if method == MethodNone {
		return nil, data, nil
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	count := (len(data) + blockSize - 1) / blockSize
	spans := make([]blockSpan, 0, count)
	payload := make([]byte, 0, len(data))

	for start := 0; start < len(data); start += blockSize {
		end := start + blockSize
		if end > len(data) {
			end = len(data)
		}
		block := data[start:end]

		out := block
		candidate, err := compressBlock(method, block)
		switch {
		case err == nil && len(candidate) < len(block):
			out = candidate
		case err == errIncompressible:
			// stored raw
		case err != nil:
			return nil, nil, fmt.Errorf("compress block at %d: %w", start, err)
		}

		spanStart := uint64(len(payload))
		payload = append(payload, out...)
		spans = append(spans, blockSpan{Start: spanStart, End: uint64(len(payload))})
	}

	return spans, payload, nil
}

// decodeBlocks reverses encodeBlocks. payload must cover the spans;
// blockSize and uncompressedSize determine each block's expected
// plaintext length.
func decodeBlocks(method Method, blockSize int, spans []blockSpan, payload []byte, uncompressedSize int) ([]byte, error) {
	out := make([]byte, 0, uncompressedSize)
	remaining := uncompressedSize

	for i, span := range spans {
		if span.End < span.Start || span.End > uint64(len(payload)) {
			return nil, fmt.Errorf("%w: block %d span %d-%d outside payload of %d bytes",
				ErrCorruptArchive, i, span.Start, span.End, len(payload))
		}
		expect := blockSize
		if remaining < expect {
			expect = remaining
		}

		block := payload[span.Start:span.End]
		if len(block) == expect {
			out = append(out, block...)
		} else {
			plain, err := decompressBlock(method, block, expect)
			if err != nil {
				return nil, fmt.Errorf("block %d: %w", i, err)
			}
			out = append(out, plain...)
		}
		remaining -= expect
	}

	if remaining != 0 {
		return nil, fmt.Errorf("%w: blocks cover %d of %d bytes",
			ErrCorruptArchive, uncompressedSize-remaining, uncompressedSize)
	}
	return out, nil
}
