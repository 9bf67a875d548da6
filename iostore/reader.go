// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package iostore

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	pak "github.com/pakworks/go-pak"
)

// Reader opens a container pair for verification and extraction.
// Chunks are located through the table of contents and read from the
// data stream block by block.
type Reader struct {
	mu      sync.Mutex
	casFile *os.File
	casSize int64
	toc     *Toc
	byID    map[ChunkID]int
}

// OpenReader reads the table of contents and opens the paired data
// stream.
func OpenReader(tocPath, casPath string) (*Reader, error) {
	tocBytes, err := os.ReadFile(tocPath)
	if err != nil {
		return nil, fmt.Errorf("read table of contents: %w", err)
	}
	toc, err := decodeToc(tocBytes)
	if err != nil {
		return nil, err
	}

	casFile, err := os.Open(casPath)
	if err != nil {
		return nil, fmt.Errorf("open data stream: %w", err)
	}
	info, err := casFile.Stat()
	if err != nil {
		casFile.Close()
		return nil, fmt.Errorf("stat data stream: %w", err)
	}

	byID := make(map[ChunkID]int, len(toc.Chunks))
	for i, c := range toc.Chunks {
		byID[c.ID] = i
	}
	return &Reader{
		casFile: casFile,
		casSize: info.Size(),
		toc:     toc,
		byID:    byID,
	}, nil
}

// Toc returns the decoded table of contents.
func (r *Reader) Toc() *Toc { return r.toc }

// ChunkIDs returns all chunk ids in table order.
func (r *Reader) ChunkIDs() []ChunkID {
	ids := make([]ChunkID, len(r.toc.Chunks))
	for i, c := range r.toc.Chunks {
		ids[i] = c.ID
	}
	return ids
}

// Lookup resolves a chunk-relative path through the directory index.
func (r *Reader) Lookup(path string) (ChunkID, bool) {
	pos, ok := r.toc.Directory[normalizeChunkPath(path)]
	if !ok || int(pos) >= len(r.toc.Chunks) {
		return ChunkID{}, false
	}
	return r.toc.Chunks[pos].ID, true
}

// ReadChunk returns a chunk's uncompressed bytes, verified against the
// recorded chunk hash.
func (r *Reader) ReadChunk(id ChunkID) ([]byte, error) {
	idx, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("chunk not found: %s", id)
	}
	desc := &r.toc.Chunks[idx]

	data := make([]byte, 0, desc.Length)
	for i, b := range desc.Blocks {
		if int64(b.Offset)+int64(b.CompressedSize) > r.casSize {
			return nil, fmt.Errorf("%w: chunk %s block %d at %d+%d exceeds %d-byte stream",
				pak.ErrTruncatedStream, id, i, b.Offset, b.CompressedSize, r.casSize)
		}
		raw := make([]byte, b.CompressedSize)
		r.mu.Lock()
		_, err := r.casFile.ReadAt(raw, int64(b.Offset))
		r.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("read chunk %s block %d: %w", id, i, err)
		}

		if b.Method == 0 {
			data = append(data, raw...)
			continue
		}
		if int(b.Method) > len(r.toc.MethodNames) {
			return nil, fmt.Errorf("%w: chunk %s block %d method %d, method table has %d entries",
				pak.ErrCorruptArchive, id, i, b.Method, len(r.toc.MethodNames))
		}
		plain, err := pak.Decompress(r.toc.MethodNames[b.Method-1], raw, int(b.UncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("chunk %s block %d: %w", id, i, err)
		}
		data = append(data, plain...)
	}

	if uint64(len(data)) != desc.Length {
		return nil, fmt.Errorf("%w: chunk %s decoded to %d bytes, table records %d",
			pak.ErrCorruptArchive, id, len(data), desc.Length)
	}
	if got := pak.ChunkHash(data); !bytes.Equal(got[:], desc.Hash[:]) {
		return nil, fmt.Errorf("%w: chunk %s hashes to %x, table records %x",
			pak.ErrIntegrityFailure, id, got, desc.Hash)
	}
	return data, nil
}

// Close closes the data stream.
func (r *Reader) Close() error {
	return r.casFile.Close()
}
