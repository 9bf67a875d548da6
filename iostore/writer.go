// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package iostore

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	pak "github.com/pakworks/go-pak"
)

// chunkAlign is the data-stream alignment of each chunk's first
// block, kept at the cipher boundary so containers remain compatible
// with loaders that decrypt in place.
const chunkAlign = 16

// WriterOptions configures a container writer.
type WriterOptions struct {
	// ContainerID identifies the container; recorded in the table of
	// contents and used as the package id of the synthetic
	// container-header chunk.
	ContainerID uint64

	// BlockSize is the compression block size. Defaults to
	// pak.ContainerBlockSize.
	BlockSize uint32

	// Method is the compression algorithm for data chunks. Defaults
	// to pak.MethodZstd. Metadata chunk types are stored raw by
	// policy regardless.
	Method pak.Method

	// MountPoint is recorded in the directory index. Defaults to
	// pak.DefaultMountPoint.
	MountPoint string
}

// Writer builds a chunked container: an append-only data-stream file
// plus a table-of-contents file written once at Finalize. Both files
// are built under temporary names and renamed into place on success.
type Writer struct {
	tocPath     string
	casPath     string
	tempTocPath string
	tempCasPath string
	casFile     *os.File
	buf         *bufio.Writer
	opts        WriterOptions

	chunks     []ChunkDescriptor
	directory  map[string]uint32
	packageIDs []uint64
	seenPkg    map[uint64]bool
	offset     uint64
	finalized  bool
}

// NewWriter opens a container writer targeting the table-of-contents
// path and its paired data-stream path.
func NewWriter(tocPath, casPath string, opts WriterOptions) (*Writer, error) {
	if opts.BlockSize == 0 {
		opts.BlockSize = pak.ContainerBlockSize
	}
	if opts.Method == pak.MethodNone {
		opts.Method = pak.MethodZstd
	}
	if opts.MountPoint == "" {
		opts.MountPoint = pak.DefaultMountPoint
	}

	if err := os.MkdirAll(filepath.Dir(casPath), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	casFile, err := os.CreateTemp(filepath.Dir(casPath), "ucas_*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp data stream: %w", err)
	}

	return &Writer{
		tocPath:     tocPath,
		casPath:     casPath,
		tempCasPath: casFile.Name(),
		casFile:     casFile,
		buf:         bufio.NewWriterSize(casFile, 1<<20),
		opts:        opts,
		directory:   make(map[string]uint32),
		seenPkg:     make(map[uint64]bool),
	}, nil
}

// WriteChunk appends one payload unit to the data stream and records
// its descriptor. The chunk is hashed over its uncompressed bytes,
// segmented into compression blocks, and each block is compressed only
// when that makes it strictly smaller. When path is non-empty it is
// registered in the directory index against the chunk's table
// position. The writer never inspects chunk contents.
func (w *Writer) WriteChunk(id ChunkID, path string, data []byte) error {
	if w.finalized {
		return pak.ErrFinalized
	}
	if id.Type == ChunkTypeInvalid {
		return fmt.Errorf("%w: chunk %s has no type", pak.ErrCorruptArchive, id)
	}

	if err := w.alignStream(); err != nil {
		return err
	}

	desc := ChunkDescriptor{
		ID:     id,
		Offset: w.offset,
		Length: uint64(len(data)),
		Hash:   pak.ChunkHash(data),
	}
	if id.Type.isMetadata() {
		desc.Flags |= chunkFlagMetadata
	}

	// Metadata chunk types are excluded from compression by
	// convention; the block codec itself has no such restriction.
	method := w.opts.Method
	if id.Type.isMetadata() {
		method = pak.MethodNone
	}

	blockSize := int(w.opts.BlockSize)
	for start := 0; start < len(data); start += blockSize {
		end := start + blockSize
		if end > len(data) {
			end = len(data)
		}
		block := data[start:end]

		out := block
		var methodIndex uint8
		if method != pak.MethodNone {
			candidate, ok, err := pak.Compress(method, block)
			if err != nil {
				return fmt.Errorf("chunk %s block at %d: %w", id, start, err)
			}
			if ok && len(candidate) < len(block) {
				out = candidate
				methodIndex = 1
				desc.Flags |= chunkFlagCompressed
			}
		}

		desc.Blocks = append(desc.Blocks, CompressionBlockEntry{
			Offset:           w.offset,
			CompressedSize:   uint32(len(out)),
			UncompressedSize: uint32(len(block)),
			Method:           methodIndex,
		})
		if _, err := w.buf.Write(out); err != nil {
			return fmt.Errorf("write chunk %s block: %w", id, err)
		}
		w.offset += uint64(len(out))
	}

	if path != "" {
		w.directory[normalizeChunkPath(path)] = uint32(len(w.chunks))
	}
	if id.Type != ChunkTypeContainerHeader && !w.seenPkg[id.PackageID] {
		w.seenPkg[id.PackageID] = true
		w.packageIDs = append(w.packageIDs, id.PackageID)
	}
	w.chunks = append(w.chunks, desc)
	return nil
}

// alignStream pads the data stream to the chunk alignment boundary.
func (w *Writer) alignStream() error {
	pad := int(-w.offset & (chunkAlign - 1))
	if pad == 0 {
		return nil
	}
	if _, err := w.buf.Write(make([]byte, pad)); err != nil {
		return fmt.Errorf("pad data stream: %w", err)
	}
	w.offset += uint64(pad)
	return nil
}

// normalizeChunkPath cleans a chunk-relative path: forward slashes,
// no leading slash.
func normalizeChunkPath(path string) string {
	p := strings.ReplaceAll(path, "\\", "/")
	return strings.TrimPrefix(p, "/")
}

// ChunkPaths returns the registered chunk-relative paths in directory
// order. The companion archive builder joins these into its manifest
// entry.
func (w *Writer) ChunkPaths() []string {
	paths := make([]string, 0, len(w.directory))
	for p := range w.directory {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// encodeContainerHeader serializes the synthetic metadata chunk
// describing the container's logical packages, zero-padded to the
// cipher boundary.
func encodeContainerHeader(containerID uint64, packageIDs []uint64) []byte {
	var buf bytes.Buffer
	var n [4]byte
	var n8 [8]byte

	binary.LittleEndian.PutUint32(n[:], 1) // bookkeeping version
	buf.Write(n[:])
	binary.LittleEndian.PutUint64(n8[:], containerID)
	buf.Write(n8[:])
	binary.LittleEndian.PutUint32(n[:], uint32(len(packageIDs)))
	buf.Write(n[:])
	for _, id := range packageIDs {
		binary.LittleEndian.PutUint64(n8[:], id)
		buf.Write(n8[:])
		// Store-entry bookkeeping: flags and dependency count, both
		// unused by this builder.
		buf.Write(make([]byte, 8))
	}

	if pad := -buf.Len() & (chunkAlign - 1); pad > 0 {
		buf.Write(make([]byte, pad))
	}
	return buf.Bytes()
}

// Finalize appends the synthetic container-header chunk, writes the
// table of contents, and renames both files into place. The data
// stream is never rewritten after append; only the table of contents
// is written, once, here.
func (w *Writer) Finalize() error {
	if w.finalized {
		return pak.ErrFinalized
	}

	if len(w.packageIDs) > 0 {
		header := encodeContainerHeader(w.opts.ContainerID, w.packageIDs)
		id := ChunkID{PackageID: w.opts.ContainerID, Type: ChunkTypeContainerHeader}
		if err := w.WriteChunk(id, "", header); err != nil {
			return w.abort(fmt.Errorf("write container header: %w", err))
		}
	}
	w.finalized = true

	toc, err := encodeToc(&Toc{
		ContainerID: w.opts.ContainerID,
		BlockSize:   w.opts.BlockSize,
		MethodNames: []pak.Method{w.opts.Method},
		MountPoint:  w.opts.MountPoint,
		Chunks:      w.chunks,
		Directory:   w.directory,
	})
	if err != nil {
		return w.abort(err)
	}

	if err := w.buf.Flush(); err != nil {
		return w.abort(fmt.Errorf("flush data stream: %w", err))
	}
	if err := w.casFile.Close(); err != nil {
		return w.abort(fmt.Errorf("close data stream: %w", err))
	}
	w.casFile = nil

	tocFile, err := os.CreateTemp(filepath.Dir(w.tocPath), "utoc_*.tmp")
	if err != nil {
		return w.abort(fmt.Errorf("create temp table of contents: %w", err))
	}
	w.tempTocPath = tocFile.Name()
	if _, err := tocFile.Write(toc); err != nil {
		tocFile.Close()
		return w.abort(fmt.Errorf("write table of contents: %w", err))
	}
	if err := tocFile.Close(); err != nil {
		return w.abort(fmt.Errorf("close table of contents: %w", err))
	}

	os.Remove(w.casPath)
	if err := os.Rename(w.tempCasPath, w.casPath); err != nil {
		return w.abort(fmt.Errorf("save data stream: %w", err))
	}
	os.Remove(w.tocPath)
	if err := os.Rename(w.tempTocPath, w.tocPath); err != nil {
		os.Remove(w.casPath)
		return fmt.Errorf("save table of contents: %w", err)
	}
	return nil
}

// abort discards temp files and returns err.
func (w *Writer) abort(err error) error {
	if w.casFile != nil {
		w.casFile.Close()
		w.casFile = nil
	}
	os.Remove(w.tempCasPath)
	if w.tempTocPath != "" {
		os.Remove(w.tempTocPath)
	}
	return err
}

// Close releases the writer. If Finalize has not run, partial temp
// files are discarded and no container is produced.
func (w *Writer) Close() error {
	if w.finalized {
		return nil
	}
	w.finalized = true
	return w.abort(nil)
}
