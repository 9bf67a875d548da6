// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package pak

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DefaultMountPoint is the mount point recorded when none is
// configured. The engine resolves entry paths relative to it.
const DefaultMountPoint = "../../../"

// WriterOptions configures a flat-archive writer. The zero value
// produces an unencrypted, uncompressed archive in the current format
// version.
type WriterOptions struct {
	// Version selects the footer and entry layout. Defaults to
	// VersionFNV64BugFix. Only dual-index versions can be written.
	Version Version

	// MountPoint defaults to DefaultMountPoint.
	MountPoint string

	// Key is hex- or base64-encoded 32-byte key material. When set,
	// entry payloads (up to their path's encryption limit) and all
	// index buffers are encrypted.
	Key string

	// Method is the compression algorithm used for entries appended
	// with compress=true. Defaults to MethodZlib.
	Method Method

	// BlockSize is the compression block size. Defaults to
	// DefaultBlockSize.
	BlockSize int

	// PathHashSeed keys the flat path-hash index. A fixed seed makes
	// rebuilds byte-identical.
	PathHashSeed uint64
}

// Writer builds a flat archive in a single pass:
// open, append entries, finalize. The archive is written to a
// temporary file next to the target path and renamed into place on
// Finalize, so an interrupted build never leaves a partial archive at
// the target path.
type Writer struct {
	path     string
	tempPath string
	file     *os.File
	buf      *bufio.Writer
	opts     WriterOptions
	key      *cipherKey

	entries   []*Entry
	paths     []string
	offset    int64
	finalized bool
}

// pendingEntry is one encoded-but-uncommitted entry in the parallel
// append pipeline.
type pendingEntry struct {
	path    string
	entry   *Entry
	payload []byte
}

// File is one input to AppendAll.
type File struct {
	Path     string
	Data     []byte
	Compress bool
}

// NewWriter opens a flat-archive writer targeting path.
func NewWriter(path string, opts WriterOptions) (*Writer, error) {
	if opts.Version == 0 {
		opts.Version = VersionFNV64BugFix
	}
	if !opts.Version.supported() {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedVersion, opts.Version)
	}
	if !opts.Version.hasPathHashIndex() {
		return nil, fmt.Errorf("%w: version %d uses the legacy index", ErrUnsupportedVersion, opts.Version)
	}
	if opts.MountPoint == "" {
		opts.MountPoint = DefaultMountPoint
	}
	if opts.Method == MethodNone {
		opts.Method = MethodZlib
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}

	var key *cipherKey
	if opts.Key != "" {
		raw, err := ParseKey(opts.Key)
		if err != nil {
			return nil, err
		}
		if key, err = newCipherKey(raw); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	tempFile, err := os.CreateTemp(filepath.Dir(path), "pak_*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &Writer{
		path:     path,
		tempPath: tempFile.Name(),
		file:     tempFile,
		buf:      bufio.NewWriterSize(tempFile, 1<<20),
		opts:     opts,
		key:      key,
	}, nil
}

// normalizeArchivePath cleans a path for use inside the archive:
// forward slashes, no leading slash, lookup is case-sensitive but
// hashing is not.
func normalizeArchivePath(path string) string {
	p := strings.ReplaceAll(path, "\\", "/")
	p = strings.TrimPrefix(p, "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

// Append packages one file into the archive: hash the raw bytes,
// optionally block-compress, encrypt the path-keyed prefix when a key
// is configured, and write the entry at the current stream position.
func (w *Writer) Append(path string, data []byte, compress bool) error {
	if w.finalized {
		return ErrFinalized
	}
	p, err := w.encodeEntry(path, data, compress)
	if err != nil {
		return err
	}
	return w.commit(p)
}

// AppendAll packages several files. Per-entry encoding (hash,
// compress, encrypt) is pure and runs on worker goroutines; offsets
// are assigned and bytes written in input order on the calling
// goroutine.
func (w *Writer) AppendAll(ctx context.Context, files []File) error {
	if w.finalized {
		return ErrFinalized
	}

	pending := make([]*pendingEntry, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := w.encodeEntry(f.Path, f.Data, f.Compress)
			if err != nil {
				return fmt.Errorf("encode %s: %w", f.Path, err)
			}
			pending[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, p := range pending {
		if err := w.commit(p); err != nil {
			return fmt.Errorf("commit %s: %w", p.path, err)
		}
	}
	return nil
}

// encodeEntry runs the pure half of Append: a function of the input
// bytes and path only, safe to call concurrently.
func (w *Writer) encodeEntry(path string, data []byte, compress bool) (*pendingEntry, error) {
	path = normalizeArchivePath(path)

	e := &Entry{
		UncompressedSize: int64(len(data)),
		Hash:             contentHash(data),
		BlockSize:        uint32(w.opts.BlockSize),
		Encrypted:        w.key != nil,
	}

	payload := data
	if compress {
		spans, compressed, err := encodeBlocks(w.opts.Method, w.opts.BlockSize, data)
		if err != nil {
			return nil, err
		}
		e.MethodSlot = 1
		e.Blocks = spans
		payload = compressed
	}

	if w.key != nil {
		// encryptPrefix may pad; keep the input intact for callers.
		owned := make([]byte, len(payload))
		copy(owned, payload)
		payload = w.key.encryptPrefix(path, owned)
	}
	e.CompressedSize = int64(len(payload))

	return &pendingEntry{path: path, entry: e, payload: payload}, nil
}

// commit assigns the entry's offset and writes its inline record and
// payload. Must run on a single goroutine: each entry's position
// depends on everything written before it.
func (w *Writer) commit(p *pendingEntry) error {
	p.entry.Offset = w.offset
	record := encodeEntryData(w.opts.Version, p.entry)
	if _, err := w.buf.Write(record); err != nil {
		return fmt.Errorf("write entry record: %w", err)
	}
	if _, err := w.buf.Write(p.payload); err != nil {
		return fmt.Errorf("write entry payload: %w", err)
	}
	w.offset += int64(len(record) + len(p.payload))
	w.entries = append(w.entries, p.entry)
	w.paths = append(w.paths, p.path)
	return nil
}

// sealIndexRegion pads a sub-index buffer to the cipher boundary,
// hashes the padded plaintext, and encrypts it when a key is
// configured.
func (w *Writer) sealIndexRegion(plain []byte) ([]byte, [20]byte) {
	padded := make([]byte, align16(len(plain)))
	copy(padded, plain)
	hash := contentHash(padded)
	if w.key != nil {
		w.key.encrypt(padded)
	}
	return padded, hash
}

// Finalize serializes the dual index and footer, flushes the archive,
// and renames it into place. The writer is unusable afterwards.
func (w *Writer) Finalize() error {
	if w.finalized {
		return ErrFinalized
	}
	w.finalized = true

	live := make([]*Entry, 0, len(w.entries))
	livePaths := make([]string, 0, len(w.paths))
	for i, e := range w.entries {
		if e.Deleted {
			continue
		}
		live = append(live, e)
		livePaths = append(livePaths, w.paths[i])
	}

	encoded, offsets, err := buildEncodedEntries(live)
	if err != nil {
		return w.abort(err)
	}

	pathHashPlain := buildPathHashIndex(livePaths, offsets, w.opts.PathHashSeed)
	dirPlain, err := buildDirectoryIndex(livePaths, offsets)
	if err != nil {
		return w.abort(err)
	}

	pathHashBuf, pathHashDigest := w.sealIndexRegion(pathHashPlain)
	dirBuf, dirDigest := w.sealIndexRegion(dirPlain)

	// The primary index records absolute offsets of the sub-indices
	// that follow it, so its own padded size must be known first.
	indexOffset := w.offset
	primarySize := int64(align16(primaryIndexSize(w.opts.MountPoint, len(encoded))))
	pathHashOffset := indexOffset + primarySize
	dirOffset := pathHashOffset + int64(len(pathHashBuf))

	primaryPlain, err := encodePrimaryIndex(&primaryIndex{
		MountPoint:      w.opts.MountPoint,
		EntryCount:      uint32(len(live)),
		PathHashSeed:    w.opts.PathHashSeed,
		PathHashOffset:  pathHashOffset,
		PathHashSize:    int64(len(pathHashBuf)),
		PathHashHash:    pathHashDigest,
		DirectoryOffset: dirOffset,
		DirectorySize:   int64(len(dirBuf)),
		DirectoryHash:   dirDigest,
		EncodedEntries:  encoded,
	})
	if err != nil {
		return w.abort(err)
	}
	primaryBuf, primaryDigest := w.sealIndexRegion(primaryPlain)

	footer := &Footer{
		Encrypted:   w.key != nil,
		Version:     w.opts.Version,
		IndexOffset: indexOffset,
		IndexSize:   int64(len(primaryBuf)),
		IndexHash:   primaryDigest,
		MethodNames: []Method{w.opts.Method},
	}
	footerBuf, err := encodeFooter(footer)
	if err != nil {
		return w.abort(err)
	}

	for _, region := range [][]byte{primaryBuf, pathHashBuf, dirBuf, indexMarker[:], footerBuf} {
		if _, err := w.buf.Write(region); err != nil {
			return w.abort(fmt.Errorf("write index region: %w", err))
		}
	}

	if err := w.buf.Flush(); err != nil {
		return w.abort(fmt.Errorf("flush archive: %w", err))
	}
	if err := w.file.Close(); err != nil {
		return w.abort(fmt.Errorf("close temp file: %w", err))
	}
	w.file = nil

	os.Remove(w.path)
	if err := os.Rename(w.tempPath, w.path); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("save archive: %w", err)
	}
	return nil
}

// abort discards the temp file and returns err.
func (w *Writer) abort(err error) error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	os.Remove(w.tempPath)
	return err
}

// Close releases the writer. If Finalize has not run, the partial
// temp file is discarded and no archive is produced.
func (w *Writer) Close() error {
	if w.finalized {
		return nil
	}
	w.finalized = true
	return w.abort(nil)
}
