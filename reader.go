// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package pak

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

// Reader is an open flat archive. A Reader never mutates the file;
// separate Readers over the same archive are independent, and a single
// Reader serializes its own seeks internally.
type Reader struct {
	mu   sync.Mutex
	file *os.File
	size int64

	footer *Footer
	key    *cipherKey

	mountPoint string
	seed       uint64
	entries    []*Entry
	paths      []string
	byPath     map[string]int
	byHash     map[uint64]int
}

// OpenReader opens a flat archive for reading. key is hex- or
// base64-encoded key material; pass "" for unencrypted archives.
// Opening an encrypted archive without a key returns ErrKeyRequired.
func OpenReader(path, key string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	r := &Reader{file: file}
	if err := r.load(key); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// load reads the footer and both indices and decodes the entry set.
func (r *Reader) load(keyMaterial string) error {
	info, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}
	r.size = info.Size()

	footer, err := readFooter(r.file, r.size)
	if err != nil {
		return err
	}
	r.footer = footer
	if !footer.Version.hasPathHashIndex() {
		return fmt.Errorf("%w: version %d uses the legacy index", ErrUnsupportedVersion, footer.Version)
	}

	if footer.Encrypted {
		if keyMaterial == "" {
			return ErrKeyRequired
		}
		raw, err := ParseKey(keyMaterial)
		if err != nil {
			return err
		}
		if r.key, err = newCipherKey(raw); err != nil {
			return err
		}
	}

	primaryBuf, err := r.readIndexRegion(footer.IndexOffset, footer.IndexSize, footer.IndexHash)
	if err != nil {
		return fmt.Errorf("primary index: %w", err)
	}
	primary, err := decodePrimaryIndex(primaryBuf)
	if err != nil {
		return err
	}
	r.mountPoint = primary.MountPoint
	r.seed = primary.PathHashSeed

	pathHashBuf, err := r.readIndexRegion(primary.PathHashOffset, primary.PathHashSize, primary.PathHashHash)
	if err != nil {
		return fmt.Errorf("path hash index: %w", err)
	}
	hashTable, err := parsePathHashIndex(pathHashBuf)
	if err != nil {
		return err
	}

	dirBuf, err := r.readIndexRegion(primary.DirectoryOffset, primary.DirectorySize, primary.DirectoryHash)
	if err != nil {
		return fmt.Errorf("directory index: %w", err)
	}
	dirTable, err := parseDirectoryIndex(dirBuf)
	if err != nil {
		return err
	}

	if len(dirTable) != int(primary.EntryCount) {
		return fmt.Errorf("%w: directory index has %d entries, index header says %d",
			ErrCorruptArchive, len(dirTable), primary.EntryCount)
	}

	// Decode each entry once, addressed by its offset into the
	// encoded blob; both sub-indices resolve to the same slice.
	methodCount := len(footer.MethodNames)
	byOffset := make(map[uint32]int)
	r.byPath = make(map[string]int, len(dirTable))
	for path, off := range dirTable {
		idx, ok := byOffset[off]
		if !ok {
			if int(off) >= len(primary.EncodedEntries) {
				return fmt.Errorf("%w: entry offset %d outside encoded blob of %d bytes",
					ErrCorruptArchive, off, len(primary.EncodedEntries))
			}
			e, _, err := decodeEntryCompact(primary.EncodedEntries[off:], methodCount)
			if err != nil {
				return fmt.Errorf("entry at blob offset %d: %w", off, err)
			}
			idx = len(r.entries)
			r.entries = append(r.entries, e)
			r.paths = append(r.paths, path)
			byOffset[off] = idx
		}
		r.byPath[path] = idx
	}

	r.byHash = make(map[uint64]int, len(hashTable))
	for h, off := range hashTable {
		if idx, ok := byOffset[off]; ok {
			r.byHash[h] = idx
		} else {
			return fmt.Errorf("%w: path hash index references blob offset %d unknown to directory index",
				ErrCorruptArchive, off)
		}
	}
	return nil
}

// readFooter locates and decodes the footer by probing each supported
// version's fixed size from the end of the stream, newest first.
func readFooter(f io.ReaderAt, size int64) (*Footer, error) {
	var lastErr error
	for v := VersionFNV64BugFix; v >= VersionNamedMethods; v-- {
		footerSize := int64(FooterSize(v))
		if size < footerSize {
			lastErr = fmt.Errorf("%w: %d-byte file cannot hold a version %d footer",
				ErrTruncatedStream, size, v)
			continue
		}
		buf := make([]byte, footerSize)
		if _, err := f.ReadAt(buf, size-footerSize); err != nil {
			return nil, fmt.Errorf("read footer: %w", err)
		}
		footer, err := decodeFooter(buf)
		if err != nil {
			// Magic matched but the embedded version is outside the
			// supported set: this really is the footer, so report
			// the version problem instead of probing onward.
			if errors.Is(err, ErrUnsupportedVersion) {
				return nil, err
			}
			lastErr = err
			continue
		}
		return footer, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no footer found", ErrCorruptArchive)
	}
	return nil, lastErr
}

// readIndexRegion reads, decrypts, and integrity-checks one index
// region. The recorded hash covers the padded plaintext.
func (r *Reader) readIndexRegion(offset, size int64, want [20]byte) ([]byte, error) {
	if offset < 0 || size < 0 || offset+size > r.size {
		return nil, fmt.Errorf("%w: index region %d+%d exceeds %d-byte file",
			ErrTruncatedStream, offset, size, r.size)
	}
	buf := make([]byte, size)
	if _, err := r.file.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("read index region at %d: %w", offset, err)
	}
	if r.key != nil {
		r.key.decrypt(buf)
	}
	if got := contentHash(buf); got != want {
		return nil, fmt.Errorf("%w: index region at %d hashes to %x, footer records %x",
			ErrIntegrityFailure, offset, got, want)
	}
	return buf, nil
}

// Version returns the archive's format version.
func (r *Reader) Version() Version { return r.footer.Version }

// Encrypted reports whether the archive's footer has the encrypted
// flag set.
func (r *Reader) Encrypted() bool { return r.footer.Encrypted }

// MountPoint returns the archive's mount point.
func (r *Reader) MountPoint() string { return r.mountPoint }

// EntryCount returns the number of live entries.
func (r *Reader) EntryCount() int { return len(r.entries) }

// List returns all entry paths, sorted.
func (r *Reader) List() []string {
	out := make([]string, len(r.paths))
	copy(out, r.paths)
	sort.Strings(out)
	return out
}

// Info returns the entry metadata for a path.
func (r *Reader) Info(path string) (*Entry, bool) {
	idx, ok := r.lookup(path)
	if !ok {
		return nil, false
	}
	return r.entries[idx], true
}

// lookup resolves a path via the directory index, falling back to the
// flat path-hash index.
func (r *Reader) lookup(path string) (int, bool) {
	path = normalizeArchivePath(path)
	if idx, ok := r.byPath[path]; ok {
		return idx, true
	}
	idx, ok := r.byHash[PathHash(path, r.seed)]
	return idx, ok
}

// Read returns the original bytes of an entry: payload read at the
// recorded offset, prefix-decrypted, block-decompressed, and verified
// against the entry's content hash.
func (r *Reader) Read(path string) ([]byte, error) {
	path = normalizeArchivePath(path)
	idx, ok := r.lookup(path)
	if !ok {
		return nil, fmt.Errorf("entry not found: %s", path)
	}
	e := r.entries[idx]

	recordSize := int64(entryDataSize(r.footer.Version, e))
	payloadOffset := e.Offset + recordSize
	if payloadOffset+e.CompressedSize > r.size {
		return nil, fmt.Errorf("%w: entry payload %d+%d exceeds %d-byte file",
			ErrTruncatedStream, payloadOffset, e.CompressedSize, r.size)
	}

	payload := make([]byte, e.CompressedSize)
	r.mu.Lock()
	_, err := r.file.ReadAt(payload, payloadOffset)
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("read entry payload at %d: %w", payloadOffset, err)
	}

	if e.Encrypted {
		if r.key == nil {
			return nil, ErrKeyRequired
		}
		// The logical (pre-padding) payload length bounds the
		// encrypted prefix: the last block span end for compressed
		// entries, the uncompressed size otherwise.
		logical := int(e.UncompressedSize)
		if len(e.Blocks) > 0 {
			logical = int(e.Blocks[len(e.Blocks)-1].End)
		}
		r.key.decryptPrefix(path, payload, logical)
	}

	var data []byte
	if e.MethodSlot != 0 {
		method := r.footer.MethodNames[e.MethodSlot-1]
		data, err = decodeBlocks(method, int(e.BlockSize), e.Blocks, payload, int(e.UncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", path, err)
		}
	} else {
		if int64(len(payload)) < e.UncompressedSize {
			return nil, fmt.Errorf("%w: entry %s payload is %d bytes, want %d",
				ErrCorruptArchive, path, len(payload), e.UncompressedSize)
		}
		data = payload[:e.UncompressedSize]
	}

	if got := contentHash(data); !bytes.Equal(got[:], e.Hash[:]) {
		return nil, fmt.Errorf("%w: entry %s hashes to %x, index records %x",
			ErrIntegrityFailure, path, got, e.Hash)
	}
	return data, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
