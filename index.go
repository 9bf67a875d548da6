// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package pak

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// maxIndexString bounds serialized path lengths. Longer strings do not
// fit the engine's index readers.
const maxIndexString = 0xFFFF

// writeString serializes a length-prefixed, nul-terminated string.
func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > maxIndexString {
		return fmt.Errorf("%w: path of %d bytes, max %d", ErrIndexOverflow, len(s), maxIndexString)
	}
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)+1))
	buf.Write(n[:])
	buf.WriteString(s)
	buf.WriteByte(0)
	return nil
}

// readString parses a string written by writeString. Returns the
// string and the number of bytes consumed.
func readString(buf []byte) (string, int, error) {
	if len(buf) < 4 {
		return "", 0, fmt.Errorf("%w: string length field", ErrTruncatedStream)
	}
	n := binary.LittleEndian.Uint32(buf)
	if n == 0 {
		return "", 4, nil
	}
	if n > maxIndexString+1 {
		return "", 0, fmt.Errorf("%w: string of %d bytes, max %d", ErrIndexOverflow, n, maxIndexString)
	}
	if len(buf) < 4+int(n) {
		return "", 0, fmt.Errorf("%w: string body of %d bytes", ErrTruncatedStream, n)
	}
	if buf[4+n-1] != 0 {
		return "", 0, fmt.Errorf("%w: string missing nul terminator", ErrCorruptArchive)
	}
	return string(buf[4 : 4+n-1]), 4 + int(n), nil
}

// splitIndexPath splits an archive-relative path into its directory
// component (trailing slash, "/" for the root) and filename.
func splitIndexPath(path string) (dir, name string) {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i+1], path[i+1:]
	}
	return "/", path
}

// joinIndexPath is the inverse of splitIndexPath.
func joinIndexPath(dir, name string) string {
	if dir == "/" {
		return name
	}
	return dir + name
}

// buildEncodedEntries serializes the compact shape of all live entries
// in insertion order and returns the blob plus each entry's byte
// offset within it. Both sub-indices reference entries through these
// offsets.
func buildEncodedEntries(entries []*Entry) ([]byte, []uint32, error) {
	var blob bytes.Buffer
	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		if blob.Len() > 0xFFFFFFFF-64 {
			return nil, nil, fmt.Errorf("%w: encoded entry blob exceeds 4GiB", ErrIndexOverflow)
		}
		offsets[i] = uint32(blob.Len())
		enc, err := encodeEntryCompact(e)
		if err != nil {
			return nil, nil, fmt.Errorf("entry %d: %w", i, err)
		}
		blob.Write(enc)
	}
	return blob.Bytes(), offsets, nil
}

// buildPathHashIndex serializes the flat table of keyed path hash to
// encoded-entry offset, in insertion order.
func buildPathHashIndex(paths []string, offsets []uint32, seed uint64) []byte {
	var buf bytes.Buffer
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(paths)))
	buf.Write(n[:])
	for i, p := range paths {
		var rec [12]byte
		binary.LittleEndian.PutUint64(rec[:], PathHash(p, seed))
		binary.LittleEndian.PutUint32(rec[8:], offsets[i])
		buf.Write(rec[:])
	}
	return buf.Bytes()
}

// parsePathHashIndex parses buildPathHashIndex output into a lookup
// map.
func parsePathHashIndex(buf []byte) (map[uint64]uint32, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: path hash index header", ErrTruncatedStream)
	}
	count := binary.LittleEndian.Uint32(buf)
	// The region is padded to 16 bytes for the cipher, so allow a
	// short tail but never a short table.
	if len(buf) < 4+int(count)*12 {
		return nil, fmt.Errorf("%w: path hash index has %d bytes for %d records",
			ErrTruncatedStream, len(buf)-4, count)
	}
	table := make(map[uint64]uint32, count)
	o := 4
	for i := uint32(0); i < count; i++ {
		h := binary.LittleEndian.Uint64(buf[o:])
		table[h] = binary.LittleEndian.Uint32(buf[o+8:])
		o += 12
	}
	return table, nil
}

// buildDirectoryIndex serializes the recursive directory to filename
// to encoded-entry-offset tree. Directories and filenames are sorted
// so rebuilds are deterministic.
func buildDirectoryIndex(paths []string, offsets []uint32) ([]byte, error) {
	type fileRef struct {
		name   string
		offset uint32
	}
	dirs := make(map[string][]fileRef)
	for i, p := range paths {
		dir, name := splitIndexPath(p)
		dirs[dir] = append(dirs[dir], fileRef{name: name, offset: offsets[i]})
	}

	dirNames := make([]string, 0, len(dirs))
	for d := range dirs {
		dirNames = append(dirNames, d)
	}
	sort.Strings(dirNames)

	var buf bytes.Buffer
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(dirNames)))
	buf.Write(n[:])
	for _, d := range dirNames {
		if err := writeString(&buf, d); err != nil {
			return nil, err
		}
		files := dirs[d]
		sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
		binary.LittleEndian.PutUint32(n[:], uint32(len(files)))
		buf.Write(n[:])
		for _, f := range files {
			if err := writeString(&buf, f.name); err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint32(n[:], f.offset)
			buf.Write(n[:])
		}
	}
	return buf.Bytes(), nil
}

// parseDirectoryIndex parses buildDirectoryIndex output into a full
// path to encoded-entry-offset map.
func parseDirectoryIndex(buf []byte) (map[string]uint32, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: directory index header", ErrTruncatedStream)
	}
	dirCount := binary.LittleEndian.Uint32(buf)
	o := 4

	table := make(map[string]uint32)
	for i := uint32(0); i < dirCount; i++ {
		dir, n, err := readString(buf[o:])
		if err != nil {
			return nil, fmt.Errorf("directory %d at offset %d: %w", i, o, err)
		}
		o += n
		if len(buf) < o+4 {
			return nil, fmt.Errorf("%w: directory %d file count", ErrTruncatedStream, i)
		}
		fileCount := binary.LittleEndian.Uint32(buf[o:])
		o += 4
		for j := uint32(0); j < fileCount; j++ {
			name, n, err := readString(buf[o:])
			if err != nil {
				return nil, fmt.Errorf("file %d in %q at offset %d: %w", j, dir, o, err)
			}
			o += n
			if len(buf) < o+4 {
				return nil, fmt.Errorf("%w: file %d in %q entry offset", ErrTruncatedStream, j, dir)
			}
			table[joinIndexPath(dir, name)] = binary.LittleEndian.Uint32(buf[o:])
			o += 4
		}
	}
	return table, nil
}

// primaryIndex is the top-level index buffer referenced by the footer.
// Both sub-indices are derived views over the same canonical entry
// list; neither is mutated incrementally.
type primaryIndex struct {
	MountPoint   string
	EntryCount   uint32
	PathHashSeed uint64

	PathHashOffset int64
	PathHashSize   int64
	PathHashHash   [20]byte

	DirectoryOffset int64
	DirectorySize   int64
	DirectoryHash   [20]byte

	EncodedEntries []byte
}

// encodePrimaryIndex serializes the primary index buffer, before
// padding and encryption.
func encodePrimaryIndex(idx *primaryIndex) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeString(&buf, idx.MountPoint); err != nil {
		return nil, err
	}
	var n [4]byte
	var n8 [8]byte
	binary.LittleEndian.PutUint32(n[:], idx.EntryCount)
	buf.Write(n[:])
	binary.LittleEndian.PutUint64(n8[:], idx.PathHashSeed)
	buf.Write(n8[:])

	writeSub := func(offset, size int64, hash [20]byte) {
		binary.LittleEndian.PutUint32(n[:], 1)
		buf.Write(n[:])
		binary.LittleEndian.PutUint64(n8[:], uint64(offset))
		buf.Write(n8[:])
		binary.LittleEndian.PutUint64(n8[:], uint64(size))
		buf.Write(n8[:])
		buf.Write(hash[:])
	}
	writeSub(idx.PathHashOffset, idx.PathHashSize, idx.PathHashHash)
	writeSub(idx.DirectoryOffset, idx.DirectorySize, idx.DirectoryHash)

	binary.LittleEndian.PutUint32(n[:], uint32(len(idx.EncodedEntries)))
	buf.Write(n[:])
	buf.Write(idx.EncodedEntries)

	// Trailing unused file count, always zero for archives this
	// codec writes.
	binary.LittleEndian.PutUint32(n[:], 0)
	buf.Write(n[:])
	return buf.Bytes(), nil
}

// primaryIndexSize returns the serialized size of the primary index
// for a given mount point and encoded blob length, before padding.
// Needed ahead of encoding because the primary index records the
// absolute offsets of the sub-indices that follow it.
func primaryIndexSize(mountPoint string, encodedLen int) int {
	return 4 + len(mountPoint) + 1 + // mount point string
		4 + 8 + // entry count, seed
		2*(4+8+8+20) + // both sub-index descriptors
		4 + encodedLen + // encoded entries blob
		4 // unused count
}

// decodePrimaryIndex parses encodePrimaryIndex output.
func decodePrimaryIndex(buf []byte) (*primaryIndex, error) {
	idx := &primaryIndex{}
	mount, o, err := readString(buf)
	if err != nil {
		return nil, fmt.Errorf("mount point: %w", err)
	}
	idx.MountPoint = mount

	if len(buf) < o+12 {
		return nil, fmt.Errorf("%w: index header", ErrTruncatedStream)
	}
	idx.EntryCount = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	idx.PathHashSeed = binary.LittleEndian.Uint64(buf[o:])
	o += 8

	readSub := func(offset *int64, size *int64, hash *[20]byte) error {
		if len(buf) < o+4+8+8+20 {
			return fmt.Errorf("%w: sub-index descriptor at offset %d", ErrTruncatedStream, o)
		}
		present := binary.LittleEndian.Uint32(buf[o:])
		o += 4
		if present != 1 {
			return fmt.Errorf("%w: sub-index marked absent", ErrCorruptArchive)
		}
		*offset = int64(binary.LittleEndian.Uint64(buf[o:]))
		o += 8
		*size = int64(binary.LittleEndian.Uint64(buf[o:]))
		o += 8
		copy(hash[:], buf[o:o+20])
		o += 20
		return nil
	}
	if err := readSub(&idx.PathHashOffset, &idx.PathHashSize, &idx.PathHashHash); err != nil {
		return nil, fmt.Errorf("path hash index descriptor: %w", err)
	}
	if err := readSub(&idx.DirectoryOffset, &idx.DirectorySize, &idx.DirectoryHash); err != nil {
		return nil, fmt.Errorf("directory index descriptor: %w", err)
	}

	if len(buf) < o+4 {
		return nil, fmt.Errorf("%w: encoded entries size", ErrTruncatedStream)
	}
	encodedSize := binary.LittleEndian.Uint32(buf[o:])
	o += 4
	if len(buf) < o+int(encodedSize)+4 {
		return nil, fmt.Errorf("%w: encoded entries blob of %d bytes", ErrTruncatedStream, encodedSize)
	}
	idx.EncodedEntries = buf[o : o+int(encodedSize)]
	return idx, nil
}
