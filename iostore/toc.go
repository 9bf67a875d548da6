// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package iostore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	pak "github.com/pakworks/go-pak"
)

// Table-of-contents format constants.
const (
	tocVersion    = 1
	tocHeaderSize = 64
	methodNameLen = 32

	// Per-record wire sizes.
	offsetLengthSize = 10
	blockEntrySize   = 12
	chunkMetaSize    = 36
)

// tocMagic opens every table-of-contents file.
var tocMagic = [16]byte{'-', '=', '=', '-', '-', '=', '=', '-', '-', '=', '=', '-', '-', '=', '=', '-'}

// Container flag bits.
const (
	containerFlagCompressed = 1 << 0
	containerFlagEncrypted  = 1 << 1
	containerFlagIndexed    = 1 << 2
)

// CompressionBlockEntry locates one compression unit in the data
// stream. Method index 0 is "no compression"; other indices are
// 1-based references into the container's method-name table.
type CompressionBlockEntry struct {
	Offset           uint64 // data-stream offset, 5 bytes on the wire
	CompressedSize   uint32 // 3 bytes on the wire
	UncompressedSize uint32 // 3 bytes on the wire
	Method           uint8
}

// ChunkDescriptor is one payload unit's table-of-contents record.
// Offset is the data-stream position of the chunk's first block;
// Length is the chunk's uncompressed length, from which its block
// count is derived (ceil(Length / block size)).
type ChunkDescriptor struct {
	ID     ChunkID
	Offset uint64
	Length uint64
	Blocks []CompressionBlockEntry
	Hash   [32]byte
	Flags  uint32
}

// Chunk descriptor flag bits.
const (
	chunkFlagCompressed = 1 << 0
	chunkFlagMetadata   = 1 << 1
)

// Toc is the decoded table of contents. Built once by the writer's
// Finalize and written to the .utoc file; the paired data stream holds
// only block bytes in append order.
type Toc struct {
	ContainerID uint64
	BlockSize   uint32
	MethodNames []pak.Method
	MountPoint  string
	Chunks      []ChunkDescriptor
	Directory   map[string]uint32 // chunk-relative path -> chunk table position
}

// putUint40 writes v as 5 little-endian bytes. Values above 2^40-1 do
// not fit the wire format.
func putUint40(buf []byte, v uint64) error {
	if v > 0xFFFFFFFFFF {
		return fmt.Errorf("%w: value %d exceeds 40-bit field", pak.ErrIndexOverflow, v)
	}
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
	buf[4] = byte(v >> 32)
	return nil
}

func getUint40(buf []byte) uint64 {
	return uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 |
		uint64(buf[3])<<24 | uint64(buf[4])<<32
}

// putUint24 writes v as 3 little-endian bytes.
func putUint24(buf []byte, v uint32) error {
	if v > 0xFFFFFF {
		return fmt.Errorf("%w: value %d exceeds 24-bit field", pak.ErrIndexOverflow, v)
	}
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	return nil
}

func getUint24(buf []byte) uint32 {
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16
}

// encodeToc serializes the table of contents: fixed header, chunk-id
// table, offset/length table, compression-block table, method-name
// table, per-chunk metadata, directory index.
func encodeToc(t *Toc) ([]byte, error) {
	blockCount := 0
	compressed := false
	for _, c := range t.Chunks {
		blockCount += len(c.Blocks)
		if c.Flags&chunkFlagCompressed != 0 {
			compressed = true
		}
	}

	directory, err := encodeDirectory(t.MountPoint, t.Directory)
	if err != nil {
		return nil, err
	}

	var flags uint32
	if compressed {
		flags |= containerFlagCompressed
	}
	if len(t.Directory) > 0 {
		flags |= containerFlagIndexed
	}

	header := make([]byte, tocHeaderSize)
	copy(header[0:16], tocMagic[:])
	header[16] = tocVersion
	binary.LittleEndian.PutUint32(header[20:], tocHeaderSize)
	binary.LittleEndian.PutUint32(header[24:], uint32(len(t.Chunks)))
	binary.LittleEndian.PutUint32(header[28:], uint32(blockCount))
	binary.LittleEndian.PutUint32(header[32:], t.BlockSize)
	binary.LittleEndian.PutUint32(header[36:], uint32(len(t.MethodNames)))
	binary.LittleEndian.PutUint32(header[40:], methodNameLen)
	binary.LittleEndian.PutUint64(header[44:], t.ContainerID)
	binary.LittleEndian.PutUint32(header[52:], flags)
	binary.LittleEndian.PutUint32(header[56:], uint32(len(directory)))

	var buf bytes.Buffer
	buf.Write(header)

	for _, c := range t.Chunks {
		id := c.ID.encode()
		buf.Write(id[:])
	}

	for _, c := range t.Chunks {
		var rec [offsetLengthSize]byte
		if err := putUint40(rec[0:5], c.Offset); err != nil {
			return nil, fmt.Errorf("chunk %s offset: %w", c.ID, err)
		}
		if err := putUint40(rec[5:10], c.Length); err != nil {
			return nil, fmt.Errorf("chunk %s length: %w", c.ID, err)
		}
		buf.Write(rec[:])
	}

	for _, c := range t.Chunks {
		for i, b := range c.Blocks {
			var rec [blockEntrySize]byte
			if err := putUint40(rec[0:5], b.Offset); err != nil {
				return nil, fmt.Errorf("chunk %s block %d offset: %w", c.ID, i, err)
			}
			if err := putUint24(rec[5:8], b.CompressedSize); err != nil {
				return nil, fmt.Errorf("chunk %s block %d compressed size: %w", c.ID, i, err)
			}
			if err := putUint24(rec[8:11], b.UncompressedSize); err != nil {
				return nil, fmt.Errorf("chunk %s block %d uncompressed size: %w", c.ID, i, err)
			}
			rec[11] = b.Method
			buf.Write(rec[:])
		}
	}

	for _, m := range t.MethodNames {
		var slot [methodNameLen]byte
		copy(slot[:], m.String())
		buf.Write(slot[:])
	}

	for _, c := range t.Chunks {
		var meta [chunkMetaSize]byte
		copy(meta[0:32], c.Hash[:])
		binary.LittleEndian.PutUint32(meta[32:], c.Flags)
		buf.Write(meta[:])
	}

	buf.Write(directory)
	return buf.Bytes(), nil
}

// encodeDirectory serializes the directory index: mount point, entry
// count, then (path, chunk position) pairs sorted by path.
func encodeDirectory(mountPoint string, dir map[string]uint32) ([]byte, error) {
	paths := make([]string, 0, len(dir))
	for p := range dir {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	if err := writeTocString(&buf, mountPoint); err != nil {
		return nil, err
	}
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(paths)))
	buf.Write(n[:])
	for _, p := range paths {
		if err := writeTocString(&buf, p); err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(n[:], dir[p])
		buf.Write(n[:])
	}
	return buf.Bytes(), nil
}

// decodeToc parses encodeToc output.
func decodeToc(buf []byte) (*Toc, error) {
	if len(buf) < tocHeaderSize {
		return nil, fmt.Errorf("%w: table of contents is %d bytes, header needs %d",
			pak.ErrTruncatedStream, len(buf), tocHeaderSize)
	}
	if !bytes.Equal(buf[0:16], tocMagic[:]) {
		return nil, fmt.Errorf("%w: bad table-of-contents magic", pak.ErrCorruptArchive)
	}
	if buf[16] != tocVersion {
		return nil, fmt.Errorf("%w: table-of-contents version %d", pak.ErrUnsupportedVersion, buf[16])
	}
	headerSize := binary.LittleEndian.Uint32(buf[20:])
	if headerSize != tocHeaderSize {
		return nil, fmt.Errorf("%w: header size %d, want %d", pak.ErrCorruptArchive, headerSize, tocHeaderSize)
	}

	entryCount := int(binary.LittleEndian.Uint32(buf[24:]))
	blockCount := int(binary.LittleEndian.Uint32(buf[28:]))
	blockSize := binary.LittleEndian.Uint32(buf[32:])
	methodCount := int(binary.LittleEndian.Uint32(buf[36:]))
	nameLen := int(binary.LittleEndian.Uint32(buf[40:]))
	containerID := binary.LittleEndian.Uint64(buf[44:])
	dirSize := int(binary.LittleEndian.Uint32(buf[56:]))

	if nameLen != methodNameLen {
		return nil, fmt.Errorf("%w: method name length %d, want %d",
			pak.ErrCorruptArchive, nameLen, methodNameLen)
	}

	need := tocHeaderSize + entryCount*(chunkIDSize+offsetLengthSize+chunkMetaSize) +
		blockCount*blockEntrySize + methodCount*methodNameLen + dirSize
	if len(buf) < need {
		return nil, fmt.Errorf("%w: table of contents is %d bytes, tables need %d",
			pak.ErrTruncatedStream, len(buf), need)
	}

	t := &Toc{
		ContainerID: containerID,
		BlockSize:   blockSize,
		Chunks:      make([]ChunkDescriptor, entryCount),
	}

	o := tocHeaderSize
	for i := range t.Chunks {
		t.Chunks[i].ID = decodeChunkID(buf[o:])
		o += chunkIDSize
	}
	for i := range t.Chunks {
		t.Chunks[i].Offset = getUint40(buf[o:])
		t.Chunks[i].Length = getUint40(buf[o+5:])
		o += offsetLengthSize
	}

	blocks := make([]CompressionBlockEntry, blockCount)
	for i := range blocks {
		blocks[i] = CompressionBlockEntry{
			Offset:           getUint40(buf[o:]),
			CompressedSize:   getUint24(buf[o+5:]),
			UncompressedSize: getUint24(buf[o+8:]),
			Method:           buf[o+11],
		}
		o += blockEntrySize
	}

	for i := 0; i < methodCount; i++ {
		name := buf[o : o+methodNameLen]
		o += methodNameLen
		end := bytes.IndexByte(name, 0)
		if end < 0 {
			end = len(name)
		}
		m, err := pak.ParseMethod(string(name[:end]))
		if err != nil {
			return nil, fmt.Errorf("method slot %d: %w", i+1, err)
		}
		t.MethodNames = append(t.MethodNames, m)
	}

	for i := range t.Chunks {
		copy(t.Chunks[i].Hash[:], buf[o:o+32])
		t.Chunks[i].Flags = binary.LittleEndian.Uint32(buf[o+32:])
		o += chunkMetaSize
	}

	// Re-attach each chunk's contiguous block run. Block count per
	// chunk is derived from its uncompressed length.
	next := 0
	for i := range t.Chunks {
		count := blockCountFor(t.Chunks[i].Length, blockSize)
		if next+count > len(blocks) {
			return nil, fmt.Errorf("%w: chunk %s needs blocks %d-%d of %d",
				pak.ErrCorruptArchive, t.Chunks[i].ID, next, next+count, len(blocks))
		}
		t.Chunks[i].Blocks = blocks[next : next+count]
		next += count
	}
	if next != len(blocks) {
		return nil, fmt.Errorf("%w: %d compression blocks unclaimed by chunks",
			pak.ErrCorruptArchive, len(blocks)-next)
	}

	mount, dir, err := decodeDirectory(buf[o : o+dirSize])
	if err != nil {
		return nil, err
	}
	t.MountPoint = mount
	t.Directory = dir
	return t, nil
}

// blockCountFor returns the number of compression blocks covering an
// uncompressed length.
func blockCountFor(length uint64, blockSize uint32) int {
	if length == 0 {
		return 0
	}
	return int((length + uint64(blockSize) - 1) / uint64(blockSize))
}

// decodeDirectory parses encodeDirectory output.
func decodeDirectory(buf []byte) (string, map[string]uint32, error) {
	mount, o, err := readTocString(buf)
	if err != nil {
		return "", nil, fmt.Errorf("directory mount point: %w", err)
	}
	if len(buf) < o+4 {
		return "", nil, fmt.Errorf("%w: directory entry count", pak.ErrTruncatedStream)
	}
	count := binary.LittleEndian.Uint32(buf[o:])
	o += 4

	dir := make(map[string]uint32, count)
	for i := uint32(0); i < count; i++ {
		path, n, err := readTocString(buf[o:])
		if err != nil {
			return "", nil, fmt.Errorf("directory entry %d: %w", i, err)
		}
		o += n
		if len(buf) < o+4 {
			return "", nil, fmt.Errorf("%w: directory entry %d position", pak.ErrTruncatedStream, i)
		}
		dir[path] = binary.LittleEndian.Uint32(buf[o:])
		o += 4
	}
	return mount, dir, nil
}

// writeTocString serializes a length-prefixed, nul-terminated string.
func writeTocString(buf *bytes.Buffer, s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("%w: path of %d bytes", pak.ErrIndexOverflow, len(s))
	}
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)+1))
	buf.Write(n[:])
	buf.WriteString(s)
	buf.WriteByte(0)
	return nil
}

// readTocString parses a string written by writeTocString.
func readTocString(buf []byte) (string, int, error) {
	if len(buf) < 4 {
		return "", 0, fmt.Errorf("%w: string length field", pak.ErrTruncatedStream)
	}
	n := binary.LittleEndian.Uint32(buf)
	if n == 0 {
		return "", 4, nil
	}
	if n > 0x10000 || len(buf) < 4+int(n) {
		return "", 0, fmt.Errorf("%w: string body of %d bytes", pak.ErrTruncatedStream, n)
	}
	if buf[4+n-1] != 0 {
		return "", 0, fmt.Errorf("%w: string missing nul terminator", pak.ErrCorruptArchive)
	}
	return string(buf[4 : 4+n-1]), 4 + int(n), nil
}
