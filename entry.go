// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package pak

import (
	"encoding/binary"
	"fmt"
)

// Entry describes one packaged file. Created once per appended file
// and immutable after creation; owned exclusively by the index being
// built.
type Entry struct {
	Offset           int64
	CompressedSize   int64 // on-disk payload size, including encryption padding
	UncompressedSize int64
	MethodSlot       uint32 // 0 = uncompressed, otherwise 1-based footer slot
	Timestamp        uint64 // serialized only for versions that carry it
	Hash             [20]byte
	Blocks           []blockSpan
	Encrypted        bool
	Deleted          bool
	BlockSize        uint32
}

// Compact-shape flag word layout.
const (
	entryFlagBlockSizeMask  = 0x3F     // bits 0-5: block size >> 11
	entryFlagBlockSizeRaw   = 0x3F     // sentinel: explicit u32 follows
	entryFlagBlockCountMask = 0xFFFF   // bits 6-21
	entryFlagEncrypted      = 1 << 22  // bit 22
	entryFlagMethodMask     = 0x3F     // bits 23-28
	entryFlagSize32         = 1 << 29  // compressed size fits u32
	entryFlagUncompSize32   = 1 << 30  // uncompressed size fits u32
	entryFlagOffset32       = 1 << 31  // offset fits u32
)

// Inline-shape flag bits.
const (
	entryDataFlagEncrypted = 1 << 0
	entryDataFlagDeleted   = 1 << 1
)

// entryDataSize returns the size of the inline record preceding an
// entry's payload in the data section.
func entryDataSize(v Version, e *Entry) int {
	size := 8 + 8 + 8 + 4 // offset, compressed size, uncompressed size, method slot
	if v.hasEntryTimestamp() {
		size += 8
	}
	size += 20 // hash
	if e.MethodSlot != 0 {
		size += 4 + 16*len(e.Blocks)
	}
	size += 1 + 4 // flags, block size
	return size
}

// encodeEntryData serializes the expanded shape written inline in the
// data section. The offset field is always zero in this shape; the
// authoritative offset lives in the index.
func encodeEntryData(v Version, e *Entry) []byte {
	buf := make([]byte, entryDataSize(v, e))
	o := 0
	binary.LittleEndian.PutUint64(buf[o:], 0)
	o += 8
	binary.LittleEndian.PutUint64(buf[o:], uint64(e.CompressedSize))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:], uint64(e.UncompressedSize))
	o += 8
	binary.LittleEndian.PutUint32(buf[o:], e.MethodSlot)
	o += 4
	if v.hasEntryTimestamp() {
		binary.LittleEndian.PutUint64(buf[o:], e.Timestamp)
		o += 8
	}
	copy(buf[o:o+20], e.Hash[:])
	o += 20
	if e.MethodSlot != 0 {
		binary.LittleEndian.PutUint32(buf[o:], uint32(len(e.Blocks)))
		o += 4
		for _, b := range e.Blocks {
			binary.LittleEndian.PutUint64(buf[o:], b.Start)
			o += 8
			binary.LittleEndian.PutUint64(buf[o:], b.End)
			o += 8
		}
	}
	var flags byte
	if e.Encrypted {
		flags |= entryDataFlagEncrypted
	}
	if e.Deleted {
		flags |= entryDataFlagDeleted
	}
	buf[o] = flags
	o++
	binary.LittleEndian.PutUint32(buf[o:], e.BlockSize)
	return buf
}

// decodeEntryData parses the expanded shape. Returns the entry and the
// number of bytes consumed.
func decodeEntryData(v Version, buf []byte, methodCount int) (*Entry, int, error) {
	if !v.supported() {
		return nil, 0, fmt.Errorf("%w: version %d", ErrUnsupportedVersion, v)
	}
	need := 8 + 8 + 8 + 4
	if v.hasEntryTimestamp() {
		need += 8
	}
	need += 20
	if len(buf) < need {
		return nil, 0, fmt.Errorf("%w: entry record is %d bytes, want at least %d",
			ErrTruncatedStream, len(buf), need)
	}

	e := &Entry{}
	o := 8 // inline offset field, always zero
	e.CompressedSize = int64(binary.LittleEndian.Uint64(buf[o:]))
	o += 8
	e.UncompressedSize = int64(binary.LittleEndian.Uint64(buf[o:]))
	o += 8
	e.MethodSlot = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	if int(e.MethodSlot) > methodCount {
		return nil, 0, fmt.Errorf("%w: entry method slot %d, method table has %d entries",
			ErrCorruptArchive, e.MethodSlot, methodCount)
	}
	if v.hasEntryTimestamp() {
		e.Timestamp = binary.LittleEndian.Uint64(buf[o:])
		o += 8
	}
	copy(e.Hash[:], buf[o:o+20])
	o += 20

	if e.MethodSlot != 0 {
		if len(buf) < o+4 {
			return nil, 0, fmt.Errorf("%w: entry record ends inside block count", ErrTruncatedStream)
		}
		count := binary.LittleEndian.Uint32(buf[o:])
		o += 4
		if len(buf) < o+int(count)*16 {
			return nil, 0, fmt.Errorf("%w: entry record ends inside %d block spans",
				ErrTruncatedStream, count)
		}
		e.Blocks = make([]blockSpan, count)
		for i := range e.Blocks {
			e.Blocks[i].Start = binary.LittleEndian.Uint64(buf[o:])
			o += 8
			e.Blocks[i].End = binary.LittleEndian.Uint64(buf[o:])
			o += 8
		}
	}

	if len(buf) < o+5 {
		return nil, 0, fmt.Errorf("%w: entry record ends inside trailer", ErrTruncatedStream)
	}
	e.Encrypted = buf[o]&entryDataFlagEncrypted != 0
	e.Deleted = buf[o]&entryDataFlagDeleted != 0
	o++
	e.BlockSize = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	return e, o, nil
}

// encodeEntryCompact serializes the bit-packed shape stored inside the
// index. One u32 of flags selects 32- vs 64-bit widths for offset and
// sizes; the per-block size list is omitted when there is exactly one
// block and the entry is unencrypted, since the single span is
// recoverable from the compressed size.
func encodeEntryCompact(e *Entry) ([]byte, error) {
	blockCount := len(e.Blocks)
	if blockCount > entryFlagBlockCountMask {
		return nil, fmt.Errorf("%w: %d compression blocks, max %d",
			ErrIndexOverflow, blockCount, entryFlagBlockCountMask)
	}
	if e.MethodSlot > entryFlagMethodMask {
		return nil, fmt.Errorf("%w: method slot %d, max %d",
			ErrIndexOverflow, e.MethodSlot, entryFlagMethodMask)
	}

	var flags uint32
	explicitBlockSize := false
	if e.BlockSize%2048 == 0 && e.BlockSize>>11 < entryFlagBlockSizeRaw {
		flags |= e.BlockSize >> 11
	} else {
		flags |= entryFlagBlockSizeRaw
		explicitBlockSize = true
	}
	flags |= uint32(blockCount) << 6
	if e.Encrypted {
		flags |= entryFlagEncrypted
	}
	flags |= e.MethodSlot << 23
	if uint64(e.CompressedSize) <= 0xFFFFFFFF {
		flags |= entryFlagSize32
	}
	if uint64(e.UncompressedSize) <= 0xFFFFFFFF {
		flags |= entryFlagUncompSize32
	}
	if uint64(e.Offset) <= 0xFFFFFFFF {
		flags |= entryFlagOffset32
	}

	buf := make([]byte, 0, 32)
	buf = binary.LittleEndian.AppendUint32(buf, flags)
	if explicitBlockSize {
		buf = binary.LittleEndian.AppendUint32(buf, e.BlockSize)
	}
	if flags&entryFlagOffset32 != 0 {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(e.Offset))
	} else {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Offset))
	}
	if flags&entryFlagUncompSize32 != 0 {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(e.UncompressedSize))
	} else {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.UncompressedSize))
	}
	if e.MethodSlot != 0 {
		if flags&entryFlagSize32 != 0 {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(e.CompressedSize))
		} else {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(e.CompressedSize))
		}
	}
	if blockCount > 0 && (e.Encrypted || blockCount != 1) {
		for _, b := range e.Blocks {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(b.End-b.Start))
		}
	}
	return buf, nil
}

// decodeEntryCompact parses the bit-packed shape. methodCount is the
// footer's method-table length, used to reject dangling slot indices.
// Returns the entry and the number of bytes consumed.
func decodeEntryCompact(buf []byte, methodCount int) (*Entry, int, error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("%w: encoded entry is %d bytes", ErrTruncatedStream, len(buf))
	}
	flags := binary.LittleEndian.Uint32(buf)
	o := 4

	e := &Entry{
		Encrypted:  flags&entryFlagEncrypted != 0,
		MethodSlot: (flags >> 23) & entryFlagMethodMask,
	}
	if int(e.MethodSlot) > methodCount {
		return nil, 0, fmt.Errorf("%w: encoded entry method slot %d, method table has %d entries",
			ErrCorruptArchive, e.MethodSlot, methodCount)
	}

	if flags&entryFlagBlockSizeMask == entryFlagBlockSizeRaw {
		if len(buf) < o+4 {
			return nil, 0, fmt.Errorf("%w: encoded entry ends inside block size", ErrTruncatedStream)
		}
		e.BlockSize = binary.LittleEndian.Uint32(buf[o:])
		o += 4
	} else {
		e.BlockSize = (flags & entryFlagBlockSizeMask) << 11
	}

	readSize := func(fit32 bool) (int64, error) {
		if fit32 {
			if len(buf) < o+4 {
				return 0, fmt.Errorf("%w: encoded entry ends inside u32 field", ErrTruncatedStream)
			}
			v := int64(binary.LittleEndian.Uint32(buf[o:]))
			o += 4
			return v, nil
		}
		if len(buf) < o+8 {
			return 0, fmt.Errorf("%w: encoded entry ends inside u64 field", ErrTruncatedStream)
		}
		v := int64(binary.LittleEndian.Uint64(buf[o:]))
		o += 8
		return v, nil
	}

	var err error
	if e.Offset, err = readSize(flags&entryFlagOffset32 != 0); err != nil {
		return nil, 0, err
	}
	if e.UncompressedSize, err = readSize(flags&entryFlagUncompSize32 != 0); err != nil {
		return nil, 0, err
	}
	if e.MethodSlot != 0 {
		if e.CompressedSize, err = readSize(flags&entryFlagSize32 != 0); err != nil {
			return nil, 0, err
		}
	} else {
		e.CompressedSize = e.UncompressedSize
	}

	blockCount := int((flags >> 6) & entryFlagBlockCountMask)
	if blockCount > 0 {
		e.Blocks = make([]blockSpan, blockCount)
		if e.Encrypted || blockCount != 1 {
			var start uint64
			for i := range e.Blocks {
				if len(buf) < o+4 {
					return nil, 0, fmt.Errorf("%w: encoded entry ends inside block list", ErrTruncatedStream)
				}
				size := uint64(binary.LittleEndian.Uint32(buf[o:]))
				o += 4
				e.Blocks[i] = blockSpan{Start: start, End: start + size}
				start += size
			}
		} else {
			// Single unencrypted block: the span is the whole
			// compressed payload.
			e.Blocks[0] = blockSpan{Start: 0, End: uint64(e.CompressedSize)}
		}
	}

	return e, o, nil
}
