// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package pak

import (
	"encoding/binary"
	"fmt"
)

// Archive format constants.
const (
	// Magic at the fixed position inside the footer.
	archiveMagic = 0x5A6F12E1

	// Method-name slots are fixed-width, nul-padded.
	methodNameLen = 32

	// markerSize is the fixed marker block written between the
	// directory index and the footer.
	markerSize = 35
)

// indexMarker is the fixed 35-byte block preceding the footer. The
// loader checks it verbatim when scanning backwards from EOF.
var indexMarker = [markerSize]byte{
	0xF1, 0x03, 0xD0, 0x44, 0x5A, 0x6F, 0x12, 0xE1,
	0x9E, 0x2A, 0x55, 0xC6, 0x8D, 0x11, 0x37, 0x70,
	0x42, 0xB0, 0x6C, 0x01, 0xF8, 0x24, 0xAE, 0x9B,
	0x5D, 0xE3, 0x78, 0x0F, 0xC9, 0x31, 0x66, 0x84,
	0x1A, 0x2F, 0xD7,
}

// Version is the archive format version. Field presence in the footer
// and in entry records is a pure, total function of the version value.
type Version uint32

const (
	// VersionNamedMethods introduced the compression method-name
	// table (4 slots).
	VersionNamedMethods Version = 8

	// VersionFrozenIndex added the frozen-index byte and a fifth
	// method-name slot.
	VersionFrozenIndex Version = 9

	// VersionPathHashIndex replaced the legacy index with the dual
	// path-hash + directory-tree index.
	VersionPathHashIndex Version = 10

	// VersionFNV64BugFix is the current version of the target engine
	// family. Layout-identical to VersionPathHashIndex; the path hash
	// seed handling differs engine-side.
	VersionFNV64BugFix Version = 11
)

// supported reports whether the footer layout for v is known.
func (v Version) supported() bool {
	return v >= VersionNamedMethods && v <= VersionFNV64BugFix
}

// hasFrozenIndex reports whether the footer carries the frozen-index
// byte.
func (v Version) hasFrozenIndex() bool {
	return v == VersionFrozenIndex
}

// hasEntryTimestamp reports whether inline entry records carry a
// timestamp field.
func (v Version) hasEntryTimestamp() bool {
	return v == VersionFrozenIndex
}

// hasPathHashIndex reports whether the archive uses the dual index.
// Older archives use the legacy single index, which this codec does
// not read or write.
func (v Version) hasPathHashIndex() bool {
	return v >= VersionPathHashIndex
}

// methodNameCount returns the number of method-name slots in the
// footer.
func (v Version) methodNameCount() int {
	if v == VersionNamedMethods {
		return 4
	}
	return 5
}

// FooterSize returns the fixed footer size for a version:
// key GUID (16) + encrypted flag (1) + magic (4) + version (4) +
// index offset (8) + index size (8) + index hash (20) +
// frozen byte (V9 only) + method-name slots (32 each).
func FooterSize(v Version) int {
	size := 16 + 1 + 4 + 4 + 8 + 8 + 20
	if v.hasFrozenIndex() {
		size++
	}
	return size + v.methodNameCount()*methodNameLen
}

// Footer is the fixed trailer written last. Size is a deterministic
// function of Version.
type Footer struct {
	EncryptionKeyGUID [16]byte
	Encrypted         bool
	Version           Version
	IndexOffset       int64
	IndexSize         int64
	IndexHash         [20]byte
	FrozenIndex       bool
	MethodNames       []Method
}

// encodeFooter serializes the footer for its version.
func encodeFooter(f *Footer) ([]byte, error) {
	if !f.Version.supported() {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedVersion, f.Version)
	}
	if len(f.MethodNames) > f.Version.methodNameCount() {
		return nil, fmt.Errorf("%w: %d compression methods, footer has %d slots",
			ErrIndexOverflow, len(f.MethodNames), f.Version.methodNameCount())
	}

	buf := make([]byte, FooterSize(f.Version))
	o := 0
	copy(buf[o:o+16], f.EncryptionKeyGUID[:])
	o += 16
	if f.Encrypted {
		buf[o] = 1
	}
	o++
	binary.LittleEndian.PutUint32(buf[o:], archiveMagic)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], uint32(f.Version))
	o += 4
	binary.LittleEndian.PutUint64(buf[o:], uint64(f.IndexOffset))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:], uint64(f.IndexSize))
	o += 8
	copy(buf[o:o+20], f.IndexHash[:])
	o += 20
	if f.Version.hasFrozenIndex() {
		if f.FrozenIndex {
			buf[o] = 1
		}
		o++
	}
	for _, m := range f.MethodNames {
		copy(buf[o:o+methodNameLen], m.String())
		o += methodNameLen
	}
	return buf, nil
}

// decodeFooter parses a footer from the exact FooterSize(v) bytes for
// the version embedded at the fixed offset. The caller locates the
// candidate region; decodeFooter validates magic and version.
func decodeFooter(buf []byte) (*Footer, error) {
	// guid + encrypted + magic + version is the fixed prefix shared
	// by all versions.
	const fixedPrefix = 16 + 1 + 4 + 4
	if len(buf) < fixedPrefix {
		return nil, fmt.Errorf("%w: footer region is %d bytes", ErrTruncatedStream, len(buf))
	}

	f := &Footer{}
	o := 0
	copy(f.EncryptionKeyGUID[:], buf[o:o+16])
	o += 16
	f.Encrypted = buf[o] != 0
	o++

	magic := binary.LittleEndian.Uint32(buf[o:])
	if magic != archiveMagic {
		return nil, fmt.Errorf("%w: bad footer magic 0x%08X, want 0x%08X",
			ErrCorruptArchive, magic, uint32(archiveMagic))
	}
	o += 4

	f.Version = Version(binary.LittleEndian.Uint32(buf[o:]))
	o += 4
	if !f.Version.supported() {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedVersion, f.Version)
	}
	if len(buf) != FooterSize(f.Version) {
		return nil, fmt.Errorf("%w: footer region is %d bytes, version %d needs %d",
			ErrTruncatedStream, len(buf), f.Version, FooterSize(f.Version))
	}

	f.IndexOffset = int64(binary.LittleEndian.Uint64(buf[o:]))
	o += 8
	f.IndexSize = int64(binary.LittleEndian.Uint64(buf[o:]))
	o += 8
	copy(f.IndexHash[:], buf[o:o+20])
	o += 20
	if f.Version.hasFrozenIndex() {
		f.FrozenIndex = buf[o] != 0
		o++
	}

	for i := 0; i < f.Version.methodNameCount(); i++ {
		name := cstring(buf[o : o+methodNameLen])
		o += methodNameLen
		if name == "" {
			break
		}
		m, err := ParseMethod(name)
		if err != nil {
			return nil, fmt.Errorf("method slot %d: %w", i+1, err)
		}
		f.MethodNames = append(f.MethodNames, m)
	}
	return f, nil
}

// cstring returns the bytes of b up to the first nul.
func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
