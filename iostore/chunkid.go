// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package iostore

import (
	"encoding/binary"
	"fmt"
)

// ChunkType tags what a chunk's payload is. Values are protocol
// constants shared with the engine's container loader.
type ChunkType uint8

const (
	// ChunkTypeInvalid is the zero value; never written.
	ChunkTypeInvalid ChunkType = 0

	// ChunkTypeExportBundleData is an asset's combined serialized
	// data.
	ChunkTypeExportBundleData ChunkType = 1

	// ChunkTypeBulkData is a bulk-data segment (textures, audio).
	ChunkTypeBulkData ChunkType = 2

	// ChunkTypeOptionalBulkData is a bulk-data segment loaded on
	// demand.
	ChunkTypeOptionalBulkData ChunkType = 3

	// ChunkTypePackageStoreEntry is per-package store bookkeeping.
	ChunkTypePackageStoreEntry ChunkType = 4

	// ChunkTypeContainerHeader is the synthetic metadata chunk
	// describing the set of logical packages in the container.
	ChunkTypeContainerHeader ChunkType = 5
)

// isMetadata reports whether chunks of this type are conventionally
// excluded from compression. This is policy, not mechanism: the block
// codec can compress any chunk type.
func (t ChunkType) isMetadata() bool {
	return t == ChunkTypePackageStoreEntry || t == ChunkTypeContainerHeader
}

// String returns a short name for the chunk type.
func (t ChunkType) String() string {
	switch t {
	case ChunkTypeExportBundleData:
		return "ExportBundleData"
	case ChunkTypeBulkData:
		return "BulkData"
	case ChunkTypeOptionalBulkData:
		return "OptionalBulkData"
	case ChunkTypePackageStoreEntry:
		return "PackageStoreEntry"
	case ChunkTypeContainerHeader:
		return "ContainerHeader"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// chunkIDSize is the wire size of a ChunkID.
const chunkIDSize = 12

// ChunkID addresses one payload unit in a container: a package (or
// content) id, an index distinguishing multiple chunks of the same
// package, and a type tag.
type ChunkID struct {
	PackageID uint64
	Index     uint16
	Type      ChunkType
}

// encode serializes the id: 8-byte package id, 2-byte index, one
// padding byte, 1-byte type.
func (c ChunkID) encode() [chunkIDSize]byte {
	var buf [chunkIDSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], c.PackageID)
	binary.LittleEndian.PutUint16(buf[8:10], c.Index)
	buf[11] = byte(c.Type)
	return buf
}

// decodeChunkID is the inverse of encode.
func decodeChunkID(buf []byte) ChunkID {
	return ChunkID{
		PackageID: binary.LittleEndian.Uint64(buf[0:8]),
		Index:     binary.LittleEndian.Uint16(buf[8:10]),
		Type:      ChunkType(buf[11]),
	}
}

// String formats the id the way container tooling prints it.
func (c ChunkID) String() string {
	return fmt.Sprintf("%016x/%d/%s", c.PackageID, c.Index, c.Type)
}
