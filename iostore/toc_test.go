// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package iostore

import (
	"testing"

	pak "github.com/pakworks/go-pak"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkIDRoundTrip(t *testing.T) {
	id := ChunkID{PackageID: 0xDEADBEEF12345678, Index: 7, Type: ChunkTypeBulkData}
	buf := id.encode()
	assert.Equal(t, id, decodeChunkID(buf[:]))
}

func TestChunkIDString(t *testing.T) {
	id := ChunkID{PackageID: 0xAB, Index: 2, Type: ChunkTypeExportBundleData}
	assert.Equal(t, "00000000000000ab/2/ExportBundleData", id.String())
}

func TestChunkTypeMetadataPolicy(t *testing.T) {
	assert.True(t, ChunkTypePackageStoreEntry.isMetadata())
	assert.True(t, ChunkTypeContainerHeader.isMetadata())
	assert.False(t, ChunkTypeExportBundleData.isMetadata())
	assert.False(t, ChunkTypeBulkData.isMetadata())
	assert.False(t, ChunkTypeOptionalBulkData.isMetadata())
}

func TestUint40RoundTrip(t *testing.T) {
	buf := make([]byte, 5)
	for _, v := range []uint64{0, 1, 0xFFFF, 1 << 39, 0xFFFFFFFFFF} {
		require.NoError(t, putUint40(buf, v))
		assert.Equal(t, v, getUint40(buf))
	}
	assert.ErrorIs(t, putUint40(buf, 1<<40), pak.ErrIndexOverflow)
}

func TestUint24RoundTrip(t *testing.T) {
	buf := make([]byte, 3)
	for _, v := range []uint32{0, 1, 0x1234, 0xFFFFFF} {
		require.NoError(t, putUint24(buf, v))
		assert.Equal(t, v, getUint24(buf))
	}
	assert.ErrorIs(t, putUint24(buf, 1<<24), pak.ErrIndexOverflow)
}

func TestBlockCountFor(t *testing.T) {
	assert.Equal(t, 0, blockCountFor(0, pak.ContainerBlockSize))
	assert.Equal(t, 1, blockCountFor(1, pak.ContainerBlockSize))
	assert.Equal(t, 1, blockCountFor(pak.ContainerBlockSize, pak.ContainerBlockSize))
	assert.Equal(t, 2, blockCountFor(pak.ContainerBlockSize+1, pak.ContainerBlockSize))
}

func testToc() *Toc {
	const blockSize = pak.ContainerBlockSize
	return &Toc{
		ContainerID: 0x1122334455667788,
		BlockSize:   blockSize,
		MethodNames: []pak.Method{pak.MethodZstd},
		MountPoint:  pak.DefaultMountPoint,
		Chunks: []ChunkDescriptor{
			{
				ID:     ChunkID{PackageID: 1, Type: ChunkTypeExportBundleData},
				Offset: 0,
				Length: blockSize + 1000,
				Blocks: []CompressionBlockEntry{
					{Offset: 0, CompressedSize: 5000, UncompressedSize: blockSize, Method: 1},
					{Offset: 5000, CompressedSize: 1000, UncompressedSize: 1000, Method: 0},
				},
				Hash:  [32]byte{1, 2, 3},
				Flags: chunkFlagCompressed,
			},
			{
				ID:     ChunkID{PackageID: 1, Index: 1, Type: ChunkTypeBulkData},
				Offset: 6000,
				Length: 400,
				Blocks: []CompressionBlockEntry{
					{Offset: 6000, CompressedSize: 400, UncompressedSize: 400, Method: 0},
				},
				Hash: [32]byte{4, 5, 6},
			},
		},
		Directory: map[string]uint32{
			"content/a.uasset": 0,
			"content/a.ubulk":  1,
		},
	}
}

func TestTocRoundTrip(t *testing.T) {
	want := testToc()
	buf, err := encodeToc(want)
	require.NoError(t, err)

	got, err := decodeToc(buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTocRoundTripEmpty(t *testing.T) {
	want := &Toc{
		ContainerID: 9,
		BlockSize:   pak.ContainerBlockSize,
		MethodNames: []pak.Method{pak.MethodZstd},
		MountPoint:  pak.DefaultMountPoint,
		Chunks:      []ChunkDescriptor{},
		Directory:   map[string]uint32{},
	}
	buf, err := encodeToc(want)
	require.NoError(t, err)

	got, err := decodeToc(buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeTocBadMagic(t *testing.T) {
	buf, err := encodeToc(testToc())
	require.NoError(t, err)

	buf[0] ^= 0xFF
	_, err = decodeToc(buf)
	assert.ErrorIs(t, err, pak.ErrCorruptArchive)
}

func TestDecodeTocBadVersion(t *testing.T) {
	buf, err := encodeToc(testToc())
	require.NoError(t, err)

	buf[16] = 99
	_, err = decodeToc(buf)
	assert.ErrorIs(t, err, pak.ErrUnsupportedVersion)
}

func TestDecodeTocTruncated(t *testing.T) {
	buf, err := encodeToc(testToc())
	require.NoError(t, err)

	for _, cut := range []int{10, tocHeaderSize, len(buf) / 2} {
		_, err = decodeToc(buf[:cut])
		assert.ErrorIs(t, err, pak.ErrTruncatedStream, "cut at %d", cut)
	}
}

func TestEncodeTocOversizeOffset(t *testing.T) {
	toc := testToc()
	toc.Chunks[0].Offset = 1 << 40
	_, err := encodeToc(toc)
	assert.ErrorIs(t, err, pak.ErrIndexOverflow)
}
