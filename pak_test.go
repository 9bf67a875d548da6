// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package pak

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "1122334411223344112233441122334411223344112233441122334411223344"

func buildArchive(t *testing.T, opts WriterOptions, files []File) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pak")
	w, err := NewWriter(path, opts)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AppendAll(context.Background(), files))
	require.NoError(t, w.Finalize())
	return path
}

func TestArchiveRoundTrip(t *testing.T) {
	files := []File{
		{Path: "chunknames", Data: []byte("a.uasset\nb.uasset"), Compress: false},
		{Path: "content/a.uasset", Data: compressibleData(150 * 1024), Compress: true},
		{Path: "content/b.uasset", Data: incompressibleData(5000), Compress: true},
		{Path: "content/sub/c.ubulk", Data: []byte{}, Compress: false},
	}
	path := buildArchive(t, WriterOptions{}, files)

	r, err := OpenReader(path, "")
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, VersionFNV64BugFix, r.Version())
	assert.False(t, r.Encrypted())
	assert.Equal(t, DefaultMountPoint, r.MountPoint())
	assert.Equal(t, len(files), r.EntryCount())
	assert.Equal(t, []string{
		"chunknames",
		"content/a.uasset",
		"content/b.uasset",
		"content/sub/c.ubulk",
	}, r.List())

	for _, f := range files {
		data, err := r.Read(f.Path)
		require.NoError(t, err, "path %s", f.Path)
		assert.Equal(t, f.Data, data, "path %s", f.Path)
	}
}

func TestArchiveCompressedEntryMetadata(t *testing.T) {
	data := compressibleData(200 * 1024)
	path := buildArchive(t, WriterOptions{}, []File{
		{Path: "content/big.uasset", Data: data, Compress: true},
	})

	r, err := OpenReader(path, "")
	require.NoError(t, err)
	defer r.Close()

	e, ok := r.Info("content/big.uasset")
	require.True(t, ok)
	assert.Equal(t, int64(len(data)), e.UncompressedSize)
	assert.Less(t, e.CompressedSize, e.UncompressedSize)
	assert.Len(t, e.Blocks, 4)
	assert.Equal(t, uint32(1), e.MethodSlot)
	assert.Equal(t, contentHash(data), e.Hash)
}

func TestArchiveEncryptedRoundTrip(t *testing.T) {
	files := []File{
		{Path: "chunknames", Data: []byte("a.uasset\nb.uasset"), Compress: false},
		{Path: "content/a.uasset", Data: compressibleData(100 * 1024), Compress: true},
	}
	path := buildArchive(t, WriterOptions{Key: testKeyHex}, files)

	r, err := OpenReader(path, testKeyHex)
	require.NoError(t, err)
	defer r.Close()

	assert.True(t, r.Encrypted())
	for _, f := range files {
		data, err := r.Read(f.Path)
		require.NoError(t, err, "path %s", f.Path)
		assert.Equal(t, f.Data, data, "path %s", f.Path)
	}
}

func TestArchiveEncryptedPrefixOnly(t *testing.T) {
	// The same uncompressed entry built with and without a key differs
	// only in the encrypted prefix region (plus cipher padding); the
	// tail beyond the path's encryption limit stays plaintext.
	const entryPath = "content/big.ubulk"
	limit := EncryptionLimit(entryPath)
	data := incompressibleData(limit + 8192)
	files := []File{{Path: entryPath, Data: data, Compress: false}}

	plainPak := buildArchive(t, WriterOptions{}, files)
	cryptPak := buildArchive(t, WriterOptions{Key: testKeyHex}, files)

	r, err := OpenReader(cryptPak, testKeyHex)
	require.NoError(t, err)
	defer r.Close()
	e, ok := r.Info(entryPath)
	require.True(t, ok)
	require.True(t, e.Encrypted)
	assert.Equal(t, int64(len(data)), e.CompressedSize, "no padding when the data ends past the limit")

	payloadOffset := e.Offset + int64(entryDataSize(r.Version(), e))
	raw, err := os.ReadFile(cryptPak)
	require.NoError(t, err)
	payload := raw[payloadOffset : payloadOffset+e.CompressedSize]

	assert.False(t, bytes.Equal(data[:limit], payload[:limit]))
	assert.Equal(t, data[limit:], payload[limit:])

	got, err := r.Read(entryPath)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// The unencrypted build stores the same bytes verbatim.
	rp, err := OpenReader(plainPak, "")
	require.NoError(t, err)
	defer rp.Close()
	got, err = rp.Read(entryPath)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestArchiveHashIgnoresEncryption(t *testing.T) {
	// Content hashes cover pre-encryption bytes, so the recorded hash
	// must not change when a key is configured.
	files := []File{{Path: "content/a.uasset", Data: compressibleData(30000), Compress: true}}
	plainPak := buildArchive(t, WriterOptions{}, files)
	cryptPak := buildArchive(t, WriterOptions{Key: testKeyHex}, files)

	rp, err := OpenReader(plainPak, "")
	require.NoError(t, err)
	defer rp.Close()
	rc, err := OpenReader(cryptPak, testKeyHex)
	require.NoError(t, err)
	defer rc.Close()

	ep, ok := rp.Info("content/a.uasset")
	require.True(t, ok)
	ec, ok := rc.Info("content/a.uasset")
	require.True(t, ok)
	assert.Equal(t, ep.Hash, ec.Hash)
}

func TestArchiveDeterministicRebuild(t *testing.T) {
	files := []File{
		{Path: "chunknames", Data: []byte("a.uasset"), Compress: false},
		{Path: "content/a.uasset", Data: compressibleData(70000), Compress: true},
	}
	opts := WriterOptions{Key: testKeyHex, PathHashSeed: 99}

	first := buildArchive(t, opts, files)
	second := buildArchive(t, opts, files)

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, a, b, "identical inputs must rebuild byte-identical archives")
}

func TestArchiveKeyRequired(t *testing.T) {
	path := buildArchive(t, WriterOptions{Key: testKeyHex}, []File{
		{Path: "chunknames", Data: []byte("x"), Compress: false},
	})

	_, err := OpenReader(path, "")
	assert.ErrorIs(t, err, ErrKeyRequired)
}

func TestArchiveWrongKey(t *testing.T) {
	path := buildArchive(t, WriterOptions{Key: testKeyHex}, []File{
		{Path: "chunknames", Data: []byte("x"), Compress: false},
	})

	wrong := "ff" + testKeyHex[2:]
	_, err := OpenReader(path, wrong)
	assert.ErrorIs(t, err, ErrIntegrityFailure)
}

func TestArchiveUnsupportedFooterVersion(t *testing.T) {
	path := buildArchive(t, WriterOptions{}, []File{
		{Path: "chunknames", Data: []byte("x"), Compress: false},
	})

	// Patch the footer's version field to one past the newest known
	// layout. The magic still matches, so opening must fail on the
	// version, not probe onward and misreport corruption.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	versionAt := len(raw) - FooterSize(VersionFNV64BugFix) + 16 + 1 + 4
	binary.LittleEndian.PutUint32(raw[versionAt:], uint32(VersionFNV64BugFix)+1)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = OpenReader(path, "")
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestArchiveRejectsLegacyIndexVersions(t *testing.T) {
	for _, v := range []Version{VersionNamedMethods, VersionFrozenIndex} {
		_, err := NewWriter(filepath.Join(t.TempDir(), "v.pak"), WriterOptions{Version: v})
		assert.ErrorIs(t, err, ErrUnsupportedVersion, "version %d", v)
	}
}

func TestArchiveCorruptIndex(t *testing.T) {
	path := buildArchive(t, WriterOptions{}, []File{
		{Path: "chunknames", Data: []byte("payload"), Compress: false},
	})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a byte inside the primary index region.
	indexOffset := len(raw) - FooterSize(VersionFNV64BugFix)
	footer, err := decodeFooter(raw[indexOffset:])
	require.NoError(t, err)
	raw[footer.IndexOffset] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = OpenReader(path, "")
	assert.ErrorIs(t, err, ErrIntegrityFailure)
}

func TestArchiveCorruptPayload(t *testing.T) {
	data := []byte("entry payload bytes, uncompressed")
	path := buildArchive(t, WriterOptions{}, []File{
		{Path: "chunknames", Data: data, Compress: false},
	})

	r, err := OpenReader(path, "")
	require.NoError(t, err)
	e, ok := r.Info("chunknames")
	require.True(t, ok)
	r.Close()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[e.Offset+int64(entryDataSize(VersionFNV64BugFix, e))] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	r, err = OpenReader(path, "")
	require.NoError(t, err, "index regions are untouched")
	defer r.Close()
	_, err = r.Read("chunknames")
	assert.ErrorIs(t, err, ErrIntegrityFailure)
}

func TestArchiveAppendAfterFinalize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "done.pak")
	w, err := NewWriter(path, WriterOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Append("chunknames", []byte("x"), false))
	require.NoError(t, w.Finalize())

	assert.ErrorIs(t, w.Append("more", []byte("y"), false), ErrFinalized)
	assert.ErrorIs(t, w.Finalize(), ErrFinalized)
}

func TestArchiveCloseWithoutFinalize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "never.pak")
	w, err := NewWriter(path, WriterOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Append("chunknames", []byte("x"), false))
	require.NoError(t, w.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "aborted build must not leave an archive")
	leftovers, err := filepath.Glob(filepath.Join(dir, "pak_*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "aborted build must not leave temp files")
}

func TestArchiveEmpty(t *testing.T) {
	path := buildArchive(t, WriterOptions{}, nil)

	r, err := OpenReader(path, "")
	require.NoError(t, err)
	defer r.Close()
	assert.Zero(t, r.EntryCount())
	assert.Empty(t, r.List())
}

func TestArchiveMountPoint(t *testing.T) {
	path := buildArchive(t, WriterOptions{MountPoint: "../../../Game/Content/"}, []File{
		{Path: "a.uasset", Data: []byte("x"), Compress: false},
	})

	r, err := OpenReader(path, "")
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "../../../Game/Content/", r.MountPoint())
}

func TestArchivePathNormalization(t *testing.T) {
	path := buildArchive(t, WriterOptions{}, []File{
		{Path: "content\\sub\\a.uasset", Data: []byte("x"), Compress: false},
	})

	r, err := OpenReader(path, "")
	require.NoError(t, err)
	defer r.Close()

	data, err := r.Read("/content/sub/a.uasset")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
	_, ok := r.Info("content/sub/a.uasset")
	assert.True(t, ok)
}

func TestNormalizeArchivePath(t *testing.T) {
	assert.Equal(t, "a/b/c", normalizeArchivePath("a\\b\\c"))
	assert.Equal(t, "a/b", normalizeArchivePath("/a//b"))
	assert.Equal(t, "chunknames", normalizeArchivePath("chunknames"))
}
