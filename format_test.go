// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package pak

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFooterSize(t *testing.T) {
	assert.Equal(t, 189, FooterSize(VersionNamedMethods))
	assert.Equal(t, 222, FooterSize(VersionFrozenIndex))
	assert.Equal(t, 221, FooterSize(VersionPathHashIndex))
	assert.Equal(t, 221, FooterSize(VersionFNV64BugFix))
}

func TestFooterRoundTrip(t *testing.T) {
	for _, v := range []Version{VersionNamedMethods, VersionFrozenIndex, VersionPathHashIndex, VersionFNV64BugFix} {
		f := &Footer{
			EncryptionKeyGUID: [16]byte{1, 2, 3, 4},
			Encrypted:         true,
			Version:           v,
			IndexOffset:       0x12345678,
			IndexSize:         0x200,
			MethodNames:       []Method{MethodZlib, MethodZstd},
		}
		for i := range f.IndexHash {
			f.IndexHash[i] = byte(i)
		}
		if v.hasFrozenIndex() {
			f.FrozenIndex = true
		}

		buf, err := encodeFooter(f)
		require.NoError(t, err, "version %d", v)
		require.Len(t, buf, FooterSize(v), "version %d", v)

		got, err := decodeFooter(buf)
		require.NoError(t, err, "version %d", v)
		assert.Equal(t, f, got, "version %d", v)
	}
}

func TestFooterRoundTripEmptyMethods(t *testing.T) {
	f := &Footer{Version: VersionFNV64BugFix, IndexOffset: 64, IndexSize: 32}
	buf, err := encodeFooter(f)
	require.NoError(t, err)

	got, err := decodeFooter(buf)
	require.NoError(t, err)
	assert.Nil(t, got.MethodNames)
	assert.False(t, got.Encrypted)
}

func TestEncodeFooterUnsupportedVersion(t *testing.T) {
	for _, v := range []Version{0, 7, 12, 99} {
		_, err := encodeFooter(&Footer{Version: v})
		assert.ErrorIs(t, err, ErrUnsupportedVersion, "version %d", v)
	}
}

func TestEncodeFooterTooManyMethods(t *testing.T) {
	f := &Footer{
		Version:     VersionNamedMethods,
		MethodNames: []Method{MethodZlib, MethodGzip, MethodZstd, MethodLZ4, MethodZlib},
	}
	_, err := encodeFooter(f)
	assert.ErrorIs(t, err, ErrIndexOverflow)
}

func TestDecodeFooterUnsupportedVersion(t *testing.T) {
	f := &Footer{Version: VersionFNV64BugFix}
	buf, err := encodeFooter(f)
	require.NoError(t, err)

	// Patch the version field past the newest known value.
	binary.LittleEndian.PutUint32(buf[16+1+4:], 12)
	_, err = decodeFooter(buf)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeFooterBadMagic(t *testing.T) {
	f := &Footer{Version: VersionFNV64BugFix}
	buf, err := encodeFooter(f)
	require.NoError(t, err)

	buf[16+1] ^= 0xFF
	_, err = decodeFooter(buf)
	assert.ErrorIs(t, err, ErrCorruptArchive)
}

func TestDecodeFooterTruncated(t *testing.T) {
	f := &Footer{Version: VersionFNV64BugFix}
	buf, err := encodeFooter(f)
	require.NoError(t, err)

	_, err = decodeFooter(buf[:len(buf)-1])
	assert.ErrorIs(t, err, ErrTruncatedStream)
}

func TestDecodeFooterUnknownMethodName(t *testing.T) {
	f := &Footer{Version: VersionFNV64BugFix}
	buf, err := encodeFooter(f)
	require.NoError(t, err)

	copy(buf[FooterSize(VersionFNV64BugFix)-5*methodNameLen:], "Oodle")
	_, err = decodeFooter(buf)
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestCString(t *testing.T) {
	assert.Equal(t, "Zlib", cstring([]byte{'Z', 'l', 'i', 'b', 0, 0}))
	assert.Equal(t, "", cstring([]byte{0, 'x'}))
	assert.Equal(t, "abc", cstring([]byte("abc")))
}
