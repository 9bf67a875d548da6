// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package pak

import "errors"

// Error taxonomy for the codec. Decode paths always return one of
// these (wrapped with byte-offset context), never panic.
var (
	// ErrUnsupportedVersion is returned when a footer or index uses a
	// format version outside the supported set.
	ErrUnsupportedVersion = errors.New("unsupported archive version")

	// ErrCorruptArchive is returned on bad magic, bad marker bytes, or
	// malformed flag combinations.
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrIntegrityFailure is returned when a recorded hash does not
	// match the decoded bytes.
	ErrIntegrityFailure = errors.New("integrity check failed")

	// ErrKeyRequired is returned when an archive is encrypted and no
	// key was supplied.
	ErrKeyRequired = errors.New("archive is encrypted and requires a key")

	// ErrKeyRejected is returned when key material cannot be decoded
	// or has the wrong length.
	ErrKeyRejected = errors.New("invalid key material")

	// ErrTruncatedStream is returned when the footer or an index
	// region extends past the end of the file.
	ErrTruncatedStream = errors.New("truncated archive stream")

	// ErrIndexOverflow is returned when an entry count, block count,
	// or path length exceeds the encodable width for the active
	// version.
	ErrIndexOverflow = errors.New("index field overflows encodable width")

	// ErrUnknownMethod is returned when an entry or chunk references a
	// compression method the codec cannot apply.
	ErrUnknownMethod = errors.New("unknown compression method")

	// ErrFinalized is returned when appending to a writer after
	// Finalize.
	ErrFinalized = errors.New("archive already finalized")
)

// errIncompressible signals that a compressor could not shrink a
// block; the block is stored raw. Never escapes the package.
var errIncompressible = errors.New("block is incompressible")
