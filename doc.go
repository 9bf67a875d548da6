// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

/*
Package pak reads and writes the flat archive format used to package
third-party content modifications for a commercial game engine family.

A flat archive is a single file holding a data section, an encrypted
dual index (a flat path-hash table plus a recursive directory tree over
the same entry set), a fixed marker block, and a footer whose layout is
gated by the archive's format version. The layout must match the
external engine's loader byte for byte; the engine is not modifiable,
so every quirk of the format is reproduced here exactly.

# Creating an archive

	w, err := pak.NewWriter("mods/patch.pak", pak.WriterOptions{
		Key:    keyString, // optional, hex or base64
		Method: pak.MethodZstd,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer w.Close()

	if err := w.Append("content/mesh.uasset", data, true); err != nil {
		log.Fatal(err)
	}
	if err := w.Finalize(); err != nil {
		log.Fatal(err)
	}

Appending is single-pass: entries are written to the data section as
they arrive, and both index views plus the footer are emitted once by
Finalize. Archives are built in a temp file and renamed into place, so
an interrupted build never corrupts the target path. There is no
incremental update; changing an archive means rebuilding it.

# Reading

	r, err := pak.OpenReader("mods/patch.pak", keyString)
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()

	data, err := r.Read("content/mesh.uasset")

# Encryption

Encryption is a compatibility shim for the engine's loader, not a
security boundary. Only a content-path-dependent prefix of each entry
is ciphered (see EncryptionLimit); index buffers are ciphered whole.
The transform runs a standard block cipher inside a 4-byte
word-reversal convention that the loader expects on both key material
and data blocks.

# Compression

Entries are segmented into fixed-size blocks, each compressed only when
that makes it strictly smaller, so a single entry can mix compressed
and raw blocks. The method set (Zlib, Gzip, Zstd, LZ4) is fixed per
archive version and recorded by name in the footer.

The companion iostore package writes the chunked container format that
splits metadata from payload across a table-of-contents file and a
data-stream file.
*/
package pak
