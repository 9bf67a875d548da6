// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

/*
Package iostore writes the chunked container format: a table-of-
contents file (.utoc) describing content-addressed chunks, paired with
an append-only data-stream file (.ucas) holding only block bytes in
append order.

Chunks are identified by typed ids (package id, index, type tag),
hashed over their uncompressed bytes, and segmented into fixed-size
compression blocks whose per-block compression is applied only when it
shrinks the block. Finalize emits a synthetic container-header chunk
summarizing the logical packages, then writes the table of contents
once; the data stream is never rewritten.

BuildCompanion emits the paired minimal flat archive ("mount aid")
whose single manifest entry makes the engine's loader discover the
container.
*/
package iostore
