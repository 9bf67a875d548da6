// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

package iostore

import (
	"fmt"
	"strings"

	pak "github.com/pakworks/go-pak"
)

// ManifestEntryName is the single entry path inside a companion
// archive. The engine's loader only recognizes the flat-archive
// extension as a signal that modified content is present; it mounts
// the paired container after finding this manifest.
const ManifestEntryName = "chunknames"

// BuildCompanion writes the minimal flat archive that sits next to a
// chunked container as a mount aid. Its sole entry is the
// newline-joined list of chunk-relative paths, stored uncompressed and
// encrypted when key material is configured.
func BuildCompanion(pakPath, key string, chunkPaths []string) error {
	w, err := pak.NewWriter(pakPath, pak.WriterOptions{Key: key})
	if err != nil {
		return fmt.Errorf("create companion archive: %w", err)
	}
	defer w.Close()

	manifest := strings.Join(chunkPaths, "\n")
	if err := w.Append(ManifestEntryName, []byte(manifest), false); err != nil {
		return fmt.Errorf("append manifest: %w", err)
	}
	if err := w.Finalize(); err != nil {
		return fmt.Errorf("finalize companion archive: %w", err)
	}
	return nil
}
