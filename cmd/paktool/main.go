// Copyright (c) 2026 pakworks
// SPDX-License-Identifier: MIT

// paktool builds, inspects, and extracts mod content archives.
//
//	paktool pack   --out mod.pak [--key HEX] [--method Zstd] DIR
//	paktool unpack --out DIR [--key HEX] ARCHIVE
//	paktool list   [--key HEX] ARCHIVE
//	paktool chunk  --out mod.utoc [--container-id N] DIR
//
// chunk writes the .utoc, its paired .ucas, and the companion .pak
// mount aid next to it.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/pflag"

	pak "github.com/pakworks/go-pak"
	"github.com/pakworks/go-pak/iostore"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: paktool <pack|unpack|list|chunk> [flags] ARGS")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	switch args[0] {
	case "pack":
		return runPack(logger, args[1:])
	case "unpack":
		return runUnpack(logger, args[1:])
	case "list":
		return runList(args[1:])
	case "chunk":
		return runChunk(logger, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// collectFiles walks dir and returns path-sorted archive inputs.
func collectFiles(dir string) ([]pak.File, error) {
	var files []pak.File
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, pak.File{
			Path:     filepath.ToSlash(rel),
			Data:     data,
			Compress: true,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func runPack(logger *slog.Logger, args []string) error {
	flags := pflag.NewFlagSet("pack", pflag.ContinueOnError)
	out := flags.String("out", "", "output archive path")
	key := flags.String("key", "", "hex or base64 key material")
	methodName := flags.String("method", "Zstd", "compression method (Zlib, Gzip, Zstd, LZ4)")
	seed := flags.Uint64("seed", 0, "path hash seed")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *out == "" || flags.NArg() != 1 {
		return fmt.Errorf("usage: paktool pack --out mod.pak DIR")
	}

	method, err := pak.ParseMethod(*methodName)
	if err != nil {
		return err
	}
	files, err := collectFiles(flags.Arg(0))
	if err != nil {
		return err
	}

	w, err := pak.NewWriter(*out, pak.WriterOptions{
		Key:          *key,
		Method:       method,
		PathHashSeed: *seed,
	})
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.AppendAll(context.Background(), files); err != nil {
		return err
	}
	if err := w.Finalize(); err != nil {
		return err
	}
	logger.Info("archive written", "path", *out, "entries", len(files))
	return nil
}

func runUnpack(logger *slog.Logger, args []string) error {
	flags := pflag.NewFlagSet("unpack", pflag.ContinueOnError)
	out := flags.String("out", ".", "output directory")
	key := flags.String("key", "", "hex or base64 key material")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: paktool unpack --out DIR ARCHIVE")
	}

	r, err := pak.OpenReader(flags.Arg(0), *key)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, path := range r.List() {
		data, err := r.Read(path)
		if err != nil {
			return fmt.Errorf("extract %s: %w", path, err)
		}
		dest := filepath.Join(*out, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return err
		}
	}
	logger.Info("archive extracted", "path", flags.Arg(0), "entries", r.EntryCount())
	return nil
}

func runList(args []string) error {
	flags := pflag.NewFlagSet("list", pflag.ContinueOnError)
	key := flags.String("key", "", "hex or base64 key material")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: paktool list ARCHIVE")
	}

	r, err := pak.OpenReader(flags.Arg(0), *key)
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Printf("version %d, encrypted %v, mount %s, %d entries\n",
		r.Version(), r.Encrypted(), r.MountPoint(), r.EntryCount())
	for _, path := range r.List() {
		info, _ := r.Info(path)
		fmt.Printf("%12d  %s\n", info.UncompressedSize, path)
	}
	return nil
}

func runChunk(logger *slog.Logger, args []string) error {
	flags := pflag.NewFlagSet("chunk", pflag.ContinueOnError)
	out := flags.String("out", "", "output table-of-contents path (.utoc)")
	key := flags.String("key", "", "hex or base64 key material for the companion archive")
	containerID := flags.Uint64("container-id", 1, "container id")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *out == "" || flags.NArg() != 1 {
		return fmt.Errorf("usage: paktool chunk --out mod.utoc DIR")
	}

	files, err := collectFiles(flags.Arg(0))
	if err != nil {
		return err
	}

	base := strings.TrimSuffix(*out, filepath.Ext(*out))
	w, err := iostore.NewWriter(*out, base+".ucas", iostore.WriterOptions{
		ContainerID: *containerID,
	})
	if err != nil {
		return err
	}
	defer w.Close()

	for i, f := range files {
		id := iostore.ChunkID{
			PackageID: pak.PathHash(f.Path, *containerID),
			Index:     uint16(i),
			Type:      iostore.ChunkTypeExportBundleData,
		}
		if err := w.WriteChunk(id, f.Path, f.Data); err != nil {
			return fmt.Errorf("chunk %s: %w", f.Path, err)
		}
	}

	chunkPaths := w.ChunkPaths()
	if err := w.Finalize(); err != nil {
		return err
	}
	if err := iostore.BuildCompanion(base+".pak", *key, chunkPaths); err != nil {
		return err
	}
	logger.Info("container written", "toc", *out, "chunks", len(files))
	return nil
}
