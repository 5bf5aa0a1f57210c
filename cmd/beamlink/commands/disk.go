// Copyright 2026 The Beamlink Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/beamlink/beamlink/wire"
)

// diskSource serves transfer reads from the paths captured when the
// manifest was built. Descriptor IDs are the only lookup key; the
// remote side never sees local paths.
type diskSource struct {
	paths map[int]string
}

func (source *diskSource) Open(_ context.Context, file wire.FileDescriptor) (io.ReadCloser, error) {
	path, ok := source.paths[file.ID]
	if !ok {
		return nil, fmt.Errorf("no local path for file %d: %w", file.ID, fs.ErrNotExist)
	}
	return os.Open(path)
}

// buildManifest stats every path, assigns sequential descriptor IDs,
// and returns the source that maps those IDs back to disk. Checksums
// require a full read of each file up front.
func buildManifest(paths []string, withChecksums bool) ([]wire.FileDescriptor, *diskSource, error) {
	files := make([]wire.FileDescriptor, 0, len(paths))
	source := &diskSource{paths: make(map[int]string, len(paths))}

	for i, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, nil, err
		}
		if info.IsDir() {
			return nil, nil, fmt.Errorf("%s is a directory; only regular files can be sent", path)
		}

		descriptor := wire.FileDescriptor{
			ID:       i + 1,
			FileName: filepath.Base(path),
			Size:     info.Size(),
			MimeType: mime.TypeByExtension(filepath.Ext(path)),
		}
		modified := info.ModTime()
		descriptor.Metadata = &wire.FileMetadata{Modified: &modified}

		if withChecksums {
			sum, err := checksumFile(path)
			if err != nil {
				return nil, nil, err
			}
			descriptor.SHA256 = sum
		}

		files = append(files, descriptor)
		source.paths[descriptor.ID] = path
	}
	return files, source, nil
}

func checksumFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	digest := sha256.New()
	if _, err := io.Copy(digest, file); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// diskSink writes received files into a download directory, never
// overwriting: name collisions get a " (n)" suffix before the
// extension.
type diskSink struct {
	dir string
}

func (sink *diskSink) Create(_ context.Context, file wire.FileDescriptor) (io.WriteCloser, error) {
	if err := os.MkdirAll(sink.dir, 0o755); err != nil {
		return nil, err
	}

	// The remote name is untrusted: strip any directory components so
	// the write cannot escape the download directory.
	name := filepath.Base(filepath.Clean(file.FileName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "unnamed"
	}
	return os.Create(uniquePath(sink.dir, name))
}

func uniquePath(dir, name string) string {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		return path
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		path = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		if _, err := os.Stat(path); err != nil {
			return path
		}
	}
}
