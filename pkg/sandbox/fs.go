// Copyright 2026 Braid Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sandbox defines the filesystem capabilities the context core needs
// from its execution sandbox, plus a local-disk implementation used by the
// CLI and by tests. All paths are absolute under the workspace root.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileInfo describes one entry returned by ListFiles.
type FileInfo struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// FS is the sandbox filesystem contract. Implementations may be a local
// disk, a remote sandbox API, or an in-memory fake for tests.
type FS interface {
	MakeDir(ctx context.Context, path string, mode os.FileMode) error
	UploadFile(ctx context.Context, data []byte, path string) error
	DownloadFile(ctx context.Context, path string) ([]byte, error)
	DeleteFile(ctx context.Context, path string) error
	ListFiles(ctx context.Context, path string) ([]FileInfo, error)
}

// LocalFS implements FS on the local filesystem.
type LocalFS struct{}

// NewLocalFS returns a local-disk sandbox filesystem.
func NewLocalFS() *LocalFS {
	return &LocalFS{}
}

// MakeDir creates a directory and any missing parents.
func (l *LocalFS) MakeDir(_ context.Context, path string, mode os.FileMode) error {
	if err := os.MkdirAll(path, mode); err != nil {
		return fmt.Errorf("make_dir %s: %w", path, err)
	}
	return nil
}

// UploadFile writes data to path, creating parent directories as needed.
func (l *LocalFS) UploadFile(_ context.Context, data []byte, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("upload_file %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("upload_file %s: %w", path, err)
	}
	return nil
}

// DownloadFile reads the file at path.
func (l *LocalFS) DownloadFile(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("download_file %s: %w", path, err)
	}
	return data, nil
}

// DeleteFile removes the file at path. Removing a missing file is not an
// error.
func (l *LocalFS) DeleteFile(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete_file %s: %w", path, err)
	}
	return nil
}

// ListFiles returns the entries of a directory.
func (l *LocalFS) ListFiles(_ context.Context, path string) ([]FileInfo, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list_files %s: %w", path, err)
	}
	infos := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		var size int64
		var mod time.Time
		if fi, err := e.Info(); err == nil {
			size = fi.Size()
			mod = fi.ModTime()
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("list_files %s: %w", path, err)
		}
		infos = append(infos, FileInfo{
			Name:    e.Name(),
			IsDir:   e.IsDir(),
			Size:    size,
			ModTime: mod,
		})
	}
	return infos, nil
}
