// Package assets persists screenshot rasters on disk & serves them back over HTTP.
package assets

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"chimbori.dev/cropshot/core"
	"chimbori.dev/cropshot/raster"
	"github.com/dustin/go-humanize"
)

// Shared by every FileStore in the process, so that two stores pointed at the same directory
// still never produce the same name.
var sequence atomic.Uint64

// FileStore writes each screenshot to its own, never-reused file under Root.
type FileStore struct {
	Root      string
	UrlPrefix string
	MaxSize   int64
	encoder   *raster.Encoder
}

// Option configures the FileStore.
type Option func(*FileStore)

// WithUrlPrefix sets the URL path under which persisted files are served.
func WithUrlPrefix(prefix string) Option {
	return func(s *FileStore) {
		s.UrlPrefix = prefix
	}
}

// WithMaxSize sets the maximum size of the store in bytes; see [FileStore.Prune].
func WithMaxSize(size int64) Option {
	return func(s *FileStore) {
		s.MaxSize = size
	}
}

// WithEncoder sets the raster encoder applied to every screenshot before it is written.
func WithEncoder(enc *raster.Encoder) Option {
	return func(s *FileStore) {
		s.encoder = enc
	}
}

// NewFileStore creates a new FileStore with the specified root directory.
func NewFileStore(root string, opts ...Option) *FileStore {
	s := &FileStore{
		Root:      root,
		UrlPrefix: "/screenshots",
		MaxSize:   1 * 1024 * 1024 * 1024, // Default 1GB
		encoder:   &raster.Encoder{Format: raster.PNG},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Persist encodes a PNG screenshot & writes it to disk, returning the URL path it is served at.
func (s *FileStore) Persist(ctx context.Context, selectorIndex int, png []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := s.encoder.Encode(png)
	if err != nil {
		return "", err
	}

	name := s.nextName(selectorIndex)
	if err := core.WriteFileAtomic(filepath.Join(s.Root, name), data); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}

	slog.Debug("screenshot persisted",
		"name", name,
		"raw", humanize.Bytes(uint64(len(png))),
		"stored", humanize.Bytes(uint64(len(data))))
	return path.Join(s.UrlPrefix, name), nil
}

// nextName combines the selector index, a nanosecond timestamp, and a process-wide counter.
func (s *FileStore) nextName(selectorIndex int) string {
	return fmt.Sprintf("screenshot_%d_%d_%d%s",
		selectorIndex, time.Now().UnixNano(), sequence.Add(1), s.encoder.Extension())
}

// Handler serves persisted files; mount it at UrlPrefix + "/".
func (s *FileStore) Handler() http.Handler {
	return http.StripPrefix(s.UrlPrefix+"/", core.MaxAgeHandler(http.FileServer(http.Dir(s.Root))))
}

// pruningFile represents a file in the store for pruning purposes.
type pruningFile struct {
	path    string
	size    int64
	modTime time.Time
}

// Prune enforces the MaxSize limit by removing the oldest screenshots first.
func (s *FileStore) Prune() error {
	if s.MaxSize <= 0 {
		return nil
	}

	var files []pruningFile
	var totalSize int64

	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// If we can't read a directory/file, just skip it but don't fail the whole prune
			return nil
		}
		if !d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return nil
			}
			size := info.Size()
			totalSize += size
			files = append(files, pruningFile{
				path:    path,
				size:    size,
				modTime: info.ModTime(),
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error walking screenshots dir: %w", err)
	}

	if totalSize <= s.MaxSize {
		slog.Info("no need to prune",
			"root", filepath.Base(s.Root),
			"files", len(files),
			"size", humanize.Bytes(uint64(totalSize)),
			"limit", humanize.Bytes(uint64(s.MaxSize)),
		)
		return nil
	}

	// Sort by modification time, oldest first
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	removed := 0
	for _, f := range files {
		if totalSize <= s.MaxSize {
			break
		}
		if err := os.Remove(f.path); err == nil {
			totalSize -= f.size
			removed++
		}
	}

	slog.Info("screenshots pruned",
		"root", filepath.Base(s.Root),
		"removed", removed,
		"size", humanize.Bytes(uint64(totalSize)))
	return nil
}
