package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vinadenenko/earth-map/internal/tile"
)

// FileSource reads tiles from a local directory.
// Structure: {root}/{z}/{x}_{y}.{format}
type FileSource struct {
	root   string
	format string
}

// NewFileSource does not touch the filesystem; a pure-read source must
// not create directories. Store mkdirs per write as needed.
func NewFileSource(root, format string) (*FileSource, error) {
	if root == "" {
		return nil, fmt.Errorf("tile directory path is empty")
	}
	if format == "" {
		format = "png"
	}
	return &FileSource{root: root, format: format}, nil
}

func (s *FileSource) tilePath(key tile.Key) string {
	dir := filepath.Join(s.root, fmt.Sprintf("%d", key.Level))
	return filepath.Join(dir, fmt.Sprintf("%d_%d.%s", key.Col, key.Row, s.format))
}

func (s *FileSource) Fetch(_ context.Context, key tile.Key) ([]byte, error) {
	data, err := os.ReadFile(s.tilePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Key: key, Err: ErrTileNotFound}
		}
		return nil, &Error{Key: key, Err: err}
	}
	if len(data) == 0 {
		return nil, &Error{Key: key, Err: ErrEmptyTile}
	}
	return data, nil
}

// Store writes tile bytes atomically so a concurrent Fetch never sees a
// partial file.
func (s *FileSource) Store(key tile.Key, data []byte) error {
	path := s.tilePath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// CachingSource layers a disk write-through over another source: hits
// come from disk, misses go upstream and are persisted for next time.
type CachingSource struct {
	upstream Source
	disk     *FileSource
}

func NewCachingSource(upstream Source, disk *FileSource) *CachingSource {
	return &CachingSource{upstream: upstream, disk: disk}
}

func (s *CachingSource) Fetch(ctx context.Context, key tile.Key) ([]byte, error) {
	if data, err := s.disk.Fetch(ctx, key); err == nil {
		return data, nil
	}

	data, err := s.upstream.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	// Persisting is best effort; a failed write must not fail the fetch.
	_ = s.disk.Store(key, data)
	return data, nil
}
