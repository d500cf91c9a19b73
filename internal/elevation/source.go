package elevation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrCellNotFound = errors.New("elevation cell not found")
	ErrEmptyCell    = errors.New("empty elevation cell")
)

// Source fetches raw HGT bytes for a cell. Implementations may return
// gzip-compressed payloads; the provider transparently inflates them.
type Source interface {
	Fetch(ctx context.Context, cell Cell) ([]byte, error)
}

// HTTPSource downloads cells from a templated URL. {lat} and {lon}
// expand to the hemisphere-prefixed degree values, e.g. N37 and W122.
type HTTPSource struct {
	template string
	client   *http.Client
}

func NewHTTPSource(template string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSource{template: template, client: client}
}

// CellURL expands the template for a cell.
func (s *HTTPSource) CellURL(cell Cell) string {
	name := cell.Name()
	sep := strings.IndexAny(name[1:], "EW") + 1
	url := strings.Replace(s.template, "{lat}", name[:sep], -1)
	return strings.Replace(url, "{lon}", name[sep:], -1)
}

func (s *HTTPSource) Fetch(ctx context.Context, cell Cell) ([]byte, error) {
	if !cell.Valid() {
		return nil, fmt.Errorf("elevation: invalid cell %+v", cell)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.CellURL(cell), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "earth-map/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %v", ErrCellNotFound, cell)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevation: fetching %v: status %d", cell, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrEmptyCell, cell)
	}
	return data, nil
}

// DirSource reads HGT files from a local directory, flat layout with
// canonical names: {root}/N37W122.hgt.
type DirSource struct {
	root string
}

func NewDirSource(root string) (*DirSource, error) {
	if root == "" {
		return nil, fmt.Errorf("elevation: directory path is empty")
	}
	return &DirSource{root: root}, nil
}

func (s *DirSource) cellPath(cell Cell) string {
	return filepath.Join(s.root, cell.Name()+".hgt")
}

func (s *DirSource) Fetch(_ context.Context, cell Cell) ([]byte, error) {
	data, err := os.ReadFile(s.cellPath(cell))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %v", ErrCellNotFound, cell)
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrEmptyCell, cell)
	}
	return data, nil
}

// Store writes cell bytes atomically, mirroring the tile cache's
// tmp-then-rename discipline.
func (s *DirSource) Store(cell Cell, data []byte) error {
	path := s.cellPath(cell)
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

// CachingSource keeps downloaded cells on disk so a restart does not
// refetch 25 MB files.
type CachingSource struct {
	upstream Source
	disk     *DirSource
}

func NewCachingSource(upstream Source, disk *DirSource) *CachingSource {
	return &CachingSource{upstream: upstream, disk: disk}
}

func (s *CachingSource) Fetch(ctx context.Context, cell Cell) ([]byte, error) {
	if data, err := s.disk.Fetch(ctx, cell); err == nil {
		return data, nil
	}
	data, err := s.upstream.Fetch(ctx, cell)
	if err != nil {
		return nil, err
	}
	_ = s.disk.Store(cell, data)
	return data, nil
}
