package elevation

import (
	"bytes"
	"container/list"
	"context"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/vinadenenko/earth-map/internal/metrics"
)

var gzipMagic = []byte{0x1f, 0x8b}

type entry struct {
	cell Cell
	grid *Grid
	elem *list.Element
}

// Provider answers terrain height queries. Parsed cells are cached in
// memory under a byte budget with LRU eviction; queries for cells not
// yet cached fetch and parse synchronously, so callers on a latency
// budget should Preload first.
type Provider struct {
	source Source
	log    *zap.Logger

	mu     sync.Mutex
	budget int64
	bytes  int64
	cells  map[Cell]*entry
	lru    *list.List // most recently used at front
}

func NewProvider(source Source, budget int64, log *zap.Logger) *Provider {
	if budget <= 0 {
		budget = 256 << 20
	}
	return &Provider{
		source: source,
		log:    log,
		budget: budget,
		cells:  make(map[Cell]*entry),
		lru:    list.New(),
	}
}

// ElevationAt returns the terrain height in meters at a geographic
// point. Latitude is clamped and longitude normalized first.
func (p *Provider) ElevationAt(ctx context.Context, lat, lon float64) (float64, error) {
	lat = clampLat(lat)
	lon = normalizeLon(lon)

	grid, err := p.grid(ctx, CellAt(lat, lon))
	if err != nil {
		return 0, err
	}
	return grid.ElevationAt(lat, lon), nil
}

// Profile queries many points, loading each distinct cell once.
func (p *Provider) Profile(ctx context.Context, points []orb.Point) ([]float64, error) {
	heights := make([]float64, len(points))
	for i, pt := range points {
		h, err := p.ElevationAt(ctx, pt.Lat(), pt.Lon())
		if err != nil {
			return nil, err
		}
		heights[i] = h
	}
	return heights, nil
}

// Preload loads every cell intersecting the geographic bound. Returns
// the number of cells loaded or already cached; cells that fail to
// load are skipped, the first error is reported alongside the count.
func (p *Provider) Preload(ctx context.Context, b orb.Bound) (int, error) {
	minCell := CellAt(b.Min.Lat(), b.Min.Lon())
	maxCell := CellAt(b.Max.Lat(), b.Max.Lon())

	loaded := 0
	var firstErr error
	for lat := minCell.Lat; lat <= maxCell.Lat; lat++ {
		for lon := minCell.Lon; lon <= maxCell.Lon; lon++ {
			if _, err := p.grid(ctx, Cell{Lat: lat, Lon: lon}); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			loaded++
		}
	}
	return loaded, firstErr
}

// Available reports whether the cell covering the point is cached.
// Never fetches.
func (p *Provider) Available(lat, lon float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.cells[CellAt(clampLat(lat), normalizeLon(lon))]
	return ok
}

// Clear drops every cached cell.
func (p *Provider) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cells = make(map[Cell]*entry)
	p.lru.Init()
	p.bytes = 0
	metrics.ElevationCacheBytes.Set(0)
}

// Stats is a coarse view for the debug surface.
type Stats struct {
	Cells  int   `json:"cells"`
	Bytes  int64 `json:"bytes"`
	Budget int64 `json:"budget"`
}

func (p *Provider) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Cells: len(p.cells), Bytes: p.bytes, Budget: p.budget}
}

func (p *Provider) grid(ctx context.Context, cell Cell) (*Grid, error) {
	if !cell.Valid() {
		return nil, fmt.Errorf("elevation: invalid cell %+v", cell)
	}

	p.mu.Lock()
	if e, ok := p.cells[cell]; ok {
		p.lru.MoveToFront(e.elem)
		p.mu.Unlock()
		metrics.ElevationCacheHits.Inc()
		return e.grid, nil
	}
	p.mu.Unlock()
	metrics.ElevationCacheMisses.Inc()

	data, err := p.source.Fetch(ctx, cell)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(data, gzipMagic) {
		data, err = inflate(data)
		if err != nil {
			return nil, fmt.Errorf("elevation: inflating %v: %w", cell, err)
		}
	}
	grid, err := Parse(data, cell)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// A concurrent query may have loaded the same cell meanwhile.
	if e, ok := p.cells[cell]; ok {
		p.lru.MoveToFront(e.elem)
		return e.grid, nil
	}
	e := &entry{cell: cell, grid: grid}
	e.elem = p.lru.PushFront(e)
	p.cells[cell] = e
	p.bytes += int64(grid.ByteSize())
	p.evictLocked()
	metrics.ElevationCacheBytes.Set(float64(p.bytes))

	p.log.Debug("elevation cell loaded",
		zap.Stringer("cell", cell),
		zap.Int("samples", grid.Samples),
		zap.Bool("voids", grid.HasVoids))
	return grid, nil
}

// evictLocked drops least recently used cells until the budget holds.
// The cell just inserted sits at the LRU front, so at least one cell
// always survives even when a single grid exceeds the budget.
func (p *Provider) evictLocked() {
	for p.bytes > p.budget && p.lru.Len() > 1 {
		e := p.lru.Back().Value.(*entry)
		p.lru.Remove(e.elem)
		delete(p.cells, e.cell)
		p.bytes -= int64(e.grid.ByteSize())
	}
}

func inflate(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// BoundAround is a convenience for preloading: a bound of the given
// span in degrees centered on a point.
func BoundAround(lat, lon, spanDeg float64) orb.Bound {
	half := math.Abs(spanDeg) / 2
	return orb.Bound{
		Min: orb.Point{normalizeLon(lon - half), clampLat(lat - half)},
		Max: orb.Point{normalizeLon(lon + half), clampLat(lat + half)},
	}
}
