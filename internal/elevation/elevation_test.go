package elevation

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

// makeHGT builds SRTM3-sized raw bytes with per-sample values from fn.
func makeHGT(fn func(x, y int) int16) []byte {
	data := make([]byte, srtm3FileSize)
	for y := 0; y < srtm3Samples; y++ {
		for x := 0; x < srtm3Samples; x++ {
			i := (y*srtm3Samples + x) * 2
			binary.BigEndian.PutUint16(data[i:], uint16(fn(x, y)))
		}
	}
	return data
}

func flatHGT(h int16) []byte {
	return makeHGT(func(int, int) int16 { return h })
}

func TestCellName(t *testing.T) {
	cases := []struct {
		cell Cell
		name string
	}{
		{Cell{Lat: 37, Lon: -122}, "N37W122"},
		{Cell{Lat: -34, Lon: 18}, "S34E018"},
		{Cell{Lat: 0, Lon: 0}, "N00E000"},
		{Cell{Lat: -1, Lon: -1}, "S01W001"},
	}
	for _, c := range cases {
		if got := c.cell.Name(); got != c.name {
			t.Errorf("Name(%+v) = %q, want %q", c.cell, got, c.name)
		}
		parsed, err := ParseCellName(c.name + ".hgt")
		if err != nil {
			t.Errorf("ParseCellName(%q): %v", c.name, err)
			continue
		}
		if parsed != c.cell {
			t.Errorf("ParseCellName(%q) = %+v, want %+v", c.name, parsed, c.cell)
		}
	}
}

func TestParseCellNameVariants(t *testing.T) {
	good := []string{"n37w122.HGT", "/srtm/data/N37W122.hgt", "N37W122"}
	for _, name := range good {
		c, err := ParseCellName(name)
		if err != nil {
			t.Errorf("ParseCellName(%q): %v", name, err)
		}
		if c != (Cell{Lat: 37, Lon: -122}) {
			t.Errorf("ParseCellName(%q) = %+v", name, c)
		}
	}

	bad := []string{"", "X37W122.hgt", "N37.hgt", "NxxW122.hgt", "N95W122.hgt"}
	for _, name := range bad {
		if _, err := ParseCellName(name); err == nil {
			t.Errorf("ParseCellName(%q) accepted", name)
		}
	}
}

func TestCellAt(t *testing.T) {
	cases := []struct {
		lat, lon float64
		want     Cell
	}{
		{37.5, -122.3, Cell{Lat: 37, Lon: -123}},
		{-0.5, 0.5, Cell{Lat: -1, Lon: 0}},
		{0, 0, Cell{Lat: 0, Lon: 0}},
		{90, 181, Cell{Lat: 89, Lon: -179}},
		{-90, -180, Cell{Lat: -90, Lon: -180}},
	}
	for _, c := range cases {
		if got := CellAt(c.lat, c.lon); got != c.want {
			t.Errorf("CellAt(%v, %v) = %+v, want %+v", c.lat, c.lon, got, c.want)
		}
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	cell := Cell{Lat: 37, Lon: -122}
	if _, err := Parse(make([]byte, 100), cell); err == nil {
		t.Fatalf("accepted truncated data")
	}
	if _, err := Parse(flatHGT(0), Cell{Lat: 95, Lon: 0}); err == nil {
		t.Fatalf("accepted out-of-range cell")
	}
}

func TestGridInterpolation(t *testing.T) {
	// Elevation equals the column index: a west-to-east ramp.
	g, err := Parse(makeHGT(func(x, _ int) int16 { return int16(x) }), Cell{Lat: 37, Lon: -122})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if g.Samples != srtm3Samples {
		t.Fatalf("samples = %d", g.Samples)
	}
	if g.HasVoids {
		t.Fatalf("ramp grid reported voids")
	}

	// West edge and east edge.
	if h := g.ElevationAt(37.5, -122.0); h > 0.01 {
		t.Fatalf("west edge = %v", h)
	}
	if h := g.ElevationAt(37.5, -121.0); h < float64(srtm3Samples-2) {
		t.Fatalf("east edge = %v", h)
	}
	// Halfway across: half the ramp, within a sample of exact.
	mid := g.ElevationAt(37.5, -121.5)
	want := float64(srtm3Samples-1) / 2
	if mid < want-1 || mid > want+1 {
		t.Fatalf("midpoint = %v, want about %v", mid, want)
	}
}

func TestVoidFilling(t *testing.T) {
	// One void surrounded by 100s is filled with their average.
	g, err := Parse(makeHGT(func(x, y int) int16 {
		if x == 10 && y == 10 {
			return voidSample
		}
		return 100
	}), Cell{Lat: 0, Lon: 0})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !g.HasVoids {
		t.Fatalf("voids not reported")
	}
	if v, ok := g.Sample(10, 10); !ok || v != 100 {
		t.Fatalf("void sample = %d, %v", v, ok)
	}
}

func TestHTTPSourceURL(t *testing.T) {
	s := NewHTTPSource("https://tiles.example/{lat}/{lat}{lon}.hgt.gz", nil)
	got := s.CellURL(Cell{Lat: 37, Lon: -122})
	want := "https://tiles.example/N37/N37W122.hgt.gz"
	if got != want {
		t.Fatalf("CellURL = %q, want %q", got, want)
	}
}

func TestHTTPSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/N37W122.hgt":
			w.Write([]byte("elevations"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL+"/{lat}{lon}.hgt", srv.Client())
	ctx := context.Background()

	data, err := s.Fetch(ctx, Cell{Lat: 37, Lon: -122})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "elevations" {
		t.Fatalf("body = %q", data)
	}

	if _, err := s.Fetch(ctx, Cell{Lat: 38, Lon: -122}); !errors.Is(err, ErrCellNotFound) {
		t.Fatalf("missing cell error = %v", err)
	}
}

func TestDirSourceRoundtrip(t *testing.T) {
	dir := t.TempDir()
	src, err := NewDirSource(dir)
	if err != nil {
		t.Fatalf("NewDirSource: %v", err)
	}
	cell := Cell{Lat: -34, Lon: 18}
	ctx := context.Background()

	if _, err := src.Fetch(ctx, cell); !errors.Is(err, ErrCellNotFound) {
		t.Fatalf("missing cell error = %v", err)
	}
	if err := src.Store(cell, []byte("heights")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	data, err := src.Fetch(ctx, cell)
	if err != nil {
		t.Fatalf("Fetch after Store: %v", err)
	}
	if string(data) != "heights" {
		t.Fatalf("body = %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "S34E018.hgt.tmp")); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind")
	}
}

type cellSource struct {
	mu    sync.Mutex
	calls map[Cell]int
	data  func(Cell) []byte
	fail  error
}

func newCellSource(data func(Cell) []byte) *cellSource {
	return &cellSource{calls: map[Cell]int{}, data: data}
}

func (s *cellSource) Fetch(_ context.Context, cell Cell) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[cell]++
	if s.fail != nil {
		return nil, s.fail
	}
	return s.data(cell), nil
}

func (s *cellSource) callCount(cell Cell) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[cell]
}

func TestProviderCachesCells(t *testing.T) {
	src := newCellSource(func(Cell) []byte { return flatHGT(250) })
	p := NewProvider(src, 1<<30, zap.NewNop())
	ctx := context.Background()

	h, err := p.ElevationAt(ctx, 37.5, -122.5)
	if err != nil {
		t.Fatalf("ElevationAt: %v", err)
	}
	if h != 250 {
		t.Fatalf("elevation = %v", h)
	}

	// Second query in the same cell must not refetch.
	if _, err := p.ElevationAt(ctx, 37.9, -122.1); err != nil {
		t.Fatalf("second ElevationAt: %v", err)
	}
	cell := Cell{Lat: 37, Lon: -123}
	if n := src.callCount(cell); n != 1 {
		t.Fatalf("cell fetched %d times", n)
	}

	if !p.Available(37.5, -122.5) {
		t.Fatalf("cached cell not available")
	}
	if p.Available(0, 0) {
		t.Fatalf("unloaded cell reported available")
	}

	heights, err := p.Profile(ctx, []orb.Point{{-122.5, 37.5}, {-122.1, 37.9}})
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if len(heights) != 2 || heights[0] != 250 || heights[1] != 250 {
		t.Fatalf("profile = %v", heights)
	}
	if n := src.callCount(cell); n != 1 {
		t.Fatalf("profile refetched: %d calls", n)
	}
}

func TestProviderInflatesGzip(t *testing.T) {
	src := newCellSource(func(Cell) []byte {
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		w.Write(flatHGT(1200))
		w.Close()
		return buf.Bytes()
	})
	p := NewProvider(src, 1<<30, zap.NewNop())

	h, err := p.ElevationAt(context.Background(), 46.5, 8.5)
	if err != nil {
		t.Fatalf("ElevationAt: %v", err)
	}
	if h != 1200 {
		t.Fatalf("elevation = %v", h)
	}
}

func TestProviderEvictsLRU(t *testing.T) {
	src := newCellSource(func(Cell) []byte { return flatHGT(10) })
	// Budget fits one SRTM3 grid only.
	p := NewProvider(src, srtm3FileSize+1, zap.NewNop())
	ctx := context.Background()

	if _, err := p.ElevationAt(ctx, 10.5, 10.5); err != nil {
		t.Fatalf("first cell: %v", err)
	}
	if _, err := p.ElevationAt(ctx, 20.5, 20.5); err != nil {
		t.Fatalf("second cell: %v", err)
	}

	if p.Available(10.5, 10.5) {
		t.Fatalf("oldest cell survived eviction")
	}
	if !p.Available(20.5, 20.5) {
		t.Fatalf("newest cell evicted")
	}
	if st := p.Stats(); st.Cells != 1 || st.Bytes > st.Budget {
		t.Fatalf("stats = %+v", st)
	}
}

func TestProviderPreload(t *testing.T) {
	src := newCellSource(func(Cell) []byte { return flatHGT(5) })
	p := NewProvider(src, 1<<30, zap.NewNop())

	// A 1.6 degree span around (41N, 11E) covers a 2x2 cell block.
	n, err := p.Preload(context.Background(), BoundAround(41, 11, 1.6))
	if err != nil {
		t.Fatalf("Preload: %v", err)
	}
	if n != 4 {
		t.Fatalf("preloaded %d cells, want 4", n)
	}
	for _, c := range []Cell{{40, 10}, {40, 11}, {41, 10}, {41, 11}} {
		if src.callCount(c) != 1 {
			t.Fatalf("cell %v fetched %d times", c, src.callCount(c))
		}
	}
}

func TestProviderFetchErrorPropagates(t *testing.T) {
	src := newCellSource(nil)
	src.fail = errors.New("no route to host")
	p := NewProvider(src, 1<<30, zap.NewNop())

	if _, err := p.ElevationAt(context.Background(), 37.5, -122.5); err == nil {
		t.Fatalf("fetch error swallowed")
	}
	if p.Available(37.5, -122.5) {
		t.Fatalf("failed cell reported available")
	}
}

func TestCachingSourceWriteThrough(t *testing.T) {
	disk, err := NewDirSource(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirSource: %v", err)
	}
	upstream := newCellSource(func(Cell) []byte { return []byte("hgt-bytes") })
	src := NewCachingSource(upstream, disk)
	cell := Cell{Lat: 37, Lon: -122}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		data, err := src.Fetch(ctx, cell)
		if err != nil {
			t.Fatalf("Fetch %d: %v", i, err)
		}
		if string(data) != "hgt-bytes" {
			t.Fatalf("body = %q", data)
		}
	}
	if n := upstream.callCount(cell); n != 1 {
		t.Fatalf("upstream fetched %d times", n)
	}
}
