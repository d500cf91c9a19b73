// Package elevation provides terrain heights from SRTM data. HGT files
// hold one 1x1 degree cell of big-endian int16 samples, row 0 at the
// northern edge. A provider caches parsed cells under a byte budget and
// answers point queries with bilinear interpolation.
package elevation

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	srtm1Samples = 3601
	srtm3Samples = 1201

	srtm1FileSize = srtm1Samples * srtm1Samples * 2
	srtm3FileSize = srtm3Samples * srtm3Samples * 2

	// Sentinel for missing data in the SRTM distribution.
	voidSample int16 = -32768

	// Iterative void filling gives up after this many passes so a cell
	// that is mostly ocean does not spin.
	maxVoidFillPasses = 10
)

// Cell addresses a 1x1 degree SRTM cell by its south-west corner.
type Cell struct {
	Lat int
	Lon int
}

func (c Cell) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 89 && c.Lon >= -180 && c.Lon <= 179
}

// Name is the canonical HGT filename stem, e.g. N37W122.
func (c Cell) Name() string {
	latHemi, lat := 'N', c.Lat
	if lat < 0 {
		latHemi, lat = 'S', -lat
	}
	lonHemi, lon := 'E', c.Lon
	if lon < 0 {
		lonHemi, lon = 'W', -lon
	}
	return fmt.Sprintf("%c%02d%c%03d", latHemi, lat, lonHemi, lon)
}

func (c Cell) String() string { return c.Name() }

// CellAt returns the cell covering a geographic point. The pole maps
// into the northernmost cell so lat 90 still resolves.
func CellAt(lat, lon float64) Cell {
	latCell := int(math.Floor(clampLat(lat)))
	if latCell > 89 {
		latCell = 89
	}
	return Cell{
		Lat: latCell,
		Lon: int(math.Floor(normalizeLon(lon))),
	}
}

// ParseCellName extracts a cell from an HGT filename like N37W122.hgt.
// Case insensitive; a leading path and the extension are ignored.
func ParseCellName(name string) (Cell, error) {
	base := name
	if i := strings.LastIndexAny(base, "/\\"); i >= 0 {
		base = base[i+1:]
	}
	base = strings.ToUpper(base)
	base = strings.TrimSuffix(base, ".HGT")

	if len(base) < 4 {
		return Cell{}, fmt.Errorf("elevation: cell name too short: %q", name)
	}

	var latSign int
	switch base[0] {
	case 'N':
		latSign = 1
	case 'S':
		latSign = -1
	default:
		return Cell{}, fmt.Errorf("elevation: bad latitude hemisphere in %q", name)
	}

	sep := strings.IndexAny(base[1:], "EW")
	if sep < 0 {
		return Cell{}, fmt.Errorf("elevation: no longitude hemisphere in %q", name)
	}
	sep++

	lat, err := strconv.Atoi(base[1:sep])
	if err != nil {
		return Cell{}, fmt.Errorf("elevation: bad latitude in %q", name)
	}
	lonSign := 1
	if base[sep] == 'W' {
		lonSign = -1
	}
	lon, err := strconv.Atoi(base[sep+1:])
	if err != nil {
		return Cell{}, fmt.Errorf("elevation: bad longitude in %q", name)
	}

	c := Cell{Lat: latSign * lat, Lon: lonSign * lon}
	if !c.Valid() {
		return Cell{}, fmt.Errorf("elevation: cell %v out of range in %q", c, name)
	}
	return c, nil
}

// Grid is one parsed cell of elevation samples in row-major order with
// row 0 at the northern edge.
type Grid struct {
	Cell     Cell
	Samples  int // samples per side, 1201 or 3601
	HasVoids bool
	data     []int16
}

// Parse decodes raw HGT bytes. Resolution is detected from the payload
// size; anything that is not exactly SRTM1 or SRTM3 sized is rejected.
func Parse(data []byte, cell Cell) (*Grid, error) {
	if !cell.Valid() {
		return nil, fmt.Errorf("elevation: invalid cell %+v", cell)
	}

	var side int
	switch len(data) {
	case srtm1FileSize:
		side = srtm1Samples
	case srtm3FileSize:
		side = srtm3Samples
	default:
		return nil, fmt.Errorf("elevation: unexpected HGT size %d for %v", len(data), cell)
	}

	g := &Grid{
		Cell:    cell,
		Samples: side,
		data:    make([]int16, side*side),
	}
	voids := false
	for i := range g.data {
		s := int16(binary.BigEndian.Uint16(data[i*2:]))
		g.data[i] = s
		if s == voidSample {
			voids = true
		}
	}
	if voids {
		g.fillVoids()
		g.HasVoids = true
	}
	return g, nil
}

// ByteSize is the in-memory weight used for cache accounting.
func (g *Grid) ByteSize() int { return len(g.data) * 2 }

// Sample returns the raw elevation at grid indices. The second return
// is false for out-of-range indices and unfilled voids.
func (g *Grid) Sample(x, y int) (int16, bool) {
	if x < 0 || x >= g.Samples || y < 0 || y >= g.Samples {
		return 0, false
	}
	s := g.data[y*g.Samples+x]
	if s == voidSample {
		return 0, false
	}
	return s, true
}

// ElevationAt interpolates the height in meters at a point inside the
// cell. Points are clamped to the cell; corners touching a void sample
// yield 0.
func (g *Grid) ElevationAt(lat, lon float64) float64 {
	latFrac := clamp01(lat - float64(g.Cell.Lat))
	lonFrac := clamp01(lon - float64(g.Cell.Lon))

	// Row 0 is the northern edge, so the latitude axis is inverted.
	x := lonFrac * float64(g.Samples-1)
	y := (1 - latFrac) * float64(g.Samples-1)

	x0 := clampIndex(int(math.Floor(x)), g.Samples-2)
	y0 := clampIndex(int(math.Floor(y)), g.Samples-2)
	dx := x - float64(x0)
	dy := y - float64(y0)

	h00, ok00 := g.Sample(x0, y0)
	h10, ok10 := g.Sample(x0+1, y0)
	h01, ok01 := g.Sample(x0, y0+1)
	h11, ok11 := g.Sample(x0+1, y0+1)
	if !ok00 || !ok10 || !ok01 || !ok11 {
		return 0
	}

	top := float64(h00)*(1-dx) + float64(h10)*dx
	bottom := float64(h01)*(1-dx) + float64(h11)*dx
	return top*(1-dy) + bottom*dy
}

// fillVoids replaces void samples with the average of their valid
// 4-connected neighbors, repeating so filled samples seed the next
// pass. Voids wider than the pass cap stay void.
func (g *Grid) fillVoids() {
	side := g.Samples
	for pass := 0; pass < maxVoidFillPasses; pass++ {
		changed := false
		for y := 0; y < side; y++ {
			for x := 0; x < side; x++ {
				if g.data[y*side+x] != voidSample {
					continue
				}
				sum, count := 0, 0
				for _, d := range [4][2]int{{0, -1}, {0, 1}, {-1, 0}, {1, 0}} {
					if v, ok := g.Sample(x+d[0], y+d[1]); ok {
						sum += int(v)
						count++
					}
				}
				if count > 0 {
					g.data[y*side+x] = int16(sum / count)
					changed = true
				}
			}
		}
		if !changed {
			return
		}
	}
}

func normalizeLon(lon float64) float64 {
	for lon >= 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

func clampLat(lat float64) float64 {
	return math.Min(math.Max(lat, -90), 90)
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 0.999999)
}

func clampIndex(i, max int) int {
	if i < 0 {
		return 0
	}
	if i > max {
		return max
	}
	return i
}
