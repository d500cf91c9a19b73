package tile

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// ErrInvalidKey is returned when level/row/col are out of range.
var ErrInvalidKey = errors.New("tile: invalid key")

const (
	// MaxLevel is the deepest addressable quadtree level.
	MaxLevel = 30

	earthRadius        = 6378137.0
	earthCircumference = 2 * 3.141592653589793 * earthRadius
)

// Key addresses a quadtree tile by (level, row, col). Row 0 is the
// northernmost row, col 0 the westernmost column. Row and col must be
// strictly below 2^level.
type Key struct {
	Level uint32
	Row   uint32
	Col   uint32
}

// New validates and constructs a Key.
func New(level, row, col uint32) (Key, error) {
	k := Key{Level: level, Row: row, Col: col}
	if !k.Valid() {
		return Key{}, fmt.Errorf("%w: %d/%d/%d", ErrInvalidKey, level, col, row)
	}
	return k, nil
}

// Root returns the level-0 key covering the whole world.
func Root() Key {
	return Key{}
}

func (k Key) Valid() bool {
	if k.Level > MaxLevel {
		return false
	}
	n := uint32(1) << k.Level
	return k.Row < n && k.Col < n
}

// Parent returns the key one level up. The root is its own parent.
func (k Key) Parent() Key {
	if k.Level == 0 {
		return k
	}
	return Key{Level: k.Level - 1, Row: k.Row / 2, Col: k.Col / 2}
}

// Children returns the four child keys in NW, NE, SW, SE order.
func (k Key) Children() [4]Key {
	l, r, c := k.Level+1, k.Row*2, k.Col*2
	return [4]Key{
		{Level: l, Row: r, Col: c},
		{Level: l, Row: r, Col: c + 1},
		{Level: l, Row: r + 1, Col: c},
		{Level: l, Row: r + 1, Col: c + 1},
	}
}

// Bound returns the geographic (lon/lat) rectangle of the tile.
func (k Key) Bound() orb.Bound {
	return maptile.New(k.Col, k.Row, maptile.Zoom(k.Level)).Bound()
}

// Contains reports whether the geographic point lies inside the tile.
func (k Key) Contains(p orb.Point) bool {
	return k.Bound().Contains(p)
}

// At returns the key of the tile containing the geographic point at
// the given level.
func At(p orb.Point, level uint32) Key {
	t := maptile.At(p, maptile.Zoom(level))
	return Key{Level: level, Row: t.Y, Col: t.X}
}

// EdgeMeters returns the tile edge length in web-mercator meters.
func (k Key) EdgeMeters() float64 {
	return earthCircumference / float64(uint64(1)<<k.Level)
}

// Neighbors returns the up-to-8 adjacent keys at the same level.
// Columns wrap around the antimeridian; rows clamp at the poles.
func (k Key) Neighbors() []Key {
	if k.Level == 0 {
		return nil
	}
	n := uint32(1) << k.Level
	out := make([]Key, 0, 8)
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			row := int64(k.Row) + int64(dr)
			if row < 0 || row >= int64(n) {
				continue
			}
			col := (int64(k.Col) + int64(dc) + int64(n)) % int64(n)
			out = append(out, Key{Level: k.Level, Row: uint32(row), Col: uint32(col)})
		}
	}
	return out
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Level, k.Col, k.Row)
}
