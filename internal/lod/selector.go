package lod

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb/project"

	"github.com/vinadenenko/earth-map/internal/camera"
	"github.com/vinadenenko/earth-map/internal/tile"
)

// TilePixels is the nominal raster size of a tile; the error metric
// measures how many screen pixels one tile texel would cover.
const TilePixels = 256

// Result is the selector output for one frame: the tiles to render, in
// quadtree visit order, and the ancestor closure that must survive
// eviction.
type Result struct {
	Render    []tile.Key
	Protected map[tile.Key]struct{}
}

// Selector walks the quadtree each frame and picks the coarsest tiles
// whose screen-space error is below the threshold. Pure function of the
// camera snapshot: no internal state, no hysteresis.
type Selector struct {
	threshold   float64 // pixels
	maxLevel    uint32
	unavailable func(tile.Key) bool
}

// New builds a selector. unavailable marks tiles that failed past the
// retry cap; descent stops there so their children are never requested.
// A nil unavailable means everything is requestable.
func New(thresholdPx float64, maxLevel uint32, unavailable func(tile.Key) bool) *Selector {
	if unavailable == nil {
		unavailable = func(tile.Key) bool { return false }
	}
	if thresholdPx <= 0 {
		thresholdPx = 2
	}
	return &Selector{
		threshold:   thresholdPx,
		maxLevel:    maxLevel,
		unavailable: unavailable,
	}
}

// Select computes the desired render set for a camera snapshot.
func (s *Selector) Select(snap camera.Snapshot) Result {
	res := Result{Protected: make(map[tile.Key]struct{})}
	frustum := camera.NewFrustum(snap.ViewProjection)
	s.visit(tile.Root(), snap, frustum, &res)
	return res
}

func (s *Selector) visit(k tile.Key, snap camera.Snapshot, f camera.Frustum, res *Result) {
	min, max := MercatorBox(k)
	if !f.IntersectsBox(min, max) {
		return
	}

	if k.Level >= s.maxLevel || s.unavailable(k) || s.screenError(k, snap, min, max) <= s.threshold {
		res.Render = append(res.Render, k)
		res.Protected[k] = struct{}{}
		return
	}

	// Ancestor stays cached as a loading fallback for its children.
	res.Protected[k] = struct{}{}
	for _, c := range k.Children() {
		s.visit(c, snap, f, res)
	}
}

// screenError estimates how many screen pixels one texel of the tile
// covers: ground resolution over camera distance, scaled to pixels.
func (s *Selector) screenError(k tile.Key, snap camera.Snapshot, min, max mgl64.Vec3) float64 {
	center := min.Add(max).Mul(0.5)
	dist := snap.Eye.Sub(center).Len()
	if dist < 1 {
		dist = 1
	}
	groundResolution := k.EdgeMeters() / TilePixels
	return groundResolution / dist * snap.PixelsPerRadian()
}

// MercatorBox returns the tile's axis-aligned box in web-mercator
// meters. Tiles are flat; the box has zero vertical extent.
func MercatorBox(k tile.Key) (mgl64.Vec3, mgl64.Vec3) {
	b := k.Bound()
	min := project.WGS84.ToMercator(b.Min)
	max := project.WGS84.ToMercator(b.Max)
	return mgl64.Vec3{min[0], min[1], 0}, mgl64.Vec3{max[0], max[1], 0}
}
