package camera

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Snapshot is the per-frame read-only camera state handed to the LOD
// selector. Positions are in web-mercator meters with z pointing up
// from the projection plane. The engine never mutates a snapshot.
type Snapshot struct {
	Eye            mgl64.Vec3
	ViewProjection mgl64.Mat4
	ViewportWidth  int
	ViewportHeight int
	FOVY           float64 // vertical field of view, radians
}

// LookAt builds a snapshot from eye/target positions, the usual way a
// host application would construct one each frame.
func LookAt(eye, target mgl64.Vec3, viewportW, viewportH int, fovY float64) Snapshot {
	aspect := float64(viewportW) / float64(viewportH)
	up := mgl64.Vec3{0, 1, 0}

	near := eye[2] * 0.01
	if near < 0.1 {
		near = 0.1
	}
	far := eye.Len()*4 + 1

	proj := mgl64.Perspective(fovY, aspect, near, far)
	view := mgl64.LookAtV(eye, target, up)
	return Snapshot{
		Eye:            eye,
		ViewProjection: proj.Mul4(view),
		ViewportWidth:  viewportW,
		ViewportHeight: viewportH,
		FOVY:           fovY,
	}
}

// PixelsPerRadian is the screen-space scale factor used by the error
// metric: viewport height divided by the full vertical view angle.
func (s Snapshot) PixelsPerRadian() float64 {
	return float64(s.ViewportHeight) / (2 * math.Tan(s.FOVY/2))
}
