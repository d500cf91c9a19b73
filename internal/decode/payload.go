package decode

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Payload is a decoded tile buffer, sized so the store can account for
// it against the byte budget.
type Payload interface {
	ByteSize() int
}

// Pixmap is a decoded raster tile, always 4-channel RGBA so the
// renderer can upload it without format branching.
type Pixmap struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

func (p *Pixmap) ByteSize() int { return len(p.Pix) }

// FeatureBatch is a decoded vector tile: parsed features plus their
// combined geographic bound.
type FeatureBatch struct {
	Bound    orb.Bound
	Features []*geojson.Feature

	rawSize int
}

func (b *FeatureBatch) ByteSize() int { return b.rawSize }

// Decoder turns fetched bytes into an uploadable payload.
type Decoder interface {
	Decode(data []byte) (Payload, error)
}

// Error wraps a decode failure so the loader can distinguish it from a
// fetch failure.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("decode: %v", e.Err) }

func (e *Error) Unwrap() error { return e.Err }
