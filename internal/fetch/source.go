package fetch

import (
	"context"
	"fmt"

	"github.com/vinadenenko/earth-map/internal/tile"
)

// DecodeHint tells the loader which decoder to apply to fetched bytes.
type DecodeHint string

const (
	HintRaster DecodeHint = "raster"
	HintVector DecodeHint = "vector"
)

// Descriptor describes where tile bytes come from. Owned by the hosting
// application; the engine only interprets it through NewSource.
type Descriptor struct {
	Name       string
	Kind       string // http, file, mbtiles
	URL        string // template with {z}, {x}, {y} and optional {s}
	Subdomains []string
	Headers    map[string]string
	Path       string // root dir (file) or archive path (mbtiles)
	Format     string // file extension for the file layout
	Hint       DecodeHint
	MaxLevel   uint32
}

// Source produces raw tile bytes for a key. Implementations must be
// safe for concurrent use by loader workers.
type Source interface {
	Fetch(ctx context.Context, key tile.Key) ([]byte, error)
}

// Error wraps a failed fetch with the tile it was for.
type Error struct {
	Key tile.Key
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
