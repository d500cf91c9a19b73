package fetch

import (
	"fmt"

	"go.uber.org/zap"
)

// NewSource builds a tile source from a descriptor. When cacheDir is
// non-empty, HTTP sources get a disk write-through layered on top.
func NewSource(desc Descriptor, cacheDir string, log *zap.Logger) (Source, error) {
	switch desc.Kind {
	case "http":
		log.Info("Using HTTP tile source",
			zap.String("name", desc.Name),
			zap.String("url", desc.URL))
		src := Source(NewHTTPSource(desc, nil))
		if cacheDir != "" {
			disk, err := NewFileSource(cacheDir, desc.Format)
			if err != nil {
				return nil, err
			}
			log.Info("Disk write-through enabled", zap.String("dir", cacheDir))
			src = NewCachingSource(src, disk)
		}
		return src, nil
	case "file":
		log.Info("Using file tile source", zap.String("root", desc.Path))
		return NewFileSource(desc.Path, desc.Format)
	case "mbtiles":
		log.Info("Using mbtiles tile source", zap.String("path", desc.Path))
		return NewMBTilesSource(desc.Path)
	default:
		return nil, fmt.Errorf("unknown source kind: %s (supported: http, file, mbtiles)", desc.Kind)
	}
}
