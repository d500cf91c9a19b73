package decode

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb/geojson"
)

// GeoJSONDecoder decodes vector tile bytes into a FeatureBatch.
// Payloads may arrive gzip-compressed; the wrapper is detected by magic
// bytes and stripped transparently.
type GeoJSONDecoder struct{}

func NewGeoJSONDecoder() *GeoJSONDecoder { return &GeoJSONDecoder{} }

func (d *GeoJSONDecoder) Decode(data []byte) (Payload, error) {
	rawSize := len(data)

	if bytes.HasPrefix(data, []byte{0x1F, 0x8B}) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, &Error{Err: err}
		}
		data, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, &Error{Err: err}
		}
		rawSize = len(data)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, &Error{Err: err}
	}
	if len(fc.Features) == 0 {
		return nil, &Error{Err: fmt.Errorf("empty feature collection")}
	}

	batch := &FeatureBatch{Features: fc.Features, rawSize: rawSize}
	batch.Bound = fc.Features[0].Geometry.Bound()
	for _, f := range fc.Features[1:] {
		batch.Bound = batch.Bound.Union(f.Geometry.Bound())
	}
	return batch, nil
}

// NewFeatureBatch builds a batch directly from parsed features, used by
// the overlay importer which bypasses the tile pipeline.
func NewFeatureBatch(features []*geojson.Feature, approxBytes int) (*FeatureBatch, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("no features")
	}
	batch := &FeatureBatch{Features: features, rawSize: approxBytes}
	batch.Bound = features[0].Geometry.Bound()
	for _, f := range features[1:] {
		batch.Bound = batch.Bound.Union(f.Geometry.Bound())
	}
	return batch, nil
}
