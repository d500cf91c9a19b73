package overlay

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/vinadenenko/earth-map/internal/decode"
)

// Importer reads KML and KMZ files into geometry batches, keyed by
// their geographic bounds. Batches are independent of the raster tile
// pipeline; the renderer draws them as vector overlays.

type kmlRoot struct {
	XMLName    xml.Name       `xml:"kml"`
	Document   *kmlFolder     `xml:"Document"`
	Folders    []kmlFolder    `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlFolder struct {
	Name       string         `xml:"name"`
	Folders    []kmlFolder    `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Name        string       `xml:"name"`
	Description string       `xml:"description"`
	Point       *kmlGeometry `xml:"Point"`
	LineString  *kmlGeometry `xml:"LineString"`
	Polygon     *kmlPolygon  `xml:"Polygon"`
}

type kmlGeometry struct {
	Coordinates string `xml:"coordinates"`
}

type kmlPolygon struct {
	Outer kmlGeometry   `xml:"outerBoundaryIs>LinearRing"`
	Inner []kmlGeometry `xml:"innerBoundaryIs>LinearRing"`
}

// ImportFile reads a .kml or .kmz file into geometry batches.
func ImportFile(path string) ([]*decode.FeatureBatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".kmz") {
		data, err = extractKMZ(data)
		if err != nil {
			return nil, err
		}
	}
	return Parse(data)
}

// Parse decodes KML bytes. Each folder carrying placemarks becomes one
// batch; placemarks directly under the document form a batch of their
// own.
func Parse(data []byte) ([]*decode.FeatureBatch, error) {
	var root kmlRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("malformed kml: %w", err)
	}

	// Byte accounting is approximate: source bytes spread evenly over
	// the placemarks.
	perMark := len(data) / max(1, countPlacemarks(&root))

	var batches []*decode.FeatureBatch
	appendBatch := func(marks []kmlPlacemark) error {
		features, err := toFeatures(marks)
		if err != nil {
			return err
		}
		if len(features) == 0 {
			return nil
		}
		batch, err := decode.NewFeatureBatch(features, perMark*len(features))
		if err != nil {
			return err
		}
		batches = append(batches, batch)
		return nil
	}

	var walk func(f *kmlFolder) error
	walk = func(f *kmlFolder) error {
		if err := appendBatch(f.Placemarks); err != nil {
			return err
		}
		for i := range f.Folders {
			if err := walk(&f.Folders[i]); err != nil {
				return err
			}
		}
		return nil
	}

	if err := appendBatch(root.Placemarks); err != nil {
		return nil, err
	}
	if root.Document != nil {
		if err := walk(root.Document); err != nil {
			return nil, err
		}
	}
	for i := range root.Folders {
		if err := walk(&root.Folders[i]); err != nil {
			return nil, err
		}
	}

	if len(batches) == 0 {
		return nil, fmt.Errorf("kml contains no placemarks")
	}
	return batches, nil
}

func countPlacemarks(root *kmlRoot) int {
	n := len(root.Placemarks)
	var walk func(f *kmlFolder)
	walk = func(f *kmlFolder) {
		n += len(f.Placemarks)
		for i := range f.Folders {
			walk(&f.Folders[i])
		}
	}
	if root.Document != nil {
		walk(root.Document)
	}
	for i := range root.Folders {
		walk(&root.Folders[i])
	}
	return n
}

func toFeatures(marks []kmlPlacemark) ([]*geojson.Feature, error) {
	var features []*geojson.Feature
	for _, m := range marks {
		geom, err := toGeometry(m)
		if err != nil {
			return nil, err
		}
		if geom == nil {
			continue
		}
		f := geojson.NewFeature(geom)
		if m.Name != "" {
			f.Properties["name"] = m.Name
		}
		if m.Description != "" {
			f.Properties["description"] = m.Description
		}
		features = append(features, f)
	}
	return features, nil
}

func toGeometry(m kmlPlacemark) (orb.Geometry, error) {
	switch {
	case m.Point != nil:
		pts, err := parseCoordinates(m.Point.Coordinates)
		if err != nil {
			return nil, err
		}
		if len(pts) != 1 {
			return nil, fmt.Errorf("point with %d coordinates", len(pts))
		}
		return pts[0], nil
	case m.LineString != nil:
		pts, err := parseCoordinates(m.LineString.Coordinates)
		if err != nil {
			return nil, err
		}
		if len(pts) < 2 {
			return nil, fmt.Errorf("linestring with %d coordinates", len(pts))
		}
		return orb.LineString(pts), nil
	case m.Polygon != nil:
		outer, err := parseCoordinates(m.Polygon.Outer.Coordinates)
		if err != nil {
			return nil, err
		}
		if len(outer) < 4 {
			return nil, fmt.Errorf("polygon ring with %d coordinates", len(outer))
		}
		poly := orb.Polygon{orb.Ring(outer)}
		for _, inner := range m.Polygon.Inner {
			ring, err := parseCoordinates(inner.Coordinates)
			if err != nil {
				return nil, err
			}
			poly = append(poly, orb.Ring(ring))
		}
		return poly, nil
	default:
		return nil, nil
	}
}

// parseCoordinates reads the KML "lon,lat[,alt]" whitespace-separated
// tuple list. Altitude is dropped; the engine works on the projection
// plane.
func parseCoordinates(s string) ([]orb.Point, error) {
	fields := strings.Fields(s)
	pts := make([]orb.Point, 0, len(fields))
	for _, f := range fields {
		parts := strings.Split(f, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("bad coordinate tuple %q", f)
		}
		lon, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad longitude %q: %w", parts[0], err)
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad latitude %q: %w", parts[1], err)
		}
		if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
			return nil, fmt.Errorf("coordinate out of range: %s", f)
		}
		pts = append(pts, orb.Point{lon, lat})
	}
	return pts, nil
}

// extractKMZ pulls the first .kml entry out of a KMZ archive.
func extractKMZ(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("malformed kmz: %w", err)
	}
	for _, f := range zr.File {
		if !strings.EqualFold(filepath.Ext(f.Name), ".kml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("kmz contains no kml document")
}
