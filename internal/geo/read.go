package geo

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Feature is a geometry with its source attributes.
type Feature struct {
	Geometry   Geometry
	Properties map[string]any
}

// ReadFile loads features from a shapefile or GeoJSON document, chosen by
// extension. srid tags the coordinates; files carry no reliable CRS for us.
func ReadFile(path string, srid int) ([]Feature, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return ReadShapefile(path, srid)
	case ".geojson", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "geo: read %s", path)
		}
		return ParseGeoJSON(data, srid)
	default:
		return nil, eris.Errorf("geo: unsupported vector format %q", path)
	}
}

// ReadShapefile reads point and polygon records with their dBase attributes.
func ReadShapefile(path string, srid int) ([]Feature, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.ToLower(strings.TrimRight(f.String(), "\x00"))
	}

	var features []Feature
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		g := shapeGeometry(shape)
		if g == nil {
			skipped++
			continue
		}

		props := make(map[string]any, len(names))
		for i, name := range names {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if val != "" {
				props[name] = val
			}
		}
		features = append(features, Feature{Geometry: Geometry{Geom: g, SRID: srid}, Properties: props})
	}

	if skipped > 0 {
		zap.L().Debug("geo: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return features, nil
}

func shapeGeometry(shape shp.Shape) orb.Geometry {
	switch s := shape.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}
	case *shp.MultiPoint:
		if len(s.Points) == 0 {
			return nil
		}
		mp := make(orb.MultiPoint, len(s.Points))
		for i, p := range s.Points {
			mp[i] = orb.Point{p.X, p.Y}
		}
		return mp
	case *shp.Polygon:
		return shapePolygon(s)
	}
	return nil
}

// shapePolygon groups shapefile rings into polygons: clockwise rings are
// shells, counter-clockwise rings are holes of the preceding shell.
func shapePolygon(p *shp.Polygon) orb.Geometry {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var mp orb.MultiPolygon
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			continue
		}

		ring := make(orb.Ring, 0, end-start)
		for j := start; j < end; j++ {
			ring = append(ring, orb.Point{p.Points[j].X, p.Points[j].Y})
		}

		if ring.Orientation() == orb.CW || len(mp) == 0 {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		mp[len(mp)-1] = append(mp[len(mp)-1], ring)
	}

	switch len(mp) {
	case 0:
		return nil
	case 1:
		return mp[0]
	}
	return mp
}

// ParseGeoJSON reads a FeatureCollection, a single Feature, or a bare geometry.
func ParseGeoJSON(data []byte, srid int) ([]Feature, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err == nil && len(fc.Features) > 0 {
		return fromGeoJSON(fc.Features, srid)
	}
	if f, ferr := geojson.UnmarshalFeature(data); ferr == nil && f.Geometry != nil {
		return fromGeoJSON([]*geojson.Feature{f}, srid)
	}
	if g, gerr := geojson.UnmarshalGeometry(data); gerr == nil && g.Geometry() != nil {
		return fromGeoJSON([]*geojson.Feature{geojson.NewFeature(g.Geometry())}, srid)
	}
	if err != nil {
		return nil, eris.Wrap(err, "geo: parse geojson")
	}
	return nil, nil
}

func fromGeoJSON(in []*geojson.Feature, srid int) ([]Feature, error) {
	out := make([]Feature, 0, len(in))
	for i, f := range in {
		g, err := New(f.Geometry, srid)
		if err != nil {
			return nil, eris.Wrapf(err, "geo: feature %d", i)
		}
		out = append(out, Feature{Geometry: g, Properties: map[string]any(f.Properties)})
	}
	return out, nil
}
