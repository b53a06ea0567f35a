// Package geo carries vector geometry for the AOI, export regions and labeled
// samples, plus the file and database encodings they travel in.
package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover/internal/crs"
	"github.com/sells-group/landcover/internal/raster"
)

// DefaultSRID is assumed for sources that do not declare a reference system.
const DefaultSRID = 4326

// Geometry is an orb geometry tagged with its EPSG code. Supported shapes are
// Point, MultiPoint, Polygon and MultiPolygon.
type Geometry struct {
	Geom orb.Geometry
	SRID int
}

// New tags g with srid after checking the shape is supported.
func New(g orb.Geometry, srid int) (Geometry, error) {
	switch g.(type) {
	case orb.Point, orb.MultiPoint, orb.Polygon, orb.MultiPolygon:
		return Geometry{Geom: g, SRID: srid}, nil
	case nil:
		return Geometry{}, eris.New("geo: nil geometry")
	default:
		return Geometry{}, eris.Errorf("geo: unsupported geometry %s", g.GeoJSONType())
	}
}

// CRS returns the EPSG identifier.
func (g Geometry) CRS() string { return crs.Code(g.SRID) }

// IsEmpty reports whether the geometry has no coordinates.
func (g Geometry) IsEmpty() bool {
	switch v := g.Geom.(type) {
	case orb.Point:
		return false
	case orb.MultiPoint:
		return len(v) == 0
	case orb.Polygon:
		return len(v) == 0 || len(v[0]) == 0
	case orb.MultiPolygon:
		for _, p := range v {
			if len(p) > 0 && len(p[0]) > 0 {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Polygonal reports whether the geometry has area.
func (g Geometry) Polygonal() bool {
	switch g.Geom.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return true
	}
	return false
}

// Bound returns the bounding box.
func (g Geometry) Bound() orb.Bound {
	if g.Geom == nil {
		return orb.Bound{}
	}
	return g.Geom.Bound()
}

// Contains reports whether p lies inside a polygonal geometry. Point
// geometries contain nothing.
func (g Geometry) Contains(p orb.Point) bool {
	switch v := g.Geom.(type) {
	case orb.Polygon:
		return planar.PolygonContains(v, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(v, p)
	}
	return false
}

// Points returns the vertices of a point geometry.
func (g Geometry) Points() []orb.Point {
	switch v := g.Geom.(type) {
	case orb.Point:
		return []orb.Point{v}
	case orb.MultiPoint:
		return v
	}
	return nil
}

// Polygons flattens a polygonal geometry.
func (g Geometry) Polygons() orb.MultiPolygon {
	switch v := g.Geom.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{v}
	case orb.MultiPolygon:
		return v
	}
	return nil
}

// Transform reprojects the geometry into the system named by code.
func (g Geometry) Transform(code string) (Geometry, error) {
	srid, err := crs.ParseEPSG(code)
	if err != nil {
		return Geometry{}, err
	}
	if srid == g.SRID {
		return g, nil
	}
	tr, err := crs.NewTransformer(g.CRS(), code)
	if err != nil {
		return Geometry{}, eris.Wrap(err, "geo: transform")
	}

	poly := func(p orb.Polygon) (orb.Polygon, error) {
		out := make(orb.Polygon, len(p))
		for i, r := range p {
			pts, err := tr.Points(r)
			if err != nil {
				return nil, err
			}
			out[i] = pts
		}
		return out, nil
	}

	var out orb.Geometry
	switch v := g.Geom.(type) {
	case orb.Point:
		out, err = tr.Point(v)
	case orb.MultiPoint:
		var pts []orb.Point
		pts, err = tr.Points(v)
		out = orb.MultiPoint(pts)
	case orb.Polygon:
		out, err = poly(v)
	case orb.MultiPolygon:
		mp := make(orb.MultiPolygon, len(v))
		for i, p := range v {
			if mp[i], err = poly(p); err != nil {
				break
			}
		}
		out = mp
	default:
		return Geometry{}, eris.Errorf("geo: cannot transform %T", g.Geom)
	}
	if err != nil {
		return Geometry{}, eris.Wrap(err, "geo: transform")
	}
	return Geometry{Geom: out, SRID: srid}, nil
}

// Merge collects the polygons of several geometries into one MultiPolygon.
// All inputs must share an SRID.
func Merge(geoms ...Geometry) (Geometry, error) {
	if len(geoms) == 0 {
		return Geometry{}, eris.New("geo: merge of nothing")
	}
	srid := geoms[0].SRID
	var mp orb.MultiPolygon
	for _, g := range geoms {
		if g.SRID != srid {
			return Geometry{}, eris.Errorf("geo: merge of mixed SRIDs %d and %d", srid, g.SRID)
		}
		mp = append(mp, g.Polygons()...)
	}
	return Geometry{Geom: mp, SRID: srid}, nil
}

// Rasterize marks the cells of grid whose centres fall inside g. The
// geometry is reprojected into the grid's system first.
func Rasterize(g Geometry, grid raster.Grid) ([]bool, error) {
	if !g.Polygonal() {
		return nil, eris.New("geo: rasterize needs a polygonal geometry")
	}
	local, err := g.Transform(grid.CRS)
	if err != nil {
		return nil, err
	}

	mask := make([]bool, grid.Len())
	bound := local.Bound()
	if !bound.Intersects(grid.Bound()) {
		return mask, nil
	}

	polys := local.Polygons()
	bounds := make([]orb.Bound, len(polys))
	for i, p := range polys {
		bounds[i] = p.Bound()
	}

	for row := 0; row < grid.Height; row++ {
		for col := 0; col < grid.Width; col++ {
			c := grid.Center(col, row)
			if !bound.Contains(c) {
				continue
			}
			for i, p := range polys {
				if bounds[i].Contains(c) && planar.PolygonContains(p, c) {
					mask[grid.Index(col, row)] = true
					break
				}
			}
		}
	}
	return mask, nil
}
