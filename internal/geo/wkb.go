package geo

import (
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// EncodeEWKB converts a geometry to little-endian EWKB carrying its SRID.
func EncodeEWKB(g Geometry) ([]byte, error) {
	var t geom.T

	switch v := g.Geom.(type) {
	case orb.Point:
		t = geom.NewPointFlat(geom.XY, []float64{v[0], v[1]}).SetSRID(g.SRID)

	case orb.MultiPoint:
		t = geom.NewMultiPointFlat(geom.XY, flattenPoints(v)).SetSRID(g.SRID)

	case orb.Polygon:
		flat, ends := flattenPolygon(v)
		t = geom.NewPolygonFlat(geom.XY, flat, ends).SetSRID(g.SRID)

	case orb.MultiPolygon:
		var flat []float64
		endss := make([][]int, 0, len(v))
		for _, p := range v {
			pf, pe := flattenPolygon(p)
			offset := len(flat)
			for i := range pe {
				pe[i] += offset
			}
			flat = append(flat, pf...)
			endss = append(endss, pe)
		}
		t = geom.NewMultiPolygonFlat(geom.XY, flat, endss).SetSRID(g.SRID)

	default:
		return nil, eris.Errorf("geo: cannot encode %T as EWKB", g.Geom)
	}

	data, err := ewkb.Marshal(t, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode EWKB")
	}
	return data, nil
}

// DecodeEWKB parses EWKB into a geometry. A missing SRID defaults to 4326.
func DecodeEWKB(data []byte) (Geometry, error) {
	t, err := ewkb.Unmarshal(data)
	if err != nil {
		return Geometry{}, eris.Wrap(err, "geo: decode EWKB")
	}

	srid := t.SRID()
	if srid == 0 {
		srid = DefaultSRID
	}

	switch v := t.(type) {
	case *geom.Point:
		return Geometry{Geom: orb.Point{v.X(), v.Y()}, SRID: srid}, nil

	case *geom.MultiPoint:
		mp := make(orb.MultiPoint, v.NumPoints())
		for i := range mp {
			p := v.Point(i)
			mp[i] = orb.Point{p.X(), p.Y()}
		}
		return Geometry{Geom: mp, SRID: srid}, nil

	case *geom.Polygon:
		return Geometry{Geom: toOrbPolygon(v), SRID: srid}, nil

	case *geom.MultiPolygon:
		mp := make(orb.MultiPolygon, v.NumPolygons())
		for i := range mp {
			mp[i] = toOrbPolygon(v.Polygon(i))
		}
		return Geometry{Geom: mp, SRID: srid}, nil

	default:
		return Geometry{}, eris.Errorf("geo: unsupported EWKB geometry %T", t)
	}
}

func toOrbPolygon(p *geom.Polygon) orb.Polygon {
	out := make(orb.Polygon, p.NumLinearRings())
	for i := range out {
		coords := p.LinearRing(i).Coords()
		ring := make(orb.Ring, len(coords))
		for j, c := range coords {
			ring[j] = orb.Point{c.X(), c.Y()}
		}
		out[i] = ring
	}
	return out
}

func flattenPoints(pts []orb.Point) []float64 {
	flat := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		flat = append(flat, p[0], p[1])
	}
	return flat
}

// flattenPolygon returns flat coordinates and ring end offsets for go-geom.
func flattenPolygon(p orb.Polygon) ([]float64, []int) {
	var flat []float64
	ends := make([]int, 0, len(p))
	for _, r := range p {
		flat = append(flat, flattenPoints(r)...)
		ends = append(ends, len(flat))
	}
	return flat, ends
}
