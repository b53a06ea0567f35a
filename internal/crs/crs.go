// Package crs resolves the coordinate reference systems the pipeline reads
// and writes and reprojects points between them. Projection math is done by
// go-spatial/proj; WGS84 UTM zones are registered with it on first use.
package crs

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/go-spatial/proj"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
)

// Well-known codes.
const (
	WGS84         = "EPSG:4326"
	WebMercator   = "EPSG:3857"
	WorldMercator = "EPSG:3395"
)

// metersPerDegree is one degree of longitude at the equator on the WGS84
// ellipsoid.
const metersPerDegree = 6378137.0 * math.Pi / 180

// Projection is a resolved reference system.
type Projection struct {
	code proj.EPSGCode
}

// Code returns the "EPSG:nnnn" identifier.
func (p Projection) Code() string { return Code(int(p.code)) }

// Geographic reports whether coordinates are lon/lat degrees.
func (p Projection) Geographic() bool { return p.code == proj.EPSG4326 }

// Forward projects flattened lon/lat pairs [lon0, lat0, lon1, lat1, ...].
func (p Projection) Forward(lonlat []float64) ([]float64, error) {
	if p.Geographic() {
		return slices.Clone(lonlat), nil
	}
	xy, err := proj.Convert(p.code, lonlat)
	if err != nil {
		return nil, eris.Wrapf(err, "crs: forward %s", p.Code())
	}
	return xy, nil
}

// Inverse unprojects flattened x/y pairs to lon/lat.
func (p Projection) Inverse(xy []float64) ([]float64, error) {
	if p.Geographic() {
		return slices.Clone(xy), nil
	}
	lonlat, err := proj.Inverse(p.code, xy)
	if err != nil {
		return nil, eris.Wrapf(err, "crs: inverse %s", p.Code())
	}
	return lonlat, nil
}

// ParseEPSG returns the numeric code of an "EPSG:nnnn" identifier.
func ParseEPSG(code string) (int, error) {
	s := strings.TrimSpace(strings.ToUpper(code))
	s = strings.TrimPrefix(s, "EPSG:")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, eris.Errorf("crs: invalid code %q", code)
	}
	return n, nil
}

// Code formats a numeric EPSG code.
func Code(srid int) string { return "EPSG:" + strconv.Itoa(srid) }

// Lookup resolves a code to a projection.
func Lookup(code string) (Projection, error) {
	n, err := ParseEPSG(code)
	if err != nil {
		return Projection{}, err
	}
	switch {
	case n == 4326:
		return Projection{code: proj.EPSG4326}, nil
	case n == 3857:
		return Projection{code: proj.EPSG3857}, nil
	case n == 3395:
		return Projection{code: proj.EPSG3395}, nil
	case n > 32600 && n <= 32660:
		return Projection{code: registerUTM(n, n-32600, false)}, nil
	case n > 32700 && n <= 32760:
		return Projection{code: registerUTM(n, n-32700, true)}, nil
	default:
		return Projection{}, eris.Errorf("crs: unsupported code %s", code)
	}
}

var (
	utmMu   sync.Mutex
	utmSeen = map[int]bool{}
)

func registerUTM(code, zone int, south bool) proj.EPSGCode {
	utmMu.Lock()
	defer utmMu.Unlock()
	if !utmSeen[code] {
		hemi := ""
		if south {
			hemi = " +south"
		}
		proj.CustomProjection(proj.EPSGCode(code),
			fmt.Sprintf("+proj=utm +zone=%d%s +datum=WGS84 +units=m +no_defs", zone, hemi))
		utmSeen[code] = true
	}
	return proj.EPSGCode(code)
}

// Transformer reprojects points between two systems.
type Transformer struct {
	from, to Projection
}

// NewTransformer builds a transformer from one code to another.
func NewTransformer(from, to string) (*Transformer, error) {
	src, err := Lookup(from)
	if err != nil {
		return nil, err
	}
	dst, err := Lookup(to)
	if err != nil {
		return nil, err
	}
	return &Transformer{from: src, to: dst}, nil
}

// Identity reports whether the transform is a no-op.
func (t *Transformer) Identity() bool { return t.from.code == t.to.code }

// Points reprojects pts in one batch. The input is not modified.
func (t *Transformer) Points(pts []orb.Point) ([]orb.Point, error) {
	if t.Identity() || len(pts) == 0 {
		return slices.Clone(pts), nil
	}
	flat := make([]float64, 0, 2*len(pts))
	for _, p := range pts {
		flat = append(flat, p[0], p[1])
	}
	lonlat, err := t.from.Inverse(flat)
	if err != nil {
		return nil, err
	}
	xy, err := t.to.Forward(lonlat)
	if err != nil {
		return nil, err
	}
	if len(xy) != len(flat) {
		return nil, eris.Errorf("crs: %s to %s returned %d values for %d points", t.from.Code(), t.to.Code(), len(xy), len(pts))
	}

	out := make([]orb.Point, len(pts))
	for i := range out {
		out[i] = orb.Point{xy[2*i], xy[2*i+1]}
	}
	return out, nil
}

// Point reprojects a single point.
func (t *Transformer) Point(p orb.Point) (orb.Point, error) {
	out, err := t.Points([]orb.Point{p})
	if err != nil {
		return orb.Point{}, err
	}
	return out[0], nil
}

// MetersToUnits converts a ground distance to the units of code at latitude
// lat. Projected systems are treated as metric.
func MetersToUnits(code string, meters, lat float64) (float64, error) {
	p, err := Lookup(code)
	if err != nil {
		return 0, err
	}
	if !p.Geographic() {
		return meters, nil
	}
	perDegree := metersPerDegree * math.Cos(lat*math.Pi/180)
	if perDegree <= 0 {
		return 0, eris.Errorf("crs: degenerate latitude %f", lat)
	}
	return meters / perDegree, nil
}
