// Package raster holds the in-memory multi-band image model shared by every
// pipeline stage. Cells are float64; NaN marks no-data.
package raster

import (
	"math"
	"slices"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
)

// Band names for Landsat 4-7 surface reflectance products.
const (
	B1 = "B1"
	B2 = "B2"
	B3 = "B3"
	B4 = "B4"
	B5 = "B5"
	B6 = "B6"
	B7 = "B7"

	// QA is the per-pixel quality bitmask band present on raw scenes.
	QA = "pixel_qa"
)

// SpectralBands lists the reflectance/thermal bands carried into the composite.
var SpectralBands = []string{B1, B2, B3, B4, B5, B6, B7}

// ErrGridMismatch is returned when two rasters that must share a grid do not.
var ErrGridMismatch = eris.New("raster: grid mismatch")

// NoData returns the no-data sentinel.
func NoData() float64 { return math.NaN() }

// IsNoData reports whether v is the no-data sentinel.
func IsNoData(v float64) bool { return math.IsNaN(v) }

// GeoTransform maps pixel space to world space using the six-term affine
// convention: x = t[0] + col*t[1] + row*t[2], y = t[3] + col*t[4] + row*t[5].
type GeoTransform [6]float64

// Apply returns the world coordinate of fractional pixel position (col, row).
func (t GeoTransform) Apply(col, row float64) (float64, float64) {
	return t[0] + col*t[1] + row*t[2], t[3] + col*t[4] + row*t[5]
}

// Invert returns the fractional pixel position of world coordinate (x, y).
// Only north-up transforms (no rotation terms) are supported.
func (t GeoTransform) Invert(x, y float64) (float64, float64) {
	return (x - t[0]) / t[1], (y - t[3]) / t[5]
}

// Grid is the fixed spatial support of an image.
type Grid struct {
	Width     int          `json:"width" yaml:"width"`
	Height    int          `json:"height" yaml:"height"`
	Transform GeoTransform `json:"transform" yaml:"transform"`
	CRS       string       `json:"crs" yaml:"crs"`
}

// Len returns the number of cells.
func (g Grid) Len() int { return g.Width * g.Height }

// Index returns the flat offset of (col, row).
func (g Grid) Index(col, row int) int { return row*g.Width + col }

// InBounds reports whether (col, row) addresses a cell.
func (g Grid) InBounds(col, row int) bool {
	return col >= 0 && row >= 0 && col < g.Width && row < g.Height
}

// Center returns the world coordinate at the centre of cell (col, row).
func (g Grid) Center(col, row int) orb.Point {
	x, y := g.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
	return orb.Point{x, y}
}

// Locate returns the cell containing world point p.
func (g Grid) Locate(p orb.Point) (col, row int, ok bool) {
	fc, fr := g.Transform.Invert(p[0], p[1])
	col, row = int(math.Floor(fc)), int(math.Floor(fr))
	return col, row, g.InBounds(col, row)
}

// PixelSize returns the absolute east-west cell size in CRS units.
func (g Grid) PixelSize() float64 { return math.Abs(g.Transform[1]) }

// Bound returns the world extent of the grid.
func (g Grid) Bound() orb.Bound {
	x0, y0 := g.Transform.Apply(0, 0)
	x1, y1 := g.Transform.Apply(float64(g.Width), float64(g.Height))
	return orb.Bound{
		Min: orb.Point{math.Min(x0, x1), math.Min(y0, y1)},
		Max: orb.Point{math.Max(x0, x1), math.Max(y0, y1)},
	}
}

// Equal reports whether two grids describe the same cells.
func (g Grid) Equal(o Grid) bool {
	return g.Width == o.Width && g.Height == o.Height && g.Transform == o.Transform && g.CRS == o.CRS
}

// Band is one named layer of an image.
type Band struct {
	Name string
	Data []float64
}

// Image is an ordered set of bands over a common grid.
type Image struct {
	ID       string
	Acquired time.Time
	Grid     Grid

	bands []Band
}

// New returns an empty image over grid.
func New(grid Grid) *Image {
	return &Image{Grid: grid}
}

// NewFilled returns a slice of n no-data cells.
func NewFilled(n int) []float64 {
	data := make([]float64, n)
	nan := NoData()
	for i := range data {
		data[i] = nan
	}
	return data
}

// AddBand appends a band. The data slice is retained, not copied.
func (im *Image) AddBand(name string, data []float64) error {
	if len(data) != im.Grid.Len() {
		return eris.Errorf("raster: band %s has %d cells, grid has %d", name, len(data), im.Grid.Len())
	}
	if im.HasBand(name) {
		return eris.Errorf("raster: duplicate band %s", name)
	}
	im.bands = append(im.bands, Band{Name: name, Data: data})
	return nil
}

// HasBand reports whether the image carries a band called name.
func (im *Image) HasBand(name string) bool {
	_, ok := im.Band(name)
	return ok
}

// Band returns the cells of the named band.
func (im *Image) Band(name string) ([]float64, bool) {
	for _, b := range im.bands {
		if b.Name == name {
			return b.Data, true
		}
	}
	return nil, false
}

// MustBand returns the named band or an error naming the missing band.
func (im *Image) MustBand(name string) ([]float64, error) {
	data, ok := im.Band(name)
	if !ok {
		return nil, eris.Errorf("raster: image %s has no band %s", im.ID, name)
	}
	return data, nil
}

// Bands returns the bands in order.
func (im *Image) Bands() []Band { return im.bands }

// BandNames returns band names in order.
func (im *Image) BandNames() []string {
	names := make([]string, len(im.bands))
	for i, b := range im.bands {
		names[i] = b.Name
	}
	return names
}

// NumBands returns the band count.
func (im *Image) NumBands() int { return len(im.bands) }

// Clone deep-copies the image.
func (im *Image) Clone() *Image {
	out := &Image{ID: im.ID, Acquired: im.Acquired, Grid: im.Grid}
	out.bands = make([]Band, len(im.bands))
	for i, b := range im.bands {
		out.bands[i] = Band{Name: b.Name, Data: slices.Clone(b.Data)}
	}
	return out
}

// Select returns a new image sharing the named bands' storage, in the order given.
func (im *Image) Select(names ...string) (*Image, error) {
	out := &Image{ID: im.ID, Acquired: im.Acquired, Grid: im.Grid}
	for _, n := range names {
		data, err := im.MustBand(n)
		if err != nil {
			return nil, err
		}
		out.bands = append(out.bands, Band{Name: n, Data: data})
	}
	return out, nil
}

// Vector copies the band values at cell idx into dst, in band order. It
// reports false when any band is no-data at idx.
func (im *Image) Vector(idx int, dst []float64) bool {
	for i, b := range im.bands {
		v := b.Data[idx]
		if IsNoData(v) {
			return false
		}
		dst[i] = v
	}
	return true
}

// CountValid returns the number of cells where every band has data.
func (im *Image) CountValid() int {
	n := 0
	for idx := 0; idx < im.Grid.Len(); idx++ {
		valid := true
		for _, b := range im.bands {
			if IsNoData(b.Data[idx]) {
				valid = false
				break
			}
		}
		if valid {
			n++
		}
	}
	return n
}
