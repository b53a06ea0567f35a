// Package sample merges the labeled reference geometries, splits them into
// training and validation sets, and extracts feature vectors from an image
// at the training locations.
package sample

import (
	"math"
	"math/rand/v2"
	"strconv"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover/internal/crs"
	"github.com/sells-group/landcover/internal/geo"
	"github.com/sells-group/landcover/internal/model"
	"github.com/sells-group/landcover/internal/raster"
)

// DefaultSplitThreshold sends samples whose draw is below it to training.
const DefaultSplitThreshold = 0.6

// Merge concatenates labeled collections in the order given. Samples
// without an ID get one derived from their class and merged position, so
// the same input always yields the same IDs.
func Merge(collections ...[]model.LabeledSample) []model.LabeledSample {
	var n int
	for _, c := range collections {
		n += len(c)
	}
	out := make([]model.LabeledSample, 0, n)
	for _, c := range collections {
		for _, s := range c {
			if s.ID == "" {
				s.ID = sampleID(s.Class, len(out))
			}
			out = append(out, s)
		}
	}
	return out
}

func sampleID(c model.Class, pos int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(c.String()+"/"+strconv.Itoa(pos))).String()
}

// NewRand returns the seeded source used for splitting.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Split assigns each sample an independent uniform draw in [0,1), in input
// order, and partitions on threshold: draw < threshold is training.
func Split(samples []model.LabeledSample, rng *rand.Rand, threshold float64) (train, validation []model.LabeledSample) {
	for _, s := range samples {
		s.Random = rng.Float64()
		if s.Random < threshold {
			train = append(train, s)
		} else {
			validation = append(validation, s)
		}
	}
	return train, validation
}

// Table is the training matrix: one row per observation, columns in the
// image's band order.
type Table struct {
	Bands  []string
	Rows   [][]float64
	Labels []model.Class
	// Sources holds the ID of the sample each row came from.
	Sources []string
}

// Len returns the number of observations.
func (t *Table) Len() int { return len(t.Rows) }

// ClassCounts tallies observations per class name.
func (t *Table) ClassCounts() map[string]int {
	out := make(map[string]int)
	for _, c := range t.Labels {
		out[c.String()]++
	}
	return out
}

// Extract reads the full feature vector of img at each sample location.
// Points read the cell they fall in; polygons are sampled on a lattice
// spaced scale meters apart. Locations where any band is no-data, or that
// fall outside the image, are dropped.
func Extract(img *raster.Image, samples []model.LabeledSample, scale float64) (*Table, error) {
	t := &Table{Bands: img.BandNames()}
	grid := img.Grid

	step, err := crs.MetersToUnits(grid.CRS, scale, grid.Bound().Center()[1])
	if err != nil {
		return nil, eris.Wrap(err, "sample: scale")
	}

	for _, s := range samples {
		local, err := s.Geometry.Transform(grid.CRS)
		if err != nil {
			return nil, eris.Wrapf(err, "sample: %s", s.ID)
		}

		for _, p := range locations(local, step) {
			col, row, ok := grid.Locate(p)
			if !ok {
				continue
			}
			vec := make([]float64, len(t.Bands))
			if !img.Vector(grid.Index(col, row), vec) {
				continue
			}
			t.Rows = append(t.Rows, vec)
			t.Labels = append(t.Labels, s.Class)
			t.Sources = append(t.Sources, s.ID)
		}
	}
	return t, nil
}

// locations lists the points sampled from a geometry.
func locations(g geo.Geometry, step float64) []orb.Point {
	if !g.Polygonal() {
		return g.Points()
	}
	if step <= 0 {
		return nil
	}

	var pts []orb.Point
	for _, poly := range g.Polygons() {
		b := poly.Bound()
		nx := int(math.Floor((b.Max[0]-b.Min[0])/step)) + 1
		ny := int(math.Floor((b.Max[1]-b.Min[1])/step)) + 1
		for j := range ny {
			for i := range nx {
				p := orb.Point{b.Min[0] + (float64(i)+0.5)*step, b.Max[1] - (float64(j)+0.5)*step}
				if g.Contains(p) {
					pts = append(pts, p)
				}
			}
		}
	}
	return pts
}
