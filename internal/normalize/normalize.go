// Package normalize rescales every band of an image to [0,1] using min/max
// statistics reduced once over the area of interest.
package normalize

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/landcover/internal/crs"
	"github.com/sells-group/landcover/internal/model"
	"github.com/sells-group/landcover/internal/raster"
)

// ErrReductionBudgetExceeded is returned when the AOI holds more sample
// pixels than MaxPixels and best-effort reduction is disabled.
var ErrReductionBudgetExceeded = eris.New("normalize: reduction exceeds pixel budget")

// Options controls the min/max reduction.
type Options struct {
	// Scale is the ground distance between sampled pixels, in meters.
	Scale float64
	// MaxPixels caps the number of pixels visited per reduction.
	MaxPixels int
	// BestEffort coarsens the sampling lattice instead of failing when the
	// budget is exceeded.
	BestEffort bool
	TileSize   int
	Workers    int
}

// BandStats holds the reduced bounds of one band.
type BandStats struct {
	Name  string
	Min   float64
	Max   float64
	Count int
}

// Degenerate reports whether the band cannot be rescaled.
func (b BandStats) Degenerate() bool {
	return b.Count == 0 || b.Max == b.Min
}

// Stats are the AOI-wide statistics for every band, in image band order.
type Stats struct {
	Bands       []BandStats
	Stride      int
	Sampled     int
	Approximate bool
}

// Model converts the statistics to run-record form.
func (s *Stats) Model() []model.BandStats {
	out := make([]model.BandStats, len(s.Bands))
	for i, b := range s.Bands {
		out[i] = model.BandStats{Band: b.Name, Min: b.Min, Max: b.Max, Degenerate: b.Degenerate()}
		if b.Count == 0 {
			out[i].Min, out[i].Max = 0, 0
		}
	}
	return out
}

// Normalize computes statistics over region and applies them.
func Normalize(ctx context.Context, img *raster.Image, region []bool, opts Options) (*raster.Image, *Stats, error) {
	stats, err := ComputeStats(ctx, img, region, opts)
	if err != nil {
		return nil, nil, err
	}
	out, err := Apply(img, stats)
	if err != nil {
		return nil, nil, err
	}
	return out, stats, nil
}

// ComputeStats reduces per-band min and max over the cells of region (all
// cells when region is nil), visiting a lattice of cells spaced by
// opts.Scale. No-data cells are skipped.
func ComputeStats(ctx context.Context, img *raster.Image, region []bool, opts Options) (*Stats, error) {
	grid := img.Grid
	if region != nil && len(region) != grid.Len() {
		return nil, eris.Wrap(raster.ErrGridMismatch, "normalize: region mask")
	}

	stride, err := baseStride(grid, opts.Scale)
	if err != nil {
		return nil, err
	}

	count := latticeCount(grid, region, stride)
	approximate := false
	if opts.MaxPixels > 0 && count > opts.MaxPixels {
		if !opts.BestEffort {
			return nil, eris.Wrapf(ErrReductionBudgetExceeded, "normalize: %d pixels, budget %d", count, opts.MaxPixels)
		}
		requested := count
		for count > opts.MaxPixels {
			grow := int(math.Ceil(math.Sqrt(float64(count) / float64(opts.MaxPixels))))
			stride *= max(grow, 2)
			count = latticeCount(grid, region, stride)
		}
		approximate = true
		zap.L().Warn("normalize: pixel budget exceeded, sampling sparser lattice",
			zap.Int("requested_pixels", requested),
			zap.Int("max_pixels", opts.MaxPixels),
			zap.Int("stride", stride),
			zap.Int("sampled_pixels", count),
		)
	}

	tiles := grid.Tiles(opts.TileSize)
	partials := make([][]BandStats, len(tiles))
	bands := img.Bands()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Workers, 1))
	for ti, tile := range tiles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			part := newPartial(bands)
			eachLattice(grid, tile, stride, func(idx int) {
				if region != nil && !region[idx] {
					return
				}
				for bi, b := range bands {
					part[bi].add(b.Data[idx])
				}
			})
			partials[ti] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "normalize: reduce")
	}

	merged := newPartial(bands)
	for _, part := range partials {
		for bi := range merged {
			merged[bi].merge(part[bi])
		}
	}

	return &Stats{Bands: merged, Stride: stride, Sampled: count, Approximate: approximate}, nil
}

// Apply rescales each band by its statistics. Degenerate bands become
// entirely no-data; results are clamped to [0,1] since sampled bounds may
// miss the true extremes.
func Apply(img *raster.Image, stats *Stats) (*raster.Image, error) {
	if len(stats.Bands) != img.NumBands() {
		return nil, eris.Errorf("normalize: %d band statistics for %d bands", len(stats.Bands), img.NumBands())
	}

	out := raster.New(img.Grid)
	out.ID = img.ID
	out.Acquired = img.Acquired
	for i, b := range img.Bands() {
		s := stats.Bands[i]
		if s.Name != b.Name {
			return nil, eris.Errorf("normalize: statistics for %s applied to band %s", s.Name, b.Name)
		}

		data := raster.NewFilled(len(b.Data))
		if !s.Degenerate() {
			span := s.Max - s.Min
			for idx, v := range b.Data {
				if raster.IsNoData(v) {
					continue
				}
				data[idx] = min(max((v-s.Min)/span, 0), 1)
			}
		} else {
			zap.L().Debug("normalize: degenerate band", zap.String("band", b.Name), zap.Int("samples", s.Count))
		}
		if err := out.AddBand(b.Name, data); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// baseStride converts the sampling distance into whole cells.
func baseStride(grid raster.Grid, scale float64) (int, error) {
	if scale <= 0 {
		return 1, nil
	}
	lat := grid.Bound().Center()[1]
	units, err := crs.MetersToUnits(grid.CRS, scale, lat)
	if err != nil {
		return 0, eris.Wrap(err, "normalize: scale")
	}
	px := grid.PixelSize()
	if px <= 0 {
		return 1, nil
	}
	return max(1, int(math.Round(units/px))), nil
}

// eachLattice visits cells of tile whose row and column are multiples of
// stride, so lattices from different tiles line up.
func eachLattice(grid raster.Grid, tile raster.Tile, stride int, fn func(idx int)) {
	row0 := ceilMultiple(tile.Row0, stride)
	col0 := ceilMultiple(tile.Col0, stride)
	for row := row0; row < tile.Row1; row += stride {
		for col := col0; col < tile.Col1; col += stride {
			fn(grid.Index(col, row))
		}
	}
}

func latticeCount(grid raster.Grid, region []bool, stride int) int {
	whole := raster.Tile{Col1: grid.Width, Row1: grid.Height}
	n := 0
	eachLattice(grid, whole, stride, func(idx int) {
		if region == nil || region[idx] {
			n++
		}
	})
	return n
}

func ceilMultiple(v, m int) int {
	return (v + m - 1) / m * m
}

func newPartial(bands []raster.Band) []BandStats {
	out := make([]BandStats, len(bands))
	for i, b := range bands {
		out[i] = BandStats{Name: b.Name, Min: math.Inf(1), Max: math.Inf(-1)}
	}
	return out
}

func (b *BandStats) add(v float64) {
	if raster.IsNoData(v) {
		return
	}
	b.Min = min(b.Min, v)
	b.Max = max(b.Max, v)
	b.Count++
}

func (b *BandStats) merge(o BandStats) {
	if o.Count == 0 {
		return
	}
	b.Min = min(b.Min, o.Min)
	b.Max = max(b.Max, o.Max)
	b.Count += o.Count
}
