// Package composite reduces a stack of masked scenes to one per-pixel
// median image clipped to the area of interest.
package composite

import (
	"context"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/landcover/internal/geo"
	"github.com/sells-group/landcover/internal/raster"
)

// ErrNoScenes is returned when there is nothing to composite.
var ErrNoScenes = eris.New("composite: no scenes in range")

// Options tunes the tiled reduction.
type Options struct {
	TileSize int
	Workers  int
}

func (o Options) workers() int {
	if o.Workers < 1 {
		return 1
	}
	return o.Workers
}

// Compose clips every scene to aoi and returns the median composite.
func Compose(ctx context.Context, scenes []*raster.Image, aoi geo.Geometry, opts Options) (*raster.Image, error) {
	if len(scenes) == 0 {
		return nil, ErrNoScenes
	}
	clip, err := geo.Rasterize(aoi, scenes[0].Grid)
	if err != nil {
		return nil, eris.Wrap(err, "composite: rasterize aoi")
	}
	return Median(ctx, scenes, clip, opts)
}

// Median returns, for every band and cell, the median of the values that
// are valid in the stack. An even count takes the mean of the two middle
// values. Cells outside clip (when non-nil) or with no valid values are
// no-data. All scenes must share a grid and carry the first scene's bands.
func Median(ctx context.Context, scenes []*raster.Image, clip []bool, opts Options) (*raster.Image, error) {
	if len(scenes) == 0 {
		return nil, ErrNoScenes
	}
	grid := scenes[0].Grid
	names := scenes[0].BandNames()

	stacks := make([][][]float64, len(names))
	for i, name := range names {
		stacks[i] = make([][]float64, len(scenes))
		for s, sc := range scenes {
			if !sc.Grid.Equal(grid) {
				return nil, eris.Wrapf(raster.ErrGridMismatch, "composite: scene %s", sc.ID)
			}
			data, err := sc.MustBand(name)
			if err != nil {
				return nil, eris.Wrap(err, "composite")
			}
			stacks[i][s] = data
		}
	}
	if clip != nil && len(clip) != grid.Len() {
		return nil, eris.Wrap(raster.ErrGridMismatch, "composite: clip mask")
	}

	outs := make([][]float64, len(names))
	for i := range outs {
		outs[i] = raster.NewFilled(grid.Len())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for _, tile := range grid.Tiles(opts.TileSize) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			buf := make([]float64, 0, len(scenes))
			tile.Each(grid, func(idx, _, _ int) {
				if clip != nil && !clip[idx] {
					return
				}
				for i, stack := range stacks {
					buf = buf[:0]
					for _, data := range stack {
						if v := data[idx]; !raster.IsNoData(v) {
							buf = append(buf, v)
						}
					}
					outs[i][idx] = median(buf)
				}
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "composite: reduce")
	}

	out := raster.New(grid)
	out.ID = "composite"
	for i, name := range names {
		if err := out.AddBand(name, outs[i]); err != nil {
			return nil, err
		}
	}

	zap.L().Debug("composite: median complete",
		zap.Int("scenes", len(scenes)),
		zap.Int("bands", len(names)),
		zap.Int("valid_pixels", out.CountValid()),
	)
	return out, nil
}

// median of vals, or no-data when vals is empty.
func median(vals []float64) float64 {
	if len(vals) == 0 {
		return raster.NoData()
	}
	m, err := stats.Median(vals)
	if err != nil {
		return raster.NoData()
	}
	return m
}
