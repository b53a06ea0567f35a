// Package predict applies a trained forest to every pixel of an image.
package predict

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/landcover/internal/forest"
	"github.com/sells-group/landcover/internal/raster"
)

// ErrFeatureMismatch is returned when the image's bands differ from the
// features the model was trained on.
var ErrFeatureMismatch = eris.New("predict: image bands do not match model features")

// Band is the name of the classified output band.
const Band = "classification"

// Options tunes the tiled inference.
type Options struct {
	TileSize int
	Workers  int
}

// Classify returns a single-band image on img's grid holding the forest's
// class code for every pixel whose feature vector is complete. Any no-data
// feature leaves the pixel no-data.
func Classify(ctx context.Context, f *forest.Forest, img *raster.Image, opts Options) (*raster.Image, error) {
	if !slices.Equal(f.Features, img.BandNames()) {
		return nil, eris.Wrapf(ErrFeatureMismatch, "predict: model %v, image %v", f.Features, img.BandNames())
	}

	grid := img.Grid
	out := raster.NewFilled(grid.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Workers, 1))
	for _, tile := range grid.Tiles(opts.TileSize) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vec := make([]float64, img.NumBands())
			tile.Each(grid, func(idx, _, _ int) {
				if img.Vector(idx, vec) {
					out[idx] = float64(f.Predict(vec))
				}
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "predict: classify")
	}

	classified := raster.New(grid)
	classified.ID = "classified"
	if err := classified.AddBand(Band, out); err != nil {
		return nil, err
	}

	zap.L().Debug("predict: classified", zap.Int("valid_pixels", classified.CountValid()), zap.Int("pixels", grid.Len()))
	return classified, nil
}
