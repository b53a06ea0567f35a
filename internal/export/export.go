// Package export clips the classified raster to named regions, resamples
// it onto a fixed-resolution grid in the output reference system and hands
// each result to a sink.
package export

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/landcover/internal/crs"
	"github.com/sells-group/landcover/internal/geo"
	"github.com/sells-group/landcover/internal/model"
	"github.com/sells-group/landcover/internal/predict"
	"github.com/sells-group/landcover/internal/raster"
)

// ErrRegionOutsideExtent is returned for a region none of whose output
// cells fall on the classified raster.
var ErrRegionOutsideExtent = eris.New("export: region outside raster extent")

// Defaults for exported products.
const (
	DefaultScale = 30
	DefaultCRS   = crs.WorldMercator
)

// Output is one clipped, resampled product ready for a sink.
type Output struct {
	Description string
	Region      string
	Grid        raster.Grid
	Data        []float64
	Scale       float64
	// Footprint is the region boundary in the output reference system.
	Footprint   geo.Geometry
	ValidPixels int
}

// Sink stores outputs. Exporting the same description twice overwrites.
type Sink interface {
	Export(ctx context.Context, out Output) error
}

// Options configures the exporter.
type Options struct {
	Scale     float64
	CRS       string
	Year      int
	Workers   int
	MaxPixels int
}

// Exporter produces one output per region.
type Exporter struct {
	sink Sink
	opts Options
}

// New returns an Exporter writing to sink.
func New(sink Sink, opts Options) *Exporter {
	if opts.Scale <= 0 {
		opts.Scale = DefaultScale
	}
	if opts.CRS == "" {
		opts.CRS = DefaultCRS
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Exporter{sink: sink, opts: opts}
}

// ExportAll exports every region concurrently. A failed region is recorded
// in its result and never stops the others. Results follow region order.
func (e *Exporter) ExportAll(ctx context.Context, classified *raster.Image, regions []model.Region) []model.ExportResult {
	results := make([]model.ExportResult, len(regions))

	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for i, r := range regions {
		g.Go(func() error {
			start := time.Now()
			res, err := e.Export(ctx, classified, r)
			if err != nil {
				res = model.ExportResult{
					Region:      r.Name,
					Description: Description(r.Name, e.opts.Year),
					Status:      model.ExportStatusFailed,
					Error:       err.Error(),
				}
				zap.L().Error("export: region failed",
					zap.String("region", r.Name),
					zap.Error(err),
				)
			} else {
				zap.L().Info("export: region complete",
					zap.String("region", r.Name),
					zap.String("description", res.Description),
					zap.Int("width", res.Width),
					zap.Int("height", res.Height),
					zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Export clips, resamples and stores one region.
func (e *Exporter) Export(ctx context.Context, classified *raster.Image, r model.Region) (model.ExportResult, error) {
	desc := Description(r.Name, e.opts.Year)
	out, err := e.Render(classified, r)
	if err != nil {
		return model.ExportResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.ExportResult{}, err
	}
	if err := e.sink.Export(ctx, out); err != nil {
		return model.ExportResult{}, eris.Wrapf(err, "export: write %s", desc)
	}
	return model.ExportResult{
		Region:      r.Name,
		Description: desc,
		Status:      model.ExportStatusComplete,
		Width:       out.Grid.Width,
		Height:      out.Grid.Height,
		ValidPixels: out.ValidPixels,
	}, nil
}

// Render builds the output for one region without storing it. Cells of the
// output grid take the nearest classified value when their centre lies in
// the region, and no-data otherwise. A region whose cells all land off the
// source grid is outside the extent, even when the bounds overlap.
func (e *Exporter) Render(classified *raster.Image, r model.Region) (Output, error) {
	data, err := classified.MustBand(predict.Band)
	if err != nil {
		return Output{}, eris.Wrap(err, "export")
	}
	if !r.Geometry.Polygonal() || r.Geometry.IsEmpty() {
		return Output{}, eris.Errorf("export: region %s has no polygon boundary", r.Name)
	}

	src := classified.Grid
	local, err := r.Geometry.Transform(src.CRS)
	if err != nil {
		return Output{}, eris.Wrapf(err, "export: region %s", r.Name)
	}
	if !local.Bound().Intersects(src.Bound()) {
		return Output{}, eris.Wrapf(ErrRegionOutsideExtent, "export: region %s", r.Name)
	}

	footprint, err := r.Geometry.Transform(e.opts.CRS)
	if err != nil {
		return Output{}, eris.Wrapf(err, "export: region %s", r.Name)
	}
	grid, err := e.targetGrid(footprint)
	if err != nil {
		return Output{}, eris.Wrapf(err, "export: region %s", r.Name)
	}

	inside, err := geo.Rasterize(footprint, grid)
	if err != nil {
		return Output{}, err
	}
	tr, err := crs.NewTransformer(grid.CRS, src.CRS)
	if err != nil {
		return Output{}, err
	}

	var idxs []int
	var centers []orb.Point
	for row := 0; row < grid.Height; row++ {
		for col := 0; col < grid.Width; col++ {
			if idx := grid.Index(col, row); inside[idx] {
				idxs = append(idxs, idx)
				centers = append(centers, grid.Center(col, row))
			}
		}
	}
	projected, err := tr.Points(centers)
	if err != nil {
		return Output{}, eris.Wrapf(err, "export: region %s", r.Name)
	}

	cells := raster.NewFilled(grid.Len())
	covered, valid := 0, 0
	for i, p := range projected {
		sc, sr, ok := src.Locate(p)
		if !ok {
			continue
		}
		covered++
		if v := data[src.Index(sc, sr)]; !raster.IsNoData(v) {
			cells[idxs[i]] = v
			valid++
		}
	}
	if covered == 0 {
		return Output{}, eris.Wrapf(ErrRegionOutsideExtent, "export: region %s", r.Name)
	}

	return Output{
		Description: Description(r.Name, e.opts.Year),
		Region:      r.Name,
		Grid:        grid,
		Data:        cells,
		Scale:       e.opts.Scale,
		Footprint:   footprint,
		ValidPixels: valid,
	}, nil
}

// targetGrid snaps the footprint's bound outward to multiples of the
// output scale.
func (e *Exporter) targetGrid(footprint geo.Geometry) (raster.Grid, error) {
	b := footprint.Bound()
	size, err := crs.MetersToUnits(e.opts.CRS, e.opts.Scale, b.Center()[1])
	if err != nil {
		return raster.Grid{}, err
	}

	x0 := math.Floor(b.Min[0]/size) * size
	y1 := math.Ceil(b.Max[1]/size) * size
	width := max(1, int(math.Ceil((b.Max[0]-x0)/size)))
	height := max(1, int(math.Ceil((y1-b.Min[1])/size)))
	if e.opts.MaxPixels > 0 && width*height > e.opts.MaxPixels {
		return raster.Grid{}, eris.Errorf("export: %dx%d output exceeds %d pixels", width, height, e.opts.MaxPixels)
	}

	return raster.Grid{
		Width:     width,
		Height:    height,
		Transform: raster.GeoTransform{x0, size, 0, y1, 0, -size},
		CRS:       e.opts.CRS,
	}, nil
}

// Description names an export: the region slug followed by the year.
func Description(region string, year int) string {
	return Slug(region) + strconv.Itoa(year)
}

// Slug folds a region name to lowercase ASCII letters and digits, with
// underscores between words.
func Slug(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var sb strings.Builder
	pending := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && sb.Len() > 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r)
			pending = false
			continue
		}
		pending = true
	}
	return sb.String()
}
