package export

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover/internal/model"
	"github.com/sells-group/landcover/internal/raster"
)

// NoDataValue marks empty cells in exported rasters.
const NoDataValue = 255

// Sidecar is the metadata document written next to each exported raster.
type Sidecar struct {
	Description string            `json:"description"`
	Region      string            `json:"region"`
	CRS         string            `json:"crs"`
	Scale       float64           `json:"scale"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Bounds      [4]float64        `json:"bounds"`
	NoData      int               `json:"nodata"`
	ValidPixels int               `json:"valid_pixels"`
	Legend      map[string]Legend `json:"legend"`
	Footprint   *geojson.Geometry `json:"footprint,omitempty"`
}

// Legend describes one class code.
type Legend struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// ClassLegend returns the legend keyed by class code.
func ClassLegend() map[string]Legend {
	out := make(map[string]Legend, len(model.Classes))
	for _, c := range model.Classes {
		out[strconv.Itoa(int(c))] = Legend{Name: c.String(), Color: model.Palette[c]}
	}
	return out
}

// FileSink writes <Dir>/<description>.tif (8-bit), a .tfw world file and a
// .json sidecar. Files are replaced atomically.
type FileSink struct {
	Dir string
}

// Paths returns the files written for a description.
func (s *FileSink) Paths(description string) (tif, tfw, sidecar string) {
	base := filepath.Join(s.Dir, description)
	return base + ".tif", base + ".tfw", base + ".json"
}

// Export implements Sink.
func (s *FileSink) Export(ctx context.Context, out Output) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return eris.Wrap(err, "export: create directory")
	}
	tif, tfw, sidecar := s.Paths(out.Description)

	if err := writeAtomic(tif, func(w io.Writer) error {
		return raster.EncodeClasses(w, out.Grid, out.Data, NoDataValue)
	}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := writeAtomic(tfw, func(w io.Writer) error {
		_, err := io.WriteString(w, raster.WorldFile(out.Grid))
		return err
	}); err != nil {
		return err
	}

	b := out.Grid.Bound()
	meta := Sidecar{
		Description: out.Description,
		Region:      out.Region,
		CRS:         out.Grid.CRS,
		Scale:       out.Scale,
		Width:       out.Grid.Width,
		Height:      out.Grid.Height,
		Bounds:      [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
		NoData:      NoDataValue,
		ValidPixels: out.ValidPixels,
		Legend:      ClassLegend(),
	}
	if out.Footprint.Geom != nil {
		meta.Footprint = geojson.NewGeometry(out.Footprint.Geom)
	}
	return writeAtomic(sidecar, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	})
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return eris.Wrap(err, "export: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "export: write %s", filepath.Base(path))
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "export: close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrap(err, "export: rename")
	}
	return nil
}
