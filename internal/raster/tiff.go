package raster

import (
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/image/tiff"
)

// DecodeBand reads a single-band TIFF and returns its cells as float64 with
// fill mapped to no-data. 16-bit samples are interpreted as signed int16
// surface reflectance; 8-bit samples are taken as-is.
func DecodeBand(r io.Reader, grid Grid, fill float64) ([]float64, error) {
	img, err := tiff.Decode(r)
	if err != nil {
		return nil, eris.Wrap(err, "raster: decode tiff")
	}
	b := img.Bounds()
	if b.Dx() != grid.Width || b.Dy() != grid.Height {
		return nil, eris.Wrapf(ErrGridMismatch, "raster: tiff is %dx%d, grid is %dx%d", b.Dx(), b.Dy(), grid.Width, grid.Height)
	}

	data := make([]float64, grid.Len())
	switch m := img.(type) {
	case *image.Gray16:
		for row := 0; row < grid.Height; row++ {
			for col := 0; col < grid.Width; col++ {
				v := float64(int16(m.Gray16At(b.Min.X+col, b.Min.Y+row).Y))
				data[grid.Index(col, row)] = fillToNaN(v, fill)
			}
		}
	case *image.Gray:
		for row := 0; row < grid.Height; row++ {
			for col := 0; col < grid.Width; col++ {
				v := float64(m.GrayAt(b.Min.X+col, b.Min.Y+row).Y)
				data[grid.Index(col, row)] = fillToNaN(v, fill)
			}
		}
	default:
		return nil, eris.Errorf("raster: unsupported tiff pixel model %T", img)
	}
	return data, nil
}

func fillToNaN(v, fill float64) float64 {
	if v == fill {
		return NoData()
	}
	return v
}

// EncodeBand16 writes cells as a signed 16-bit TIFF, mapping no-data to fill.
func EncodeBand16(w io.Writer, grid Grid, data []float64, fill int16) error {
	m := image.NewGray16(image.Rect(0, 0, grid.Width, grid.Height))
	for row := 0; row < grid.Height; row++ {
		for col := 0; col < grid.Width; col++ {
			v := data[grid.Index(col, row)]
			s := fill
			if !IsNoData(v) {
				s = int16(v)
			}
			off := m.PixOffset(col, row)
			m.Pix[off] = uint8(uint16(s) >> 8)
			m.Pix[off+1] = uint8(uint16(s))
		}
	}
	return eris.Wrap(tiff.Encode(w, m, &tiff.Options{Compression: tiff.Deflate, Predictor: true}), "raster: encode tiff")
}

// EncodeClasses writes a categorical band as an 8-bit TIFF with no-data
// written as fill.
func EncodeClasses(w io.Writer, grid Grid, data []float64, fill uint8) error {
	m := image.NewGray(image.Rect(0, 0, grid.Width, grid.Height))
	for row := 0; row < grid.Height; row++ {
		for col := 0; col < grid.Width; col++ {
			v := data[grid.Index(col, row)]
			if IsNoData(v) {
				m.Pix[m.PixOffset(col, row)] = fill
				continue
			}
			m.Pix[m.PixOffset(col, row)] = uint8(v)
		}
	}
	return eris.Wrap(tiff.Encode(w, m, &tiff.Options{Compression: tiff.Deflate, Predictor: true}), "raster: encode tiff")
}

// WorldFile renders the ESRI world file that georeferences a grid. World
// files reference pixel centres.
func WorldFile(grid Grid) string {
	t := grid.Transform
	cx, cy := t.Apply(0.5, 0.5)
	var sb strings.Builder
	for _, v := range []float64{t[1], t[4], t[2], t[5], cx, cy} {
		fmt.Fprintf(&sb, "%.10f\n", v)
	}
	return sb.String()
}
