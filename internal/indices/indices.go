// Package indices derives normalized-difference spectral indices from a
// composite and appends them as bands.
package indices

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover/internal/raster"
)

// Index band names, in the order they are appended.
const (
	NDVI  = "ndvi"
	NDBI  = "ndbi"
	MNDWI = "mndwi"
	BSI   = "bsi"
)

// Names lists the derived bands in append order.
var Names = []string{NDVI, NDBI, MNDWI, BSI}

// NormalizedDifference returns (a-b)/(a+b). A zero denominator or a no-data
// input yields no-data.
func NormalizedDifference(a, b float64) float64 {
	return ratio(a-b, a+b)
}

// BareSoil returns ((swir+red)-(nir+blue)) / ((swir+red)+(nir+blue)).
func BareSoil(swir, red, nir, blue float64) float64 {
	x, y := swir+red, nir+blue
	return ratio(x-y, x+y)
}

func ratio(num, den float64) float64 {
	if raster.IsNoData(num) || raster.IsNoData(den) || den == 0 {
		return raster.NoData()
	}
	return num / den
}

// Add returns a copy of img sharing its existing bands with ndvi, ndbi,
// mndwi and bsi appended. img must carry B1 through B5.
func Add(img *raster.Image) (*raster.Image, error) {
	b1, err := img.MustBand(raster.B1)
	if err != nil {
		return nil, eris.Wrap(err, "indices")
	}
	b2, err := img.MustBand(raster.B2)
	if err != nil {
		return nil, eris.Wrap(err, "indices")
	}
	b3, err := img.MustBand(raster.B3)
	if err != nil {
		return nil, eris.Wrap(err, "indices")
	}
	b4, err := img.MustBand(raster.B4)
	if err != nil {
		return nil, eris.Wrap(err, "indices")
	}
	b5, err := img.MustBand(raster.B5)
	if err != nil {
		return nil, eris.Wrap(err, "indices")
	}

	n := img.Grid.Len()
	ndvi := make([]float64, n)
	ndbi := make([]float64, n)
	mndwi := make([]float64, n)
	bsi := make([]float64, n)
	for i := range n {
		ndvi[i] = NormalizedDifference(b4[i], b3[i])
		ndbi[i] = NormalizedDifference(b5[i], b4[i])
		mndwi[i] = NormalizedDifference(b2[i], b5[i])
		bsi[i] = BareSoil(b5[i], b3[i], b4[i], b1[i])
	}

	out, err := img.Select(img.BandNames()...)
	if err != nil {
		return nil, err
	}
	for i, data := range [][]float64{ndvi, ndbi, mndwi, bsi} {
		if err := out.AddBand(Names[i], data); err != nil {
			return nil, eris.Wrap(err, "indices")
		}
	}
	return out, nil
}
