// Package mask removes cloud, cloud-shadow and sensor-edge pixels from raw
// Landsat 4-7 surface reflectance scenes.
package mask

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover/internal/raster"
)

// pixel_qa bit positions.
const (
	BitCloudShadow         = 3
	BitCloud               = 5
	BitCloudConfidenceHigh = 7
)

// Contaminated reports whether a pixel_qa value flags cloud (with high
// confidence) or cloud shadow.
func Contaminated(qa uint16) bool {
	cloud := qa&(1<<BitCloud) != 0 && qa&(1<<BitCloudConfidenceHigh) != 0
	shadow := qa&(1<<BitCloudShadow) != 0
	return cloud || shadow
}

// Apply returns a copy of scene holding only its spectral bands, with every
// contaminated pixel and every pixel missing from any band (QA included)
// set to no-data. The input is left untouched.
func Apply(scene *raster.Image) (*raster.Image, error) {
	qa, err := scene.MustBand(raster.QA)
	if err != nil {
		return nil, eris.Wrap(err, "mask: scene has no quality band")
	}

	spectral, err := scene.Select(raster.SpectralBands...)
	if err != nil {
		return nil, eris.Wrap(err, "mask: select spectral bands")
	}
	out := spectral.Clone()
	bands := out.Bands()

	for idx, q := range qa {
		valid := !raster.IsNoData(q) && !Contaminated(uint16(q))
		for j := 0; valid && j < len(bands); j++ {
			if raster.IsNoData(bands[j].Data[idx]) {
				valid = false
			}
		}
		if valid {
			continue
		}
		for _, b := range bands {
			b.Data[idx] = raster.NoData()
		}
	}
	return out, nil
}
