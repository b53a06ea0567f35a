package crs

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	for _, code := range []string{"EPSG:4326", "epsg:3857", "EPSG:3395", "EPSG:32616", "EPSG:32733"} {
		p, err := Lookup(code)
		require.NoError(t, err, code)
		assert.NotEmpty(t, p.Code())
	}

	p, err := Lookup(" epsg:32616 ")
	require.NoError(t, err)
	assert.Equal(t, "EPSG:32616", p.Code())
	assert.False(t, p.Geographic())

	_, err = Lookup("EPSG:2000")
	require.Error(t, err)
	_, err = Lookup("utm")
	require.Error(t, err)
}

func TestWorldMercator_KnownValues(t *testing.T) {
	p, err := Lookup(WorldMercator)
	require.NoError(t, err)

	xy, err := p.Forward([]float64{180, 0})
	require.NoError(t, err)
	assert.InDelta(t, 20037508.342789244, xy[0], 1e-3)
	assert.InDelta(t, 0, xy[1], 1e-6)

	// World Mercator northings fall below Web Mercator's at the same
	// latitude because the ellipsoid is flattened.
	web, err := Lookup(WebMercator)
	require.NoError(t, err)
	yw, err := web.Forward([]float64{-86, 33.25})
	require.NoError(t, err)
	ye, err := p.Forward([]float64{-86, 33.25})
	require.NoError(t, err)
	assert.Less(t, ye[1], yw[1])
}

func TestUTM_CentralMeridian(t *testing.T) {
	p, err := Lookup("EPSG:32616")
	require.NoError(t, err)

	xy, err := p.Forward([]float64{-87, 0})
	require.NoError(t, err)
	assert.InDelta(t, 500000, xy[0], 1e-3)
	assert.InDelta(t, 0, xy[1], 1e-3)

	south, err := Lookup("EPSG:32716")
	require.NoError(t, err)
	ys, err := south.Forward([]float64{-87, -10})
	require.NoError(t, err)
	assert.Greater(t, ys[1], 8000000.0)
}

func TestRoundTrip(t *testing.T) {
	lonlat := []float64{-86.5, 33.25, -88.9, 30.7, -85.1, 34.9}
	for _, code := range []string{WebMercator, WorldMercator, "EPSG:32616"} {
		p, err := Lookup(code)
		require.NoError(t, err)

		xy, err := p.Forward(lonlat)
		require.NoError(t, err)
		back, err := p.Inverse(xy)
		require.NoError(t, err)
		require.Len(t, back, len(lonlat))
		for i := range lonlat {
			assert.InDelta(t, lonlat[i], back[i], 1e-6, code)
		}
	}
}

func TestTransformer(t *testing.T) {
	tr, err := NewTransformer("EPSG:32616", WorldMercator)
	require.NoError(t, err)
	assert.False(t, tr.Identity())

	utm, err := Lookup("EPSG:32616")
	require.NoError(t, err)
	xy, err := utm.Forward([]float64{-86.5, 33.25})
	require.NoError(t, err)
	merc, err := Lookup(WorldMercator)
	require.NoError(t, err)
	want, err := merc.Forward([]float64{-86.5, 33.25})
	require.NoError(t, err)

	got, err := tr.Point(orb.Point{xy[0], xy[1]})
	require.NoError(t, err)
	assert.InDelta(t, want[0], got[0], 1e-3)
	assert.InDelta(t, want[1], got[1], 1e-3)

	in := []orb.Point{{xy[0], xy[1]}, {xy[0] + 3000, xy[1] + 3000}}
	pts, err := tr.Points(in)
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Greater(t, pts[1][0], pts[0][0])
	assert.Greater(t, pts[1][1], pts[0][1])
	assert.Equal(t, xy[0], in[0][0], "input untouched")

	same, err := NewTransformer(WGS84, "EPSG:4326")
	require.NoError(t, err)
	assert.True(t, same.Identity())
	p, err := same.Point(orb.Point{-86.5, 33.25})
	require.NoError(t, err)
	assert.Equal(t, orb.Point{-86.5, 33.25}, p)
}

func TestMetersToUnits(t *testing.T) {
	m, err := MetersToUnits("EPSG:32616", 30, 33)
	require.NoError(t, err)
	assert.Equal(t, 30.0, m)

	d, err := MetersToUnits(WGS84, 111319.49, 0)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d, 1e-4)

	d33, err := MetersToUnits(WGS84, 30, 33)
	require.NoError(t, err)
	assert.InDelta(t, 30/(111319.49*math.Cos(33*math.Pi/180)), d33, 1e-9)
}
