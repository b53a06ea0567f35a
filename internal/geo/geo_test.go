package geo

import (
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landcover/internal/raster"
)

func square(x0, y0, size float64) orb.Ring {
	return orb.Ring{{x0, y0}, {x0 + size, y0}, {x0 + size, y0 + size}, {x0, y0 + size}, {x0, y0}}
}

func TestGeometry_ContainsRespectsHoles(t *testing.T) {
	g, err := New(orb.Polygon{square(0, 0, 10), square(4, 4, 2)}, 32616)
	require.NoError(t, err)

	assert.True(t, g.Contains(orb.Point{1, 1}))
	assert.False(t, g.Contains(orb.Point{5, 5}))
	assert.False(t, g.Contains(orb.Point{11, 1}))
	assert.True(t, g.Polygonal())
	assert.False(t, g.IsEmpty())
}

func TestGeometry_PointsContainNothing(t *testing.T) {
	g, err := New(orb.MultiPoint{{1, 1}, {2, 2}}, 4326)
	require.NoError(t, err)
	assert.False(t, g.Contains(orb.Point{1, 1}))
	assert.Len(t, g.Points(), 2)
	assert.False(t, g.Polygonal())
}

func TestNew_RejectsLines(t *testing.T) {
	_, err := New(orb.LineString{{0, 0}, {1, 1}}, 4326)
	require.Error(t, err)
}

func TestGeometry_TransformRoundTrip(t *testing.T) {
	g, err := New(orb.Polygon{square(-86.6, 34.6, 0.2)}, 4326)
	require.NoError(t, err)

	utm, err := g.Transform("EPSG:32616")
	require.NoError(t, err)
	assert.Equal(t, 32616, utm.SRID)
	assert.Greater(t, utm.Bound().Min[0], 100000.0)

	back, err := utm.Transform("EPSG:4326")
	require.NoError(t, err)
	orig := g.Bound()
	got := back.Bound()
	assert.InDelta(t, orig.Min[0], got.Min[0], 1e-6)
	assert.InDelta(t, orig.Max[1], got.Max[1], 1e-6)
}

func TestMerge(t *testing.T) {
	a, _ := New(orb.Polygon{square(0, 0, 1)}, 32616)
	b, _ := New(orb.MultiPolygon{{square(5, 5, 1)}, {square(8, 8, 1)}}, 32616)

	m, err := Merge(a, b)
	require.NoError(t, err)
	assert.Len(t, m.Polygons(), 3)
	assert.True(t, m.Contains(orb.Point{8.5, 8.5}))

	c, _ := New(orb.Polygon{square(0, 0, 1)}, 4326)
	_, err = Merge(a, c)
	require.Error(t, err)
}

func TestRasterize(t *testing.T) {
	grid := raster.Grid{
		Width: 4, Height: 4,
		Transform: raster.GeoTransform{0, 10, 0, 40, 0, -10},
		CRS:       "EPSG:32616",
	}
	g, _ := New(orb.Polygon{square(0, 20, 20)}, 32616)

	mask, err := Rasterize(g, grid)
	require.NoError(t, err)

	var inside []int
	for idx, in := range mask {
		if in {
			inside = append(inside, idx)
		}
	}
	// Top-left 2x2 block of cells.
	assert.Equal(t, []int{0, 1, 4, 5}, inside)

	far, _ := New(orb.Polygon{square(1000, 1000, 5)}, 32616)
	mask, err = Rasterize(far, grid)
	require.NoError(t, err)
	assert.NotContains(t, mask, true)
}

func TestEWKB_RoundTrip(t *testing.T) {
	cases := []Geometry{
		{Geom: orb.Point{-86.5, 33.2}, SRID: 4326},
		{Geom: orb.MultiPoint{{1, 2}, {3, 4}}, SRID: 32616},
		{Geom: orb.Polygon{square(0, 0, 10), square(2, 2, 1)}, SRID: 32616},
		{Geom: orb.MultiPolygon{{square(0, 0, 1)}, {square(5, 5, 2), square(5.5, 5.5, 0.5)}}, SRID: 3395},
	}
	for _, in := range cases {
		data, err := EncodeEWKB(in)
		require.NoError(t, err)

		out, err := DecodeEWKB(data)
		require.NoError(t, err)
		assert.Equal(t, in.SRID, out.SRID)
		assert.True(t, orb.Equal(in.Geom, out.Geom), "%v != %v", in.Geom, out.Geom)
	}
}

func TestParseGeoJSON(t *testing.T) {
	doc := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"landcover":2},"geometry":{"type":"Point","coordinates":[-86.5,33.2]}},
		{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}}
	]}`
	features, err := ParseGeoJSON([]byte(doc), 4326)
	require.NoError(t, err)
	require.Len(t, features, 2)
	assert.Equal(t, float64(2), features[0].Properties["landcover"])
	assert.True(t, features[1].Geometry.Polygonal())

	single, err := ParseGeoJSON([]byte(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`), 4326)
	require.NoError(t, err)
	require.Len(t, single, 1)
}

func TestReadShapefile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("NAME", 20)}))

	// Clockwise shell with a counter-clockwise hole.
	shell := []shp.Point{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0}}
	hole := []shp.Point{{X: 4, Y: 4}, {X: 6, Y: 4}, {X: 6, Y: 6}, {X: 4, Y: 6}, {X: 4, Y: 4}}
	poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{shell, hole}))
	n := w.Write(&poly)
	require.NoError(t, w.WriteAttribute(int(n), 0, "huntsville"))
	w.Close()

	features, err := ReadFile(path, 32616)
	require.NoError(t, err)
	require.Len(t, features, 1)

	f := features[0]
	assert.Equal(t, "huntsville", f.Properties["name"])
	assert.Equal(t, 32616, f.Geometry.SRID)
	assert.True(t, f.Geometry.Contains(orb.Point{1, 1}))
	assert.False(t, f.Geometry.Contains(orb.Point{5, 5}))
}

func TestReadFile_UnknownExtension(t *testing.T) {
	_, err := ReadFile("labels.kml", 4326)
	require.Error(t, err)
}
