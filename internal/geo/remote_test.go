package geo

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landcover/internal/fetcher"
)

// zippedShapefile builds a one-polygon shapefile and returns it as a zip.
func zippedShapefile(t *testing.T) []byte {
	t.Helper()
	dir := t.TempDir()
	base := filepath.Join(dir, "tl_2010_01_place10")

	w, err := shp.Create(base+".shp", shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("NAME10", 20)}))
	ring := []shp.Point{{X: -86.7, Y: 34.6}, {X: -86.7, Y: 34.8}, {X: -86.5, Y: 34.8}, {X: -86.5, Y: 34.6}, {X: -86.7, Y: 34.6}}
	poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{ring}))
	n := w.Write(&poly)
	require.NoError(t, w.WriteAttribute(int(n), 0, "Huntsville"))
	w.Close()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		data, err := os.ReadFile(base + ext)
		require.NoError(t, err)
		f, err := zw.Create("tl_2010_01_place10" + ext)
		require.NoError(t, err)
		_, err = f.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestReadRemote_ZippedShapefile(t *testing.T) {
	archive := zippedShapefile(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer ts.Close()

	mux := fetcher.NewMux(fetcher.HTTPOptions{}, fetcher.FTPOptions{})
	features, err := ReadRemote(context.Background(), mux, ts.URL+"/tl_2010_01_place10.zip", 4269)
	require.NoError(t, err)
	require.Len(t, features, 1)

	f := features[0]
	assert.Equal(t, "Huntsville", f.Properties["name10"])
	assert.Equal(t, 4269, f.Geometry.SRID)
	assert.True(t, f.Geometry.Contains(orb.Point{-86.6, 34.7}))
}

func TestReadRemote_GeoJSON(t *testing.T) {
	doc := `{"type":"Feature","properties":{"landcover":"water"},"geometry":{"type":"Point","coordinates":[-88.0,30.7]}}`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(doc))
	}))
	defer ts.Close()

	mux := fetcher.NewMux(fetcher.HTTPOptions{}, fetcher.FTPOptions{})
	features, err := ReadRemote(context.Background(), mux, ts.URL+"/labels.geojson?v=2", 4326)
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, "water", features[0].Properties["landcover"])
}

func TestReadRemote_ZipWithoutShapefile(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, _ := zw.Create("readme.txt")
	_, _ = f.Write([]byte("nothing here"))
	require.NoError(t, zw.Close())

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	defer ts.Close()

	mux := fetcher.NewMux(fetcher.HTTPOptions{}, fetcher.FTPOptions{})
	_, err := ReadRemote(context.Background(), mux, ts.URL+"/empty.zip", 4326)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no .shp file")
}

func TestReadRemote_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	mux := fetcher.NewMux(fetcher.HTTPOptions{}, fetcher.FTPOptions{})
	_, err := ReadRemote(context.Background(), mux, ts.URL+"/missing.zip", 4326)
	require.Error(t, err)
}
