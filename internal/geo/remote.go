package geo

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landcover/internal/fetcher"
)

// Downloader copies a remote location to a local file.
type Downloader interface {
	DownloadToFile(ctx context.Context, location, path string) (int64, error)
}

// ReadRemote downloads a vector file and reads it like ReadFile. Zip
// archives are unpacked and their first shapefile is read, which covers the
// Census TIGER boundary downloads.
func ReadRemote(ctx context.Context, d Downloader, location string, srid int) ([]Feature, error) {
	log := zap.L().With(zap.String("component", "geo.remote"), zap.String("location", location))

	tempDir, err := os.MkdirTemp("", "landcover-vector-*")
	if err != nil {
		return nil, eris.Wrap(err, "geo: create temp dir")
	}
	defer os.RemoveAll(tempDir) //nolint:errcheck

	name := path.Base(strings.SplitN(location, "?", 2)[0])
	if name == "" || name == "/" || name == "." {
		name = "download"
	}
	local := filepath.Join(tempDir, name)

	log.Info("downloading vector file")
	n, err := d.DownloadToFile(ctx, location, local)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: download %s", location)
	}
	log.Debug("vector file downloaded", zap.Int64("bytes", n))

	if !strings.EqualFold(filepath.Ext(local), ".zip") {
		return ReadFile(local, srid)
	}

	extractDir := filepath.Join(tempDir, "extracted")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "geo: create extract dir")
	}
	files, err := fetcher.ExtractZIP(local, extractDir)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: extract %s", name)
	}

	shpPath, err := findFileByExt(files, ".shp")
	if err != nil {
		return nil, err
	}
	return ReadShapefile(shpPath, srid)
}

// findFileByExt returns the first path with the given extension.
func findFileByExt(files []string, ext string) (string, error) {
	for _, f := range files {
		if strings.EqualFold(filepath.Ext(f), ext) {
			return f, nil
		}
	}
	return "", eris.Errorf("geo: no %s file in archive", ext)
}
