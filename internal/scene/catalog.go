package scene

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/landcover/internal/fetcher"
	"github.com/sells-group/landcover/internal/raster"
)

// ManifestName is the file a catalog directory or URL is expected to hold.
const ManifestName = "catalog.yaml"

const (
	defaultFill   = -9999
	defaultQAFill = 1
)

// Manifest is the YAML document describing the scenes of one or more
// collections.
type Manifest struct {
	Collections []CollectionEntry `yaml:"collections"`
}

// CollectionEntry lists the scenes of one collection.
type CollectionEntry struct {
	ID     string       `yaml:"id"`
	Scenes []SceneEntry `yaml:"scenes"`
}

// SceneEntry locates the band files of one scene. Paths are relative to the
// manifest unless absolute. When Archive is set, band paths name members of
// that zip file.
type SceneEntry struct {
	ID        string            `yaml:"id"`
	Acquired  string            `yaml:"acquired"`
	CRS       string            `yaml:"crs"`
	Transform []float64         `yaml:"transform"`
	Width     int               `yaml:"width"`
	Height    int               `yaml:"height"`
	Fill      *float64          `yaml:"fill,omitempty"`
	QAFill    *float64          `yaml:"qa_fill,omitempty"`
	Archive   string            `yaml:"archive,omitempty"`
	Bands     map[string]string `yaml:"bands"`
}

func (e SceneEntry) grid() (raster.Grid, error) {
	if len(e.Transform) != 6 {
		return raster.Grid{}, eris.Errorf("scene: %s: transform needs 6 terms, got %d", e.ID, len(e.Transform))
	}
	if e.Width <= 0 || e.Height <= 0 {
		return raster.Grid{}, eris.Errorf("scene: %s: invalid size %dx%d", e.ID, e.Width, e.Height)
	}
	var t raster.GeoTransform
	copy(t[:], e.Transform)
	return raster.Grid{Width: e.Width, Height: e.Height, Transform: t, CRS: e.CRS}, nil
}

func (e SceneEntry) fillFor(band string) float64 {
	if band == raster.QA {
		if e.QAFill != nil {
			return *e.QAFill
		}
		return defaultQAFill
	}
	if e.Fill != nil {
		return *e.Fill
	}
	return defaultFill
}

// Catalog is a Source backed by a manifest on disk, HTTP(S) or FTP. Remote
// files are cached under a local directory and reused across runs.
type Catalog struct {
	location string
	cacheDir string
	fetch    fetcher.Fetcher

	mu       sync.Mutex
	manifest *Manifest
}

// NewCatalog returns a catalog rooted at location, which is either the
// manifest itself or a directory/URL containing ManifestName.
func NewCatalog(location, cacheDir string, f fetcher.Fetcher) *Catalog {
	return &Catalog{location: location, cacheDir: cacheDir, fetch: f}
}

func (c *Catalog) manifestPath() string {
	ext := strings.ToLower(path.Ext(c.location))
	if ext == ".yaml" || ext == ".yml" {
		return c.location
	}
	return fetcher.Join(c.location, ManifestName)
}

// base is the location band paths are resolved against.
func (c *Catalog) base() string {
	m := c.manifestPath()
	if fetcher.IsRemote(m) {
		return m[:strings.LastIndex(m, "/")]
	}
	return filepath.Dir(m)
}

// Manifest returns the parsed manifest, reading it on first use.
func (c *Catalog) Manifest(ctx context.Context) (*Manifest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manifest != nil {
		return c.manifest, nil
	}

	rc, err := c.fetch.Download(ctx, c.manifestPath())
	if err != nil {
		return nil, eris.Wrap(err, "scene: read manifest")
	}
	defer rc.Close() //nolint:errcheck

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, eris.Wrap(err, "scene: read manifest")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "scene: parse manifest")
	}
	c.manifest = &m
	return c.manifest, nil
}

func (c *Catalog) collection(ctx context.Context, id string) (*CollectionEntry, error) {
	m, err := c.Manifest(ctx)
	if err != nil {
		return nil, err
	}
	for i := range m.Collections {
		if m.Collections[i].ID == id {
			return &m.Collections[i], nil
		}
	}
	return nil, eris.Errorf("scene: unknown collection %q", id)
}

// Fetch implements Source.
func (c *Catalog) Fetch(ctx context.Context, collectionID string, r DateRange) ([]Ref, error) {
	coll, err := c.collection(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	var refs []Ref
	for _, s := range coll.Scenes {
		acquired, err := time.Parse(time.DateOnly, s.Acquired)
		if err != nil {
			return nil, eris.Wrapf(err, "scene: %s: parse acquired date", s.ID)
		}
		if !r.Contains(acquired) {
			continue
		}
		refs = append(refs, Ref{
			Collection: collectionID,
			ID:         s.ID,
			Acquired:   acquired,
			CRS:        s.CRS,
			Width:      s.Width,
			Height:     s.Height,
		})
	}

	slices.SortStableFunc(refs, func(a, b Ref) int {
		if c := a.Acquired.Compare(b.Acquired); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return refs, nil
}

// Load implements Source.
func (c *Catalog) Load(ctx context.Context, ref Ref) (*raster.Image, error) {
	coll, err := c.collection(ctx, ref.Collection)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(coll.Scenes, func(s SceneEntry) bool { return s.ID == ref.ID })
	if idx < 0 {
		return nil, eris.Errorf("scene: %s not in collection %s", ref.ID, ref.Collection)
	}
	entry := coll.Scenes[idx]

	grid, err := entry.grid()
	if err != nil {
		return nil, err
	}

	img := raster.New(grid)
	img.ID = entry.ID
	img.Acquired = ref.Acquired

	for _, band := range append(slices.Clone(raster.SpectralBands), raster.QA) {
		file, ok := entry.Bands[band]
		if !ok {
			return nil, eris.Errorf("scene: %s has no %s band", entry.ID, band)
		}
		local, err := c.localize(ctx, entry, file)
		if err != nil {
			return nil, err
		}
		data, err := decodeFile(local, grid, entry.fillFor(band))
		if err != nil {
			return nil, eris.Wrapf(err, "scene: %s band %s", entry.ID, band)
		}
		if err := img.AddBand(band, data); err != nil {
			return nil, err
		}
	}

	zap.L().Debug("scene: loaded",
		zap.String("scene", entry.ID),
		zap.Int("width", grid.Width),
		zap.Int("height", grid.Height),
	)
	return img, nil
}

// localize returns a local path for a band file, downloading and unpacking
// into the cache as needed.
func (c *Catalog) localize(ctx context.Context, entry SceneEntry, file string) (string, error) {
	sceneDir := filepath.Join(c.cacheDir, safeName(entry.ID))

	if entry.Archive != "" {
		archive, err := c.cached(ctx, fetcher.Join(c.base(), entry.Archive), sceneDir)
		if err != nil {
			return "", err
		}
		unpacked := filepath.Join(sceneDir, "unpacked")
		if p, ok := findCached(unpacked, file); ok {
			return p, nil
		}
		p, err := fetcher.ExtractZIPFile(archive, file, unpacked)
		if err != nil {
			return "", eris.Wrapf(err, "scene: %s: extract %s", entry.ID, file)
		}
		return p, nil
	}

	return c.cached(ctx, fetcher.Join(c.base(), file), sceneDir)
}

// cached downloads a remote location into dir once. Local paths are
// returned unchanged.
func (c *Catalog) cached(ctx context.Context, location, dir string) (string, error) {
	if !fetcher.IsRemote(location) {
		return strings.TrimPrefix(location, "file://"), nil
	}
	dest := filepath.Join(dir, path.Base(location))
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}
	n, err := c.fetch.DownloadToFile(ctx, location, dest)
	if err != nil {
		return "", eris.Wrapf(err, "scene: download %s", location)
	}
	zap.L().Debug("scene: cached", zap.String("url", location), zap.Int64("bytes", n))
	return dest, nil
}

func findCached(dir, member string) (string, bool) {
	for _, p := range []string{filepath.Join(dir, member), filepath.Join(dir, filepath.Base(member))} {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func decodeFile(p string, grid raster.Grid, fill float64) ([]float64, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, eris.Wrap(err, "scene: open band")
	}
	defer f.Close() //nolint:errcheck
	return raster.DecodeBand(f, grid, fill)
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, s)
}
