// Package fetcher downloads scene catalogs and band files over HTTP(S), FTP
// or from the local filesystem, and unpacks zipped scene archives.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher defines the interface for downloading remote data. A single call
// makes one attempt; failures worth retrying are resilience.TransientError.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Mux dispatches on URL scheme. Bare paths and file:// URLs read the local
// filesystem.
type Mux struct {
	HTTP *HTTPFetcher
	FTP  *FTPFetcher
}

// NewMux builds a Mux with the given HTTP and FTP options.
func NewMux(httpOpts HTTPOptions, ftpOpts FTPOptions) *Mux {
	return &Mux{HTTP: NewHTTPFetcher(httpOpts), FTP: NewFTPFetcher(ftpOpts)}
}

// IsRemote reports whether location needs a network fetch.
func IsRemote(location string) bool {
	switch scheme(location) {
	case "http", "https", "ftp":
		return true
	}
	return false
}

func scheme(location string) string {
	i := strings.Index(location, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(location[:i])
}

// Download implements Fetcher.
func (m *Mux) Download(ctx context.Context, location string) (io.ReadCloser, error) {
	switch scheme(location) {
	case "http", "https":
		return m.HTTP.Download(ctx, location)
	case "ftp":
		return m.FTP.Download(ctx, location)
	case "", "file":
		f, err := os.Open(localPath(location))
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: open %s", location)
		}
		return f, nil
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme in %q", location)
	}
}

// DownloadToFile implements Fetcher.
func (m *Mux) DownloadToFile(ctx context.Context, location, path string) (int64, error) {
	rc, err := m.Download(ctx, location)
	if err != nil {
		return 0, err
	}
	defer rc.Close() //nolint:errcheck
	return writeFile(rc, path)
}

func localPath(location string) string {
	if scheme(location) == "file" {
		if u, err := url.Parse(location); err == nil {
			return u.Path
		}
	}
	return location
}

// Join resolves ref against base, where base is a directory path or URL and
// ref is relative to it. Absolute refs are returned unchanged.
func Join(base, ref string) string {
	if scheme(ref) != "" || filepath.IsAbs(ref) {
		return ref
	}
	if scheme(base) == "" {
		return filepath.Join(base, ref)
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + "/")
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + ref
	}
	return u.ResolveReference(r).String()
}

// writeFile copies r to path through a temp file in the same directory so
// a failed transfer never leaves a truncated file behind.
func writeFile(r io.Reader, path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, eris.Wrap(err, "fetcher: create directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return n, eris.Wrap(err, "fetcher: write file")
	}
	if err := tmp.Close(); err != nil {
		return n, eris.Wrap(err, "fetcher: close file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, eris.Wrap(err, "fetcher: rename file")
	}
	return n, nil
}
