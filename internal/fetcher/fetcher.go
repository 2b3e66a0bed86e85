// Package fetcher downloads boundary dataset archives over HTTP(S) or
// anonymous FTP and unpacks them.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/rotisserie/eris"
)

// Fetcher retrieves a remote file.
type Fetcher interface {
	// Download returns the body of rawURL. The caller closes it.
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Options configures fetchers built by New.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	// RateLimit is requests per second for HTTP; zero means unlimited.
	RateLimit float64
}

// New returns a fetcher for rawURL's scheme.
func New(rawURL string, opts Options) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}
	switch u.Scheme {
	case "http", "https":
		return NewHTTPFetcher(opts), nil
	case "ftp":
		return NewFTPFetcher(opts), nil
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
}

// FileName returns the last path element of rawURL.
func FileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "download"
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return "download"
	}
	return name
}

// DownloadToFile streams rawURL into dest and returns the bytes written.
func DownloadToFile(ctx context.Context, f Fetcher, rawURL, dest string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(dest)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrap(err, "fetcher: write file")
	}
	return n, nil
}
