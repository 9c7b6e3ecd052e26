// Package fetch downloads trusted list documents over HTTP(S) or from local
// files, backed by a document cache.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Mode selects how the cache is consulted.
type Mode int

const (
	// AlwaysRefresh downloads the document and refreshes the cache.
	AlwaysRefresh Mode = iota
	// CacheIfPresent returns a cached copy, expired or not, and only
	// downloads when none exists. Used for immutable documents.
	CacheIfPresent
)

func (m Mode) String() string {
	switch m {
	case AlwaysRefresh:
		return "always-refresh"
	case CacheIfPresent:
		return "cache-if-present"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// DefaultMaxBodySize bounds the size of a downloaded document.
const DefaultMaxBodySize = 64 << 20

const mimeTypeTSL = "application/vnd.etsi.tsl+xml"

// ErrBodyTooLarge is returned when a document exceeds the body size limit.
var ErrBodyTooLarge = errors.New("document exceeds size limit")

// HTTPError represents an unexpected HTTP status.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error %d fetching %s", e.StatusCode, e.URL)
}

// Fetcher retrieves documents by URL.
type Fetcher struct {
	client      *http.Client
	cache       Cache
	logger      *zap.Logger
	maxBodySize int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the HTTP client.
func WithClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithCache sets the document cache.
func WithCache(cache Cache) Option {
	return func(f *Fetcher) {
		f.cache = cache
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithMaxBodySize sets the maximum accepted document size.
func WithMaxBodySize(n int64) Option {
	return func(f *Fetcher) {
		f.maxBodySize = n
	}
}

// New creates a fetcher. Without options it uses the default client
// configuration and an in-memory cache.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		maxBodySize: DefaultMaxBodySize,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.client == nil {
		f.client = defaultClient()
	}
	if f.cache == nil {
		f.cache = NewMemoryCache()
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}

	return f
}

// Fetch retrieves the document at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, mode Mode) ([]byte, error) {
	if mode == CacheIfPresent {
		if content, ok := f.cache.Get(rawURL, true); ok {
			f.logger.Debug("cache hit", zap.String("url", rawURL))
			return content, nil
		}
	}

	content, err := f.download(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if err := f.cache.Set(rawURL, content); err != nil {
		f.logger.Warn("failed to cache document", zap.String("url", rawURL), zap.Error(err))
	}
	return content, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return f.doFetch(ctx, rawURL)
	case "file":
		return f.readFile(ctx, u)
	default:
		return nil, fmt.Errorf("unsupported URL scheme %q in %s", u.Scheme, rawURL)
	}
}

func (f *Fetcher) doFetch(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "text/xml")
	req.Header.Add("Accept", mimeTypeTSL)

	f.logger.Debug("downloading", zap.String("url", uri))
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{URL: uri, StatusCode: resp.StatusCode}
	}

	return f.readLimited(resp.Body)
}

func (f *Fetcher) readFile(ctx context.Context, u *url.URL) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return f.readLimited(file)
}

func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	if f.maxBodySize <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, f.maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}
