package fetch

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// DefaultRequestTimeout bounds a download when no timeout is configured.
const DefaultRequestTimeout = 60 * time.Second

// ClientConfig configures the HTTP client used to download lists.
type ClientConfig struct {
	// ConnectTimeout bounds establishing a connection.
	// Default: 5 seconds.
	ConnectTimeout time.Duration

	// RequestTimeout bounds a whole request including reading the body.
	// Member state lists run to several megabytes, so the default leaves room
	// for slow links; the synchroniser's per-list timeout caps it further.
	// Default: 60 seconds.
	RequestTimeout time.Duration

	// FollowRedirects enables following HTTP redirects.
	// Default: true.
	FollowRedirects bool

	// MaxRedirects is the maximum number of redirects followed per request.
	// Default: 10.
	MaxRedirects int

	// ProxyURL is the URL of the HTTP proxy to use.
	// If empty, the environment's proxy settings are used.
	ProxyURL string

	// MinTLSVersion specifies the minimum TLS version to accept.
	// Default: TLS 1.2.
	MinTLSVersion uint16
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ConnectTimeout:  5 * time.Second,
		RequestTimeout:  DefaultRequestTimeout,
		FollowRedirects: true,
		MaxRedirects:    10,
		MinTLSVersion:   tls.VersionTLS12,
	}
}

// NewHTTPClient creates an HTTP client with the specified configuration.
func NewHTTPClient(config *ClientConfig) (*http.Client, error) {
	if config == nil {
		config = DefaultClientConfig()
	}

	proxy := http.ProxyFromEnvironment
	if config.ProxyURL != "" {
		proxyURL, err := url.Parse(config.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		proxy = http.ProxyURL(proxyURL)
	}
	return newClient(config, proxy), nil
}

// defaultClient builds the client of DefaultClientConfig, which takes its
// proxy from the environment and so has no URL to reject.
func defaultClient() *http.Client {
	return newClient(DefaultClientConfig(), http.ProxyFromEnvironment)
}

func newClient(config *ClientConfig, proxy func(*http.Request) (*url.URL, error)) *http.Client {
	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 proxy,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: config.MinTLSVersion},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   config.ConnectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport:     transport,
		Timeout:       config.RequestTimeout,
		CheckRedirect: redirectPolicy(config.FollowRedirects, config.MaxRedirects),
	}
}

func redirectPolicy(follow bool, max int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if !follow {
			return http.ErrUseLastResponse
		}
		if len(via) >= max {
			return fmt.Errorf("stopped after %d redirects", max)
		}
		return nil
	}
}
