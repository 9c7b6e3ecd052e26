package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultClientConfig(t *testing.T) {
	config := DefaultClientConfig()

	if config.ConnectTimeout != 5*time.Second {
		t.Errorf("Expected connect timeout 5s, got %v", config.ConnectTimeout)
	}
	if config.RequestTimeout != 60*time.Second {
		t.Errorf("Expected request timeout 60s, got %v", config.RequestTimeout)
	}
	if !config.FollowRedirects {
		t.Error("Redirects should be followed by default")
	}
	if config.MinTLSVersion != tls.VersionTLS12 {
		t.Errorf("Expected MinTLSVersion TLS1.2, got %v", config.MinTLSVersion)
	}
}

func TestNewHTTPClient(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		client, err := NewHTTPClient(nil)
		if err != nil {
			t.Fatalf("NewHTTPClient(nil) error: %v", err)
		}
		if client.Timeout != DefaultRequestTimeout {
			t.Errorf("Expected timeout %v, got %v", DefaultRequestTimeout, client.Timeout)
		}
	})

	t.Run("InvalidProxy", func(t *testing.T) {
		config := DefaultClientConfig()
		config.ProxyURL = "://bad"
		if _, err := NewHTTPClient(config); err == nil {
			t.Error("Expected error for invalid proxy URL")
		}
	})
}

func TestNew_DefaultClient(t *testing.T) {
	f := New()
	if f.client == nil {
		t.Fatal("Fetcher without options has no client")
	}
	if f.client.Timeout != DefaultRequestTimeout {
		t.Errorf("Expected timeout %v, got %v", DefaultRequestTimeout, f.client.Timeout)
	}
	if f.client.CheckRedirect == nil {
		t.Error("Default client should carry the redirect policy")
	}
}

func TestNewHTTPClient_Redirects(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<xml>moved</xml>"))
	}))
	defer target.Close()

	redirector := httptest.NewServer(http.RedirectHandler(target.URL, http.StatusFound))
	defer redirector.Close()

	t.Run("Follow", func(t *testing.T) {
		client, _ := NewHTTPClient(DefaultClientConfig())
		content, err := New(WithClient(client)).Fetch(context.Background(), redirector.URL, AlwaysRefresh)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if string(content) != "<xml>moved</xml>" {
			t.Errorf("Unexpected content %q", content)
		}
	})

	t.Run("NoFollow", func(t *testing.T) {
		config := DefaultClientConfig()
		config.FollowRedirects = false
		client, _ := NewHTTPClient(config)

		_, err := New(WithClient(client)).Fetch(context.Background(), redirector.URL, AlwaysRefresh)
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusFound {
			t.Errorf("Expected HTTPError 302, got %v", err)
		}
	})

	t.Run("TooMany", func(t *testing.T) {
		config := DefaultClientConfig()
		config.MaxRedirects = 0
		client, _ := NewHTTPClient(config)

		if _, err := New(WithClient(client)).Fetch(context.Background(), redirector.URL, AlwaysRefresh); err == nil {
			t.Error("Expected error when redirect limit is exceeded")
		}
	})
}

func TestFetcher_Fetch_Success(t *testing.T) {
	var accept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept = strings.Join(r.Header.Values("Accept"), ",")
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<xml>test</xml>"))
	}))
	defer server.Close()

	content, err := New().Fetch(context.Background(), server.URL, AlwaysRefresh)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(content) != "<xml>test</xml>" {
		t.Errorf("Expected content = '<xml>test</xml>', got %q", content)
	}
	if !strings.Contains(accept, mimeTypeTSL) {
		t.Errorf("Expected Accept header to include %s, got %q", mimeTypeTSL, accept)
	}
}

func TestFetcher_Fetch_Modes(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("<xml>test</xml>"))
	}))
	defer server.Close()

	fetcher := New(WithCache(NewMemoryCache()))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := fetcher.Fetch(ctx, server.URL, CacheIfPresent); err != nil {
			t.Fatalf("CacheIfPresent fetch failed: %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("Expected 1 download for CacheIfPresent, got %d", got)
	}

	for i := 0; i < 2; i++ {
		if _, err := fetcher.Fetch(ctx, server.URL, AlwaysRefresh); err != nil {
			t.Fatalf("AlwaysRefresh fetch failed: %v", err)
		}
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("Expected 3 downloads in total, got %d", got)
	}
}

func TestFetcher_Fetch_FileCache(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("<xml>pivot</xml>"))
	}))
	defer server.Close()

	cache, err := NewFileCache(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatalf("NewFileCache failed: %v", err)
	}
	fetcher := New(WithCache(cache))

	if _, err := fetcher.Fetch(context.Background(), server.URL, AlwaysRefresh); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	content, err := fetcher.Fetch(context.Background(), server.URL, CacheIfPresent)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(content) != "<xml>pivot</xml>" {
		t.Errorf("Unexpected content %q", content)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("Expected stale cached copy to be used, got %d downloads", got)
	}
}

func TestFetcher_Fetch_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := New().Fetch(context.Background(), server.URL, AlwaysRefresh)
	if err == nil {
		t.Fatal("Expected error for 404 response")
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("Expected HTTPError, got %T", err)
	}
	if httpErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected StatusCode = 404, got %d", httpErr.StatusCode)
	}
	if httpErr.URL != server.URL {
		t.Errorf("Expected URL = %s, got %s", server.URL, httpErr.URL)
	}
}

func TestFetcher_Fetch_ErrorNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("<xml>ok</xml>"))
	}))
	defer server.Close()

	fetcher := New()
	if _, err := fetcher.Fetch(context.Background(), server.URL, CacheIfPresent); err == nil {
		t.Fatal("Expected error for 500 response")
	}

	fail.Store(false)
	content, err := fetcher.Fetch(context.Background(), server.URL, CacheIfPresent)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(content) != "<xml>ok</xml>" {
		t.Errorf("Unexpected content %q", content)
	}
}

func TestFetcher_Fetch_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Fetch(ctx, server.URL, AlwaysRefresh)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestFetcher_Fetch_RequestTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	config := DefaultClientConfig()
	config.RequestTimeout = 50 * time.Millisecond
	client, _ := NewHTTPClient(config)

	start := time.Now()
	if _, err := New(WithClient(client)).Fetch(context.Background(), server.URL, AlwaysRefresh); err == nil {
		t.Fatal("Expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Request took %v, expected it to time out quickly", elapsed)
	}
}

func TestFetcher_Fetch_BodyTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer server.Close()

	_, err := New(WithMaxBodySize(10)).Fetch(context.Background(), server.URL, AlwaysRefresh)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("Expected ErrBodyTooLarge, got %v", err)
	}
}

func TestFetcher_Fetch_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tl.xml")
	if err := os.WriteFile(path, []byte("<xml>local</xml>"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	content, err := New().Fetch(context.Background(), "file://"+filepath.ToSlash(path), AlwaysRefresh)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(content) != "<xml>local</xml>" {
		t.Errorf("Unexpected content %q", content)
	}

	if _, err := New().Fetch(context.Background(), "file:///nonexistent/tl.xml", AlwaysRefresh); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestFetcher_Fetch_UnsupportedScheme(t *testing.T) {
	if _, err := New().Fetch(context.Background(), "ftp://example.com/tl.xml", AlwaysRefresh); err == nil {
		t.Error("Expected error for unsupported scheme")
	}
}

func TestHTTPError(t *testing.T) {
	err := &HTTPError{URL: "https://example.com/tl.xml", StatusCode: 404}
	expected := "HTTP error 404 fetching https://example.com/tl.xml"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestMode_String(t *testing.T) {
	if AlwaysRefresh.String() != "always-refresh" || CacheIfPresent.String() != "cache-if-present" {
		t.Error("Unexpected mode names")
	}
}
