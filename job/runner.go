// Package job runs one trust store creation pass: it synchronises the
// configured trusted lists and writes the collected certificates to a
// keystore.
package job

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/georgepadayatti/trustsync/anchors"
	"github.com/georgepadayatti/trustsync/config"
	"github.com/georgepadayatti/trustsync/fetch"
	"github.com/georgepadayatti/trustsync/tlsync"
	"github.com/georgepadayatti/trustsync/trust"
	"github.com/georgepadayatti/trustsync/truststore"
	"github.com/georgepadayatti/trustsync/xmlsig"
)

// ErrNoCertificates is returned, wrapped in a truststore.StoreWriteError,
// when the run collected no certificate. No keystore is written.
var ErrNoCertificates = truststore.ErrNoCertificates

// Options configures a run.
type Options struct {
	// Config is the run configuration. Nil selects config.Default().
	Config *config.Config

	// Anchors overrides the anchors selected by the configuration.
	Anchors trust.CertificateSource

	// HTTPClient overrides the client built from the configuration.
	HTTPClient *http.Client

	Logger *zap.Logger
	Clock  clockwork.Clock
}

// Result describes a finished run.
type Result struct {
	Report *tlsync.Report
	Path   string
	Format truststore.Format

	// Certificates is the number of keystore entries written.
	Certificates int
}

// Run synchronises the configured lists once and writes the keystore. The
// download cache lives in a temporary directory that is removed when Run
// returns.
func Run(ctx context.Context, opts Options) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	cacheDir, err := os.MkdirTemp("", "trustsync-cache-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	cache, err := fetch.NewFileCache(cacheDir, 0, clock)
	if err != nil {
		os.RemoveAll(cacheDir)
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	defer func() {
		if err := cache.Remove(); err != nil {
			logger.Warn("failed to remove cache directory", zap.String("dir", cacheDir), zap.Error(err))
			return
		}
		logger.Debug("removed cache directory", zap.String("dir", cacheDir))
	}()

	client := opts.HTTPClient
	if client == nil {
		client, err = fetch.NewHTTPClient(cfg.ClientConfig())
		if err != nil {
			return nil, err
		}
	}
	fetcher := fetch.New(
		fetch.WithClient(client),
		fetch.WithCache(cache),
		fetch.WithLogger(logger),
		fetch.WithMaxBodySize(cfg.Fetch.MaxBodySize),
	)

	verifier, err := xmlsig.New(cfg.XMLDSigEngine)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	syncer := tlsync.New(fetcher, verifier,
		tlsync.WithLogger(logger),
		tlsync.WithMetrics(tlsync.NewMetrics(registry)),
		tlsync.WithClock(clock),
		tlsync.WithWorkers(cfg.Fetch.Workers),
		tlsync.WithChildTimeout(cfg.Fetch.ChildTimeout),
	)

	source, report, syncErr := synchronise(ctx, syncer, cfg, opts.Anchors)
	result := &Result{Report: report, Path: cfg.KeyStore.Path, Format: cfg.Format()}

	outputErr := writeOutputs(cfg, report, registry, logger)
	if syncErr != nil {
		return result, syncErr
	}

	logger.Info(report.Summary())
	writer := truststore.New(truststore.WithClock(clock), truststore.WithLogger(logger))
	if err := writer.Write(source, cfg.KeyStore.Path, result.Format, cfg.KeyStore.Password); err != nil {
		return result, err
	}
	result.Certificates = source.Len()

	return result, outputErr
}

func synchronise(ctx context.Context, syncer *tlsync.Synchronizer, cfg *config.Config, override trust.CertificateSource) (*trust.Source, *tlsync.Report, error) {
	if len(cfg.TrustLists) > 0 {
		signers, err := cfg.LoadTrustListSigners()
		if err != nil {
			return nil, nil, err
		}
		return syncer.SyncLists(ctx, cfg.TrustLists, signers)
	}

	anchorSource, err := loadAnchors(cfg, override)
	if err != nil {
		return nil, nil, err
	}

	src := tlsync.LOTLSource{
		URL:          cfg.LOTL.URL,
		Anchors:      anchorSource,
		PivotSupport: cfg.LOTL.PivotSupport,
		MaxPivots:    cfg.LOTL.MaxPivots,
	}
	if cfg.LOTL.AnnouncementURL != "" {
		src.Announcement = tlsync.OfficialJournal(cfg.LOTL.AnnouncementURL)
	}
	return syncer.SyncLOTL(ctx, src)
}

func loadAnchors(cfg *config.Config, override trust.CertificateSource) (trust.CertificateSource, error) {
	if override != nil {
		return override, nil
	}
	if cfg.Anchors.File != "" {
		return anchors.LoadFile(cfg.Anchors.File, cfg.Anchors.Password)
	}
	return anchors.Source()
}

// writeOutputs writes the optional report and metrics files.
func writeOutputs(cfg *config.Config, report *tlsync.Report, registry *prometheus.Registry, logger *zap.Logger) error {
	if report == nil {
		return nil
	}

	var errs []error
	if cfg.Report != "" {
		if err := report.WriteFile(cfg.Report); err != nil {
			logger.Error("failed to write report", zap.String("path", cfg.Report), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if cfg.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(cfg.MetricsFile, registry); err != nil {
			logger.Error("failed to write metrics", zap.String("path", cfg.MetricsFile), zap.Error(err))
			errs = append(errs, fmt.Errorf("failed to write metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}
