// Package tlsync synchronises trusted lists: it establishes trust in the list
// of trusted lists, fetches and verifies the member state lists it points to
// and collects their certificates.
package tlsync

import (
	"context"
	"crypto/x509"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/georgepadayatti/trustsync/fetch"
	"github.com/georgepadayatti/trustsync/trust"
	"github.com/georgepadayatti/trustsync/xmlsig"
)

const (
	// DefaultWorkers is the number of trusted lists synchronised in parallel.
	DefaultWorkers = 8

	// DefaultChildTimeout bounds fetching and verifying one trusted list. It
	// exceeds fetch.DefaultRequestTimeout so verification has time left after
	// a slow download.
	DefaultChildTimeout = 90 * time.Second
)

// Fetcher retrieves documents by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string, mode fetch.Mode) ([]byte, error)
}

// Synchronizer fetches and verifies trusted lists.
type Synchronizer struct {
	fetcher      Fetcher
	verifier     xmlsig.Verifier
	logger       *zap.Logger
	metrics      *Metrics
	clock        clockwork.Clock
	workers      int
	childTimeout time.Duration
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

// WithMetrics records every run in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Synchronizer) {
		s.metrics = m
	}
}

// WithClock sets the clock used for report times and expiry checks.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Synchronizer) {
		s.clock = clock
	}
}

// WithWorkers sets the number of trusted lists synchronised in parallel.
func WithWorkers(n int) Option {
	return func(s *Synchronizer) {
		s.workers = n
	}
}

// WithChildTimeout bounds the synchronisation of each trusted list.
func WithChildTimeout(d time.Duration) Option {
	return func(s *Synchronizer) {
		s.childTimeout = d
	}
}

// New creates a synchronizer.
func New(fetcher Fetcher, verifier xmlsig.Verifier, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		fetcher:      fetcher,
		verifier:     verifier,
		workers:      DefaultWorkers,
		childTimeout: DefaultChildTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.workers <= 0 {
		s.workers = DefaultWorkers
	}
	if s.childTimeout <= 0 {
		s.childTimeout = DefaultChildTimeout
	}

	return s
}

// SyncLOTL establishes trust in the list of trusted lists described by src
// and synchronises every XML trusted list it points to. Failures of the root
// list are returned as errors; failures of individual trusted lists are only
// recorded in the report. The report is returned in both cases.
func (s *Synchronizer) SyncLOTL(ctx context.Context, src LOTLSource) (*trust.Source, *Report, error) {
	report := &Report{Started: s.clock.Now()}
	defer s.finish(report)

	root := &ListResult{URL: src.URL, Stage: StageLOTL, Status: StatusOK}
	report.LOTL = root

	fail := func(err error) (*trust.Source, *Report, error) {
		root.fail(err)
		s.logger.Error("list of trusted lists rejected", zap.String("url", src.URL), zap.Error(err))
		return nil, report, err
	}

	s.logger.Info("fetching list of trusted lists", zap.String("url", src.URL))
	data, err := s.fetcher.Fetch(ctx, src.URL, fetch.AlwaysRefresh)
	if err != nil {
		return fail(&FetchError{URL: src.URL, Stage: StageLOTL, Err: err})
	}

	resolver := &PivotResolver{
		Fetcher:      s.fetcher,
		Verifier:     s.verifier,
		Announcement: src.Announcement,
		MaxPivots:    src.maxPivots(),
		Logger:       s.logger,
	}
	current := Document{URL: src.URL, Data: data}
	anchors := anchorCertificates(src.Anchors)

	var chain *PivotChain
	if src.PivotSupport {
		chain, err = resolver.Resolve(ctx, current, anchors)
	} else {
		chain, err = resolver.ResolveChain(current, nil, anchors)
	}
	if err != nil {
		return fail(err)
	}

	lotl := chain.Current()
	report.Pivots = chain.PivotURLs()
	root.Territory = lotl.Territory
	root.SequenceNumber = lotl.SequenceNumber
	root.Warnings = append(root.Warnings, lotl.Warnings...)
	if lotl.Expired(s.clock.Now()) {
		root.Expired = true
		root.Warnings = append(root.Warnings, expiredWarning(lotl.NextUpdate))
		s.logger.Warn("list of trusted lists is past its next update", zap.String("url", src.URL), zap.Time("nextUpdate", lotl.NextUpdate))
	}
	s.logger.Info("list of trusted lists verified",
		zap.String("url", src.URL),
		zap.Int("sequence", lotl.SequenceNumber),
		zap.Int("pivots", len(report.Pivots)))

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	pointers := lotl.TrustedListPointers()
	jobs := make([]childJob, 0, len(pointers))
	for _, p := range pointers {
		jobs = append(jobs, childJob{URL: p.Location, Territory: p.Territory, Signers: p.Certificates})
	}

	source := trust.NewSource()
	report.Lists = s.syncChildren(ctx, jobs, source)
	report.Certificates = source.Len()
	return source, report, nil
}

// SyncLists synchronises the trusted lists at urls, verifying each against
// signers. No list of trusted lists is fetched.
func (s *Synchronizer) SyncLists(ctx context.Context, urls []string, signers trust.CertificateSource) (*trust.Source, *Report, error) {
	report := &Report{Started: s.clock.Now()}
	defer s.finish(report)

	if err := ctx.Err(); err != nil {
		return nil, report, err
	}

	candidates := anchorCertificates(signers)
	jobs := make([]childJob, 0, len(urls))
	for _, url := range urls {
		jobs = append(jobs, childJob{URL: url, Signers: candidates})
	}

	source := trust.NewSource()
	report.Lists = s.syncChildren(ctx, jobs, source)
	report.Certificates = source.Len()

	if err := ctx.Err(); err != nil {
		return nil, report, err
	}
	return source, report, nil
}

type childJob struct {
	URL       string
	Territory string
	Signers   []*x509.Certificate
}

type childOutcome struct {
	result ListResult
	tokens []trust.CertificateToken
}

// syncChildren synchronises jobs on a bounded pool. Only the collecting
// goroutine adds to dst.
func (s *Synchronizer) syncChildren(ctx context.Context, jobs []childJob, dst *trust.Source) []ListResult {
	outcomes := make(chan childOutcome)
	results := make([]ListResult, 0, len(jobs))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for o := range outcomes {
			if o.result.Status == StatusOK {
				added := dst.AddAll(o.tokens)
				s.logger.Debug("collected certificates", zap.String("url", o.result.URL), zap.Int("new", added))
			}
			results = append(results, o.result)
		}
	}()

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, job := range jobs {
		g.Go(func() error {
			outcomes <- s.syncChild(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	close(outcomes)
	<-done

	sort.Slice(results, func(i, j int) bool {
		return results[i].URL < results[j].URL
	})
	return results
}

func (s *Synchronizer) syncChild(ctx context.Context, job childJob) childOutcome {
	ctx, cancel := context.WithTimeout(ctx, s.childTimeout)
	defer cancel()

	result := ListResult{URL: job.URL, Stage: StageTrustedList, Territory: job.Territory, Status: StatusOK}
	fail := func(err error) childOutcome {
		result.fail(err)
		s.logger.Warn("trusted list skipped",
			zap.String("url", job.URL),
			zap.String("territory", job.Territory),
			zap.String("kind", result.ErrorKind),
			zap.Error(err))
		return childOutcome{result: result}
	}

	data, err := s.fetcher.Fetch(ctx, job.URL, fetch.AlwaysRefresh)
	if err != nil {
		return fail(&FetchError{URL: job.URL, Stage: StageTrustedList, Err: err})
	}

	list, _, err := verifyAndParse(s.verifier, Document{URL: job.URL, Data: data}, StageTrustedList, job.Signers)
	if err != nil {
		return fail(err)
	}

	if list.Territory != "" {
		result.Territory = list.Territory
	}
	result.SequenceNumber = list.SequenceNumber
	result.Warnings = append(result.Warnings, list.Warnings...)
	for _, w := range list.Warnings {
		s.logger.Debug("certificate skipped", zap.String("url", job.URL), zap.String("reason", w))
	}
	if list.Expired(s.clock.Now()) {
		result.Expired = true
		result.Warnings = append(result.Warnings, expiredWarning(list.NextUpdate))
		s.logger.Warn("trusted list is past its next update", zap.String("url", job.URL), zap.Time("nextUpdate", list.NextUpdate))
	}

	seen := make(map[string]bool)
	tokens := make([]trust.CertificateToken, 0, len(list.Entries))
	for _, cert := range list.Certificates() {
		token := trust.NewCertificateToken(cert)
		if seen[token.ID] {
			continue
		}
		seen[token.ID] = true
		tokens = append(tokens, token)
	}
	result.Certificates = len(tokens)

	s.logger.Info("trusted list synchronised",
		zap.String("url", job.URL),
		zap.String("territory", result.Territory),
		zap.Int("certificates", result.Certificates))
	return childOutcome{result: result, tokens: tokens}
}

func (s *Synchronizer) finish(report *Report) {
	report.Finished = s.clock.Now()
	if s.metrics != nil {
		s.metrics.Observe(report)
	}
}

func expiredWarning(nextUpdate time.Time) string {
	return fmt.Sprintf("next update %s has passed", nextUpdate.UTC().Format(time.RFC3339))
}
