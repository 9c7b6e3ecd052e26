package tlsync

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/georgepadayatti/trustsync/fetch"
	"github.com/georgepadayatti/trustsync/tsl"
	"github.com/georgepadayatti/trustsync/xmlsig"
)

var errNotAnnounced = errors.New("list does not reference the signer announcement")

// Document is a fetched list that has not been verified yet.
type Document struct {
	URL  string
	Data []byte
}

// PivotLink is one verified version of a list of trusted lists.
type PivotLink struct {
	List *tsl.TrustedList

	// SignedBy is the certificate that verified this version.
	SignedBy *x509.Certificate

	// Declared are the signers this version declares for its successor.
	Declared []*x509.Certificate
}

// PivotChain is a fully verified sequence of LOTL versions, oldest first.
// The last link is the current list.
type PivotChain struct {
	Links []PivotLink
}

// Current returns the newest, current list.
func (c *PivotChain) Current() *tsl.TrustedList {
	if len(c.Links) == 0 {
		return nil
	}
	return c.Links[len(c.Links)-1].List
}

// PivotURLs returns the locations of the historical versions, oldest first.
func (c *PivotChain) PivotURLs() []string {
	if len(c.Links) < 2 {
		return nil
	}
	urls := make([]string, 0, len(c.Links)-1)
	for _, link := range c.Links[:len(c.Links)-1] {
		urls = append(urls, link.List.Location)
	}
	return urls
}

// PivotResolver establishes trust in the current list of trusted lists by
// walking its historical versions from the anchors forward.
type PivotResolver struct {
	Fetcher      Fetcher
	Verifier     xmlsig.Verifier
	Announcement func(uri string) bool
	MaxPivots    int
	Logger       *zap.Logger
}

// Resolve fetches the pivots referenced by current and verifies the chain.
// Pivots are immutable and fetched from the cache when present.
func (r *PivotResolver) Resolve(ctx context.Context, current Document, anchors []*x509.Certificate) (*PivotChain, error) {
	unverified, err := tsl.Parse(current.URL, current.Data)
	if err != nil {
		return nil, &ParseError{URL: current.URL, Stage: StageLOTL, Err: err}
	}

	urls := unverified.PivotURLs()
	if err := r.checkPivotURLs(current.URL, urls); err != nil {
		return nil, err
	}

	pivots := make([]Document, 0, len(urls))
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := r.Fetcher.Fetch(ctx, url, fetch.CacheIfPresent)
		if err != nil {
			return nil, &PivotChainError{
				URL:    url,
				Stage:  StagePivot,
				Reason: "pivot unavailable",
				Err:    &FetchError{URL: url, Stage: StagePivot, Err: err},
			}
		}
		r.logger().Debug("fetched pivot", zap.String("url", url))
		pivots = append(pivots, Document{URL: url, Data: data})
	}

	return r.ResolveChain(current, pivots, anchors)
}

// ResolveChain verifies current and its pivots, given newest first as the
// current list references them. The oldest version is verified with the
// anchors and must satisfy the announcement predicate; every later version
// is verified with the signers its predecessor declares. Without pivots the
// current list is verified with the anchors directly. ResolveChain performs
// no I/O.
func (r *PivotResolver) ResolveChain(current Document, pivots []Document, anchors []*x509.Certificate) (*PivotChain, error) {
	urls := make([]string, len(pivots))
	for i, p := range pivots {
		urls[i] = p.URL
	}
	if err := r.checkPivotURLs(current.URL, urls); err != nil {
		return nil, err
	}

	versions := make([]Document, 0, len(pivots)+1)
	for i := len(pivots) - 1; i >= 0; i-- {
		versions = append(versions, pivots[i])
	}
	versions = append(versions, current)

	// breakAt wraps a link failure; without pivots there is no chain to break.
	breakAt := func(doc Document, stage Stage, reason string, err error) error {
		if len(pivots) == 0 {
			return err
		}
		return &PivotChainError{URL: doc.URL, Stage: stage, Reason: reason, Err: err}
	}

	chain := &PivotChain{Links: make([]PivotLink, 0, len(versions))}
	signers := anchors
	for i, doc := range versions {
		stage := StagePivot
		if i == len(versions)-1 {
			stage = StageLOTL
		}

		list, signedBy, err := verifyAndParse(r.Verifier, doc, stage, signers)
		if err != nil {
			return nil, breakAt(doc, stage, fmt.Sprintf("version %d of %d not verifiable", i+1, len(versions)), err)
		}

		if i == 0 && r.Announcement != nil && !list.HasSchemeInformationURI(r.Announcement) {
			err := &SignatureError{URL: doc.URL, Stage: stage, Err: errNotAnnounced}
			return nil, breakAt(doc, stage, "oldest version is not announced", err)
		}

		link := PivotLink{List: list, SignedBy: signedBy}
		if ptr, ok := list.LOTLPointer(); ok {
			link.Declared = ptr.Certificates
		}
		if stage == StagePivot && len(link.Declared) == 0 {
			return nil, &PivotChainError{URL: doc.URL, Stage: stage, Reason: "no signers declared for the next version"}
		}

		r.logger().Debug("verified list version",
			zap.String("url", doc.URL),
			zap.Int("sequence", list.SequenceNumber),
			zap.String("signer", subject(signedBy)))

		chain.Links = append(chain.Links, link)
		signers = link.Declared
	}

	return chain, nil
}

func (r *PivotResolver) checkPivotURLs(self string, urls []string) error {
	limit := r.MaxPivots
	if limit <= 0 {
		limit = DefaultMaxPivots
	}
	if len(urls) > limit {
		return &PivotChainError{
			URL:    self,
			Stage:  StageLOTL,
			Reason: fmt.Sprintf("%d pivots exceed the maximum of %d", len(urls), limit),
		}
	}

	seen := map[string]bool{self: true}
	for _, url := range urls {
		if seen[url] {
			return &PivotChainError{
				URL:    url,
				Stage:  StagePivot,
				Reason: "version referenced more than once",
			}
		}
		seen[url] = true
	}
	return nil
}

func subject(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	return cert.Subject.String()
}

func (r *PivotResolver) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// verifyAndParse parses doc, verifies its signature against candidates and
// returns the list built from the signed content.
func verifyAndParse(v xmlsig.Verifier, doc Document, stage Stage, candidates []*x509.Certificate) (*tsl.TrustedList, *x509.Certificate, error) {
	list, err := tsl.Parse(doc.URL, doc.Data)
	if err != nil {
		return nil, nil, &ParseError{URL: doc.URL, Stage: stage, Err: err}
	}

	result, err := v.Verify(doc.Data, candidates)
	if err != nil {
		return nil, nil, &SignatureError{URL: doc.URL, Stage: stage, Err: err}
	}

	if len(result.SignedContent) > 0 {
		list, err = tsl.Parse(doc.URL, result.SignedContent)
		if err != nil {
			return nil, nil, &ParseError{URL: doc.URL, Stage: stage, Err: err}
		}
	}
	return list, result.SigningCertificate, nil
}
