package tlsync

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/georgepadayatti/trustsync/fetch"
	"github.com/georgepadayatti/trustsync/trust"
	"github.com/georgepadayatti/trustsync/tsl/tsltest"
	"github.com/georgepadayatti/trustsync/xmlsig"
)

const (
	lotlURL = "https://lotl.example/eu-lotl.xml"
	ojURL   = "https://oj.example/announcement"
)

var certSerial atomic.Int64

func newCert(t *testing.T, cn string) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(certSerial.Add(1)),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert
}

// fakeVerifier accepts a document when the certificate registered as its
// signer is among the candidates.
type fakeVerifier struct {
	mu      sync.Mutex
	signers map[[32]byte]*x509.Certificate
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{signers: make(map[[32]byte]*x509.Certificate)}
}

func (v *fakeVerifier) sign(doc []byte, signer *x509.Certificate) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.signers[sha256.Sum256(doc)] = signer
	return doc
}

func (v *fakeVerifier) Verify(doc []byte, candidates []*x509.Certificate) (*xmlsig.Result, error) {
	v.mu.Lock()
	signer, ok := v.signers[sha256.Sum256(doc)]
	v.mu.Unlock()
	if !ok {
		return nil, &xmlsig.VerificationError{Engine: "fake", Message: "document is not signed"}
	}
	if len(candidates) == 0 {
		return nil, xmlsig.ErrNoCandidates
	}
	for _, c := range candidates {
		if c != nil && bytes.Equal(c.Raw, signer.Raw) {
			return &xmlsig.Result{SignedContent: doc, SigningCertificate: c}, nil
		}
	}
	return nil, &xmlsig.VerificationError{Engine: "fake", Message: "signer is not a candidate"}
}

// fakeFetcher serves documents from memory and records every request.
type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[string][]byte
	errs  map[string]error
	hang  map[string]bool
	calls []fetchCall
}

type fetchCall struct {
	URL  string
	Mode fetch.Mode
}

var errNotFound = errors.New("not found")

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		docs: make(map[string][]byte),
		errs: make(map[string]error),
		hang: make(map[string]bool),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, mode fetch.Mode) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{URL: url, Mode: mode})
	doc, hasDoc := f.docs[url]
	err := f.errs[url]
	hang := f.hang[url]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !hasDoc {
		return nil, errNotFound
	}
	return doc, nil
}

func (f *fakeFetcher) set(url string, doc []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[url] = doc
}

func (f *fakeFetcher) fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

func (f *fakeFetcher) block(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang[url] = true
}

func (f *fakeFetcher) callsTo(url string) []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fetchCall
	for _, c := range f.calls {
		if c.URL == url {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// env is a set of published, fake-signed documents.
type env struct {
	t        *testing.T
	fetcher  *fakeFetcher
	verifier *fakeVerifier
	anchor   *x509.Certificate
}

func newEnv(t *testing.T) *env {
	return &env{
		t:        t,
		fetcher:  newFakeFetcher(),
		verifier: newFakeVerifier(),
		anchor:   newCert(t, "Anchor"),
	}
}

func (e *env) publish(url string, list tsltest.List, signer *x509.Certificate) {
	e.fetcher.set(url, e.verifier.sign(list.Bytes(), signer))
}

func (e *env) publishTL(url, territory string, signer *x509.Certificate, certs ...*x509.Certificate) {
	e.publish(url, tsltest.List{
		ID:        "tl-" + territory,
		Territory: territory,
		Services: []tsltest.Service{{
			TSPName:      "TSP " + territory,
			Name:         "CA " + territory,
			Certificates: certs,
		}},
	}, signer)
}

// lotl returns a list of trusted lists declaring selfSigners for its next
// version and pointing at children.
func lotl(seq int, uris []string, selfSigners []*x509.Certificate, children ...tsltest.Pointer) tsltest.List {
	return tsltest.List{
		ID:                    "lotl",
		TSLType:               tsltest.TSLTypeLOTL,
		Territory:             "EU",
		Sequence:              seq,
		SchemeInformationURIs: uris,
		Pointers:              append([]tsltest.Pointer{tsltest.LOTLPointer(lotlURL, selfSigners...)}, children...),
	}
}

func (e *env) source(pivots bool) LOTLSource {
	return LOTLSource{
		URL:          lotlURL,
		Anchors:      trust.StaticSource{e.anchor},
		Announcement: OfficialJournal(ojURL),
		PivotSupport: pivots,
	}
}

func (e *env) synchronizer(opts ...Option) *Synchronizer {
	return New(e.fetcher, e.verifier, opts...)
}

func ids(certs ...*x509.Certificate) []string {
	src := trust.NewSource()
	for _, c := range certs {
		src.Add(trust.NewCertificateToken(c))
	}
	return src.IDs()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
