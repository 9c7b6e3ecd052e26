package job

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/georgepadayatti/trustsync/config"
	"github.com/georgepadayatti/trustsync/keys"
	"github.com/georgepadayatti/trustsync/tlsync"
	"github.com/georgepadayatti/trustsync/trust"
	"github.com/georgepadayatti/trustsync/truststore"
	"github.com/georgepadayatti/trustsync/tsl/tsltest"
	"github.com/georgepadayatti/trustsync/xmlsig"
	"github.com/georgepadayatti/trustsync/xmlsig/xmlsigtest"
)

const ojURL = "https://oj.example/announcement"

// publisher serves signed trusted lists and counts requests per path.
type publisher struct {
	t       *testing.T
	srv     *httptest.Server
	mu      sync.Mutex
	docs    map[string][]byte
	hang    map[string]bool
	hits    map[string]int
	release chan struct{}
}

func newPublisher(t *testing.T) *publisher {
	p := &publisher{
		t:       t,
		docs:    make(map[string][]byte),
		hang:    make(map[string]bool),
		hits:    make(map[string]int),
		release: make(chan struct{}),
	}
	p.srv = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.srv.Close)
	t.Cleanup(func() { close(p.release) })
	return p
}

func (p *publisher) serve(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.hits[r.URL.Path]++
	doc, ok := p.docs[r.URL.Path]
	hang := p.hang[r.URL.Path]
	p.mu.Unlock()

	if hang {
		select {
		case <-r.Context().Done():
		case <-p.release:
		}
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.etsi.tsl+xml")
	w.Write(doc)
}

func (p *publisher) url(path string) string {
	return p.srv.URL + path
}

func (p *publisher) publish(path string, list tsltest.List, cert *x509.Certificate, key *rsa.PrivateKey) {
	signed := xmlsigtest.MustSign(p.t, list.Bytes(), cert, key)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docs[path] = signed
}

func (p *publisher) block(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hang[path] = true
}

func (p *publisher) hitsTo(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[path]
}

// fixture is a LOTL signed by anchor pointing at a German list with two
// certificates and an unresponsive French list.
type fixture struct {
	pub      *publisher
	anchor   *x509.Certificate
	deSigner *x509.Certificate
	deCerts  []*x509.Certificate
	cfg      *config.Config
	dir      string
}

func newFixture(t *testing.T) *fixture {
	anchor, anchorKey := tsltest.NewCertificate(t, "Anchor")
	deSigner, deKey := tsltest.NewCertificate(t, "DE Signer")
	frSigner, _ := tsltest.NewCertificate(t, "FR Signer")
	ca1, _ := tsltest.NewCertificate(t, "DE CA 1")
	ca2, _ := tsltest.NewCertificate(t, "DE CA 2")

	f := &fixture{
		pub:      newPublisher(t),
		anchor:   anchor,
		deSigner: deSigner,
		deCerts:  []*x509.Certificate{ca1, ca2},
		dir:      t.TempDir(),
	}

	f.pub.publish("/lotl.xml", tsltest.List{
		ID:                    "lotl",
		TSLType:               tsltest.TSLTypeLOTL,
		Territory:             "EU",
		SchemeInformationURIs: []string{ojURL, f.pub.url("/lotl.xml")},
		Pointers: []tsltest.Pointer{
			tsltest.TLPointer(f.pub.url("/de.xml"), "DE", deSigner),
			tsltest.TLPointer(f.pub.url("/fr.xml"), "FR", frSigner),
		},
	}, anchor, anchorKey)
	f.pub.publish("/de.xml", tsltest.List{
		ID:        "tl-de",
		Territory: "DE",
		Services: []tsltest.Service{{
			TSPName:      "TSP DE",
			Name:         "CA DE",
			Certificates: f.deCerts,
		}},
	}, deSigner, deKey)
	f.pub.block("/fr.xml")

	cfg := config.Default()
	cfg.LOTL.URL = f.pub.url("/lotl.xml")
	cfg.LOTL.AnnouncementURL = ojURL
	cfg.KeyStore.Path = filepath.Join(f.dir, "truststore.p12")
	cfg.KeyStore.Password = "changeit"
	cfg.XMLDSigEngine = xmlsig.EngineGoXMLDSig
	cfg.Fetch.ChildTimeout = 500 * time.Millisecond
	f.cfg = cfg
	return f
}

func (f *fixture) run(t *testing.T) (*Result, error) {
	return Run(context.Background(), Options{
		Config:  f.cfg,
		Anchors: trust.StaticSource{f.anchor},
		Logger:  zaptest.NewLogger(t),
	})
}

func TestRun_LOTL(t *testing.T) {
	f := newFixture(t)
	f.cfg.Report = filepath.Join(f.dir, "report.json")
	f.cfg.MetricsFile = filepath.Join(f.dir, "trustsync.prom")

	result, err := f.run(t)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Certificates != 2 {
		t.Errorf("Certificates = %d, want 2", result.Certificates)
	}
	if len(result.Report.Lists) != 2 || result.Report.Failed() != 1 {
		t.Errorf("Expected 1 of 2 lists failed, got %s", result.Report.Summary())
	}

	data, err := os.ReadFile(f.cfg.KeyStore.Path)
	if err != nil {
		t.Fatalf("Keystore not written: %v", err)
	}
	certs, err := pkcs12.DecodeTrustStore(data, "changeit")
	if err != nil {
		t.Fatalf("Failed to decode keystore: %v", err)
	}
	if len(certs) != 2 {
		t.Errorf("Keystore holds %d certificates, want 2", len(certs))
	}

	if _, err := os.Stat(f.cfg.Report); err != nil {
		t.Errorf("Report not written: %v", err)
	}
	metrics, err := os.ReadFile(f.cfg.MetricsFile)
	if err != nil {
		t.Fatalf("Metrics not written: %v", err)
	}
	if !strings.Contains(string(metrics), "trustsync_certificates_collected 2") {
		t.Errorf("Unexpected metrics:\n%s", metrics)
	}
}

func TestRun_FormatsAndIdempotence(t *testing.T) {
	f := newFixture(t)
	f.pub.mu.Lock()
	delete(f.pub.hang, "/fr.xml")
	f.pub.mu.Unlock()

	f.cfg.KeyStore.Type = string(truststore.FormatPEM)
	f.cfg.KeyStore.Path = filepath.Join(f.dir, "truststore.pem")

	if _, err := f.run(t); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	first, err := os.ReadFile(f.cfg.KeyStore.Path)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.run(t); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	second, err := os.ReadFile(f.cfg.KeyStore.Path)
	if err != nil {
		t.Fatal(err)
	}

	if string(first) != string(second) {
		t.Error("Two runs over the same lists should write the same PEM bundle")
	}
}

func TestRun_ExplicitLists(t *testing.T) {
	f := newFixture(t)

	signerFile := filepath.Join(f.dir, "de-signer.pem")
	if err := os.WriteFile(signerFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: f.deSigner.Raw}), 0644); err != nil {
		t.Fatal(err)
	}
	f.cfg.TrustLists = []string{f.pub.url("/de.xml")}
	f.cfg.TrustListSigners = []string{signerFile}

	result, err := f.run(t)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Certificates != 2 {
		t.Errorf("Certificates = %d, want 2", result.Certificates)
	}
	if result.Report.LOTL != nil {
		t.Error("No LOTL result expected for explicit lists")
	}
	if f.pub.hitsTo("/lotl.xml") != 0 {
		t.Error("The LOTL must not be fetched for explicit lists")
	}
}

func TestRun_RootFailure(t *testing.T) {
	f := newFixture(t)
	f.cfg.LOTL.URL = f.pub.url("/missing.xml")

	result, err := f.run(t)
	if !errors.Is(err, tlsync.ErrFetch) {
		t.Fatalf("Expected ErrFetch, got %v", err)
	}
	if result == nil || result.Report == nil || result.Report.LOTL.Status != tlsync.StatusFailed {
		t.Error("The report should record the failed root list")
	}
	if _, err := os.Stat(f.cfg.KeyStore.Path); !os.IsNotExist(err) {
		t.Error("No keystore should be written when the root list fails")
	}
	if f.pub.hitsTo("/de.xml") != 0 {
		t.Error("No trusted list should be fetched when the root list fails")
	}
}

func TestRun_UntrustedLOTL(t *testing.T) {
	f := newFixture(t)
	other, _ := tsltest.NewCertificate(t, "Other Anchor")

	_, err := Run(context.Background(), Options{
		Config:  f.cfg,
		Anchors: trust.StaticSource{other},
		Logger:  zaptest.NewLogger(t),
	})
	if !errors.Is(err, tlsync.ErrSignature) {
		t.Fatalf("Expected ErrSignature, got %v", err)
	}
	if _, err := os.Stat(f.cfg.KeyStore.Path); !os.IsNotExist(err) {
		t.Error("No keystore should be written for an untrusted LOTL")
	}
}

func TestRun_EmbeddedAnchors(t *testing.T) {
	f := newFixture(t)

	result, err := Run(context.Background(), Options{Config: f.cfg, Logger: zaptest.NewLogger(t)})
	if errors.Is(err, keys.ErrKeyStoreDecode) || errors.Is(err, keys.ErrNoCertFound) {
		t.Fatalf("Embedded anchors failed to load: %v", err)
	}
	if f.pub.hitsTo("/lotl.xml") != 1 {
		t.Fatalf("The LOTL should be fetched once after loading the anchors, got %d requests", f.pub.hitsTo("/lotl.xml"))
	}
	// The fixture LOTL is not signed by an embedded anchor.
	if !errors.Is(err, tlsync.ErrSignature) {
		t.Errorf("Expected ErrSignature, got %v", err)
	}
	if result == nil || result.Report == nil || result.Report.LOTL.Status != tlsync.StatusFailed {
		t.Error("The report should record the rejected root list")
	}
}

func TestRun_AnchorsFile(t *testing.T) {
	f := newFixture(t)
	data, err := pkcs12.LegacyDES.EncodeTrustStore([]*x509.Certificate{f.anchor}, "anchors-pw")
	if err != nil {
		t.Fatalf("EncodeTrustStore failed: %v", err)
	}
	f.cfg.Anchors.File = filepath.Join(f.dir, "anchors.p12")
	f.cfg.Anchors.Password = "anchors-pw"
	if err := os.WriteFile(f.cfg.Anchors.File, data, 0644); err != nil {
		t.Fatal(err)
	}

	result, err := Run(context.Background(), Options{Config: f.cfg, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Certificates != 2 {
		t.Errorf("Certificates = %d, want 2", result.Certificates)
	}
}

func TestRun_NoCertificates(t *testing.T) {
	f := newFixture(t)
	anchor, key := tsltest.NewCertificate(t, "Empty Anchor")
	f.anchor = anchor
	f.pub.publish("/empty.xml", tsltest.List{
		ID:                    "lotl",
		TSLType:               tsltest.TSLTypeLOTL,
		Territory:             "EU",
		SchemeInformationURIs: []string{ojURL},
	}, anchor, key)
	f.cfg.LOTL.URL = f.pub.url("/empty.xml")

	_, err := f.run(t)
	if !errors.Is(err, ErrNoCertificates) || !errors.Is(err, truststore.ErrStoreWrite) {
		t.Fatalf("Expected ErrNoCertificates as a store write error, got %v", err)
	}
	if _, err := os.Stat(f.cfg.KeyStore.Path); !os.IsNotExist(err) {
		t.Error("No keystore should be written without certificates")
	}
}

func TestRun_RemovesCache(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	f := newFixture(t)
	f.cfg.LOTL.URL = f.pub.url("/missing.xml")
	if _, err := f.run(t); err == nil {
		t.Fatal("Expected error")
	}

	f = newFixture(t)
	if _, err := f.run(t); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "trustsync-cache-") {
			t.Errorf("Cache directory %s left behind", e.Name())
		}
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.KeyStore.Type = "BKS"
	cfg.KeyStore.Password = "changeit"

	_, err := Run(context.Background(), Options{Config: cfg})
	if !errors.Is(err, config.ErrConfigurationError) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, Options{Config: f.cfg, Anchors: trust.StaticSource{f.anchor}})
	if err == nil {
		t.Fatal("Expected error for cancelled context")
	}
	if _, statErr := os.Stat(f.cfg.KeyStore.Path); !os.IsNotExist(statErr) {
		t.Error("No keystore should be written when cancelled")
	}
}
