// Package xmlsigtest signs XML documents with enveloped signatures for tests.
package xmlsigtest

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"testing"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// Sign adds an enveloped RSA-SHA256 signature over the root element of doc,
// referenced through its Id attribute. The signer certificate is embedded in
// KeyInfo.
func Sign(doc []byte, cert *x509.Certificate, key *rsa.PrivateKey) ([]byte, error) {
	parsed := etree.NewDocument()
	if err := parsed.ReadFromBytes(doc); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	if parsed.Root() == nil {
		return nil, fmt.Errorf("document has no root element")
	}

	ctx := dsig.NewDefaultSigningContext(dsig.TLSCertKeyStore(tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
	}))
	ctx.IdAttribute = "Id"
	ctx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")

	signed, err := ctx.SignEnveloped(parsed.Root())
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	out := etree.NewDocument()
	out.SetRoot(signed)
	return out.WriteToBytes()
}

// MustSign is like Sign but fails the test on error.
func MustSign(t testing.TB, doc []byte, cert *x509.Certificate, key *rsa.PrivateKey) []byte {
	t.Helper()
	signed, err := Sign(doc, cert, key)
	if err != nil {
		t.Fatalf("Failed to sign document: %v", err)
	}
	return signed
}
