package xmlsig

import (
	"crypto/x509"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/jonboulle/clockwork"
	dsig "github.com/russellhaering/goxmldsig"
)

// IDAttribute names the attribute that enveloped signature references point to.
const IDAttribute = "Id"

// DSigVerifier verifies signatures with github.com/russellhaering/goxmldsig.
//
// Signer certificates are checked at an instant inside their own validity
// period; lists signed by a since-expired signer still verify.
type DSigVerifier struct{}

// Verify tries each candidate, newest first.
func (v *DSigVerifier) Verify(doc []byte, candidates []*x509.Certificate) (*Result, error) {
	sorted := sortCandidates(candidates)
	if len(sorted) == 0 {
		return nil, ErrNoCandidates
	}

	parsed := etree.NewDocument()
	if err := parsed.ReadFromBytes(doc); err != nil {
		return nil, &VerificationError{Engine: EngineGoXMLDSig, Message: fmt.Sprintf("failed to parse XML: %v", err)}
	}
	root := parsed.Root()
	if root == nil {
		return nil, &VerificationError{Engine: EngineGoXMLDSig, Message: "document has no root element"}
	}

	var lastErr error
	for _, cert := range sorted {
		ctx := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
			Roots: []*x509.Certificate{cert},
		})
		ctx.IdAttribute = IDAttribute
		ctx.Clock = dsig.NewFakeClock(clockwork.NewFakeClockAt(validityInstant(cert)))

		validated, err := ctx.Validate(root.Copy())
		if err != nil {
			lastErr = err
			continue
		}

		out := etree.NewDocument()
		out.SetRoot(validated)
		content, err := out.WriteToBytes()
		if err != nil {
			return nil, fmt.Errorf("failed to serialise signed content: %w", err)
		}
		return &Result{SignedContent: content, SigningCertificate: cert}, nil
	}

	return nil, &VerificationError{
		Engine:  EngineGoXMLDSig,
		Message: fmt.Sprintf("none of the %d candidate certificates could validate the signature: %v", len(sorted), lastErr),
	}
}

func validityInstant(cert *x509.Certificate) time.Time {
	return cert.NotBefore.Add(cert.NotAfter.Sub(cert.NotBefore) / 2)
}
