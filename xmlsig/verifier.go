// Package xmlsig verifies enveloped XML signatures on trusted lists against
// a set of candidate signer certificates.
package xmlsig

import (
	"crypto/x509"
	"errors"
	"fmt"
	"sort"
)

// Engine names accepted by New.
const (
	EngineSignedXML = "signedxml"
	EngineGoXMLDSig = "goxmldsig"
)

// ErrNoCandidates is returned when no candidate certificates are supplied.
var ErrNoCandidates = errors.New("no candidate certificates provided")

// Result is the outcome of a successful verification.
type Result struct {
	// SignedContent is the XML covered by the signature, with the signature
	// removed. It may be empty if the engine does not expose it.
	SignedContent []byte

	// SigningCertificate is the candidate that verified the signature.
	SigningCertificate *x509.Certificate
}

// Verifier verifies the enveloped signature of an XML document.
type Verifier interface {
	Verify(doc []byte, candidates []*x509.Certificate) (*Result, error)
}

// VerificationError represents a failed signature verification.
type VerificationError struct {
	Engine  string
	Message string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Engine, e.Message)
}

// New returns the verifier for engine. An empty name selects signedxml.
func New(engine string) (Verifier, error) {
	switch engine {
	case "", EngineSignedXML:
		return &SignedXMLVerifier{}, nil
	case EngineGoXMLDSig:
		return &DSigVerifier{}, nil
	default:
		return nil, fmt.Errorf("unknown XML signature engine %q", engine)
	}
}

// sortCandidates returns the non-nil candidates, newest NotBefore first.
func sortCandidates(candidates []*x509.Certificate) []*x509.Certificate {
	sorted := make([]*x509.Certificate, 0, len(candidates))
	for _, cert := range candidates {
		if cert != nil {
			sorted = append(sorted, cert)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].NotBefore.After(sorted[j].NotBefore)
	})
	return sorted
}
