package xmlsig

import (
	"crypto/x509"
	"fmt"

	"github.com/moov-io/signedxml"
)

// SignedXMLVerifier verifies signatures with github.com/moov-io/signedxml.
type SignedXMLVerifier struct{}

// Verify tries each candidate on its own, newest first, then all of them
// together.
func (v *SignedXMLVerifier) Verify(doc []byte, candidates []*x509.Certificate) (*Result, error) {
	sorted := sortCandidates(candidates)
	if len(sorted) == 0 {
		return nil, ErrNoCandidates
	}

	var lastErr error
	for _, cert := range sorted {
		result, err := validateSignedXML(doc, []*x509.Certificate{cert})
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	if len(sorted) > 1 {
		if result, err := validateSignedXML(doc, sorted); err == nil {
			return result, nil
		}
	}

	return nil, &VerificationError{
		Engine:  EngineSignedXML,
		Message: fmt.Sprintf("none of the %d candidate certificates could validate the signature: %v", len(sorted), lastErr),
	}
}

func validateSignedXML(doc []byte, trusted []*x509.Certificate) (*Result, error) {
	validator, err := signedxml.NewValidator(string(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to create XML signature validator: %w", err)
	}
	validator.SetReferenceIDAttribute("Id")

	// signedxml only falls back to KeyInfo certificates when this is empty.
	certValues := make([]x509.Certificate, len(trusted))
	for i, cert := range trusted {
		certValues[i] = *cert
	}
	validator.Certificates = certValues

	signedXMLs, err := validator.ValidateReferences()
	if err != nil {
		return nil, fmt.Errorf("XML signature validation failed: %w", err)
	}
	if len(signedXMLs) == 0 {
		return nil, fmt.Errorf("no signed content found in XML")
	}

	result := &Result{SignedContent: []byte(signedXMLs[0])}

	signingCert := validator.SigningCert()
	for _, cert := range trusted {
		if len(signingCert.Raw) > 0 && cert.Equal(&signingCert) {
			result.SigningCertificate = cert
			break
		}
	}
	if result.SigningCertificate == nil {
		if len(trusted) != 1 {
			return nil, fmt.Errorf("signing certificate is not among the candidates")
		}
		result.SigningCertificate = trusted[0]
	}
	return result, nil
}
