// Package trust provides the certificate tokens and the identifier-keyed
// certificate source that accumulates the certificates of validated trusted
// lists.
package trust

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"strings"
)

// IDPrefix is prepended to the hex digest of a certificate to form its identifier.
const IDPrefix = "C-"

// CertificateToken is an X.509 certificate together with its content-derived
// identifier.
type CertificateToken struct {
	// ID is "C-" followed by the upper-case hex SHA-256 digest of the DER encoding.
	ID string

	// Certificate is the parsed certificate.
	Certificate *x509.Certificate
}

// NewCertificateToken creates a token for cert.
func NewCertificateToken(cert *x509.Certificate) CertificateToken {
	return CertificateToken{
		ID:          CertificateID(cert),
		Certificate: cert,
	}
}

// CertificateID returns the identifier of cert. It only depends on the
// encoded bytes, so the same certificate yields the same identifier across
// runs and across lists.
func CertificateID(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return IDPrefix + strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Alias returns the keystore alias of the token, the lower-cased identifier.
func (t CertificateToken) Alias() string {
	return strings.ToLower(t.ID)
}

// CertificateSource provides a fixed set of certificates, such as the anchor
// keystore or the certificates a trusted list pointer declares.
type CertificateSource interface {
	Certificates() []*x509.Certificate
}

// StaticSource is a CertificateSource backed by a slice.
type StaticSource []*x509.Certificate

// Certificates returns the certificates of the source.
func (s StaticSource) Certificates() []*x509.Certificate {
	return s
}
