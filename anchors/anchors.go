// Package anchors provides the embedded anchor keystore: the certificates
// announced in the Official Journal of the European Union as the legitimate
// signers of the EU list of trusted lists.
//
// The keystore is a Java trust store: every certificate bag carries the
// trusted-certificate attribute. It is produced from the announced
// certificates with one keytool call per certificate:
//
//	keytool -importcert -noprompt -storetype PKCS12 -keystore oj-keystore.p12 \
//	    -storepass oj-password -alias oj-anchor-1 -file oj-anchor-1.pem
//
// Plain "openssl pkcs12 -export -nokeys" output lacks that attribute and
// cannot be decoded. The keystore is only used to establish trust in the oldest LOTL version of the pivot
// chain. The certificates are not confidential; the password only exists
// because the container format requires one.
//
// The committed oj-keystore.p12 holds stand-in certificates. Before a
// production build, replace it with the keystore converted from the
// certificates published in OJ C 276 of 16.8.2019, or point the CLI at such a
// file with -anchors.
package anchors

import (
	"crypto/x509"
	_ "embed"
	"fmt"

	"github.com/georgepadayatti/trustsync/keys"
	"github.com/georgepadayatti/trustsync/trust"
)

const (
	// KeyStoreType is the container format of the embedded keystore.
	KeyStoreType = "PKCS12"

	// KeyStorePassword protects the embedded keystore.
	KeyStorePassword = "oj-password"
)

//go:embed oj-keystore.p12
var ojKeyStore []byte

// Load decodes the embedded keystore.
func Load() ([]*x509.Certificate, error) {
	certs, err := keys.LoadTrustStoreData(ojKeyStore, KeyStorePassword)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded anchor keystore: %w", err)
	}
	return certs, nil
}

// Source returns the embedded anchors as a certificate source.
func Source() (trust.StaticSource, error) {
	certs, err := Load()
	if err != nil {
		return nil, err
	}
	return trust.StaticSource(certs), nil
}

// LoadFile loads anchors from path instead of the embedded keystore. PKCS#12
// files are opened with password; PEM and DER files ignore it.
func LoadFile(path, password string) (trust.StaticSource, error) {
	if password == "" {
		password = KeyStorePassword
	}
	certs, err := keys.LoadCertificates(path, password)
	if err != nil {
		return nil, fmt.Errorf("failed to load anchor keystore %s: %w", path, err)
	}
	return trust.StaticSource(certs), nil
}
