// Package keys provides utilities for loading certificates from PEM, DER,
// PKCS#12 and Java keystore files.
package keys

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	keystore "github.com/pavlo-v-chernykh/keystore-go/v4"
	"software.sslmate.com/src/go-pkcs12"
)

// Common errors
var (
	ErrNoCertFound    = errors.New("no certificate found in data")
	ErrKeyStoreDecode = errors.New("failed to decode keystore")
)

// LoadCertsFromPemDer loads certificates from a PEM or DER encoded file.
func LoadCertsFromPemDer(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadCertsFromPemDerData(data)
}

// LoadCertsFromPemDerData loads certificates from PEM or DER encoded data.
func LoadCertsFromPemDerData(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	if isPEM(data) {
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}

			// Only process CERTIFICATE blocks
			if block.Type == "CERTIFICATE" {
				cert, err := x509.ParseCertificate(block.Bytes)
				if err != nil {
					return nil, fmt.Errorf("failed to parse certificate: %w", err)
				}
				certs = append(certs, cert)
			}
		}
	} else {
		// A single DER certificate or a concatenation of several
		parsedCerts, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		certs = parsedCerts
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}

	return certs, nil
}

// LoadTrustStoreData extracts the certificates of a PKCS#12 container.
//
// Containers written as Java trust stores are decoded directly. Key-bearing
// containers have no trusted-certificate attribute; their certificate is
// read from the key and certificate safes instead. Certificate-only
// containers without the attribute, as written by
// "openssl pkcs12 -export -nokeys", are rejected with ErrKeyStoreDecode.
func LoadTrustStoreData(data []byte, password string) ([]*x509.Certificate, error) {
	certs, err := pkcs12.DecodeTrustStore(data, password)
	if err == nil && len(certs) > 0 {
		return certs, nil
	}

	blocks, pemErr := pkcs12.ToPEM(data, password)
	if pemErr != nil {
		if err == nil {
			err = pemErr
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyStoreDecode, err)
	}

	for _, block := range blocks {
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadTrustStore loads the certificates of a PKCS#12 file.
func LoadTrustStore(filename, password string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadTrustStoreData(data, password)
}

// LoadJKSData extracts the trusted certificate entries of a Java keystore.
func LoadJKSData(data []byte, password string) ([]*x509.Certificate, error) {
	ks := keystore.New()
	if err := ks.Load(bytes.NewReader(data), []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyStoreDecode, err)
	}

	var certs []*x509.Certificate
	for _, alias := range ks.Aliases() {
		if !ks.IsTrustedCertificateEntry(alias) {
			continue
		}
		entry, err := ks.GetTrustedCertificateEntry(alias)
		if err != nil {
			return nil, fmt.Errorf("failed to read entry %s: %w", alias, err)
		}
		cert, err := x509.ParseCertificate(entry.Certificate.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate %s: %w", alias, err)
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadJKS loads the trusted certificates of a Java keystore file.
func LoadJKS(filename, password string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadJKSData(data, password)
}

// LoadCertificates loads certificates from a file, picking the decoder from
// the file extension: .p12 and .pfx are read as PKCS#12 and .jks as a Java
// keystore with password, anything else as PEM or DER.
func LoadCertificates(filename, password string) ([]*x509.Certificate, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".p12", ".pfx":
		return LoadTrustStore(filename, password)
	case ".jks":
		return LoadJKS(filename, password)
	default:
		return LoadCertsFromPemDer(filename)
	}
}

// LoadCertificateFiles loads the certificates of every file with
// LoadCertificates. Keystore files are opened with password.
func LoadCertificateFiles(filenames []string, password string) ([]*x509.Certificate, error) {
	var allCerts []*x509.Certificate
	for _, filename := range filenames {
		certs, err := LoadCertificates(filename, password)
		if err != nil {
			return nil, fmt.Errorf("failed to load certs from %s: %w", filename, err)
		}
		allCerts = append(allCerts, certs...)
	}
	return allCerts, nil
}

// isPEM checks if the data appears to be PEM encoded.
func isPEM(data []byte) bool {
	return len(data) > 10 && string(data[:5]) == "-----"
}
