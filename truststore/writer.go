// Package truststore serialises collected trust certificates into keystore
// files: PKCS#12 trust stores, Java keystores and PEM bundles.
package truststore

import (
	"bytes"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonboulle/clockwork"
	keystore "github.com/pavlo-v-chernykh/keystore-go/v4"
	"go.uber.org/zap"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/georgepadayatti/trustsync/trust"
)

// Format is a keystore container format.
type Format string

const (
	// FormatPKCS12 is a PKCS#12 trust store with AES-256 and PBKDF2.
	FormatPKCS12 Format = "PKCS12"

	// FormatPKCS12Legacy is a PKCS#12 trust store with 3DES, for older
	// Java runtimes.
	FormatPKCS12Legacy Format = "PKCS12-LEGACY"

	// FormatJKS is a Java keystore of trusted certificate entries.
	FormatJKS Format = "JKS"

	// FormatPEM is a bundle of PEM certificates, each carrying an Alias header.
	FormatPEM Format = "PEM"
)

// AliasHeader is the PEM header holding the alias of a certificate.
const AliasHeader = "Alias"

// Formats lists the supported formats.
var Formats = []Format{FormatPKCS12, FormatPKCS12Legacy, FormatJKS, FormatPEM}

// Errors
var (
	ErrStoreWrite        = errors.New("trust store write failed")
	ErrUnsupportedFormat = errors.New("unsupported keystore format")
	ErrPasswordRequired  = errors.New("keystore password is required")
	ErrNoCertificates    = errors.New("no certificates to write")
)

// StoreWriteError reports a keystore that could not be produced. Nothing is
// left at Path when it is returned.
type StoreWriteError struct {
	Path   string
	Format Format
	Err    error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("failed to write %s keystore %s: %v", e.Format, e.Path, e.Err)
}

func (e *StoreWriteError) Unwrap() error        { return e.Err }
func (e *StoreWriteError) Is(target error) bool { return target == ErrStoreWrite }

// ParseFormat returns the format named s, ignoring case.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// NeedsPassword reports whether the format is protected by a password.
func (f Format) NeedsPassword() bool {
	return f != FormatPEM
}

// Extension returns the usual file extension of the format.
func (f Format) Extension() string {
	switch f {
	case FormatJKS:
		return ".jks"
	case FormatPEM:
		return ".pem"
	default:
		return ".p12"
	}
}

// Entries is a set of certificate tokens in alias order.
type Entries interface {
	All() []trust.CertificateToken
}

// Writer writes keystore files.
type Writer struct {
	clock  clockwork.Clock
	logger *zap.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock sets the clock used for JKS entry creation times.
func WithClock(clock clockwork.Clock) Option {
	return func(w *Writer) {
		w.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// New creates a writer.
func New(opts ...Option) *Writer {
	w := &Writer{}
	for _, opt := range opts {
		opt(w)
	}
	if w.clock == nil {
		w.clock = clockwork.NewRealClock()
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Write writes a keystore with default options.
func Write(entries Entries, path string, format Format, password string) error {
	return New().Write(entries, path, format, password)
}

// Write encodes entries in format and replaces the file at path. The
// keystore is encoded in memory and written to a temporary file next to
// path, which is renamed over path once complete.
func (w *Writer) Write(entries Entries, path string, format Format, password string) error {
	fail := func(err error) error {
		return &StoreWriteError{Path: path, Format: format, Err: err}
	}

	tokens := entries.All()
	data, err := w.Encode(tokens, format, password)
	if err != nil {
		return fail(err)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return fail(err)
	}

	w.logger.Info("trust store written",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.Int("entries", len(tokens)))
	return nil
}

// Encode returns the keystore encoding of tokens.
func (w *Writer) Encode(tokens []trust.CertificateToken, format Format, password string) ([]byte, error) {
	if len(tokens) == 0 {
		return nil, ErrNoCertificates
	}
	if format.NeedsPassword() && password == "" {
		return nil, ErrPasswordRequired
	}

	switch format {
	case FormatPKCS12:
		return encodePKCS12(pkcs12.Modern, tokens, password)
	case FormatPKCS12Legacy:
		return encodePKCS12(pkcs12.LegacyDES, tokens, password)
	case FormatJKS:
		return w.encodeJKS(tokens, password)
	case FormatPEM:
		return encodePEM(tokens)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func encodePKCS12(enc *pkcs12.Encoder, tokens []trust.CertificateToken, password string) ([]byte, error) {
	entries := make([]pkcs12.TrustStoreEntry, 0, len(tokens))
	for _, t := range tokens {
		entries = append(entries, pkcs12.TrustStoreEntry{
			Cert:         t.Certificate,
			FriendlyName: t.Alias(),
		})
	}
	data, err := enc.EncodeTrustStoreEntries(entries, password)
	if err != nil {
		return nil, fmt.Errorf("failed to encode PKCS#12: %w", err)
	}
	return data, nil
}

func (w *Writer) encodeJKS(tokens []trust.CertificateToken, password string) ([]byte, error) {
	ks := keystore.New(keystore.WithOrderedAliases())
	created := w.clock.Now()
	for _, t := range tokens {
		entry := keystore.TrustedCertificateEntry{
			CreationTime: created,
			Certificate: keystore.Certificate{
				Type:    "X509",
				Content: t.Certificate.Raw,
			},
		}
		if err := ks.SetTrustedCertificateEntry(t.Alias(), entry); err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", t.Alias(), err)
		}
	}

	var buf bytes.Buffer
	if err := ks.Store(&buf, []byte(password)); err != nil {
		return nil, fmt.Errorf("failed to encode JKS: %w", err)
	}
	return buf.Bytes(), nil
}

func encodePEM(tokens []trust.CertificateToken) ([]byte, error) {
	var buf bytes.Buffer
	for _, t := range tokens {
		block := &pem.Block{
			Type:    "CERTIFICATE",
			Headers: map[string]string{AliasHeader: t.Alias()},
			Bytes:   t.Certificate.Raw,
		}
		if err := pem.Encode(&buf, block); err != nil {
			return nil, fmt.Errorf("failed to encode PEM: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func writeFileAtomic(path string, data []byte) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err = tmp.Chmod(0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
