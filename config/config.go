package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/trustsync/fetch"
	"github.com/georgepadayatti/trustsync/keys"
	"github.com/georgepadayatti/trustsync/logging"
	"github.com/georgepadayatti/trustsync/tlsync"
	"github.com/georgepadayatti/trustsync/trust"
	"github.com/georgepadayatti/trustsync/truststore"
	"github.com/georgepadayatti/trustsync/xmlsig"
)

// Common errors
var (
	ErrConfigurationError   = errors.New("configuration error")
	ErrMissingRequiredField = errors.New("missing required field")
)

// DefaultKeyStorePath is the keystore written when no path is configured.
const DefaultKeyStorePath = "truststore.p12"

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfigurationError
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// LOTLConfig describes the list of trusted lists to synchronise.
type LOTLConfig struct {
	// URL is the location of the list of trusted lists.
	URL string `yaml:"url" json:"url"`

	// PivotSupport enables walking historical LOTL versions.
	PivotSupport bool `yaml:"pivot-support" json:"pivot_support"`

	// AnnouncementURL is the Official Journal publication that the oldest
	// LOTL version must reference. Empty disables the check.
	AnnouncementURL string `yaml:"announcement-url" json:"announcement_url,omitempty"`

	// MaxPivots bounds the number of historical versions.
	MaxPivots int `yaml:"max-pivots" json:"max_pivots,omitempty"`
}

// AnchorsConfig selects the keystore holding the LOTL trust anchors.
type AnchorsConfig struct {
	// File is a PKCS#12, JKS, PEM or DER file. Empty selects the embedded keystore.
	File string `yaml:"file" json:"file,omitempty"`

	// Password opens File when it is a keystore.
	Password string `yaml:"password" json:"password,omitempty"`
}

// FetchConfig contains the download settings.
type FetchConfig struct {
	ConnectTimeout  time.Duration `yaml:"connect-timeout" json:"connect_timeout"`
	RequestTimeout  time.Duration `yaml:"request-timeout" json:"request_timeout"`
	FollowRedirects bool          `yaml:"follow-redirects" json:"follow_redirects"`
	MaxRedirects    int           `yaml:"max-redirects" json:"max_redirects"`
	ProxyURL        string        `yaml:"proxy-url" json:"proxy_url,omitempty"`
	MaxBodySize     int64         `yaml:"max-body-size" json:"max_body_size"`

	// Workers is the number of trusted lists synchronised in parallel.
	Workers int `yaml:"workers" json:"workers"`

	// ChildTimeout bounds the synchronisation of one trusted list.
	ChildTimeout time.Duration `yaml:"child-timeout" json:"child_timeout"`
}

// KeyStoreConfig describes the keystore to write.
type KeyStoreConfig struct {
	Path     string `yaml:"path" json:"path"`
	Type     string `yaml:"type" json:"type"`
	Password string `yaml:"password" json:"password,omitempty"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (console, json).
	Format string `yaml:"format" json:"format,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = logging.DefaultLevel
	}
	if c.Format == "" {
		c.Format = logging.DefaultFormat
	}
}

// Config is the complete trustsync configuration.
type Config struct {
	LOTL    LOTLConfig    `yaml:"lotl" json:"lotl"`
	Anchors AnchorsConfig `yaml:"anchors" json:"anchors"`
	Fetch   FetchConfig   `yaml:"fetch" json:"fetch"`

	// TrustLists are trusted lists synchronised directly instead of the LOTL.
	TrustLists []string `yaml:"trust-lists" json:"trust_lists,omitempty"`

	// TrustListSigners are certificate files that verify TrustLists.
	TrustListSigners []string `yaml:"trust-list-signers" json:"trust_list_signers,omitempty"`

	// TrustListSignersPassword opens PKCS#12 and JKS signer files.
	TrustListSignersPassword string `yaml:"trust-list-signers-password" json:"-"`

	KeyStore KeyStoreConfig `yaml:"keystore" json:"keystore"`
	Log      LoggingConfig  `yaml:"log" json:"log"`

	// XMLDSigEngine selects the signature verifier.
	XMLDSigEngine string `yaml:"xmldsig-engine" json:"xmldsig_engine"`

	// Report is an optional path for the JSON synchronisation report.
	Report string `yaml:"report" json:"report,omitempty"`

	// MetricsFile is an optional path for Prometheus textfile metrics.
	MetricsFile string `yaml:"metrics-file" json:"metrics_file,omitempty"`
}

// Default returns the configuration synchronising the EU list of trusted
// lists with pivot support and the embedded anchors.
func Default() *Config {
	client := fetch.DefaultClientConfig()
	return &Config{
		LOTL: LOTLConfig{
			URL:             tlsync.EULOTLURL,
			PivotSupport:    true,
			AnnouncementURL: tlsync.OJAnnouncementURL,
			MaxPivots:       tlsync.DefaultMaxPivots,
		},
		Fetch: FetchConfig{
			ConnectTimeout:  client.ConnectTimeout,
			RequestTimeout:  client.RequestTimeout,
			FollowRedirects: client.FollowRedirects,
			MaxRedirects:    client.MaxRedirects,
			MaxBodySize:     fetch.DefaultMaxBodySize,
			Workers:         tlsync.DefaultWorkers,
			ChildTimeout:    tlsync.DefaultChildTimeout,
		},
		KeyStore: KeyStoreConfig{
			Path: DefaultKeyStorePath,
			Type: string(truststore.FormatPKCS12),
		},
		Log: LoggingConfig{
			Level:  logging.DefaultLevel,
			Format: logging.DefaultFormat,
		},
		XMLDSigEngine: xmlsig.EngineSignedXML,
	}
}

// Load reads a YAML configuration file. Values missing from the file keep
// their defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data over the defaults. Unknown keys are
// rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Message: fmt.Sprintf("failed to parse config: %v", err), Err: err}
	}

	cfg.Log.SetDefaults()
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if len(c.TrustLists) == 0 {
		if c.LOTL.URL == "" {
			return &ConfigError{Field: "lotl.url", Message: "required field is missing", Err: ErrMissingRequiredField}
		}
		if err := validateURL("lotl.url", c.LOTL.URL); err != nil {
			return err
		}
	} else {
		for _, u := range c.TrustLists {
			if err := validateURL("trust-lists", u); err != nil {
				return err
			}
		}
		if len(c.TrustListSigners) == 0 {
			return &ConfigError{Field: "trust-list-signers", Message: "required when trust-lists are given", Err: ErrMissingRequiredField}
		}
	}

	if c.LOTL.MaxPivots < 0 {
		return NewConfigError("lotl.max-pivots", "must not be negative")
	}
	if c.Fetch.ConnectTimeout < 0 || c.Fetch.RequestTimeout < 0 || c.Fetch.ChildTimeout < 0 {
		return NewConfigError("fetch", "timeouts must not be negative")
	}
	if c.Fetch.MaxRedirects < 0 {
		return NewConfigError("fetch.max-redirects", "must not be negative")
	}
	if c.Fetch.Workers < 0 {
		return NewConfigError("fetch.workers", "must not be negative")
	}
	if c.Fetch.ProxyURL != "" {
		if err := validateURL("fetch.proxy-url", c.Fetch.ProxyURL); err != nil {
			return err
		}
	}

	if c.KeyStore.Path == "" {
		return &ConfigError{Field: "keystore.path", Message: "required field is missing", Err: ErrMissingRequiredField}
	}
	format, err := truststore.ParseFormat(c.KeyStore.Type)
	if err != nil {
		return &ConfigError{Field: "keystore.type", Message: err.Error(), Err: err}
	}
	if format.NeedsPassword() && c.KeyStore.Password == "" {
		return &ConfigError{Field: "keystore.password", Message: "required for " + string(format), Err: ErrMissingRequiredField}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return &ConfigError{Field: "log.level", Message: err.Error(), Err: err}
	}
	switch c.Log.Format {
	case "", logging.FormatConsole, logging.FormatJSON:
	default:
		return NewConfigError("log.format", fmt.Sprintf("must be %s or %s", logging.FormatConsole, logging.FormatJSON))
	}

	switch c.XMLDSigEngine {
	case "", xmlsig.EngineSignedXML, xmlsig.EngineGoXMLDSig:
	default:
		return NewConfigError("xmldsig-engine", fmt.Sprintf("must be %s or %s", xmlsig.EngineSignedXML, xmlsig.EngineGoXMLDSig))
	}

	return nil
}

// ClientConfig returns the HTTP client settings.
func (c *Config) ClientConfig() *fetch.ClientConfig {
	client := fetch.DefaultClientConfig()
	client.ConnectTimeout = c.Fetch.ConnectTimeout
	client.RequestTimeout = c.Fetch.RequestTimeout
	client.FollowRedirects = c.Fetch.FollowRedirects
	client.MaxRedirects = c.Fetch.MaxRedirects
	client.ProxyURL = c.Fetch.ProxyURL
	return client
}

// Format returns the keystore format. Call Validate first.
func (c *Config) Format() truststore.Format {
	format, _ := truststore.ParseFormat(c.KeyStore.Type)
	return format
}

// LoadTrustListSigners loads the certificates verifying the explicit trusted
// lists. Signer files may be PEM, DER, PKCS#12 or JKS.
func (c *Config) LoadTrustListSigners() (trust.StaticSource, error) {
	if len(c.TrustListSigners) == 0 {
		return nil, nil
	}
	certs, err := keys.LoadCertificateFiles(c.TrustListSigners, c.TrustListSignersPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to load trust list signers: %w", err)
	}
	return trust.StaticSource(certs), nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &ConfigError{Field: field, Message: fmt.Sprintf("invalid URL %q", raw), Err: err}
	}
	switch u.Scheme {
	case "http", "https", "file":
		return nil
	default:
		return NewConfigError(field, fmt.Sprintf("unsupported URL scheme in %q", raw))
	}
}
