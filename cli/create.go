package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/georgepadayatti/trustsync/config"
	"github.com/georgepadayatti/trustsync/job"
	"github.com/georgepadayatti/trustsync/logging"
	"github.com/georgepadayatti/trustsync/truststore"
)

// PasswordEnv is read when -password is not given.
const PasswordEnv = "TRUSTSYNC_PASSWORD"

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// CreateOptions contains options for the create command.
type CreateOptions struct {
	ConfigFile      string
	Output          string
	Password        string
	Type            string
	TrustLists      stringList
	Signers         stringList
	SignersPassword string
	Anchors         string
	AnchorsPassword string
	Report          string
	MetricsFile     string
	LogLevel        string
	LogFormat       string
	Workers         int

	// set records the flags given on the command line.
	set map[string]bool
}

// CreateCommand implements the 'create' command.
func CreateCommand(args []string) {
	opts, err := parseCreateFlags(args[2:], os.Stdout)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(exitUsage)
		return
	}

	cfg, err := buildConfig(opts, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(exitUsage)
		return
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(exitUsage)
		return
	}
	defer logging.Sync(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := job.Run(ctx, job.Options{Config: cfg, Logger: logger})
	if err != nil {
		logger.Error("trust store creation failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(exitCode(err))
		return
	}

	fmt.Printf("Trust store written: %s (%s, %d certificates)\n", result.Path, result.Format, result.Certificates)
	if failed := result.Report.Failed(); failed > 0 {
		fmt.Printf("%d of %d trusted lists could not be synchronised\n", failed, len(result.Report.Lists))
	}
}

func parseCreateFlags(args []string, out io.Writer) (*CreateOptions, error) {
	createFlags := flag.NewFlagSet("create", flag.ContinueOnError)
	createFlags.SetOutput(out)

	var opts CreateOptions

	createFlags.StringVar(&opts.ConfigFile, "config", "", "YAML configuration file")
	createFlags.StringVar(&opts.Output, "o", config.DefaultKeyStorePath, "Output keystore file")
	createFlags.StringVar(&opts.Password, "password", "", "Keystore password (default $"+PasswordEnv+")")
	createFlags.StringVar(&opts.Type, "type", string(truststore.FormatPKCS12), "Keystore type: PKCS12, PKCS12-LEGACY, JKS, PEM")
	createFlags.Var(&opts.TrustLists, "tl", "Trusted list URL to synchronise instead of the LOTL (repeatable)")
	createFlags.Var(&opts.Signers, "tl-signers", "Certificate file verifying the -tl lists (repeatable)")
	createFlags.StringVar(&opts.SignersPassword, "tl-signers-password", "", "Password of PKCS#12 or JKS -tl-signers files")
	createFlags.StringVar(&opts.Anchors, "anchors", "", "Anchor keystore replacing the embedded Official Journal certificates")
	createFlags.StringVar(&opts.AnchorsPassword, "anchors-password", "", "Password of the -anchors keystore")
	createFlags.StringVar(&opts.Report, "report", "", "Write a JSON synchronisation report")
	createFlags.StringVar(&opts.MetricsFile, "metrics-file", "", "Write Prometheus textfile metrics")
	createFlags.StringVar(&opts.LogLevel, "log-level", logging.DefaultLevel, "Log level: debug, info, warn, error")
	createFlags.StringVar(&opts.LogFormat, "log-format", logging.DefaultFormat, "Log format: console, json")
	createFlags.IntVar(&opts.Workers, "workers", 0, "Trusted lists synchronised in parallel (default from config)")

	createFlags.Usage = func() {
		fmt.Fprintf(out, "Usage: %s create [options]\n\n", os.Args[0])
		fmt.Fprintln(out, "Synchronise the EU list of trusted lists, or the given trusted lists,")
		fmt.Fprintln(out, "and write the collected certificates to a keystore.")
		fmt.Fprintln(out, "")
		fmt.Fprintln(out, "Options:")
		createFlags.PrintDefaults()
	}

	if err := createFlags.Parse(args); err != nil {
		return nil, err
	}
	if createFlags.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(createFlags.Args(), " "))
	}

	opts.set = make(map[string]bool)
	createFlags.Visit(func(f *flag.Flag) {
		opts.set[f.Name] = true
	})
	return &opts, nil
}

// buildConfig loads the configuration file, if any, and applies the flags
// given on the command line over it.
func buildConfig(opts *CreateOptions, getenv func(string) string) (*config.Config, error) {
	cfg := config.Default()
	if opts.ConfigFile != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigFile); err != nil {
			return nil, err
		}
	}

	if opts.set["o"] {
		cfg.KeyStore.Path = opts.Output
	}
	if opts.set["type"] {
		cfg.KeyStore.Type = opts.Type
	}
	switch {
	case opts.set["password"]:
		cfg.KeyStore.Password = opts.Password
	case getenv(PasswordEnv) != "":
		cfg.KeyStore.Password = getenv(PasswordEnv)
	}
	if len(opts.TrustLists) > 0 {
		cfg.TrustLists = opts.TrustLists
	}
	if len(opts.Signers) > 0 {
		cfg.TrustListSigners = opts.Signers
	}
	if opts.set["tl-signers-password"] {
		cfg.TrustListSignersPassword = opts.SignersPassword
	}
	if opts.set["anchors"] {
		cfg.Anchors.File = opts.Anchors
	}
	if opts.set["anchors-password"] {
		cfg.Anchors.Password = opts.AnchorsPassword
	}
	if opts.set["report"] {
		cfg.Report = opts.Report
	}
	if opts.set["metrics-file"] {
		cfg.MetricsFile = opts.MetricsFile
	}
	if opts.set["log-level"] {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.set["log-format"] {
		cfg.Log.Format = opts.LogFormat
	}
	if opts.set["workers"] {
		cfg.Fetch.Workers = opts.Workers
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func exitCode(err error) int {
	if errors.Is(err, config.ErrConfigurationError) {
		return exitUsage
	}
	return exitFailure
}
