// Command trustsync creates trust stores from the EU list of trusted lists.
//
// Usage:
//
//	trustsync <command> [options]
//
// Commands:
//
//	create   Synchronise trusted lists and write a trust store
//	version  Show version information
//	help     Show help message
//
// Examples:
//
//	# Write truststore.p12 from the EU LOTL
//	trustsync create -password changeit
//
//	# Write a JKS keystore with a JSON report
//	trustsync create -type JKS -o truststore.jks -password changeit -report report.json
package main

import (
	"os"

	"github.com/georgepadayatti/trustsync/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/trustsync
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	cli.Run(os.Args)
}
