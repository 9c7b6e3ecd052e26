// Package cli provides the command-line interface for creating trust stores
// from trusted lists.
package cli

import (
	"fmt"
	"os"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// Exit codes
const (
	exitFailure = 1
	exitUsage   = 2
)

// Run executes the CLI with the given arguments.
// This is the main entry point for the CLI.
func Run(args []string) {
	if len(args) < 2 {
		Usage()
		return
	}

	command := args[1]

	switch command {
	case "create":
		CreateCommand(args)
	case "version":
		VersionCommand()
	case "help", "-h", "--help":
		Usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		Usage()
		osExit(exitUsage)
	}
}

// Usage prints the CLI usage information.
func Usage() {
	fmt.Printf("trustsync - trust store creation from EU trusted lists\n\n")
	fmt.Printf("Usage: %s <command> [options]\n\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("  create   Synchronise trusted lists and write a trust store")
	fmt.Println("  version  Show version information")
	fmt.Println("  help     Show this help message")
	fmt.Println("")
	fmt.Printf("Use '%s <command> -h' for command-specific help\n", os.Args[0])
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Printf("  %s create -password changeit\n", os.Args[0])
	fmt.Printf("  %s create -type JKS -o truststore.jks -password changeit\n", os.Args[0])
	fmt.Printf("  %s create -tl https://tl.example/de.xml -tl-signers de.pem -type PEM -o de.pem\n", os.Args[0])
}

// VersionCommand prints version information.
func VersionCommand() {
	fmt.Printf("trustsync version %s\n", Version)
	fmt.Printf("Build time: %s\n", BuildTime)
}
