// Command literate-lsp runs the literate-document LSP proxy: it speaks
// LSP to an editor over stdio and multiplexes fenced-code-block requests
// out to the per-language child servers named in its config file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// LevelTrace is a custom log level below debug for verbose tracing,
// carried over from the teacher's cmd/yammm-lsp/main.go.
const LevelTrace = -8

var (
	logLevel   string
	logFile    string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "literate-lsp",
	Short:         "Multiplex an editor's LSP requests across a literate document's fenced code blocks",
	Version:       version,
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "literate-lsp: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: error|warn|info|debug|trace")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file path (empty to log to stderr)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "literate-lsp.jsonc", "path to the child-server configuration table")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(languagesCmd)
}

// exitCodeFor maps a returned error to one of the exit codes spec.md §6
// defines: 0 success (handled by Execute returning nil, not here), 1
// configuration error, 2 a health check failure.
func exitCodeFor(err error) int {
	if ec, ok := err.(exitCoder); ok {
		return ec.ExitCode()
	}
	return 1
}

// exitCoder lets a subcommand's error carry a specific exit code (e.g.
// healthCmd's code 2) through cobra's plain error return.
type exitCoder interface {
	error
	ExitCode() int
}
