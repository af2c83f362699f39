package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
)

const version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is swapped out by tests.
var startServer = runServer

// Run dispatches to a subcommand. Bare invocations and flag-only
// invocations start the server, so `sponsord -port 9090` style
// deployment scripts keep working.
func Run(args []string, stdout, stderr io.Writer) int {
	cmd := ""
	if len(args) > 1 {
		cmd = args[1]
	}

	switch cmd {
	case "", "serve", "server":
		return startServer()
	case "verify-ledger":
		return runVerifyLedgerCmd(args[2:], stdout, stderr)
	case "export-audit":
		return runExportAuditCmd(args[2:], stdout, stderr)
	case "mint-token":
		return runMintTokenCmd(args[2:], stdout, stderr)
	case "check-profile":
		return runCheckProfileCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "sponsord v%s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	}

	if cmd[0] == '-' {
		return startServer()
	}
	_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
	printUsage(stderr)
	return 2
}

// ANSI colors for terminal output.
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

// usageSections drives help output.
var usageSections = []struct {
	title   string
	entries [][2]string
}{
	{"SERVICE", [][2]string{
		{"serve", "Run the sponsorship server (default)"},
		{"health", "Check server health (HTTP)"},
		{"check-profile", "Validate an operating profile (--file, --json)"},
	}},
	{"LEDGER & AUDIT", [][2]string{
		{"verify-ledger", "Verify the treasury receipt chain (--db, --pub)"},
		{"export-audit", "Build an audit evidence pack (--log, --out)"},
	}},
	{"UTILITIES", [][2]string{
		{"mint-token", "Mint a bearer token for an account (--account)"},
		{"version", "Show version information"},
		{"help", "Show this help"},
	}},
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "\n%ssponsord v%s%s\n", ColorBold+ColorBlue, version, ColorReset)
	fmt.Fprintf(w, "%sDeposits in escrow. Decisions on the record.%s\n\n", ColorGray, ColorReset)
	fmt.Fprintf(w, "%sUSAGE:%s\n  sponsord <command> [flags]\n", ColorBold, ColorReset)

	for _, s := range usageSections {
		fmt.Fprintf(w, "\n%s%s:%s\n", ColorBold+ColorCyan, s.title, ColorReset)
		for _, e := range s.entries {
			fmt.Fprintf(w, "  %s%-14s%s %s\n", ColorGreen, e[0], ColorReset, e[1])
		}
	}
	fmt.Fprintln(w, "")
}

func runHealthCmd(out, errOut io.Writer) int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	resp, err := http.Get("http://localhost:" + port + "/healthz")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(out, "OK")
	return 0
}
