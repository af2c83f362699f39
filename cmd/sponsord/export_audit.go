package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/statsgallery/sponsorship/pkg/audit"
)

// runExportAuditCmd implements `sponsord export-audit`.
//
// Rebuilds the audit trail from captured log output (service logs may
// be interleaved; only AUDIT lines count) and packages the events in
// range as a zip evidence pack with a manifest and checksum.
//
// Exit codes:
//
//	0 = pack created
//	1 = nothing to export
//	2 = export could not run
func runExportAuditCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export-audit", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		logPath    string
		outPath    string
		startStr   string
		endStr     string
		jsonOutput bool
	)

	cmd.StringVar(&logPath, "log", "", "Path to captured audit log output (REQUIRED)")
	cmd.StringVar(&outPath, "out", "", "Output path for the zip pack (REQUIRED)")
	cmd.StringVar(&startStr, "start", "", "Range start (RFC 3339)")
	cmd.StringVar(&endStr, "end", "", "Range end (RFC 3339)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if logPath == "" || outPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --log and --out are required")
		cmd.Usage()
		return 2
	}

	var req audit.ExportRequest
	var err error
	if req.StartTime, err = parseTimeFlag(startStr); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: --start: %v\n", err)
		return 2
	}
	if req.EndTime, err = parseTimeFlag(endStr); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: --end: %v\n", err)
		return 2
	}

	f, err := os.Open(logPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	events, err := audit.ReadEvents(f)
	_ = f.Close()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if len(events) == 0 {
		_, _ = fmt.Fprintln(stderr, "Error: no audit records found in log")
		return 1
	}

	trail := audit.NewTrail()
	trail.Restore(events)
	inRange := trail.Query(req.StartTime, req.EndTime)

	pack, checksum, err := audit.NewExporter(trail).GeneratePack(context.Background(), req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := os.WriteFile(outPath, pack, 0644); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		result := map[string]any{
			"pack_path":   outPath,
			"event_count": len(inRange),
			"checksum":    checksum,
			"status":      "created",
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "✅ Audit pack created: %s (%d events)\n", outPath, len(inRange))
		_, _ = fmt.Fprintf(stdout, "   Checksum: sha256:%s\n", checksum)
	}
	return 0
}

func parseTimeFlag(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}
