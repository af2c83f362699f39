package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/statsgallery/sponsorship/pkg/config"
)

// runCheckProfileCmd implements `sponsord check-profile`.
//
// Parses and validates an operating profile exactly the way serve
// would, and prints the effective parameters after defaults.
func runCheckProfileCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("check-profile", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		path       string
		jsonOutput bool
	)

	cmd.StringVar(&path, "file", "profile.yaml", "Path to the profile YAML")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the effective profile as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	profile, err := config.LoadProfile(path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "❌ Profile invalid: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(profile, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "✅ Profile OK: %s\n", path)
	_, _ = fmt.Fprintf(stdout, "   Owner:       %s\n", profile.Owner)
	_, _ = fmt.Fprintf(stdout, "   Duration:    %s\n", profile.Duration())
	_, _ = fmt.Fprintf(stdout, "   Min deposit: %d\n", profile.MinDeposit)
	_, _ = fmt.Fprintf(stdout, "   Tags:        %s\n", strings.Join(profile.Tags, ", "))
	_, _ = fmt.Fprintf(stdout, "   Badge:       %d/day, floor %d, max %d days\n",
		profile.Badge.RatePerDay, profile.Badge.MinCreationDeposit, profile.Badge.MaxActiveDays)
	if len(profile.Screen.Rules) > 0 {
		_, _ = fmt.Fprintf(stdout, "   Screen:      %d rule(s)\n", len(profile.Screen.Rules))
	}
	return 0
}
