package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/pario-ai/dispatch/pkg/models"
)

var (
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed, color.Bold)
	okColor    = color.New(color.FgGreen, color.Bold)
	mutedColor = color.New(color.Faint)
)

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func printWarnings(warnings []string) {
	for _, w := range warnings {
		warnColor.Fprintf(os.Stderr, "warning: %s\n", w)
	}
}

func printReasoning(reasoning []string) {
	for _, r := range reasoning {
		mutedColor.Printf("  - %s\n", r)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printError(err error) {
	var noRoute *models.NoAvailableRouteError
	if errors.As(err, &noRoute) {
		errColor.Fprintf(os.Stderr, "no available route (rule %s)\n", noRoute.RuleID)
		for _, at := range noRoute.Attempts {
			fmt.Fprintf(os.Stderr, "  %s:%s  %s\n", at.ProviderID, at.ModelName, at.Reason)
		}
		return
	}
	errColor.Fprintln(os.Stderr, "error: "+err.Error())
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
