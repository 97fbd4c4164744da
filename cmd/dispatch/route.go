package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/dispatch/pkg/classify"
	"github.com/pario-ai/dispatch/pkg/models"
)

type routeFlags struct {
	file     string
	language string
	mode     string
	privacy  bool
	keywords []string
	classify bool
	json     bool
}

func (f *routeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.file, "file", "", "path of the file the prompt is about")
	cmd.Flags().StringVar(&f.language, "language", "", "programming language of the attached code")
	cmd.Flags().StringVar(&f.mode, "mode", "", "routing mode override ("+strings.Join(models.KnownModes, ", ")+")")
	cmd.Flags().BoolVar(&f.privacy, "privacy", false, "restrict routing to private local models")
	cmd.Flags().StringSliceVarP(&f.keywords, "keyword", "k", nil, "extra keywords for rule matching")
	cmd.Flags().BoolVar(&f.classify, "classify", false, "add heuristic capability hints before routing")
	cmd.Flags().BoolVar(&f.json, "json", false, "print JSON instead of text")
}

// context builds the routing context. The file size is read when the file exists.
func (f *routeFlags) context(prompt string) *models.RoutingContext {
	rc := &models.RoutingContext{
		Prompt:   prompt,
		Language: f.language,
		FilePath: f.file,
		Mode:     f.mode,
		Privacy:  f.privacy,
		Keywords: f.keywords,
	}
	if f.file != "" {
		if fi, err := os.Stat(f.file); err == nil && !fi.IsDir() {
			kb := float64(fi.Size()) / 1024
			rc.FileSizeKB = &kb
		}
	}
	if f.classify {
		rc = classify.Apply(rc, classify.Classify(rc))
	}
	return rc
}

func promptArg(args []string) (string, error) {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return "", errors.New("a prompt is required")
	}
	return prompt, nil
}

func newRouteCmd(opts *rootOptions) *cobra.Command {
	var f routeFlags
	cmd := &cobra.Command{
		Use:   "route <prompt>",
		Short: "Pick the provider and model for a prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := promptArg(args)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.router.Route(cmd.Context(), f.context(prompt))
			if err != nil {
				return err
			}
			if f.json {
				return printJSON(res)
			}

			okColor.Printf("%s:%s\n", res.ProviderID, res.ModelName)
			w := newTable()
			fmt.Fprintf(w, "rule\t%s\n", res.RuleID())
			fmt.Fprintf(w, "score\t%d\n", res.Score)
			fmt.Fprintf(w, "mode\t%s\n", res.Mode)
			fmt.Fprintf(w, "call\t%s\n", res.Call)
			if res.EstimatedCost != nil {
				fmt.Fprintf(w, "estimated cost\t$%.6f\n", res.EstimatedCost.TotalCost)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Println("reasoning:")
			printReasoning(res.Reasoning)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newSimulateCmd(opts *rootOptions) *cobra.Command {
	var f routeFlags
	cmd := &cobra.Command{
		Use:   "simulate <prompt>",
		Short: "Dry-run routing and show every candidate",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := promptArg(args)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			rc := f.context(prompt)
			if err := rc.Validate(); err != nil {
				return err
			}
			sim := a.router.SimulateRoute(cmd.Context(), rc)
			if f.json {
				return printJSON(sim)
			}

			if sim.Result != nil {
				okColor.Printf("selected %s:%s (rule %s)\n", sim.Result.ProviderID, sim.Result.ModelName, sim.Result.RuleID())
			} else {
				warnColor.Println("no candidate is usable")
			}

			w := newTable()
			fmt.Fprintln(w, "CANDIDATE\tAVAILABLE\tEST. COST\tREASON")
			for _, alt := range sim.Alternatives {
				fmt.Fprintf(w, "%s:%s\t%s\t$%.6f\t%s\n", alt.ProviderID, alt.ModelName, yesNo(alt.Available), alt.Cost, alt.Reason)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Println()
			w = newTable()
			fmt.Fprintln(w, "RULE\tSCORE\tMATCHED")
			for _, rs := range sim.Rules {
				fmt.Fprintf(w, "%s\t%d\t%s\n", rs.RuleID, rs.Score, yesNo(rs.Matched))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Println("reasoning:")
			printReasoning(sim.Reasoning)
			printWarnings(sim.Warnings)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}
