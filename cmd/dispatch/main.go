package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "dispatch",
		Short:         "Dispatch: rule-based routing of prompts to LLM providers under a budget",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "dispatch.yaml", "path to config file (.yaml or .toml)")
	root.PersistentFlags().StringVarP(&opts.profile, "profile", "p", "", "profile to use (default: active_profile)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newValidateCmd(opts),
		newRouteCmd(opts),
		newSimulateCmd(opts),
		newAskCmd(opts),
		newModelsCmd(opts),
		newBudgetCmd(opts),
		newAuditCmd(opts),
		newServeCmd(opts),
		newMCPCmd(opts),
	)
	return root
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the config file and check every profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			w := newTable()
			fmt.Fprintln(w, "PROFILE\tMODE\tPROVIDERS\tRULES\tACTIVE")
			active := a.router.Profile().Name
			for _, p := range a.cfg.Profiles {
				mode := p.Mode
				if mode == "" {
					mode = "auto"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%t\n", p.Name, mode, len(p.Providers), len(p.Rules), p.Name == active)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("%s is valid.\n", opts.configPath)
			return nil
		},
	}
}
