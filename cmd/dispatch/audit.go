package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/dispatch/pkg/models"
)

func newAuditCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the routing decision log",
	}
	cmd.AddCommand(
		newAuditSearchCmd(opts),
		newAuditStatsCmd(opts),
		newAuditCleanupCmd(opts),
	)
	return cmd
}

func newAuditSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		requestID  string
		rule       string
		providerID string
		outcome    string
		since      string
		limit      int
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search routing decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := models.AuditQueryOpts{
				RequestID:  requestID,
				RuleID:     rule,
				ProviderID: providerID,
				Outcome:    outcome,
				Limit:      limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				q.Since = t
			}

			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.audit.Query(cmd.Context(), q)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Println("No routing decisions found.")
				return nil
			}
			w := newTable()
			fmt.Fprintln(w, "TIME\tREQUEST\tPROFILE\tRULE\tMODE\tTARGET\tOUTCOME\tSCORE\tMS")
			for _, e := range entries {
				target := "-"
				if e.ProviderID != "" {
					target = e.ProviderID + ":" + e.ModelName
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.RequestID, e.Profile, e.RuleID,
					e.Mode, target, e.Outcome, e.Score, e.LatencyMs)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&requestID, "request-id", "", "filter by request id")
	cmd.Flags().StringVar(&rule, "rule", "", "filter by rule id")
	cmd.Flags().StringVar(&providerID, "provider", "", "filter by provider id")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (routed or no_route)")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	return cmd
}

func newAuditStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show routed decision counts by model and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.audit.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if len(stats) == 0 {
				fmt.Println("No routing decisions found.")
				return nil
			}
			w := newTable()
			fmt.Fprintln(w, "DAY\tPROVIDER\tMODEL\tCOUNT")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.Day, s.ProviderID, s.ModelName, s.Count)
			}
			return w.Flush()
		},
	}
}

func newAuditCleanupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete decisions older than the configured retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.audit.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d decisions older than %d days.\n", n, a.cfg.Audit.RetentionDays)
			return nil
		},
	}
}
