package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/dispatch/pkg/budget"
	"github.com/pario-ai/dispatch/pkg/cost"
	"github.com/pario-ai/dispatch/pkg/models"
)

func newBudgetCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect and manage the spend ledger",
	}
	cmd.AddCommand(
		newBudgetStatusCmd(opts),
		newBudgetStatsCmd(opts),
		newBudgetExportCmd(opts),
		newBudgetCleanupCmd(opts),
		newBudgetRecordCmd(opts),
	)
	return cmd
}

func limitString(limit *float64) string {
	if limit == nil {
		return "-"
	}
	return fmt.Sprintf("$%.2f", *limit)
}

func newBudgetStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show spend against the profile's budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			cfg := a.router.Profile().Budget
			u := a.ledger.Usage(ctx)

			var daily, monthly *float64
			if cfg != nil {
				daily, monthly = cfg.DailyUSD, cfg.MonthlyUSD
			}
			w := newTable()
			fmt.Fprintln(w, "PERIOD\tSPENT\tLIMIT")
			fmt.Fprintf(w, "daily (%s)\t$%.4f\t%s\n", u.LastReset, u.DailySpent, limitString(daily))
			fmt.Fprintf(w, "monthly\t$%.4f\t%s\n", u.MonthlySpent, limitString(monthly))
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("%d transactions recorded\n", len(u.Transactions))

			if cfg == nil {
				fmt.Println("No budget configured for this profile.")
				return nil
			}
			if chk := a.ledger.CheckBudget(ctx, 0, cfg); !chk.Allowed {
				errColor.Println(chk.Reason)
			}
			printWarnings(a.ledger.Warnings(ctx, cfg))
			return nil
		},
	}
}

func newBudgetStatsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show spend broken down by provider, model and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			st := a.ledger.SpendingStats(cmd.Context())
			if asJSON {
				return printJSON(st)
			}
			if st.TransactionCount == 0 {
				fmt.Println("No transactions recorded.")
				return nil
			}
			fmt.Printf("Total $%.4f over %d transactions (avg $%.4f)\n\n",
				st.TotalSpent, st.TransactionCount, st.AveragePerTransaction)

			w := newTable()
			fmt.Fprintln(w, "GROUP\tKEY\tCOST\tCOUNT")
			for _, g := range []struct {
				name string
				rows []models.SpendBreakdown
			}{{"provider", st.ByProvider}, {"model", st.ByModel}, {"day", st.ByDay}} {
				for _, r := range g.rows {
					fmt.Fprintf(w, "%s\t%s\t$%.4f\t%d\n", g.name, r.Key, r.Cost, r.Count)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	return cmd
}

func newBudgetExportCmd(opts *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every transaction as JSON or CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			export := a.ledger.ExportTransactions(cmd.Context())
			switch format {
			case "json":
				return printJSON(export)
			case "csv":
				w := csv.NewWriter(os.Stdout)
				_ = w.Write([]string{"id", "timestamp", "provider", "model", "cost", "input_tokens", "output_tokens", "operation"})
				for _, tx := range export.Transactions {
					_ = w.Write([]string{
						tx.ID,
						tx.Timestamp.Format(time.RFC3339),
						tx.Provider,
						tx.Model,
						strconv.FormatFloat(tx.Cost, 'f', -1, 64),
						strconv.Itoa(tx.InputTokens),
						strconv.Itoa(tx.OutputTokens),
						tx.Operation,
					})
				}
				w.Flush()
				return w.Error()
			default:
				return fmt.Errorf("unknown format %q (use json or csv)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or csv")
	return cmd
}

func newBudgetCleanupCmd(opts *rootOptions) *cobra.Command {
	var keepDays int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete transactions older than --keep-days",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			removed, err := a.ledger.CleanupOldTransactions(cmd.Context(), keepDays)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d transactions.\n", removed)
			return nil
		},
	}
	cmd.Flags().IntVar(&keepDays, "keep-days", budget.DefaultKeepDays, "days of transactions to keep")
	return cmd
}

func newBudgetRecordCmd(opts *rootOptions) *cobra.Command {
	var (
		target    string
		spent     float64
		input     int
		output    int
		operation string
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a spend manually",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, model, ok := models.ParseTarget(target)
			if !ok {
				return errors.New("--target must be provider:model")
			}
			a, err := openApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("cost") {
				pc, found := a.router.Profile().Provider(pid)
				mc, known := pc.Model(model)
				if !found || !known {
					return fmt.Errorf("unknown model %s; pass --cost", target)
				}
				spent = cost.CalculateActualCost(models.Usage{InputTokens: input, OutputTokens: output}, mc, pid).TotalCost
			}
			tx, err := a.ledger.RecordTransaction(cmd.Context(), pid, model, spent, input, output, operation)
			if err != nil {
				return err
			}
			fmt.Printf("Recorded %s: $%.6f\n", tx.ID, tx.Cost)
			if b := a.router.Profile().Budget; b != nil {
				printWarnings(a.ledger.Warnings(cmd.Context(), b))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "provider:model the spend belongs to")
	cmd.Flags().Float64Var(&spent, "cost", 0, "cost in USD (default: priced from tokens)")
	cmd.Flags().IntVar(&input, "input-tokens", 0, "input tokens")
	cmd.Flags().IntVar(&output, "output-tokens", 0, "output tokens")
	cmd.Flags().StringVar(&operation, "operation", models.CallChat, "operation label")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
