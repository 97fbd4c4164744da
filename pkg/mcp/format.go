package mcp

import (
	"fmt"
	"strings"

	"github.com/pario-ai/dispatch/pkg/models"
	"github.com/pario-ai/dispatch/pkg/router"
)

// formatResult formats a routing decision.
func formatResult(r *models.RoutingResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Route: %s:%s\n", r.ProviderID, r.ModelName)
	fmt.Fprintf(&b, "  Rule:  %s (score %d)\n", r.RuleID(), r.Score)
	fmt.Fprintf(&b, "  Mode:  %s\n", r.Mode)
	fmt.Fprintf(&b, "  Call:  %s\n", r.Call)
	if r.EstimatedCost != nil {
		fmt.Fprintf(&b, "  Cost:  $%.6f (%d in / %d out tokens)\n",
			r.EstimatedCost.TotalCost, r.EstimatedCost.InputTokens, r.EstimatedCost.OutputTokens)
	}
	writeReasoning(&b, r.Reasoning)
	return b.String()
}

// formatNoRoute formats a rejected request with each attempt.
func formatNoRoute(e *models.NoAvailableRouteError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "No available route (rule %s).\n", e.RuleID)
	if len(e.Attempts) == 0 {
		b.WriteString("  No candidates survived the routing mode.\n")
	}
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "  %s:%s  %s\n", a.ProviderID, a.ModelName, a.Reason)
	}
	writeReasoning(&b, e.Reasoning)
	return b.String()
}

// formatSimulation formats a dry-run as a text table.
func formatSimulation(sim *router.Simulation) string {
	var b strings.Builder
	if sim.Result != nil {
		fmt.Fprintf(&b, "Selected: %s:%s (rule %s)\n\n", sim.Result.ProviderID, sim.Result.ModelName, sim.Result.RuleID())
	} else {
		b.WriteString("Selected: none\n\n")
	}

	fmt.Fprintf(&b, "%-30s %9s %12s  %s\n", "Candidate", "Available", "Est. Cost", "Reason")
	b.WriteString(strings.Repeat("-", 72) + "\n")
	for _, a := range sim.Alternatives {
		avail := "no"
		if a.Available {
			avail = "yes"
		}
		fmt.Fprintf(&b, "%-30s %9s %12.6f  %s\n", a.ProviderID+":"+a.ModelName, avail, a.Cost, a.Reason)
	}

	if len(sim.Rules) > 0 {
		b.WriteString("\nRule scores:\n")
		for _, rs := range sim.Rules {
			fmt.Fprintf(&b, "  %-20s %4d  matched=%t\n", rs.RuleID, rs.Score, rs.Matched)
		}
	}
	for _, w := range sim.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}
	writeReasoning(&b, sim.Reasoning)
	return b.String()
}

// formatModels formats the model catalog as a text table.
func formatModels(list []router.ModelInfo) string {
	if len(list) == 0 {
		return "No models found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-30s %-14s %5s %10s %10s  %s\n", "Model", "Kind", "Local", "In $/MTok", "Out $/MTok", "Capabilities")
	b.WriteString(strings.Repeat("-", 90) + "\n")
	for _, m := range list {
		in, out := "-", "-"
		if m.Pricing != nil {
			in = fmt.Sprintf("%.2f", m.Pricing.InputPerMTok)
			out = fmt.Sprintf("%.2f", m.Pricing.OutputPerMTok)
		}
		fmt.Fprintf(&b, "%-30s %-14s %5t %10s %10s  %s\n",
			m.Target(), m.Kind, m.Local, in, out, strings.Join(m.Capabilities, ","))
	}
	return b.String()
}

// formatBudget formats ledger usage against the configured ceilings.
func formatBudget(u models.BudgetUsage, cfg *models.BudgetConfig, warnings []string) string {
	var b strings.Builder
	b.WriteString("Budget Status\n")
	fmt.Fprintf(&b, "  Today (%s): $%.4f%s\n", u.LastReset, u.DailySpent, ceiling(cfg, models.BudgetDaily))
	fmt.Fprintf(&b, "  This month:  $%.4f%s\n", u.MonthlySpent, ceiling(cfg, models.BudgetMonthly))
	fmt.Fprintf(&b, "  Transactions: %d\n", len(u.Transactions))
	if cfg != nil {
		fmt.Fprintf(&b, "  Hard stop:   %t\n", cfg.HardStop)
	}
	for _, w := range warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}
	return b.String()
}

func ceiling(cfg *models.BudgetConfig, period models.BudgetPeriod) string {
	if cfg == nil {
		return ""
	}
	limit := cfg.DailyUSD
	if period == models.BudgetMonthly {
		limit = cfg.MonthlyUSD
	}
	if limit == nil {
		return " (no limit)"
	}
	return fmt.Sprintf(" of $%.2f", *limit)
}

// formatStats formats spending breakdowns as text tables.
func formatStats(st models.SpendingStats) string {
	if st.TransactionCount == 0 {
		return "No transactions recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Total: $%.4f over %d transactions (avg $%.4f)\n",
		st.TotalSpent, st.TransactionCount, st.AveragePerTransaction)
	writeBreakdown(&b, "By provider", st.ByProvider)
	writeBreakdown(&b, "By model", st.ByModel)
	writeBreakdown(&b, "By day", st.ByDay)
	return b.String()
}

func writeBreakdown(b *strings.Builder, title string, rows []models.SpendBreakdown) {
	fmt.Fprintf(b, "\n%s\n", title)
	fmt.Fprintf(b, "  %-30s %12s %6s\n", "Key", "Cost", "Count")
	for _, r := range rows {
		fmt.Fprintf(b, "  %-30s %12.4f %6d\n", r.Key, r.Cost, r.Count)
	}
}

// formatAuditEntries formats routing decisions as a text table.
func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No routing decisions found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-38s %-16s %-30s %8s %6s\n",
		"Time", "Request ID", "Rule", "Target", "Outcome", "Score")
	b.WriteString(strings.Repeat("-", 124) + "\n")
	for _, e := range entries {
		target := "-"
		if e.ProviderID != "" {
			target = e.ProviderID + ":" + e.ModelName
		}
		fmt.Fprintf(&b, "%-20s %-38s %-16s %-30s %8s %6d\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.RequestID, e.RuleID, target, e.Outcome, e.Score)
	}
	return b.String()
}

func writeReasoning(b *strings.Builder, reasoning []string) {
	if len(reasoning) == 0 {
		return
	}
	b.WriteString("Reasoning:\n")
	for _, r := range reasoning {
		fmt.Fprintf(b, "  - %s\n", r)
	}
}
