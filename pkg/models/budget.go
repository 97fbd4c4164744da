package models

import "time"

// BudgetPeriod identifies a spend window.
type BudgetPeriod string

const (
	BudgetDaily   BudgetPeriod = "daily"
	BudgetMonthly BudgetPeriod = "monthly"
)

// DefaultWarningThreshold is the warning percentage used when none is configured.
const DefaultWarningThreshold = 80.0

// BudgetConfig defines spend ceilings for a profile. A nil ceiling imposes no limit.
type BudgetConfig struct {
	DailyUSD         *float64 `json:"daily_usd,omitempty" yaml:"daily_usd,omitempty" toml:"daily_usd,omitempty" validate:"omitempty,gte=0"`
	MonthlyUSD       *float64 `json:"monthly_usd,omitempty" yaml:"monthly_usd,omitempty" toml:"monthly_usd,omitempty" validate:"omitempty,gte=0"`
	WarningThreshold float64  `json:"warning_threshold,omitempty" yaml:"warning_threshold" toml:"warning_threshold" validate:"gte=0,lte=100"`
	HardStop         bool     `json:"hard_stop" yaml:"hard_stop" toml:"hard_stop"`
}

// Threshold returns the warning threshold as a fraction.
func (b BudgetConfig) Threshold() float64 {
	if b.WarningThreshold <= 0 {
		return DefaultWarningThreshold / 100
	}
	return b.WarningThreshold / 100
}

// Transaction is one recorded spend. Transactions are appended and pruned, never edited.
type Transaction struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Cost         float64   `json:"cost"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Operation    string    `json:"operation"`
}

// BudgetUsage is the persisted ledger state.
type BudgetUsage struct {
	DailySpent   float64       `json:"daily_spent"`
	MonthlySpent float64       `json:"monthly_spent"`
	LastReset    string        `json:"last_reset"`
	Transactions []Transaction `json:"transactions"`
}

// BudgetCheck is the outcome of a pre-flight limit check.
type BudgetCheck struct {
	Allowed      bool         `json:"allowed"`
	Reason       string       `json:"reason,omitempty"`
	Period       BudgetPeriod `json:"period,omitempty"`
	CurrentUsage BudgetUsage  `json:"current_usage"`
}

// SpendBreakdown is one aggregated row of a spending breakdown.
type SpendBreakdown struct {
	Key   string  `json:"key"`
	Cost  float64 `json:"cost"`
	Count int     `json:"count"`
}

// SpendingStats aggregates the transaction log.
type SpendingStats struct {
	TotalSpent            float64          `json:"total_spent"`
	TransactionCount      int              `json:"transaction_count"`
	AveragePerTransaction float64          `json:"average_per_transaction"`
	ByProvider            []SpendBreakdown `json:"by_provider"`
	ByModel               []SpendBreakdown `json:"by_model"`
	ByDay                 []SpendBreakdown `json:"by_day"`
}

// ExportSummary summarises an export.
type ExportSummary struct {
	TotalCost float64   `json:"total_cost"`
	Count     int       `json:"count"`
	From      time.Time `json:"from,omitzero"`
	To        time.Time `json:"to,omitzero"`
}

// TransactionExport is the result of exporting the ledger.
type TransactionExport struct {
	Transactions []Transaction `json:"transactions"`
	Summary      ExportSummary `json:"summary"`
}
