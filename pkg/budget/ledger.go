// Package budget keeps a persistent spend ledger and checks requests against
// daily and monthly ceilings.
package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/pario-ai/dispatch/pkg/models"
	"github.com/pario-ai/dispatch/pkg/store"
)

// DefaultKey is the persistence key used when none is configured.
const DefaultKey = "dispatch.budget.usage"

// DefaultKeepDays is the retention used by CleanupOldTransactions when keepDays <= 0.
const DefaultKeepDays = 30

const dayLayout = "2006-01-02"

// ErrInvalidCost is returned when a transaction carries a negative or non-finite cost.
var ErrInvalidCost = errors.New("invalid transaction cost")

// Listener is notified after a transaction has been persisted.
type Listener func(tx models.Transaction) error

// Option configures a Ledger.
type Option func(*Ledger)

// WithKey sets the persistence key.
func WithKey(key string) Option {
	return func(l *Ledger) { l.key = key }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger tracks spend in a single persisted BudgetUsage document.
type Ledger struct {
	store     store.Store
	transient bool
	key       string
	logger    *zap.Logger
	now       func() time.Time

	lmu       sync.RWMutex
	listeners []Listener
}

// keyLocks serialises read-modify-write cycles per persistence key across
// every Ledger in the process.
var keyLocks sync.Map

func lockFor(key string) *sync.Mutex {
	mu, _ := keyLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// New returns a Ledger over r. If r cannot be written to, the ledger keeps
// writes in memory and Transient reports true.
func New(r store.Reader, opts ...Option) *Ledger {
	l := &Ledger{
		key:    DefaultKey,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}

	switch s := r.(type) {
	case store.Store:
		l.store = s
	default:
		l.store = &readThrough{base: r, mem: store.NewMemory()}
		l.transient = true
		l.logger.Warn("budget store is read-only, spend will not survive a restart",
			zap.String("key", l.key))
	}
	return l
}

// Transient reports whether recorded spend is kept only in memory.
func (l *Ledger) Transient() bool { return l.transient }

// OnTransaction registers fn to run after every persisted transaction.
func (l *Ledger) OnTransaction(fn Listener) {
	l.lmu.Lock()
	defer l.lmu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Usage returns the current ledger state. A missing or unreadable document
// yields empty usage. Daily spend is reset when the UTC day has changed, and
// monthly spend is recomputed from the transaction log.
func (l *Ledger) Usage(ctx context.Context) models.BudgetUsage {
	return l.normalize(l.load(ctx))
}

func (l *Ledger) load(ctx context.Context) models.BudgetUsage {
	var u models.BudgetUsage
	data, err := l.store.Get(ctx, l.key)
	if errors.Is(err, store.ErrNotFound) {
		return u
	}
	if err != nil {
		l.logger.Error("load budget usage", zap.Error(&models.PersistenceError{Op: "get", Key: l.key, Err: err}))
		return u
	}
	if err := json.Unmarshal(data, &u); err != nil {
		l.logger.Error("decode budget usage", zap.Error(&models.PersistenceError{Op: "decode", Key: l.key, Err: err}))
		return models.BudgetUsage{}
	}
	return u
}

func (l *Ledger) normalize(u models.BudgetUsage) models.BudgetUsage {
	now := l.now().UTC()
	today := now.Format(dayLayout)
	if u.LastReset != today {
		u.DailySpent = 0
		u.LastReset = today
	}

	month := now.Format("2006-01")
	u.MonthlySpent = 0
	for _, tx := range u.Transactions {
		if tx.Timestamp.UTC().Format("2006-01") == month {
			u.MonthlySpent += tx.Cost
		}
	}
	if u.Transactions == nil {
		u.Transactions = []models.Transaction{}
	}
	return u
}

func (l *Ledger) persist(ctx context.Context, u models.BudgetUsage) error {
	data, err := json.Marshal(u)
	if err != nil {
		return &models.PersistenceError{Op: "encode", Key: l.key, Err: err}
	}
	if err := l.store.Update(ctx, l.key, data); err != nil {
		return &models.PersistenceError{Op: "update", Key: l.key, Err: err}
	}
	return nil
}

// RecordTransaction appends a transaction and adds its cost to the running
// totals. Listeners run after the write succeeds and cannot fail the call.
func (l *Ledger) RecordTransaction(ctx context.Context, provider, model string, cost float64, inputTokens, outputTokens int, operation string) (models.Transaction, error) {
	if cost < 0 || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return models.Transaction{}, fmt.Errorf("%w: %v", ErrInvalidCost, cost)
	}

	mu := lockFor(l.key)
	mu.Lock()

	now := l.now().UTC()
	u := l.Usage(ctx)
	tx := models.Transaction{
		ID:           ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Timestamp:    now,
		Provider:     provider,
		Model:        model,
		Cost:         cost,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Operation:    operation,
	}
	u.Transactions = append(u.Transactions, tx)
	u.DailySpent += cost
	u.MonthlySpent += cost

	err := l.persist(ctx, u)
	mu.Unlock()
	if err != nil {
		l.logger.Error("persist budget transaction",
			zap.String("provider", provider),
			zap.String("model", model),
			zap.Float64("cost", cost),
			zap.Error(err))
		return models.Transaction{}, err
	}

	l.logger.Debug("recorded transaction",
		zap.String("id", tx.ID),
		zap.String("provider", provider),
		zap.String("model", model),
		zap.Float64("cost", cost))
	l.notify(tx)
	return tx, nil
}

func (l *Ledger) notify(tx models.Transaction) {
	l.lmu.RLock()
	listeners := slices.Clone(l.listeners)
	l.lmu.RUnlock()

	for _, fn := range listeners {
		l.callListener(fn, tx)
	}
}

func (l *Ledger) callListener(fn Listener, tx models.Transaction) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("transaction listener panicked", zap.String("id", tx.ID), zap.Any("panic", r))
		}
	}()
	if err := fn(tx); err != nil {
		l.logger.Warn("transaction listener failed", zap.String("id", tx.ID), zap.Error(err))
	}
}

// CheckBudget reports whether spending estimatedCost would stay within cfg.
// The daily ceiling is checked before the monthly one.
func (l *Ledger) CheckBudget(ctx context.Context, estimatedCost float64, cfg *models.BudgetConfig) models.BudgetCheck {
	u := l.Usage(ctx)
	check := models.BudgetCheck{Allowed: true, CurrentUsage: u}
	if cfg == nil {
		return check
	}

	if cfg.DailyUSD != nil && u.DailySpent+estimatedCost > *cfg.DailyUSD {
		check.Allowed = false
		check.Period = models.BudgetDaily
		check.Reason = fmt.Sprintf("would exceed daily budget of $%.2f (spent $%.4f, estimated $%.4f)",
			*cfg.DailyUSD, u.DailySpent, estimatedCost)
		return check
	}
	if cfg.MonthlyUSD != nil && u.MonthlySpent+estimatedCost > *cfg.MonthlyUSD {
		check.Allowed = false
		check.Period = models.BudgetMonthly
		check.Reason = fmt.Sprintf("would exceed monthly budget of $%.2f (spent $%.4f, estimated $%.4f)",
			*cfg.MonthlyUSD, u.MonthlySpent, estimatedCost)
	}
	return check
}

// Warnings returns advisory messages for every ceiling whose spend ratio has
// reached the warning threshold.
func (l *Ledger) Warnings(ctx context.Context, cfg *models.BudgetConfig) []string {
	if cfg == nil {
		return nil
	}
	u := l.Usage(ctx)
	threshold := cfg.Threshold()

	var out []string
	warn := func(period models.BudgetPeriod, spent float64, ceiling *float64) {
		if ceiling == nil || *ceiling <= 0 {
			return
		}
		ratio := spent / *ceiling
		if ratio >= threshold {
			out = append(out, fmt.Sprintf("%s spend $%.2f is %.0f%% of the $%.2f budget",
				period, spent, ratio*100, *ceiling))
		}
	}
	warn(models.BudgetDaily, u.DailySpent, cfg.DailyUSD)
	warn(models.BudgetMonthly, u.MonthlySpent, cfg.MonthlyUSD)
	return out
}

// SpendingStats aggregates the transaction log.
func (l *Ledger) SpendingStats(ctx context.Context) models.SpendingStats {
	u := l.Usage(ctx)
	stats := models.SpendingStats{TransactionCount: len(u.Transactions)}
	for _, tx := range u.Transactions {
		stats.TotalSpent += tx.Cost
	}
	if stats.TransactionCount > 0 {
		stats.AveragePerTransaction = stats.TotalSpent / float64(stats.TransactionCount)
	}
	stats.ByProvider = breakdown(u.Transactions, func(tx models.Transaction) string { return tx.Provider })
	stats.ByModel = breakdown(u.Transactions, func(tx models.Transaction) string { return tx.Provider + ":" + tx.Model })
	stats.ByDay = breakdown(u.Transactions, func(tx models.Transaction) string { return tx.Timestamp.UTC().Format(dayLayout) })
	return stats
}

// breakdown groups by key, sorted by cost descending with ties in first-seen order.
func breakdown(txs []models.Transaction, key func(models.Transaction) string) []models.SpendBreakdown {
	idx := make(map[string]int)
	out := []models.SpendBreakdown{}
	for _, tx := range txs {
		k := key(tx)
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, models.SpendBreakdown{Key: k})
		}
		out[i].Cost += tx.Cost
		out[i].Count++
	}
	slices.SortStableFunc(out, func(a, b models.SpendBreakdown) int {
		switch {
		case a.Cost > b.Cost:
			return -1
		case a.Cost < b.Cost:
			return 1
		}
		return 0
	})
	return out
}

// CleanupOldTransactions drops transactions older than keepDays and returns
// how many were removed. DailySpent is left as is.
func (l *Ledger) CleanupOldTransactions(ctx context.Context, keepDays int) (int, error) {
	if keepDays <= 0 {
		keepDays = DefaultKeepDays
	}

	mu := lockFor(l.key)
	mu.Lock()
	defer mu.Unlock()

	now := l.now().UTC()
	cutoff := now.AddDate(0, 0, -keepDays)
	u := l.Usage(ctx)

	kept := u.Transactions[:0:0]
	for _, tx := range u.Transactions {
		if !tx.Timestamp.Before(cutoff) {
			kept = append(kept, tx)
		}
	}
	removed := len(u.Transactions) - len(kept)
	u.Transactions = kept
	u = l.normalize(u)

	if err := l.persist(ctx, u); err != nil {
		l.logger.Error("persist budget cleanup", zap.Error(err))
		return 0, err
	}
	l.logger.Info("cleaned up old transactions",
		zap.Int("removed", removed),
		zap.Int("keep_days", keepDays))
	return removed, nil
}

// ExportTransactions returns the log sorted by timestamp with a summary.
func (l *Ledger) ExportTransactions(ctx context.Context) models.TransactionExport {
	u := l.Usage(ctx)
	txs := slices.Clone(u.Transactions)
	slices.SortStableFunc(txs, func(a, b models.Transaction) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	exp := models.TransactionExport{Transactions: txs}
	exp.Summary.Count = len(txs)
	for _, tx := range txs {
		exp.Summary.TotalCost += tx.Cost
	}
	if len(txs) > 0 {
		exp.Summary.From = txs[0].Timestamp
		exp.Summary.To = txs[len(txs)-1].Timestamp
	}
	return exp
}

// readThrough serves reads from memory first, then from a read-only base.
type readThrough struct {
	base store.Reader
	mem  *store.Memory
}

func (r *readThrough) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.mem.Get(ctx, key)
	if err == nil || r.base == nil {
		return v, err
	}
	return r.base.Get(ctx, key)
}

func (r *readThrough) Update(ctx context.Context, key string, value []byte) error {
	return r.mem.Update(ctx, key, value)
}
