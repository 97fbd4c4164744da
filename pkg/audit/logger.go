// Package audit keeps a queryable SQLite log of routing decisions.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/dispatch/pkg/models"
)

// DefaultLimit caps Query when no limit is given.
const DefaultLimit = 100

// retentionInterval is how often expired decisions are pruned.
const retentionInterval = time.Hour

var schema = []string{
	`CREATE TABLE IF NOT EXISTS decisions (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id  TEXT NOT NULL,
		profile     TEXT NOT NULL,
		rule_id     TEXT NOT NULL,
		mode        TEXT NOT NULL,
		provider_id TEXT,
		model_name  TEXT,
		score       INTEGER NOT NULL,
		outcome     TEXT NOT NULL,
		reasoning   TEXT,
		prompt_hash TEXT,
		latency_ms  INTEGER,
		created_at  DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_request ON decisions(request_id)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_rule ON decisions(rule_id)`,
}

const selectColumns = `request_id, profile, rule_id, mode, provider_id, model_name,
	score, outcome, reasoning, prompt_hash, latency_ms, created_at`

// Logger records routing decisions. It satisfies router.DecisionRecorder.
type Logger struct {
	db        *sql.DB
	retention int
	logger    *zap.Logger

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures a Logger.
type Option func(*Logger)

// WithLogger sets the logger used for background retention failures.
func WithLogger(l *zap.Logger) Option {
	return func(a *Logger) { a.logger = l }
}

// New opens (creating if needed) the audit database at cfg.DBPath. A positive
// RetentionDays starts an hourly pruning goroutine that Close stops.
func New(cfg models.AuditConfig, opts ...Option) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate audit db: %w", err)
		}
	}

	l := &Logger{
		db:        db,
		retention: cfg.RetentionDays,
		logger:    zap.NewNop(),
		stop:      make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if l.retention > 0 {
		l.wg.Add(1)
		go l.prune()
	}
	return l, nil
}

// Log inserts one decision. A nil Logger discards entries.
func (l *Logger) Log(ctx context.Context, e models.AuditEntry) error {
	if l == nil || l.db == nil {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	reasoning, err := json.Marshal(e.Reasoning)
	if err != nil {
		return fmt.Errorf("encode reasoning: %w", err)
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO decisions (`+selectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Profile, e.RuleID, e.Mode, e.ProviderID, e.ModelName,
		e.Score, e.Outcome, string(reasoning), e.PromptHash, e.LatencyMs, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// filter builds the WHERE clause for Query.
func filter(opts models.AuditQueryOpts) (string, []any) {
	var (
		conds []string
		args  []any
	)
	eq := func(col, v string) {
		if v != "" {
			conds = append(conds, col+" = ?")
			args = append(args, v)
		}
	}
	eq("request_id", opts.RequestID)
	eq("rule_id", opts.RuleID)
	eq("provider_id", opts.ProviderID)
	eq("outcome", opts.Outcome)
	if !opts.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, opts.Since.UTC())
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query returns decisions matching opts, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	where, args := filter(opts)
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM decisions`+where+` ORDER BY created_at DESC, id DESC LIMIT ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (models.AuditEntry, error) {
	var (
		e                            models.AuditEntry
		providerID, model, why, hash sql.NullString
		latency                      sql.NullInt64
	)
	if err := rows.Scan(&e.RequestID, &e.Profile, &e.RuleID, &e.Mode, &providerID, &model,
		&e.Score, &e.Outcome, &why, &hash, &latency, &e.CreatedAt); err != nil {
		return e, fmt.Errorf("scan audit row: %w", err)
	}
	e.ProviderID = providerID.String
	e.ModelName = model.String
	e.PromptHash = hash.String
	e.LatencyMs = latency.Int64
	if why.String != "" {
		_ = json.Unmarshal([]byte(why.String), &e.Reasoning)
	}
	return e, nil
}

// Stats counts routed decisions per provider, model and UTC day, newest day first.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT provider_id, model_name, date(created_at) AS day, count(*)
		 FROM decisions WHERE outcome = ?
		 GROUP BY provider_id, model_name, day
		 ORDER BY day DESC, provider_id, model_name`, models.OutcomeRouted)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var (
			st                     models.AuditStat
			providerID, model, day sql.NullString
		)
		if err := rows.Scan(&providerID, &model, &day, &st.Count); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		st.ProviderID, st.ModelName, st.Day = providerID.String, model.String, day.String
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Cleanup deletes decisions older than the retention period and returns how
// many were removed. A zero retention keeps everything.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	if l.retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -l.retention)
	res, err := l.db.ExecContext(ctx, `DELETE FROM decisions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops pruning and closes the database. It is safe to call twice.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() { close(l.stop) })
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) prune() {
	defer l.wg.Done()
	t := time.NewTicker(retentionInterval)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			n, err := l.Cleanup(context.Background())
			if err != nil {
				l.logger.Warn("audit retention", zap.Error(err))
				continue
			}
			if n > 0 {
				l.logger.Debug("audit retention", zap.Int64("removed", n))
			}
		}
	}
}
