// Package cost is the append-only audit trail of provider calls. Every
// completed model call writes one immutable usage record; everything else in
// the package is a pure read over those records.
package cost

import (
	"database/sql"
	"time"
)

// Pricing holds the per-model price per 1K tokens.
type Pricing struct {
	InPer1K  float64
	OutPer1K float64
}

// CostFor computes the monetary cost of one call.
func (p Pricing) CostFor(promptTokens, completionTokens int64) float64 {
	return float64(promptTokens)/1000*p.InPer1K + float64(completionTokens)/1000*p.OutPer1K
}

type Ledger struct {
	db      *sql.DB
	pricing Pricing
}

func NewLedger(db *sql.DB, pricing Pricing) *Ledger {
	return &Ledger{db: db, pricing: pricing}
}

func (l *Ledger) Pricing() Pricing {
	return l.pricing
}

// Record appends one usage entry. Cost is derived from the pricing table;
// records are never updated or deleted afterwards.
func (l *Ledger) Record(operation string, promptTokens, completionTokens int64, metadata string) error {
	_, err := l.db.Exec(
		`INSERT INTO usage_log (operation, prompt_tokens, completion_tokens, cost, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		operation, promptTokens, completionTokens,
		l.pricing.CostFor(promptTokens, completionTokens),
		metadata, time.Now().UTC(),
	)
	return err
}

func (l *Ledger) TotalCost(start, end time.Time) (float64, error) {
	var total float64
	err := l.db.QueryRow(
		`SELECT COALESCE(SUM(cost), 0) FROM usage_log
		 WHERE created_at >= ? AND created_at < ?`,
		start, end,
	).Scan(&total)
	return total, err
}

type UsageStats struct {
	RequestCount     int                `json:"request_count"`
	PromptTokens     int64              `json:"prompt_tokens"`
	CompletionTokens int64              `json:"completion_tokens"`
	CostTotal        float64            `json:"cost_total"`
	CostPerOperation map[string]float64 `json:"cost_per_operation"`
}

func (l *Ledger) Stats(start, end time.Time) (UsageStats, error) {
	stats := UsageStats{CostPerOperation: make(map[string]float64)}

	err := l.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0),
		        COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(cost), 0)
		 FROM usage_log WHERE created_at >= ? AND created_at < ?`,
		start, end,
	).Scan(&stats.RequestCount, &stats.PromptTokens, &stats.CompletionTokens, &stats.CostTotal)
	if err != nil {
		return stats, err
	}

	rows, err := l.db.Query(
		`SELECT operation, SUM(cost) FROM usage_log
		 WHERE created_at >= ? AND created_at < ?
		 GROUP BY operation`,
		start, end,
	)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var op string
		var c float64
		if err := rows.Scan(&op, &c); err != nil {
			return stats, err
		}
		stats.CostPerOperation[op] = c
	}
	return stats, rows.Err()
}

// TodayCost returns cost accumulated since local midnight.
func (l *Ledger) TodayCost(now time.Time) (float64, error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return l.TotalCost(midnight.UTC(), now.UTC())
}

// MonthlyProjection extrapolates month-to-date spend across the full month.
func (l *Ledger) MonthlyProjection(now time.Time) (float64, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	spent, err := l.TotalCost(monthStart.UTC(), now.UTC())
	if err != nil {
		return 0, err
	}
	daysElapsed := now.Sub(monthStart).Hours() / 24
	if daysElapsed <= 0 {
		return spent, nil
	}
	daysInMonth := float64(time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, now.Location()).Day())
	return spent / daysElapsed * daysInMonth, nil
}
