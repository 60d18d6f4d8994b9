package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonthlySummary aggregates an owner's real transactions for one month.
type MonthlySummary struct {
	Year    int             `json:"year"`
	Month   time.Month      `json:"month"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	Net     decimal.Decimal `json:"net"`
	Count   int             `json:"count"`
}

// GenerationStats is a point-in-time snapshot of the engine's counters,
// used by the worker's periodic log line.
type GenerationStats struct {
	StatementsCreated float64 `json:"statements_created"`
	SkippedExisting   float64 `json:"skipped_existing"`
	SkippedEmpty      float64 `json:"skipped_empty"`
	EffectsApplied    float64 `json:"effects_applied"`
	EffectsDuplicate  float64 `json:"effects_duplicate"`
	EffectsFailed     float64 `json:"effects_failed"`
}
