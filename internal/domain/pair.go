package domain

import "time"

// Pair is the per-symbol trading configuration. Pairs are stored in the
// repository and editable at runtime through the control surface; the
// engine only trades symbols whose pair is enabled.
type Pair struct {
	Symbol        string
	Leverage      int
	TakeProfitPct float64 // Exit when unrealized profit reaches this percent of entry
	StopLossPct   float64 // Exit when unrealized loss reaches this percent of entry
	CooldownSec   int     // Minimum seconds between flips on this symbol
	Enabled       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Cooldown returns the configured cooldown as a duration.
func (p *Pair) Cooldown() time.Duration {
	return time.Duration(p.CooldownSec) * time.Second
}
