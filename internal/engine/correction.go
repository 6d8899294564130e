package engine

import "flipperBot/internal/domain"

// CorrectionKind discriminates reconciliation corrections. Corrections
// only align local records with exchange-reported truth; none of them
// submits an order.
type CorrectionKind string

const (
	// CorrectionApplyFill applies an execution the exchange reported but
	// the local store missed (crash or dropped stream event).
	CorrectionApplyFill CorrectionKind = "apply_fill"
	// CorrectionResolveIntent terminates an outstanding intent the
	// exchange reports as rejected or canceled, reverting the position
	// to its pre-transition state.
	CorrectionResolveIntent CorrectionKind = "resolve_intent"
	// CorrectionMarkFlat flags the position flat with the divergence
	// bit set: the exchange shows no exposure where the store expected
	// some. No fill is fabricated.
	CorrectionMarkFlat CorrectionKind = "mark_flat"
	// CorrectionAdoptExternal records a position the exchange holds but
	// the store has no record of. The adopted row is flagged external;
	// the engine does not assume ownership of it.
	CorrectionAdoptExternal CorrectionKind = "adopt_external"
	// CorrectionFlagDivergence marks the position divergent without
	// changing it: both sides show exposure but disagree on the details.
	// Surfaced for manual review.
	CorrectionFlagDivergence CorrectionKind = "flag_divergence"
)

// Correction is one reconciliation instruction for a symbol's worker.
type Correction struct {
	Kind CorrectionKind

	// Fill is set for CorrectionApplyFill.
	Fill *domain.Fill

	// IntentStatus and Reason are set for CorrectionResolveIntent.
	IntentStatus domain.IntentStatus
	Reason       string

	// Snapshot is set for CorrectionMarkFlat and CorrectionAdoptExternal.
	Snapshot *domain.ExchangeSnapshot
}
