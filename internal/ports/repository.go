package ports

import (
	"context"
	"time"

	"flipperBot/internal/domain"
)

// PositionStore defines durable persistence for positions. The current
// position for a symbol is the latest row; earlier rows are retained as
// flip history and never deleted.
type PositionStore interface {
	// CreatePosition saves a new position row and returns its ID.
	CreatePosition(ctx context.Context, pos *domain.Position) (int64, error)
	// UpdatePosition modifies an existing position row.
	UpdatePosition(ctx context.Context, pos *domain.Position) error
	// CurrentPosition retrieves the latest position row for a symbol.
	// Returns nil, nil when the symbol has never been referenced.
	CurrentPosition(ctx context.Context, symbol string) (*domain.Position, error)
	// PositionByID retrieves a position by its unique ID.
	// Returns nil, nil if not found.
	PositionByID(ctx context.Context, id int64) (*domain.Position, error)
	// PositionHistory retrieves the most recent position rows for a
	// symbol, newest first, up to limit (0 for all).
	PositionHistory(ctx context.Context, symbol string, limit int) ([]*domain.Position, error)
	// Flips assembles completed flip summaries, newest first. An empty
	// symbol selects all symbols.
	Flips(ctx context.Context, symbol string, limit int) ([]*domain.Flip, error)
	// LastFlipTime returns when the symbol last returned to flat, for
	// cooldown checks. Zero time when it never has.
	LastFlipTime(ctx context.Context, symbol string) (time.Time, error)
	// TotalPNL sums realized PNL over all closed positions.
	TotalPNL(ctx context.Context) (float64, error)
}

// IntentStore defines persistence for order intents and their fills.
// Fills are append-only.
type IntentStore interface {
	// CreateIntent saves a new intent. At most one non-terminal intent
	// may exist per symbol; a second returns ErrIntentOutstanding.
	CreateIntent(ctx context.Context, intent *domain.OrderIntent) error
	// UpdateIntent persists status/fill progress for an intent.
	UpdateIntent(ctx context.Context, intent *domain.OrderIntent) error
	// OutstandingIntent retrieves the symbol's non-terminal intent.
	// Returns nil, nil when there is none.
	OutstandingIntent(ctx context.Context, symbol string) (*domain.OrderIntent, error)
	// IntentByID retrieves an intent by its idempotency key.
	// Returns nil, nil if not found.
	IntentByID(ctx context.Context, id string) (*domain.OrderIntent, error)
	// ApplyFill appends the fill, updates its intent, and writes the
	// resulting position in a single transaction; a crash between the
	// three writes is impossible to observe. A fill whose exchange
	// trade ID was already recorded returns ErrDuplicateEntry and
	// changes nothing.
	ApplyFill(ctx context.Context, fill domain.Fill, intent *domain.OrderIntent, pos *domain.Position) error
	// FillsByIntent retrieves the fills applied to one intent, oldest first.
	FillsByIntent(ctx context.Context, intentID string) ([]domain.Fill, error)
	// FillsByPosition retrieves every fill attributed to a position row,
	// oldest first, for net-size recomputation.
	FillsByPosition(ctx context.Context, positionID int64) ([]domain.Fill, error)
}

// PairStore defines persistence for per-symbol trading configuration.
type PairStore interface {
	// UpsertPair inserts or replaces a pair's configuration.
	UpsertPair(ctx context.Context, pair *domain.Pair) error
	// Pair retrieves one symbol's configuration. Returns nil, nil if absent.
	Pair(ctx context.Context, symbol string) (*domain.Pair, error)
	// ListPairs retrieves all configured pairs ordered by symbol.
	ListPairs(ctx context.Context) ([]*domain.Pair, error)
	// SetPairEnabled toggles trading for a symbol.
	SetPairEnabled(ctx context.Context, symbol string, enabled bool) error
}

// Store aggregates the persistence contracts backed by one database.
type Store interface {
	PositionStore
	IntentStore
	PairStore
	// Close releases the underlying handle.
	Close() error
}
