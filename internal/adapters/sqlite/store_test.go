package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"flipperBot/internal/domain"
	"flipperBot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "flipper-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := NewStore(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

// seedOpening creates a position row in opening state with a submitted
// open intent, the shape the engine persists right after submission.
func seedOpening(t *testing.T, store *Store, symbol string, size float64) (*domain.Position, *domain.OrderIntent) {
	t.Helper()
	ctx := context.Background()

	pos := domain.NewFlatPosition(symbol)
	pos.State = domain.StateOpening
	pos.Side = domain.SideLong
	pos.Leverage = 5
	_, err := store.CreatePosition(ctx, pos)
	require.NoError(t, err)

	intent := domain.NewOrderIntent(symbol, domain.Buy, domain.KindOpen, size)
	intent.PositionID = pos.ID
	intent.Status = domain.IntentSubmitted
	require.NoError(t, store.CreateIntent(ctx, intent))

	return pos, intent
}

func TestStore_CreateAndFindPosition(t *testing.T) {
	tests := []struct {
		name string
		pos  *domain.Position
	}{
		{
			name: "flat position on first reference",
			pos:  domain.NewFlatPosition("BTCUSDT"),
		},
		{
			name: "open long position",
			pos: &domain.Position{
				Symbol:     "ETHUSDT",
				Side:       domain.SideLong,
				Size:       1.0,
				EntryPrice: 2000.0,
				Leverage:   4,
				State:      domain.StateOpen,
				OpenedAt:   time.Now().UTC(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, cleanup := setupTestDB(t)
			defer cleanup()

			ctx := context.Background()

			id, err := store.CreatePosition(ctx, tt.pos)
			require.NoError(t, err)
			assert.Greater(t, id, int64(0))

			found, err := store.PositionByID(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, found)

			assert.Equal(t, tt.pos.Symbol, found.Symbol)
			assert.Equal(t, tt.pos.Side, found.Side)
			assert.Equal(t, tt.pos.Size, found.Size)
			assert.Equal(t, tt.pos.State, found.State)
			assert.Equal(t, tt.pos.Leverage, found.Leverage)

			current, err := store.CurrentPosition(ctx, tt.pos.Symbol)
			require.NoError(t, err)
			require.NotNil(t, current)
			assert.Equal(t, id, current.ID)
		})
	}
}

func TestStore_CurrentPositionIsLatestRow(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	first := domain.NewFlatPosition("BTCUSDT")
	first.CloseReason = domain.CloseReasonSignal
	first.OpenedAt = time.Now().UTC().Add(-time.Hour)
	first.ClosedAt = time.Now().UTC().Add(-30 * time.Minute)
	_, err := store.CreatePosition(ctx, first)
	require.NoError(t, err)

	second := &domain.Position{
		Symbol: "BTCUSDT",
		Side:   domain.SideShort,
		Size:   2.0,
		State:  domain.StateOpen,
	}
	_, err = store.CreatePosition(ctx, second)
	require.NoError(t, err)

	current, err := store.CurrentPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, second.ID, current.ID)
	assert.Equal(t, domain.SideShort, current.Side)

	// History keeps both rows, newest first.
	history, err := store.PositionHistory(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)

	// Unknown symbol has no record.
	missing, err := store.CurrentPosition(ctx, "XRPUSDT")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_UpdatePosition(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	pos := domain.NewFlatPosition("ETHUSDT")
	_, err := store.CreatePosition(ctx, pos)
	require.NoError(t, err)

	pos.State = domain.StateOpening
	pos.Side = domain.SideLong
	pos.Leverage = 3
	require.NoError(t, store.UpdatePosition(ctx, pos))

	found, err := store.PositionByID(ctx, pos.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.StateOpening, found.State)
	assert.Equal(t, domain.SideLong, found.Side)

	// Divergence flag round-trips.
	pos.Divergence = true
	pos.State = domain.StateFlat
	pos.CloseReason = domain.CloseReasonDivergence
	require.NoError(t, store.UpdatePosition(ctx, pos))

	found, err = store.PositionByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, found.Divergence)
	assert.Equal(t, domain.CloseReasonDivergence, found.CloseReason)

	// Updating a row that does not exist reports ErrNotFound.
	ghost := &domain.Position{ID: 999, Symbol: "ETHUSDT", Side: domain.SideFlat, State: domain.StateFlat}
	err = store.UpdatePosition(ctx, ghost)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestStore_OutstandingIntentInvariant(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	pos, first := seedOpening(t, store, "BTCUSDT", 1.0)

	// A second non-terminal intent for the same symbol is rejected.
	second := domain.NewOrderIntent("BTCUSDT", domain.Sell, domain.KindClose, 1.0)
	second.PositionID = pos.ID
	err := store.CreateIntent(ctx, second)
	assert.ErrorIs(t, err, ports.ErrIntentOutstanding)

	// Another symbol is unaffected.
	otherPos := domain.NewFlatPosition("ETHUSDT")
	_, err = store.CreatePosition(ctx, otherPos)
	require.NoError(t, err)
	other := domain.NewOrderIntent("ETHUSDT", domain.Buy, domain.KindOpen, 2.0)
	other.PositionID = otherPos.ID
	require.NoError(t, store.CreateIntent(ctx, other))

	// Once the first intent reaches a terminal status the symbol is free again.
	first.Status = domain.IntentCanceled
	first.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.UpdateIntent(ctx, first))

	replacement := domain.NewOrderIntent("BTCUSDT", domain.Buy, domain.KindOpen, 1.0)
	replacement.PositionID = pos.ID
	require.NoError(t, store.CreateIntent(ctx, replacement))

	outstanding, err := store.OutstandingIntent(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, outstanding)
	assert.Equal(t, replacement.ID, outstanding.ID)
}

func TestStore_ApplyFill(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	pos, intent := seedOpening(t, store, "BTCUSDT", 1.0)

	fill := domain.Fill{
		IntentID: intent.ID,
		Symbol:   "BTCUSDT",
		Side:     domain.Buy,
		Size:     1.0,
		Price:    40000.0,
		Fee:      0.4,
		TradeID:  "t-1",
		Time:     time.Now().UTC(),
	}
	require.True(t, intent.ApplyFill(fill))

	pos.State = domain.StateOpen
	pos.Size = 1.0
	pos.EntryPrice = 40000.0
	pos.OpenedAt = fill.Time

	require.NoError(t, store.ApplyFill(ctx, fill, intent, pos))

	// All three records landed together.
	gotIntent, err := store.IntentByID(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentFilled, gotIntent.Status)
	assert.Equal(t, 1.0, gotIntent.FilledSize)

	gotPos, err := store.PositionByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateOpen, gotPos.State)
	assert.Equal(t, 1.0, gotPos.Size)

	fills, err := store.FillsByIntent(ctx, intent.ID)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "t-1", fills[0].TradeID)
}

func TestStore_ApplyFillDeduplicatesTradeID(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	pos, intent := seedOpening(t, store, "BTCUSDT", 2.0)

	fill := domain.Fill{
		IntentID: intent.ID,
		Symbol:   "BTCUSDT",
		Side:     domain.Buy,
		Size:     1.0,
		Price:    40000.0,
		TradeID:  "t-42",
		Time:     time.Now().UTC(),
	}
	require.True(t, intent.ApplyFill(fill))
	pos.Size = 1.0
	require.NoError(t, store.ApplyFill(ctx, fill, intent, pos))

	// Replaying the same execution changes nothing.
	replay := intent
	replay.FilledSize = 2.0
	err := store.ApplyFill(ctx, fill, replay, pos)
	assert.ErrorIs(t, err, ports.ErrDuplicateEntry)

	gotIntent, err := store.IntentByID(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, gotIntent.FilledSize)

	fills, err := store.FillsByIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Len(t, fills, 1)
}

func TestStore_NetSizeRecomputedFromFills(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	pos, openIntent := seedOpening(t, store, "BTCUSDT", 2.0)

	// Two partial entry fills.
	for i, f := range []domain.Fill{
		{IntentID: openIntent.ID, Symbol: "BTCUSDT", Side: domain.Buy, Size: 1.5, Price: 40000, TradeID: "t-1", Time: time.Now().UTC()},
		{IntentID: openIntent.ID, Symbol: "BTCUSDT", Side: domain.Buy, Size: 0.5, Price: 40100, TradeID: "t-2", Time: time.Now().UTC()},
	} {
		require.True(t, openIntent.ApplyFill(f), "fill %d", i)
		pos.Size = openIntent.FilledSize
		require.NoError(t, store.ApplyFill(ctx, f, openIntent, pos))
	}

	// Close intent fully fills in one execution.
	closeIntent := domain.NewOrderIntent("BTCUSDT", domain.Sell, domain.KindClose, 2.0)
	closeIntent.PositionID = pos.ID
	closeIntent.Status = domain.IntentSubmitted
	require.NoError(t, store.CreateIntent(ctx, closeIntent))

	closeFill := domain.Fill{IntentID: closeIntent.ID, Symbol: "BTCUSDT", Side: domain.Sell, Size: 2.0, Price: 40500, TradeID: "t-3", Time: time.Now().UTC()}
	require.True(t, closeIntent.ApplyFill(closeFill))
	pos.Size = 0
	pos.State = domain.StateFlat
	require.NoError(t, store.ApplyFill(ctx, closeFill, closeIntent, pos))

	// The recomputed net over every fill of the cycle is exactly zero.
	fills, err := store.FillsByPosition(ctx, pos.ID)
	require.NoError(t, err)
	require.Len(t, fills, 3)
	assert.Equal(t, 0.0, domain.NetSize(fills))

	// And recomputing is idempotent.
	again, err := store.FillsByPosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NetSize(fills), domain.NetSize(again))
}

func TestStore_Pairs(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	pair := &domain.Pair{
		Symbol:        "BTCUSDT",
		Leverage:      5,
		TakeProfitPct: 1.2,
		StopLossPct:   0.8,
		CooldownSec:   60,
		Enabled:       true,
	}
	require.NoError(t, store.UpsertPair(ctx, pair))

	got, err := store.Pair(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 5, got.Leverage)
	assert.True(t, got.Enabled)

	// Upsert overwrites config but keeps the row.
	pair.Leverage = 10
	require.NoError(t, store.UpsertPair(ctx, pair))
	got, err = store.Pair(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Leverage)

	require.NoError(t, store.SetPairEnabled(ctx, "BTCUSDT", false))
	got, err = store.Pair(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	err = store.SetPairEnabled(ctx, "DOGEUSDT", true)
	assert.ErrorIs(t, err, ports.ErrNotFound)

	require.NoError(t, store.UpsertPair(ctx, &domain.Pair{Symbol: "ETHUSDT", Leverage: 3}))
	pairs, err := store.ListPairs(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "BTCUSDT", pairs[0].Symbol)
	assert.Equal(t, "ETHUSDT", pairs[1].Symbol)
}

func TestStore_FlipsAndPNL(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	pos, intent := seedOpening(t, store, "BTCUSDT", 1.0)

	entry := domain.Fill{IntentID: intent.ID, Symbol: "BTCUSDT", Side: domain.Buy, Size: 1.0, Price: 40000, Fee: 0.4, TradeID: "t-1", Time: time.Now().UTC().Add(-time.Minute)}
	require.True(t, intent.ApplyFill(entry))
	pos.Size = 1.0
	pos.EntryPrice = 40000
	pos.State = domain.StateOpen
	pos.OpenedAt = entry.Time
	require.NoError(t, store.ApplyFill(ctx, entry, intent, pos))

	closeIntent := domain.NewOrderIntent("BTCUSDT", domain.Sell, domain.KindClose, 1.0)
	closeIntent.PositionID = pos.ID
	closeIntent.Status = domain.IntentSubmitted
	require.NoError(t, store.CreateIntent(ctx, closeIntent))

	exit := domain.Fill{IntentID: closeIntent.ID, Symbol: "BTCUSDT", Side: domain.Sell, Size: 1.0, Price: 40500, Fee: 0.4, TradeID: "t-2", Time: time.Now().UTC()}
	require.True(t, closeIntent.ApplyFill(exit))
	pos.Size = 0
	pos.State = domain.StateFlat
	pos.ClosedAt = exit.Time
	pos.CloseReason = domain.CloseReasonTakeProfit
	pos.RealizedPNL = 500
	require.NoError(t, store.ApplyFill(ctx, exit, closeIntent, pos))

	flips, err := store.Flips(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, flips, 1)
	assert.Equal(t, 1.0, flips[0].Size)
	assert.Equal(t, 40000.0, flips[0].EntryPrice)
	assert.Equal(t, 40500.0, flips[0].ExitPrice)
	assert.Equal(t, 500.0, flips[0].PNL)
	assert.Equal(t, 0.8, flips[0].Fees)
	assert.Equal(t, domain.CloseReasonTakeProfit, flips[0].CloseReason)

	total, err := store.TotalPNL(ctx)
	require.NoError(t, err)
	assert.Equal(t, 500.0, total)

	last, err := store.LastFlipTime(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.WithinDuration(t, exit.Time, last, time.Second)
}

func TestStore_SchemaVersionSurvivesReopen(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "flipper-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")
	cfg := Config{DBPath: dbPath, Logger: &mockLogger{}}

	store, err := NewStore(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	pos := domain.NewFlatPosition("BTCUSDT")
	_, err = store.CreatePosition(ctx, pos)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening an existing database must not re-run migrations or lose rows.
	store, err = NewStore(cfg)
	require.NoError(t, err)
	defer store.Close()

	var version int
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, schemaVersion, version)

	current, err := store.CurrentPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, pos.ID, current.ID)
}
