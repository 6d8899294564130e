package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"flipperBot/internal/domain"
	"flipperBot/internal/ports"

	"github.com/mattn/go-sqlite3"
)

// schemaVersion is the version this build writes and expects. Opening a
// database written by a newer build fails rather than guessing.
const schemaVersion = 1

// Store implements ports.Store using SQLite.
type Store struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite store.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewStore creates a new SQLite store instance.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite store")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/flipper.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	// Open database connection. WAL keeps readers unblocked while the
	// engine commits fills.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	// A single connection serializes writers; SQLite handles the rest.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	s := &Store{db: db, logger: cfg.Logger}

	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified", map[string]interface{}{"version": schemaVersion})

	return s, nil
}

// schemaV1 is the initial on-disk layout.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS positions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	size REAL NOT NULL DEFAULT 0,
	entry_price REAL NOT NULL DEFAULT 0,
	leverage INTEGER NOT NULL DEFAULT 1,
	state TEXT NOT NULL,
	opened_at TIMESTAMP DEFAULT NULL,
	closed_at TIMESTAMP DEFAULT NULL,
	divergence INTEGER NOT NULL DEFAULT 0,
	external INTEGER NOT NULL DEFAULT 0,
	close_reason TEXT DEFAULT NULL,
	realized_pnl REAL DEFAULT NULL
);

CREATE TABLE IF NOT EXISTS order_intents (
	id TEXT PRIMARY KEY,
	position_id INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	kind TEXT NOT NULL,
	size REAL NOT NULL,
	price REAL NOT NULL DEFAULT 0,
	reduce_only INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	reason TEXT DEFAULT NULL,
	filled_size REAL NOT NULL DEFAULT 0,
	avg_fill_price REAL NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS fills (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	intent_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	size REAL NOT NULL,
	price REAL NOT NULL,
	fee REAL NOT NULL DEFAULT 0,
	trade_id TEXT DEFAULT NULL,
	filled_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS pairs (
	symbol TEXT PRIMARY KEY,
	leverage INTEGER NOT NULL DEFAULT 1,
	take_profit_pct REAL NOT NULL DEFAULT 0,
	stop_loss_pct REAL NOT NULL DEFAULT 0,
	cooldown_sec INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_symbol_id ON positions (symbol, id);
CREATE INDEX IF NOT EXISTS idx_positions_closed_at ON positions (symbol, closed_at);
-- At most one non-terminal intent per symbol.
CREATE UNIQUE INDEX IF NOT EXISTS idx_intents_outstanding ON order_intents (symbol)
	WHERE status IN ('pending','submitted','partially_filled');
CREATE INDEX IF NOT EXISTS idx_intents_position ON order_intents (position_id);
CREATE INDEX IF NOT EXISTS idx_fills_intent ON fills (intent_id);
-- Exchange execution ids dedupe replayed fills.
CREATE UNIQUE INDEX IF NOT EXISTS idx_fills_trade_id ON fills (trade_id)
	WHERE trade_id IS NOT NULL AND trade_id != '';
`

// migrate brings the schema to the current version. Each version's DDL
// runs at most once; the recorded version gates forward migration.
func (s *Store) migrate(ctx context.Context) error {
	const versionTable = `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	);`
	if _, err := s.db.ExecContext(ctx, versionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d: %w", current, schemaVersion, ports.ErrConfigurationError)
	}

	for v := current + 1; v <= schemaVersion; v++ {
		var ddl string
		switch v {
		case 1:
			ddl = schemaV1
		default:
			return fmt.Errorf("no migration defined for schema version %d", v)
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to apply schema version %d: %w", v, err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`, v, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to record schema version %d: %w", v, err)
		}
		s.logger.Info(ctx, "Applied schema migration", map[string]interface{}{"version": v})
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info(context.Background(), "Closing SQLite database connection")
		return s.db.Close()
	}
	return nil
}

// --- PositionStore Implementation ---

const positionColumns = `id, symbol, side, size, entry_price, leverage, state,
	opened_at, closed_at, divergence, external, COALESCE(close_reason, ''), COALESCE(realized_pnl, 0)`

// CreatePosition saves a new position row and returns its assigned ID.
func (s *Store) CreatePosition(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO positions (symbol, side, size, entry_price, leverage, state,
	                       opened_at, closed_at, divergence, external, close_reason, realized_pnl)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		pos.Symbol, pos.Side, pos.Size, pos.EntryPrice, pos.Leverage, pos.State,
		nullTime(pos.OpenedAt), nullTime(pos.ClosedAt), pos.Divergence, pos.External,
		nullString(string(pos.CloseReason)), pos.RealizedPNL)
	if err != nil {
		return 0, fmt.Errorf("failed to insert position for symbol %s: %w: %w", pos.Symbol, ports.ErrQueryFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for position %s: %w: %w", pos.Symbol, ports.ErrQueryFailed, err)
	}
	pos.ID = id
	s.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": id, "symbol": pos.Symbol, "state": pos.State})
	return id, nil
}

// UpdatePosition modifies an existing position row based on its ID.
func (s *Store) UpdatePosition(ctx context.Context, pos *domain.Position) error {
	if err := updatePositionTx(ctx, s.db, pos); err != nil {
		return err
	}
	s.logger.Debug(ctx, "Position updated", map[string]interface{}{"positionID": pos.ID, "symbol": pos.Symbol, "state": pos.State})
	return nil
}

// execer covers *sql.DB and *sql.Tx for shared write helpers.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func updatePositionTx(ctx context.Context, ex execer, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET side = ?, size = ?, entry_price = ?, leverage = ?, state = ?,
	    opened_at = ?, closed_at = ?, divergence = ?, external = ?, close_reason = ?, realized_pnl = ?
	WHERE id = ?`

	result, err := ex.ExecContext(ctx, query,
		pos.Side, pos.Size, pos.EntryPrice, pos.Leverage, pos.State,
		nullTime(pos.OpenedAt), nullTime(pos.ClosedAt), pos.Divergence, pos.External,
		nullString(string(pos.CloseReason)), pos.RealizedPNL,
		pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update position ID %d: %w: %w", pos.ID, ports.ErrUpdateFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for position ID %d: %w: %w", pos.ID, ports.ErrUpdateFailed, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position ID %d not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	return nil
}

// CurrentPosition retrieves the latest position row for a symbol.
func (s *Store) CurrentPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE symbol = ? ORDER BY id DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, symbol)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Symbol never referenced
		}
		return nil, fmt.Errorf("failed to query current position for symbol %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	return pos, nil
}

// PositionByID retrieves a position by its unique ID.
func (s *Store) PositionByID(ctx context.Context, id int64) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query position by ID %d: %w: %w", id, ports.ErrQueryFailed, err)
	}
	return pos, nil
}

// PositionHistory retrieves the most recent position rows for a symbol,
// newest first. limit 0 returns all rows.
func (s *Store) PositionHistory(ctx context.Context, symbol string, limit int) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE symbol = ? ORDER BY id DESC`
	args := []interface{}{symbol}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query position history for symbol %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during PositionHistory: %w: %w", ports.ErrQueryFailed, err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w: %w", ports.ErrQueryFailed, err)
	}
	return positions, nil
}

// Flips assembles completed flip summaries, newest first. An empty symbol
// selects all symbols. limit 0 returns all.
func (s *Store) Flips(ctx context.Context, symbol string, limit int) ([]*domain.Flip, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE closed_at IS NOT NULL AND opened_at IS NOT NULL`
	args := make([]interface{}, 0, 2)
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY closed_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flips: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	closed := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during Flips: %w: %w", ports.ErrQueryFailed, err)
		}
		closed = append(closed, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flip rows: %w: %w", ports.ErrQueryFailed, err)
	}

	flips := make([]*domain.Flip, 0, len(closed))
	for _, pos := range closed {
		fills, err := s.FillsByPosition(ctx, pos.ID)
		if err != nil {
			return nil, err
		}
		flips = append(flips, assembleFlip(pos, fills))
	}
	return flips, nil
}

// assembleFlip derives traded size, exit price, and fees from the
// position's fills; the flat row itself nets to zero.
func assembleFlip(pos *domain.Position, fills []domain.Fill) *domain.Flip {
	entrySide := domain.Buy
	if pos.Side == domain.SideShort {
		entrySide = domain.Sell
	}
	var size, fees float64
	for _, f := range fills {
		if f.Side == entrySide {
			size += f.Size
		}
		fees += f.Fee
	}
	return &domain.Flip{
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Size:        size,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   domain.VWAP(fills, entrySide.Opposite()),
		Leverage:    pos.Leverage,
		PNL:         pos.RealizedPNL,
		Fees:        fees,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    pos.ClosedAt,
		CloseReason: pos.CloseReason,
	}
}

// LastFlipTime returns when the symbol last returned to flat.
func (s *Store) LastFlipTime(ctx context.Context, symbol string) (time.Time, error) {
	const query = `
	SELECT closed_at FROM positions
	WHERE symbol = ? AND closed_at IS NOT NULL
	ORDER BY closed_at DESC LIMIT 1`

	var closedAt time.Time
	err := s.db.QueryRowContext(ctx, query, symbol).Scan(&closedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to query last flip time for symbol %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	return closedAt, nil
}

// TotalPNL sums realized PNL over all closed positions.
func (s *Store) TotalPNL(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(realized_pnl), 0) FROM positions WHERE closed_at IS NOT NULL`
	var total float64
	if err := s.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to calculate total PNL: %w: %w", ports.ErrQueryFailed, err)
	}
	return total, nil
}

// --- IntentStore Implementation ---

const intentColumns = `id, position_id, symbol, side, kind, size, price, reduce_only,
	status, COALESCE(reason, ''), filled_size, avg_fill_price, created_at, updated_at`

// CreateIntent saves a new intent. The partial unique index rejects a
// second non-terminal intent for the same symbol.
func (s *Store) CreateIntent(ctx context.Context, intent *domain.OrderIntent) error {
	const query = `
	INSERT INTO order_intents (id, position_id, symbol, side, kind, size, price, reduce_only,
	                           status, reason, filled_size, avg_fill_price, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		intent.ID, intent.PositionID, intent.Symbol, intent.Side, intent.Kind, intent.Size,
		intent.Price, intent.ReduceOnly, intent.Status, nullString(intent.Reason),
		intent.FilledSize, intent.AvgFillPrice, intent.CreatedAt, intent.UpdatedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			if sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
				return fmt.Errorf("intent %s already exists: %w", intent.ID, ports.ErrDuplicateEntry)
			}
			return fmt.Errorf("symbol %s already has an outstanding intent: %w", intent.Symbol, ports.ErrIntentOutstanding)
		}
		return fmt.Errorf("failed to insert intent %s: %w: %w", intent.ID, ports.ErrQueryFailed, err)
	}
	s.logger.Debug(ctx, "Intent created", map[string]interface{}{"intentID": intent.ID, "symbol": intent.Symbol, "kind": intent.Kind})
	return nil
}

// UpdateIntent persists status/fill progress for an intent.
func (s *Store) UpdateIntent(ctx context.Context, intent *domain.OrderIntent) error {
	if err := updateIntentTx(ctx, s.db, intent); err != nil {
		return err
	}
	s.logger.Debug(ctx, "Intent updated", map[string]interface{}{"intentID": intent.ID, "status": intent.Status})
	return nil
}

func updateIntentTx(ctx context.Context, ex execer, intent *domain.OrderIntent) error {
	const query = `
	UPDATE order_intents
	SET status = ?, reason = ?, filled_size = ?, avg_fill_price = ?, updated_at = ?
	WHERE id = ?`

	result, err := ex.ExecContext(ctx, query,
		intent.Status, nullString(intent.Reason), intent.FilledSize, intent.AvgFillPrice,
		intent.UpdatedAt, intent.ID)
	if err != nil {
		return fmt.Errorf("failed to update intent %s: %w: %w", intent.ID, ports.ErrUpdateFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for intent %s: %w: %w", intent.ID, ports.ErrUpdateFailed, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("intent %s not found for update: %w", intent.ID, ports.ErrNotFound)
	}
	return nil
}

// OutstandingIntent retrieves the symbol's non-terminal intent, if any.
func (s *Store) OutstandingIntent(ctx context.Context, symbol string) (*domain.OrderIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM order_intents
	WHERE symbol = ? AND status IN ('pending','submitted','partially_filled')`

	row := s.db.QueryRowContext(ctx, query, symbol)
	intent, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query outstanding intent for symbol %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	return intent, nil
}

// IntentByID retrieves an intent by its idempotency key.
func (s *Store) IntentByID(ctx context.Context, id string) (*domain.OrderIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM order_intents WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	intent, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query intent by ID %s: %w: %w", id, ports.ErrQueryFailed, err)
	}
	return intent, nil
}

// ApplyFill appends the fill, updates its intent, and writes the
// resulting position in one transaction. A replayed exchange trade ID
// returns ErrDuplicateEntry without changing anything.
func (s *Store) ApplyFill(ctx context.Context, fill domain.Fill, intent *domain.OrderIntent, pos *domain.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin fill transaction: %w: %w", ports.ErrDBConnection, err)
	}
	defer tx.Rollback()

	const insertFill = `
	INSERT INTO fills (intent_id, symbol, side, size, price, fee, trade_id, filled_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := tx.ExecContext(ctx, insertFill,
		fill.IntentID, fill.Symbol, fill.Side, fill.Size, fill.Price, fill.Fee,
		nullString(fill.TradeID), fill.Time); err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("fill with trade ID %s already applied: %w", fill.TradeID, ports.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert fill for intent %s: %w: %w", fill.IntentID, ports.ErrQueryFailed, err)
	}

	if err := updateIntentTx(ctx, tx, intent); err != nil {
		return err
	}

	if pos.ID == 0 {
		return fmt.Errorf("fill for intent %s references an unsaved position: %w", fill.IntentID, ports.ErrInvalidRequest)
	}
	if err := updatePositionTx(ctx, tx, pos); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fill for intent %s: %w: %w", fill.IntentID, ports.ErrUpdateFailed, err)
	}
	s.logger.Debug(ctx, "Fill applied", map[string]interface{}{
		"intentID": fill.IntentID, "symbol": fill.Symbol, "size": fill.Size, "price": fill.Price,
	})
	return nil
}

const fillColumns = `id, intent_id, symbol, side, size, price, fee, COALESCE(trade_id, ''), filled_at`

// FillsByIntent retrieves the fills applied to one intent, oldest first.
func (s *Store) FillsByIntent(ctx context.Context, intentID string) ([]domain.Fill, error) {
	query := `SELECT ` + fillColumns + ` FROM fills WHERE intent_id = ? ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills for intent %s: %w: %w", intentID, ports.ErrQueryFailed, err)
	}
	defer rows.Close()
	return collectFills(rows)
}

// FillsByPosition retrieves every fill attributed to a position row,
// oldest first, joining through the position's intents.
func (s *Store) FillsByPosition(ctx context.Context, positionID int64) ([]domain.Fill, error) {
	query := `SELECT f.id, f.intent_id, f.symbol, f.side, f.size, f.price, f.fee,
		COALESCE(f.trade_id, ''), f.filled_at
	FROM fills f
	JOIN order_intents i ON i.id = f.intent_id
	WHERE i.position_id = ?
	ORDER BY f.id ASC`

	rows, err := s.db.QueryContext(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills for position %d: %w: %w", positionID, ports.ErrQueryFailed, err)
	}
	defer rows.Close()
	return collectFills(rows)
}

func collectFills(rows *sql.Rows) ([]domain.Fill, error) {
	fills := make([]domain.Fill, 0)
	for rows.Next() {
		f, err := scanFill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w: %w", ports.ErrQueryFailed, err)
		}
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fill rows: %w: %w", ports.ErrQueryFailed, err)
	}
	return fills, nil
}

// --- PairStore Implementation ---

const pairColumns = `symbol, leverage, take_profit_pct, stop_loss_pct, cooldown_sec, enabled, created_at, updated_at`

// UpsertPair inserts or replaces a pair's configuration.
func (s *Store) UpsertPair(ctx context.Context, pair *domain.Pair) error {
	const query = `
	INSERT INTO pairs (symbol, leverage, take_profit_pct, stop_loss_pct, cooldown_sec, enabled, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(symbol) DO UPDATE SET
		leverage = excluded.leverage,
		take_profit_pct = excluded.take_profit_pct,
		stop_loss_pct = excluded.stop_loss_pct,
		cooldown_sec = excluded.cooldown_sec,
		enabled = excluded.enabled,
		updated_at = excluded.updated_at`

	now := time.Now().UTC()
	if pair.CreatedAt.IsZero() {
		pair.CreatedAt = now
	}
	pair.UpdatedAt = now

	if _, err := s.db.ExecContext(ctx, query,
		pair.Symbol, pair.Leverage, pair.TakeProfitPct, pair.StopLossPct,
		pair.CooldownSec, pair.Enabled, pair.CreatedAt, pair.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert pair %s: %w: %w", pair.Symbol, ports.ErrUpdateFailed, err)
	}
	s.logger.Debug(ctx, "Pair upserted", map[string]interface{}{"symbol": pair.Symbol, "enabled": pair.Enabled})
	return nil
}

// Pair retrieves one symbol's configuration.
func (s *Store) Pair(ctx context.Context, symbol string) (*domain.Pair, error) {
	query := `SELECT ` + pairColumns + ` FROM pairs WHERE symbol = ?`

	row := s.db.QueryRowContext(ctx, query, symbol)
	pair, err := scanPair(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query pair %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	return pair, nil
}

// ListPairs retrieves all configured pairs ordered by symbol.
func (s *Store) ListPairs(ctx context.Context) ([]*domain.Pair, error) {
	query := `SELECT ` + pairColumns + ` FROM pairs ORDER BY symbol ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pairs: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	pairs := make([]*domain.Pair, 0)
	for rows.Next() {
		pair, err := scanPair(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pair: %w: %w", ports.ErrQueryFailed, err)
		}
		pairs = append(pairs, pair)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pair rows: %w: %w", ports.ErrQueryFailed, err)
	}
	return pairs, nil
}

// SetPairEnabled toggles trading for a symbol.
func (s *Store) SetPairEnabled(ctx context.Context, symbol string, enabled bool) error {
	const query = `UPDATE pairs SET enabled = ?, updated_at = ? WHERE symbol = ?`

	result, err := s.db.ExecContext(ctx, query, enabled, time.Now().UTC(), symbol)
	if err != nil {
		return fmt.Errorf("failed to set pair %s enabled=%t: %w: %w", symbol, enabled, ports.ErrUpdateFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for pair %s: %w: %w", symbol, ports.ErrUpdateFailed, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("pair %s not found: %w", symbol, ports.ErrNotFound)
	}
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var side, state, closeReason string
	var openedAt, closedAt sql.NullTime
	err := s.Scan(
		&p.ID, &p.Symbol, &side, &p.Size, &p.EntryPrice, &p.Leverage, &state,
		&openedAt, &closedAt, &p.Divergence, &p.External, &closeReason, &p.RealizedPNL)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	if openedAt.Valid {
		p.OpenedAt = openedAt.Time
	}
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	p.Side = domain.Side(side)
	p.State = domain.PositionState(state)
	p.CloseReason = domain.CloseReason(closeReason)
	return p, nil
}

// scanIntent scans a row into a domain.OrderIntent struct.
func scanIntent(s scanner) (*domain.OrderIntent, error) {
	i := &domain.OrderIntent{}
	var side, kind, status string
	err := s.Scan(
		&i.ID, &i.PositionID, &i.Symbol, &side, &kind, &i.Size, &i.Price, &i.ReduceOnly,
		&status, &i.Reason, &i.FilledSize, &i.AvgFillPrice, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	i.Side = domain.OrderSide(side)
	i.Kind = domain.IntentKind(kind)
	i.Status = domain.IntentStatus(status)
	return i, nil
}

// scanFill scans a row into a domain.Fill struct.
func scanFill(s scanner) (domain.Fill, error) {
	var f domain.Fill
	var side string
	err := s.Scan(&f.ID, &f.IntentID, &f.Symbol, &side, &f.Size, &f.Price, &f.Fee, &f.TradeID, &f.Time)
	if err != nil {
		return domain.Fill{}, err
	}
	f.Side = domain.OrderSide(side)
	return f, nil
}

// scanPair scans a row into a domain.Pair struct.
func scanPair(s scanner) (*domain.Pair, error) {
	p := &domain.Pair{}
	err := s.Scan(&p.Symbol, &p.Leverage, &p.TakeProfitPct, &p.StopLossPct,
		&p.CooldownSec, &p.Enabled, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
