package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"bracket-trader/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Candles table for historical OHLCV data
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, timeframe, timestamp)
	);

	-- Trade plans table
	CREATE TABLE IF NOT EXISTS trade_plans (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry REAL NOT NULL,
		limit_price REAL NOT NULL,
		stop REAL NOT NULL,
		target REAL NOT NULL,
		quantity INTEGER NOT NULL,
		risk_amount REAL NOT NULL,
		atr REAL NOT NULL,
		swing_ref REAL NOT NULL,
		net_liq REAL NOT NULL,
		status TEXT DEFAULT 'DRAFT',
		created_at DATETIME NOT NULL,
		placed_at DATETIME
	);

	-- Engine event journal
	CREATE TABLE IF NOT EXISTS engine_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		type TEXT NOT NULL,
		symbol TEXT,
		group_id TEXT,
		leg TEXT,
		from_state TEXT,
		to_state TEXT,
		message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_candles_symbol_timeframe ON candles(symbol, timeframe);
	CREATE INDEX IF NOT EXISTS idx_candles_timestamp ON candles(timestamp);
	CREATE INDEX IF NOT EXISTS idx_plans_symbol ON trade_plans(symbol);
	CREATE INDEX IF NOT EXISTS idx_plans_status ON trade_plans(status);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON engine_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_group ON engine_events(group_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveCandles saves candles to the database.
func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, symbol, timeframe, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetCandles retrieves candles ordered ascending by timestamp.
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, symbol, timeframe, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}
	return candles, nil
}

// SavePlan saves a trade plan with the given status.
func (s *SQLiteStore) SavePlan(ctx context.Context, plan *models.TradePlan, status models.PlanStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trade_plans (id, symbol, side, entry, limit_price, stop, target, quantity, risk_amount, atr, swing_ref, net_liq, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, plan.ID, plan.Symbol, plan.Side, plan.Entry, plan.LimitPrice, plan.Stop, plan.Target, plan.Quantity, plan.RiskAmount, plan.ATR, plan.SwingRef, plan.NetLiq, status, plan.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save trade plan: %w", err)
	}
	return nil
}

// GetPlans retrieves trade plans, newest first.
func (s *SQLiteStore) GetPlans(ctx context.Context, filter PlanFilter) ([]models.TradePlan, error) {
	query := "SELECT id, symbol, side, entry, limit_price, stop, target, quantity, risk_amount, atr, swing_ref, net_liq, created_at FROM trade_plans WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade plans: %w", err)
	}
	defer rows.Close()

	var plans []models.TradePlan
	for rows.Next() {
		var p models.TradePlan
		if err := rows.Scan(&p.ID, &p.Symbol, &p.Side, &p.Entry, &p.LimitPrice, &p.Stop, &p.Target, &p.Quantity, &p.RiskAmount, &p.ATR, &p.SwingRef, &p.NetLiq, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// LatestDraft returns the most recent draft plan for a symbol, or nil.
func (s *SQLiteStore) LatestDraft(ctx context.Context, symbol string) (*models.TradePlan, error) {
	plans, err := s.GetPlans(ctx, PlanFilter{Symbol: symbol, Status: models.PlanDraft, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, nil
	}
	return &plans[0], nil
}

// UpdatePlanStatus updates a plan's status, stamping placed_at on placement.
func (s *SQLiteStore) UpdatePlanStatus(ctx context.Context, planID string, status models.PlanStatus) error {
	var placedAt interface{}
	if status == models.PlanPlaced {
		placedAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE trade_plans SET status = ?, placed_at = COALESCE(?, placed_at) WHERE id = ?
	`, status, placedAt, planID)
	if err != nil {
		return fmt.Errorf("failed to update plan status: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("trade plan not found: %s", planID)
	}
	return nil
}

// RecordEvent appends one engine event to the journal.
func (s *SQLiteStore) RecordEvent(ctx context.Context, ev models.Event) error {
	var leg, fromState, toState string
	if ev.OrderChange != nil {
		leg = string(ev.OrderChange.Leg)
		fromState = ev.OrderChange.From
		toState = ev.OrderChange.To
	}
	if ev.ConnChange != nil {
		fromState = string(ev.ConnChange.From)
		toState = string(ev.ConnChange.To)
	}
	message := ev.ErrorMessage
	if ev.Janitor != nil {
		message = fmt.Sprintf("session %s: cancelled %d legs, flattened %d positions",
			ev.Janitor.Session, ev.Janitor.LegsCancelled, ev.Janitor.Flattened)
	}
	if ev.Plan != nil {
		message = fmt.Sprintf("%s %s qty %d entry %.2f stop %.2f target %.2f risk %.2f",
			ev.Plan.Symbol, ev.Plan.Side, ev.Plan.Quantity,
			ev.Plan.Entry, ev.Plan.Stop, ev.Plan.Target, ev.Plan.RiskAmount)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_events (timestamp, type, symbol, group_id, leg, from_state, to_state, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.Timestamp, ev.Type, ev.Symbol, ev.GroupID, leg, fromState, toState, message)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// GetEvents retrieves journal records, newest first.
func (s *SQLiteStore) GetEvents(ctx context.Context, filter EventFilter) ([]JournalRecord, error) {
	query := "SELECT id, timestamp, type, COALESCE(symbol, ''), COALESCE(group_id, ''), COALESCE(leg, ''), COALESCE(from_state, ''), COALESCE(to_state, ''), COALESCE(message, '') FROM engine_events WHERE 1=1"
	args := []interface{}{}

	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.GroupID != "" {
		query += " AND group_id = ?"
		args = append(args, filter.GroupID)
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var records []JournalRecord
	for rows.Next() {
		var r JournalRecord
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Type, &r.Symbol, &r.GroupID, &r.Leg, &r.FromState, &r.ToState, &r.Message); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
