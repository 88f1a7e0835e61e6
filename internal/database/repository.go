package database

import (
	"context"
	"fmt"
	"time"

	"bitvavo-trading-bot/internal/backtest"
	"bitvavo-trading-bot/internal/performance"
)

// Repository provides persistence for trades, backtest results and risk
// audit events
type Repository struct {
	db *DB
}

// NewRepository creates a repository over the connection pool
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveTrade persists a realized trade
func (r *Repository) SaveTrade(ctx context.Context, trade performance.Trade) error {
	query := `
		INSERT INTO trades (order_id, market, side, amount, entry_price, exit_price, pnl, fees, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		trade.ID, trade.Market, trade.Side, trade.Amount,
		trade.EntryPrice, trade.ExitPrice, trade.PnL, trade.Fees,
		trade.OpenedAt, trade.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// ListTrades returns recent trades for a market, newest first
func (r *Repository) ListTrades(ctx context.Context, market string, limit int) ([]performance.Trade, error) {
	query := `
		SELECT order_id, market, side, amount, entry_price, exit_price, pnl, fees, opened_at, closed_at
		FROM trades
		WHERE ($1 = '' OR market = $1)
		ORDER BY closed_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, market, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var trades []performance.Trade
	for rows.Next() {
		var t performance.Trade
		if err := rows.Scan(&t.ID, &t.Market, &t.Side, &t.Amount,
			&t.EntryPrice, &t.ExitPrice, &t.PnL, &t.Fees,
			&t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SaveBacktestResult persists the aggregate outcome of a backtest run
func (r *Repository) SaveBacktestResult(ctx context.Context, strategy string, result *backtest.Result) (int64, error) {
	query := `
		INSERT INTO backtest_results (
			market, strategy, initial_capital, final_equity, candles_tested, rejections,
			total_trades, winning_trades, losing_trades, win_rate,
			profit_factor, sharpe_ratio, max_drawdown, roi
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	var id int64
	err := r.db.Pool.QueryRow(ctx, query,
		result.Market, strategy, result.InitialCapital, result.FinalEquity,
		result.CandlesTested, result.Rejections,
		result.Metrics.TotalTrades, result.Metrics.WinningTrades, result.Metrics.LosingTrades,
		result.Metrics.WinRate, result.Metrics.ProfitFactor, result.Metrics.SharpeRatio,
		result.Metrics.MaxDrawdown, result.Metrics.ROI,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save backtest result: %w", err)
	}
	return id, nil
}

// BacktestSummary is one row of stored backtest history
type BacktestSummary struct {
	ID           int64     `json:"id"`
	Market       string    `json:"market"`
	Strategy     string    `json:"strategy"`
	FinalEquity  float64   `json:"finalEquity"`
	TotalTrades  int       `json:"totalTrades"`
	WinRate      float64   `json:"winRate"`
	ProfitFactor float64   `json:"profitFactor"`
	MaxDrawdown  float64   `json:"maxDrawdown"`
	ROI          float64   `json:"roi"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ListBacktestResults returns stored backtest summaries, newest first
func (r *Repository) ListBacktestResults(ctx context.Context, limit int) ([]BacktestSummary, error) {
	query := `
		SELECT id, market, strategy, final_equity, total_trades, win_rate, profit_factor, max_drawdown, roi, created_at
		FROM backtest_results
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list backtest results: %w", err)
	}
	defer rows.Close()

	var results []BacktestSummary
	for rows.Next() {
		var s BacktestSummary
		if err := rows.Scan(&s.ID, &s.Market, &s.Strategy, &s.FinalEquity,
			&s.TotalTrades, &s.WinRate, &s.ProfitFactor, &s.MaxDrawdown,
			&s.ROI, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan backtest result: %w", err)
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

// SaveRiskEvent records a risk audit event (rejections, emergency stops
// and resets)
func (r *Repository) SaveRiskEvent(ctx context.Context, eventType, market, reason, operator string) error {
	query := `INSERT INTO risk_events (event_type, market, reason, operator) VALUES ($1, $2, $3, $4)`
	if _, err := r.db.Pool.Exec(ctx, query, eventType, market, reason, operator); err != nil {
		return fmt.Errorf("failed to save risk event: %w", err)
	}
	return nil
}
