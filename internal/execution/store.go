package execution

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TradeStore 持久化已执行的交易记录。
type TradeStore struct {
	db *sql.DB
}

// NewTradeStore 创建交易存储并初始化表结构。
func NewTradeStore(db *sql.DB) (*TradeStore, error) {
	if db == nil {
		return nil, errors.New("execution: 数据库实例不能为空")
	}

	schema := `
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	executed_at TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	mode TEXT NOT NULL,
	size REAL NOT NULL,
	price REAL NOT NULL,
	entry_price REAL NOT NULL DEFAULT 0,
	fee REAL NOT NULL,
	realized_pnl REAL NOT NULL,
	closing INTEGER NOT NULL,
	protective INTEGER NOT NULL,
	trigger_type TEXT NOT NULL DEFAULT '',
	policy_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol_time ON trades(symbol, executed_at);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("execution: 初始化交易表失败: %w", err)
	}

	return &TradeStore{db: db}, nil
}

// Save 落库一条已执行的交易。
func (s *TradeStore) Save(ctx context.Context, r TradeResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (executed_at, symbol, side, mode, size, price, entry_price, fee, realized_pnl, closing, protective, trigger_type, policy_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Symbol, r.Side, string(r.Mode),
		r.FilledSize, r.FillPrice, r.EntryPrice, r.Fee, r.RealizedPnL,
		boolToInt(r.Closing), boolToInt(r.Protective),
		r.Trigger, r.PolicyID,
	)
	if err != nil {
		return fmt.Errorf("execution: 写入交易记录失败: %w", err)
	}
	return nil
}

// History 按过滤条件倒序返回交易历史。
func (s *TradeStore) History(ctx context.Context, filter TradeFilter) ([]TradeResult, error) {
	var (
		clauses []string
		args    []interface{}
	)
	if filter.Symbol != "" {
		clauses = append(clauses, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "executed_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "executed_at <= ?")
		args = append(args, filter.Until.UTC().Format(time.RFC3339Nano))
	}

	query := `SELECT executed_at, symbol, side, mode, size, price, entry_price, fee, realized_pnl, closing, protective, trigger_type, policy_id FROM trades`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY executed_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("execution: 查询交易历史失败: %w", err)
	}
	defer rows.Close()

	var out []TradeResult
	for rows.Next() {
		var (
			r          TradeResult
			executedAt string
			mode       string
			closing    int
			protective int
		)
		if err := rows.Scan(&executedAt, &r.Symbol, &r.Side, &mode, &r.FilledSize, &r.FillPrice, &r.EntryPrice, &r.Fee, &r.RealizedPnL, &closing, &protective, &r.Trigger, &r.PolicyID); err != nil {
			return nil, fmt.Errorf("execution: 扫描交易记录失败: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, executedAt)
		if err != nil {
			return nil, fmt.Errorf("execution: 解析交易时间失败: %w", err)
		}
		r.Accepted = true
		r.Mode = Mode(mode)
		r.Closing = closing == 1
		r.Protective = protective == 1
		r.Timestamp = ts
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("execution: 遍历交易记录失败: %w", err)
	}

	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
