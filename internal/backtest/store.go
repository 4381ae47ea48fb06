package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rl-trader/internal/metrics"
)

// ErrRunNotFound 表示指定的回测记录不存在。
var ErrRunNotFound = errors.New("backtest: 回测记录不存在")

// RunStore 持久化已完成的回测。一次回测的全部产出在单个事务内
// 写入，库中不存在半成品结果。
type RunStore struct {
	db *sql.DB
}

// NewRunStore 创建回测存储并初始化表结构。
func NewRunStore(db *sql.DB) (*RunStore, error) {
	if db == nil {
		return nil, errors.New("backtest: 数据库实例不能为空")
	}

	schema := `
CREATE TABLE IF NOT EXISTS backtest_runs (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	policy_id TEXT NOT NULL,
	status TEXT NOT NULL,
	params_json TEXT NOT NULL,
	summary_json TEXT NOT NULL,
	equity_json TEXT NOT NULL,
	trades INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	bars INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backtest_runs_started ON backtest_runs(started_at);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("backtest: 初始化回测表失败: %w", err)
	}

	return &RunStore{db: db}, nil
}

// Save 原子地落库一次完成的回测。
func (s *RunStore) Save(ctx context.Context, run Run) error {
	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("backtest: 序列化回测参数失败: %w", err)
	}
	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("backtest: 序列化绩效指标失败: %w", err)
	}
	equityJSON, err := json.Marshal(run.EquityCurve)
	if err != nil {
		return fmt.Errorf("backtest: 序列化权益曲线失败: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("backtest: 开启事务失败: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO backtest_runs (id, symbol, policy_id, status, params_json, summary_json, equity_json, trades, skipped, bars, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Params.Symbol, run.Params.PolicyID, run.Status,
		string(paramsJSON), string(summaryJSON), string(equityJSON),
		run.Trades, run.Skipped, run.Bars,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("backtest: 写入回测记录失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("backtest: 提交事务失败: %w", err)
	}
	return nil
}

// Get 按 ID 返回回测记录。
func (s *RunStore) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, params_json, summary_json, equity_json, trades, skipped, bars, started_at, finished_at
		 FROM backtest_runs WHERE id = ?`, id)

	run, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

// List 按开始时间倒序返回最近的回测记录。
func (s *RunStore) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, params_json, summary_json, equity_json, trades, skipped, bars, started_at, finished_at
		 FROM backtest_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("backtest: 查询回测列表失败: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("backtest: 遍历回测记录失败: %w", err)
	}
	return out, nil
}

func scanRun(scan func(dest ...interface{}) error) (Run, error) {
	var (
		run         Run
		paramsJSON  string
		summaryJSON string
		equityJSON  string
		startedAt   string
		finishedAt  string
	)
	if err := scan(&run.ID, &run.Status, &paramsJSON, &summaryJSON, &equityJSON, &run.Trades, &run.Skipped, &run.Bars, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("backtest: 扫描回测记录失败: %w", err)
	}

	if err := json.Unmarshal([]byte(paramsJSON), &run.Params); err != nil {
		return Run{}, fmt.Errorf("backtest: 解析回测参数失败: %w", err)
	}
	var summary metrics.Summary
	if err := json.Unmarshal([]byte(summaryJSON), &summary); err != nil {
		return Run{}, fmt.Errorf("backtest: 解析绩效指标失败: %w", err)
	}
	run.Summary = summary
	if err := json.Unmarshal([]byte(equityJSON), &run.EquityCurve); err != nil {
		return Run{}, fmt.Errorf("backtest: 解析权益曲线失败: %w", err)
	}

	var err error
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return Run{}, fmt.Errorf("backtest: 解析开始时间失败: %w", err)
	}
	if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
		return Run{}, fmt.Errorf("backtest: 解析结束时间失败: %w", err)
	}

	return run, nil
}
