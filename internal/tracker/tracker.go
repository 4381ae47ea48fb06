package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rl-trader/internal/metrics"
)

const (
	// equityBase 是绩效折算用的名义基准金额。
	equityBase = 10000.0

	// accuracyTolerance 是预测价与实际价视为命中的相对误差上限。
	accuracyTolerance = 0.01
)

// Prediction 是一次策略预测的完整记录。
// 预测价与实际价可以缺省为零，此时不参与命中率统计。
type Prediction struct {
	PolicyID       string
	Symbol         string
	Action         string
	Confidence     float64
	PredictedPrice float64
	ActualPrice    float64
	Timestamp      time.Time
}

// TradeRecord 是一笔归属于策略的平仓记录。
type TradeRecord struct {
	PolicyID   string
	Symbol     string
	Side       string
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Timestamp  time.Time
}

// Performance 汇总单个策略的历史表现。
type Performance struct {
	PolicyID       string  `json:"policy_id"`
	Predictions    int     `json:"predictions"`
	Accuracy       float64 `json:"accuracy"`
	Trades         int     `json:"trades"`
	WinRate        float64 `json:"win_rate"`
	ProfitFactor   float64 `json:"profit_factor"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	TotalPnL       float64 `json:"total_pnl"`
	AvgPnLPerTrade float64 `json:"avg_pnl_per_trade"`
}

// Comparison 是跨策略对比的结论。
type Comparison struct {
	Policies    []Performance `json:"policies"`
	BestWinRate string        `json:"best_win_rate,omitempty"`
	BestSharpe  string        `json:"best_sharpe,omitempty"`
}

// Tracker 记录各策略的预测与成交，用于横向对比模型表现。
type Tracker struct {
	db          *sql.DB
	barsPerYear float64
	logger      *zap.Logger
}

// New 创建绩效追踪器并初始化表结构。
func New(db *sql.DB, barsPerYear float64, logger *zap.Logger) (*Tracker, error) {
	if db == nil {
		return nil, errors.New("tracker: 数据库实例不能为空")
	}
	if barsPerYear <= 0 {
		barsPerYear = 24 * 365
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	schema := `
CREATE TABLE IF NOT EXISTS policy_predictions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	policy_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	action TEXT NOT NULL,
	confidence REAL NOT NULL,
	predicted_price REAL NOT NULL DEFAULT 0,
	actual_price REAL NOT NULL DEFAULT 0,
	predicted_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_predictions_policy ON policy_predictions(policy_id);
CREATE TABLE IF NOT EXISTS policy_trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	policy_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	entry_price REAL NOT NULL DEFAULT 0,
	exit_price REAL NOT NULL DEFAULT 0,
	realized_pnl REAL NOT NULL,
	executed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_policy_trades_policy ON policy_trades(policy_id);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("tracker: 初始化表结构失败: %w", err)
	}

	return &Tracker{db: db, barsPerYear: barsPerYear, logger: logger}, nil
}

// RecordPrediction 记录一次策略预测。
func (t *Tracker) RecordPrediction(ctx context.Context, p Prediction) error {
	if p.PolicyID == "" {
		return errors.New("tracker: policy_id 不能为空")
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO policy_predictions (policy_id, symbol, action, confidence, predicted_price, actual_price, predicted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.PolicyID, p.Symbol, p.Action, p.Confidence, p.PredictedPrice, p.ActualPrice,
		p.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("tracker: 写入预测记录失败: %w", err)
	}
	return nil
}

// RecordTrade 记录一笔归属于策略的平仓盈亏。
func (t *Tracker) RecordTrade(ctx context.Context, tr TradeRecord) error {
	if tr.PolicyID == "" {
		return errors.New("tracker: policy_id 不能为空")
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO policy_trades (policy_id, symbol, side, entry_price, exit_price, realized_pnl, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tr.PolicyID, tr.Symbol, tr.Side, tr.EntryPrice, tr.ExitPrice, tr.PnL,
		tr.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("tracker: 写入成交记录失败: %w", err)
	}
	return nil
}

// Performance 返回指定策略的绩效汇总，无记录时返回零值汇总。
func (t *Tracker) Performance(ctx context.Context, policyID string) (Performance, error) {
	perf := Performance{PolicyID: policyID}

	var correct int
	if err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN predicted_price > 0 AND actual_price > 0
		                AND ABS(actual_price - predicted_price) / predicted_price < ? THEN 1 ELSE 0 END), 0)
		 FROM policy_predictions WHERE policy_id = ?`, accuracyTolerance, policyID,
	).Scan(&perf.Predictions, &correct); err != nil {
		return Performance{}, fmt.Errorf("tracker: 统计预测数失败: %w", err)
	}
	if perf.Predictions > 0 {
		perf.Accuracy = float64(correct) / float64(perf.Predictions) * 100
	}

	pnls, err := t.tradePnLs(ctx, policyID)
	if err != nil {
		return Performance{}, err
	}
	perf.Trades = len(pnls)
	perf.WinRate = metrics.WinRate(pnls)
	perf.ProfitFactor = metrics.ProfitFactor(pnls)
	for _, pnl := range pnls {
		perf.TotalPnL += pnl
	}
	if perf.Trades > 0 {
		perf.AvgPnLPerTrade = perf.TotalPnL / float64(perf.Trades)
	}

	// 以名义基准构造逐笔权益曲线来折算夏普。
	if len(pnls) > 0 {
		equity := make([]float64, 0, len(pnls)+1)
		equity = append(equity, equityBase)
		running := equityBase
		for _, pnl := range pnls {
			running += pnl
			equity = append(equity, running)
		}
		perf.SharpeRatio = metrics.SharpeRatio(metrics.StepReturns(equity), t.barsPerYear)
	}

	return perf, nil
}

func (t *Tracker) tradePnLs(ctx context.Context, policyID string) ([]float64, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT realized_pnl FROM policy_trades WHERE policy_id = ? ORDER BY executed_at ASC, id ASC`, policyID)
	if err != nil {
		return nil, fmt.Errorf("tracker: 查询成交记录失败: %w", err)
	}
	defer rows.Close()

	var pnls []float64
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return nil, fmt.Errorf("tracker: 扫描成交记录失败: %w", err)
		}
		pnls = append(pnls, pnl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tracker: 遍历成交记录失败: %w", err)
	}
	return pnls, nil
}

// Compare 汇总全部有记录的策略并选出胜率与夏普最优者。
// 平局时成交更多的策略胜出，样本量大的结论更可信。
func (t *Tracker) Compare(ctx context.Context) (Comparison, error) {
	ids, err := t.policyIDs(ctx)
	if err != nil {
		return Comparison{}, err
	}

	var cmp Comparison
	for _, id := range ids {
		perf, err := t.Performance(ctx, id)
		if err != nil {
			return Comparison{}, err
		}
		cmp.Policies = append(cmp.Policies, perf)
	}

	var bestWin, bestSharpe *Performance
	for i := range cmp.Policies {
		p := &cmp.Policies[i]
		if p.Trades == 0 {
			continue
		}
		if bestWin == nil || p.WinRate > bestWin.WinRate ||
			(p.WinRate == bestWin.WinRate && p.Trades > bestWin.Trades) {
			bestWin = p
		}
		if bestSharpe == nil || p.SharpeRatio > bestSharpe.SharpeRatio ||
			(p.SharpeRatio == bestSharpe.SharpeRatio && p.Trades > bestSharpe.Trades) {
			bestSharpe = p
		}
	}
	if bestWin != nil {
		cmp.BestWinRate = bestWin.PolicyID
	}
	if bestSharpe != nil {
		cmp.BestSharpe = bestSharpe.PolicyID
	}

	return cmp, nil
}

func (t *Tracker) policyIDs(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT DISTINCT policy_id FROM (
			SELECT policy_id FROM policy_predictions
			UNION
			SELECT policy_id FROM policy_trades
		) ORDER BY policy_id`)
	if err != nil {
		return nil, fmt.Errorf("tracker: 查询策略列表失败: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("tracker: 扫描策略ID失败: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tracker: 遍历策略ID失败: %w", err)
	}
	return ids, nil
}
