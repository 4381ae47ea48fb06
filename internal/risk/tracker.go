package risk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DailyTracker 维护日度风控状态。状态以交易日为主键落库，
// 日期推进时在首次访问处惰性重置，而不是依赖定时器。
type DailyTracker struct {
	db        *sql.DB
	resetHour int
	logger    *zap.Logger
}

// NewDailyTracker 创建日度追踪器并初始化表结构。
func NewDailyTracker(db *sql.DB, resetHour int, logger *zap.Logger) (*DailyTracker, error) {
	if db == nil {
		return nil, errors.New("risk: 数据库实例不能为空")
	}
	if resetHour < 0 || resetHour > 23 {
		return nil, fmt.Errorf("risk: daily_reset_hour 必须位于[0,23]，当前为 %d", resetHour)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tracker := &DailyTracker{
		db:        db,
		resetHour: resetHour,
		logger:    logger,
	}

	if err := tracker.initSchema(); err != nil {
		return nil, err
	}

	return tracker, nil
}

func (t *DailyTracker) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS risk_daily_stats (
	trading_date TEXT PRIMARY KEY,
	day_start_balance REAL NOT NULL,
	realized_pnl REAL NOT NULL DEFAULT 0,
	trades INTEGER NOT NULL DEFAULT 0,
	halted INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);`
	if _, err := t.db.Exec(schema); err != nil {
		return fmt.Errorf("risk: 初始化表结构失败: %w", err)
	}
	return nil
}

// Status 返回给定时刻的当日状态，新交易日首次访问时创建记录。
func (t *DailyTracker) Status(ctx context.Context, ts time.Time, balance, maxDailyLoss float64) (DailyStatus, error) {
	tradingDate := tradingDay(ts, t.resetHour)

	row, err := t.ensureRow(ctx, tradingDate, balance)
	if err != nil {
		return DailyStatus{}, err
	}

	return t.statusFor(row, maxDailyLoss), nil
}

// AddFill 将一笔成交计入当日统计并重算停止交易标志。
// 只有平仓成交（closing 为真）才计入当日成交笔数与已实现盈亏，
// 开仓成交不改变日度状态。
func (t *DailyTracker) AddFill(ctx context.Context, ts time.Time, realized float64, closing bool, balance, maxDailyLoss float64) (DailyStatus, error) {
	tradingDate := tradingDay(ts, t.resetHour)
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return DailyStatus{}, fmt.Errorf("risk: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row, scanErr := scanDailyRow(tx.QueryRowContext(ctx,
		`SELECT trading_date, day_start_balance, realized_pnl, trades, halted FROM risk_daily_stats WHERE trading_date = ?`,
		tradingDate,
	))
	if errors.Is(scanErr, sql.ErrNoRows) {
		row = dailyRow{TradingDate: tradingDate, DayStartBalance: balance}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO risk_daily_stats (trading_date, day_start_balance, realized_pnl, trades, halted, updated_at)
			 VALUES (?, ?, 0, 0, 0, ?)`,
			tradingDate, balance, now,
		); err != nil {
			err = fmt.Errorf("risk: 初始化日度记录失败: %w", err)
			return DailyStatus{}, err
		}
	} else if scanErr != nil {
		err = fmt.Errorf("risk: 查询日度记录失败: %w", scanErr)
		return DailyStatus{}, err
	}

	if closing {
		row.Trades++
		row.RealizedPnL += realized
	}

	// 熔断一旦触发，当日保持不变，即使之后盈利回补。
	if !row.Halted && row.DayStartBalance > 0 &&
		row.RealizedPnL <= -(maxDailyLoss*row.DayStartBalance) {
		row.Halted = true
		t.logger.Warn("触发日度亏损限制，停止交易",
			zap.String("trading_date", tradingDate),
			zap.Float64("realized_pnl", row.RealizedPnL),
			zap.Float64("day_start_balance", row.DayStartBalance),
		)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE risk_daily_stats SET realized_pnl = ?, trades = ?, halted = ?, updated_at = ? WHERE trading_date = ?`,
		row.RealizedPnL, row.Trades, boolToInt(row.Halted), now, tradingDate,
	); err != nil {
		err = fmt.Errorf("risk: 更新日度记录失败: %w", err)
		return DailyStatus{}, err
	}

	if err = tx.Commit(); err != nil {
		return DailyStatus{}, fmt.Errorf("risk: 提交事务失败: %w", err)
	}

	return t.statusFor(row, maxDailyLoss), nil
}

type dailyRow struct {
	TradingDate     string
	DayStartBalance float64
	RealizedPnL     float64
	Trades          int
	Halted          bool
}

func (t *DailyTracker) ensureRow(ctx context.Context, tradingDate string, balance float64) (dailyRow, error) {
	row, scanErr := scanDailyRow(t.db.QueryRowContext(ctx,
		`SELECT trading_date, day_start_balance, realized_pnl, trades, halted FROM risk_daily_stats WHERE trading_date = ?`,
		tradingDate,
	))
	if scanErr == nil {
		return row, nil
	}
	if !errors.Is(scanErr, sql.ErrNoRows) {
		return dailyRow{}, fmt.Errorf("risk: 查询日度记录失败: %w", scanErr)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := t.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO risk_daily_stats (trading_date, day_start_balance, realized_pnl, trades, halted, updated_at)
		 VALUES (?, ?, 0, 0, 0, ?)`,
		tradingDate, balance, now,
	); err != nil {
		return dailyRow{}, fmt.Errorf("risk: 初始化日度记录失败: %w", err)
	}

	t.logger.Info("进入新交易日，日度风控状态已重置",
		zap.String("trading_date", tradingDate),
		zap.Float64("day_start_balance", balance),
	)

	return dailyRow{TradingDate: tradingDate, DayStartBalance: balance}, nil
}

func scanDailyRow(row *sql.Row) (dailyRow, error) {
	var r dailyRow
	var haltedInt int
	if err := row.Scan(&r.TradingDate, &r.DayStartBalance, &r.RealizedPnL, &r.Trades, &haltedInt); err != nil {
		return dailyRow{}, err
	}
	r.Halted = haltedInt == 1
	return r, nil
}

func (t *DailyTracker) statusFor(row dailyRow, maxDailyLoss float64) DailyStatus {
	status := DailyStatus{
		TradingDate:     row.TradingDate,
		DayStartBalance: row.DayStartBalance,
		RealizedPnL:     row.RealizedPnL,
		Trades:          row.Trades,
		Halted:          row.Halted,
	}

	limit := maxDailyLoss * row.DayStartBalance
	loss := 0.0
	if row.RealizedPnL < 0 {
		loss = -row.RealizedPnL
	}
	if limit > 0 {
		status.RemainingLossCapacity = limit - loss
		if status.RemainingLossCapacity < 0 {
			status.RemainingLossCapacity = 0
		}
		status.LossPercentUsed = loss / limit * 100
	}

	return status
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func tradingDay(ts time.Time, resetHour int) string {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	utc := ts.UTC()
	shifted := utc.Add(-time.Duration(resetHour) * time.Hour)
	day := time.Date(shifted.Year(), shifted.Month(), shifted.Day(), 0, 0, 0, 0, time.UTC)
	return day.Format("2006-01-02")
}
