package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"rl-trader/internal/config"
	"rl-trader/internal/exchange"
	"rl-trader/internal/ledger"
	"rl-trader/internal/risk"
)

// Executor 是唯一的下单入口。风控裁决、网关成交与账本更新
// 都在同一把账户互斥锁内完成，避免裁决与成交之间状态漂移。
type Executor struct {
	mu             sync.Mutex
	mode           Mode
	gateway        exchange.Gateway
	riskMgr        *risk.Manager
	book           *ledger.Book
	trades         *TradeStore
	logger         *zap.Logger
	feeRate        float64
	gatewayTimeout time.Duration
	quoteAsset     string
	paperCash      float64
	now            func() time.Time
}

// NewExecutor 创建执行器。paper 模式下 gateway 允许为空。
func NewExecutor(cfg config.ExecutionConfig, quoteAsset string, gateway exchange.Gateway, riskMgr *risk.Manager, book *ledger.Book, trades *TradeStore, logger *zap.Logger) (*Executor, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if mode == ModeLive && gateway == nil {
		return nil, errors.New("execution: live 模式必须提供交易所网关")
	}
	if riskMgr == nil {
		return nil, errors.New("execution: 风控管理器不能为空")
	}
	if book == nil {
		return nil, errors.New("execution: 持仓账本不能为空")
	}
	if trades == nil {
		return nil, errors.New("execution: 交易存储不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{
		mode:           mode,
		gateway:        gateway,
		riskMgr:        riskMgr,
		book:           book,
		trades:         trades,
		logger:         logger,
		feeRate:        cfg.FeeRate,
		gatewayTimeout: cfg.GatewayTimeout,
		quoteAsset:     quoteAsset,
		paperCash:      cfg.PaperBalance,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// Mode 返回当前执行模式。
func (e *Executor) Mode() Mode {
	return e.mode
}

// ExecuteTrade 执行一笔交易意图：风控裁决、成交、记账、落库。
// 风控拒绝与网关失败均作为 Accepted=false 的结果返回，error
// 仅表示存储等基础设施故障。
func (e *Executor) ExecuteTrade(ctx context.Context, intent TradeIntent) (TradeResult, error) {
	if intent.Symbol == "" {
		return TradeResult{}, errors.New("execution: symbol 不能为空")
	}
	if intent.Size <= 0 {
		return TradeResult{}, fmt.Errorf("execution: 交易数量必须大于0，当前为 %f", intent.Size)
	}
	if intent.Price <= 0 {
		return TradeResult{}, fmt.Errorf("execution: 参考价格必须大于0，当前为 %f", intent.Price)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executeLocked(ctx, intent)
}

func (e *Executor) executeLocked(ctx context.Context, intent TradeIntent) (TradeResult, error) {
	ts := e.now()
	result := TradeResult{
		Symbol:     intent.Symbol,
		Side:       string(intent.Side),
		Mode:       e.mode,
		Protective: intent.Protective,
		Trigger:    intent.Trigger,
		PolicyID:   intent.PolicyID,
		Timestamp:  ts,
	}

	balance, err := e.balanceLocked(ctx)
	if err != nil {
		e.logger.Error("查询账户余额失败", zap.Error(err))
		result.Reason = exchange.Reason(err)
		return result, nil
	}

	// 保护性平仓只减少敞口，不过开仓闸口；熔断也不能阻止止损离场。
	if !intent.Protective {
		verdict, err := e.riskMgr.CheckTradeAllowed(ctx, ts, balance, intent.Symbol, intent.Side, intent.Size, intent.Price)
		if err != nil {
			return TradeResult{}, err
		}
		if !verdict.Allowed {
			result.Reason = verdict.Reason
			return result, nil
		}
	}

	// 先于成交判定是否平仓并留存开仓价：成交后仓位可能已从账本移除。
	closing := e.isClosing(intent.Symbol, intent.Side)
	var entryPrice float64
	if pos, held := e.book.Get(intent.Symbol); held {
		entryPrice = pos.EntryPrice
	}

	fill, err := e.fillLocked(ctx, intent)
	if err != nil {
		// 网关失败不修改账本，交易以失败结果终结，绝不重试。
		reason := exchange.Reason(err)
		e.logger.Warn("下单失败",
			zap.String("symbol", intent.Symbol),
			zap.String("side", string(intent.Side)),
			zap.String("reason", reason),
			zap.Error(err),
		)
		result.Reason = reason
		return result, nil
	}

	realized, err := e.book.Apply(ledger.Fill{
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Size:      fill.Size,
		Price:     fill.Price,
		Timestamp: fill.Timestamp,
	})
	if err != nil {
		return TradeResult{}, fmt.Errorf("execution: 更新持仓账本失败: %w", err)
	}

	notional := fill.Size * fill.Price
	if e.mode == ModePaper {
		if intent.Side == ledger.OrderSideBuy {
			e.paperCash -= notional + fill.Fee
		} else {
			e.paperCash += notional - fill.Fee
		}
		balance = e.paperCash
	}

	net := realized - fill.Fee
	if _, err := e.riskMgr.RecordFill(ctx, ts, net, closing, balance); err != nil {
		return TradeResult{}, err
	}

	result.Accepted = true
	result.FilledSize = fill.Size
	result.FillPrice = fill.Price
	result.Fee = fill.Fee
	result.RealizedPnL = realized
	result.Closing = closing
	if closing {
		result.EntryPrice = entryPrice
	}

	if err := e.trades.Save(ctx, result); err != nil {
		return result, err
	}

	e.logger.Info("交易执行完成",
		zap.String("symbol", intent.Symbol),
		zap.String("side", string(intent.Side)),
		zap.String("mode", string(e.mode)),
		zap.Float64("size", fill.Size),
		zap.Float64("price", fill.Price),
		zap.Float64("realized_pnl", realized),
		zap.Bool("closing", closing),
		zap.Bool("protective", intent.Protective),
	)

	return result, nil
}

// fillLocked 获取成交。paper 模式按参考价合成，live 模式以交易所
// 回报为准。
func (e *Executor) fillLocked(ctx context.Context, intent TradeIntent) (exchange.Fill, error) {
	if e.mode == ModePaper {
		return exchange.Fill{
			Size:      intent.Size,
			Price:     intent.Price,
			Fee:       intent.Size * intent.Price * e.feeRate,
			Timestamp: e.now(),
		}, nil
	}

	callCtx, cancel := e.gatewayContext(ctx)
	defer cancel()
	return e.gateway.PlaceOrder(callCtx, intent.Symbol, string(intent.Side), exchange.OrderTypeMarket, intent.Size)
}

func (e *Executor) isClosing(symbol string, side ledger.OrderSide) bool {
	pos, held := e.book.Get(symbol)
	if !held {
		return false
	}
	if pos.Side == ledger.SideLong {
		return side == ledger.OrderSideSell
	}
	return side == ledger.OrderSideBuy
}

// CheckProtectiveStops 按最新价格扫描全部持仓，触发的止损/止盈
// 立即以保护性平仓执行。
func (e *Executor) CheckProtectiveStops(ctx context.Context, prices map[string]float64) ([]TradeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var results []TradeResult
	for _, pos := range e.book.Open() {
		price, ok := prices[pos.Symbol]
		if !ok {
			continue
		}
		closing, triggered := e.riskMgr.EvaluateStopTake(pos.Symbol, price)
		if !triggered {
			continue
		}

		result, err := e.executeLocked(ctx, TradeIntent{
			Symbol:     closing.Symbol,
			Side:       closing.Side,
			Size:       closing.Size,
			Price:      closing.Price,
			Protective: true,
			Trigger:    closing.Trigger,
		})
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}

	return results, nil
}

// Balance 返回当前可用余额。paper 模式为本地现金，live 模式
// 实时查询网关。
func (e *Executor) Balance(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balanceLocked(ctx)
}

func (e *Executor) balanceLocked(ctx context.Context) (float64, error) {
	if e.mode == ModePaper {
		return e.paperCash, nil
	}

	callCtx, cancel := e.gatewayContext(ctx)
	defer cancel()
	return e.gateway.GetBalance(callCtx, e.quoteAsset)
}

func (e *Executor) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.gatewayTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.gatewayTimeout)
}

// Positions 返回全部未平仓位的快照。
func (e *Executor) Positions() []ledger.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Open()
}

// TradeHistory 按过滤条件返回交易历史。
func (e *Executor) TradeHistory(ctx context.Context, filter TradeFilter) ([]TradeResult, error) {
	return e.trades.History(ctx, filter)
}
