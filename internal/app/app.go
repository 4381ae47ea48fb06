package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rl-trader/internal/backtest"
	"rl-trader/internal/config"
	"rl-trader/internal/dataset"
	"rl-trader/internal/exchange"
	"rl-trader/internal/execution"
	"rl-trader/internal/ledger"
	"rl-trader/internal/monitor"
	"rl-trader/internal/policy"
	"rl-trader/internal/risk"
	"rl-trader/internal/store"
	"rl-trader/internal/tracker"
)

// App 聚合全部依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store

	gateway  exchange.Gateway
	executor *execution.Executor
	riskMgr  *risk.Manager
	oracle   policy.Oracle
	runner   *backtest.Runner
	runStore *backtest.RunStore
	perf     *tracker.Tracker
	monitor  *monitor.Service
}

// New 按配置装配全部组件。
func New(cfg *config.Config, logger *zap.Logger, st *store.Store) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: 配置不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if st == nil {
		return nil, errors.New("app: store 不能为空")
	}

	gateway, err := exchange.NewClient(cfg.Exchange, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化交易所网关失败: %w", err)
	}

	book := ledger.NewBook()

	dailyTracker, err := risk.NewDailyTracker(st.DB(), cfg.Risk.DailyResetHour, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化日度风控失败: %w", err)
	}
	riskMgr, err := risk.NewManager(risk.LimitsFromConfig(cfg.Risk), dailyTracker, book, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化风控管理器失败: %w", err)
	}

	tradeStore, err := execution.NewTradeStore(st.DB())
	if err != nil {
		return nil, fmt.Errorf("初始化交易存储失败: %w", err)
	}
	executor, err := execution.NewExecutor(cfg.Execution, cfg.Exchange.QuoteAsset, gateway, riskMgr, book, tradeStore, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化执行器失败: %w", err)
	}

	oracle, err := policy.New(cfg.Policy, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化决策策略失败: %w", err)
	}

	source, err := dataset.NewCSVSource(cfg.Dataset.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化历史数据源失败: %w", err)
	}
	runStore, err := backtest.NewRunStore(st.DB())
	if err != nil {
		return nil, fmt.Errorf("初始化回测存储失败: %w", err)
	}
	runner, err := backtest.NewRunner(source, runStore, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化回测执行器失败: %w", err)
	}

	perf, err := tracker.New(st.DB(), cfg.Backtest.BarsPerYear, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化绩效追踪器失败: %w", err)
	}

	monitorSvc, err := monitor.NewService(st, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		gateway:  gateway,
		executor: executor,
		riskMgr:  riskMgr,
		oracle:   oracle,
		runner:   runner,
		runStore: runStore,
		perf:     perf,
		monitor:  monitorSvc,
	}, nil
}

// Run 启动决策循环、止损巡检与监控接口，阻塞直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.String("symbol", a.cfg.Exchange.Symbol),
		zap.String("mode", a.cfg.Execution.Mode),
		zap.String("policy", a.oracle.ID()),
	)

	orch := newOrchestrator(a, a.cfg.Scheduler)
	server := newMonitorServer(a, a.cfg.Monitor)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return orch.runDecisionLoop(groupCtx) })
	group.Go(func() error { return orch.runStopCheckLoop(groupCtx) })
	group.Go(func() error { return server.run(groupCtx) })

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，已停止")
	return nil
}
