package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Backtest  BacktestConfig  `mapstructure:"backtest"`
	Dataset   DatasetConfig   `mapstructure:"dataset"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name       string        `mapstructure:"name"`
	Symbol     string        `mapstructure:"symbol"`
	QuoteAsset string        `mapstructure:"quote_asset"`
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	UseSandbox bool          `mapstructure:"use_sandbox"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Retry      RetryConfig   `mapstructure:"retry"`
}

// RetryConfig 统一控制行情请求的重试机制。下单永不重试。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// RiskConfig 管理风控限额。
type RiskConfig struct {
	MaxPositionSize   float64 `mapstructure:"max_position_size"`
	MaxRiskPerTrade   float64 `mapstructure:"max_risk_per_trade"`
	MaxDailyLoss      float64 `mapstructure:"max_daily_loss"`
	StopLossPercent   float64 `mapstructure:"stop_loss_percent"`
	TakeProfitPercent float64 `mapstructure:"take_profit_percent"`
	MinBalance        float64 `mapstructure:"min_balance"`
	MaxOpenPositions  int     `mapstructure:"max_open_positions"`
	DailyResetHour    int     `mapstructure:"daily_reset_hour"`
}

// ExecutionConfig 控制交易执行行为。
type ExecutionConfig struct {
	Mode           string        `mapstructure:"mode"`
	FeeRate        float64       `mapstructure:"fee_rate"`
	PaperBalance   float64       `mapstructure:"paper_balance"`
	GatewayTimeout time.Duration `mapstructure:"gateway_timeout"`
}

// PolicyConfig 描述决策来源。
type PolicyConfig struct {
	ID         string        `mapstructure:"id"`
	Kind       string        `mapstructure:"kind"` // rule | service | llm
	WindowSize int           `mapstructure:"window_size"`
	ServiceURL string        `mapstructure:"service_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	OpenAI     OpenAIConfig  `mapstructure:"openai"`
}

// OpenAIConfig 描述大模型调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// BacktestConfig 定义回测默认参数。
type BacktestConfig struct {
	InitialBalance float64 `mapstructure:"initial_balance"`
	WindowSize     int     `mapstructure:"window_size"`
	Fee            float64 `mapstructure:"fee"`
	BarsPerYear    float64 `mapstructure:"bars_per_year"`
}

// DatasetConfig 指定历史数据位置。
type DatasetConfig struct {
	Dir string `mapstructure:"dir"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	DecisionInterval  time.Duration `mapstructure:"decision_interval"`
	StopCheckInterval time.Duration `mapstructure:"stop_check_interval"`
}

// MonitorConfig 控制监控接口。
type MonitorConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// Validate 对配置进行基本校验，配置错误在启动阶段立即失败。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Symbol == "" {
		err = multierr.Append(err, errors.New("exchange.symbol 不能为空"))
	}
	if c.Exchange.QuoteAsset == "" {
		err = multierr.Append(err, errors.New("exchange.quote_asset 不能为空"))
	}
	if c.Exchange.Timeout <= 0 {
		err = multierr.Append(err, errors.New("exchange.timeout 必须大于0"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Risk.MaxPositionSize <= 0 {
		err = multierr.Append(err, errors.New("risk.max_position_size 必须大于0"))
	}
	if c.Risk.MaxRiskPerTrade <= 0 || c.Risk.MaxRiskPerTrade > 1 {
		err = multierr.Append(err, errors.New("risk.max_risk_per_trade 必须位于(0,1]"))
	}
	if c.Risk.MaxDailyLoss <= 0 || c.Risk.MaxDailyLoss > 1 {
		err = multierr.Append(err, errors.New("risk.max_daily_loss 必须位于(0,1]"))
	}
	if c.Risk.StopLossPercent <= 0 || c.Risk.StopLossPercent >= 1 {
		err = multierr.Append(err, errors.New("risk.stop_loss_percent 必须位于(0,1)，为零将导致仓位计算除零"))
	}
	if c.Risk.TakeProfitPercent <= 0 || c.Risk.TakeProfitPercent >= 1 {
		err = multierr.Append(err, errors.New("risk.take_profit_percent 必须位于(0,1)"))
	}
	if c.Risk.MinBalance < 0 {
		err = multierr.Append(err, errors.New("risk.min_balance 不能为负"))
	}
	if c.Risk.MaxOpenPositions <= 0 {
		err = multierr.Append(err, errors.New("risk.max_open_positions 必须大于0"))
	}
	if c.Risk.DailyResetHour < 0 || c.Risk.DailyResetHour > 23 {
		err = multierr.Append(err, errors.New("risk.daily_reset_hour 必须位于[0,23]"))
	}
	switch c.Execution.Mode {
	case "paper", "live":
	default:
		err = multierr.Append(err, fmt.Errorf("execution.mode 必须是 paper 或 live，当前为 %q", c.Execution.Mode))
	}
	if c.Execution.FeeRate < 0 || c.Execution.FeeRate > 0.05 {
		err = multierr.Append(err, errors.New("execution.fee_rate 应位于[0,0.05]"))
	}
	if c.Execution.Mode == "paper" && c.Execution.PaperBalance <= 0 {
		err = multierr.Append(err, errors.New("execution.paper_balance 必须大于0"))
	}
	if c.Execution.Mode == "live" && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		err = multierr.Append(err, errors.New("live 模式需要配置 exchange.api_key 与 api_secret"))
	}
	if c.Execution.GatewayTimeout <= 0 {
		err = multierr.Append(err, errors.New("execution.gateway_timeout 必须大于0"))
	}
	if c.Policy.ID == "" {
		err = multierr.Append(err, errors.New("policy.id 不能为空"))
	}
	switch c.Policy.Kind {
	case "rule", "service", "llm":
	default:
		err = multierr.Append(err, fmt.Errorf("policy.kind 必须是 rule/service/llm，当前为 %q", c.Policy.Kind))
	}
	if c.Policy.WindowSize <= 1 {
		err = multierr.Append(err, errors.New("policy.window_size 必须大于1"))
	}
	if c.Policy.Kind == "service" && c.Policy.ServiceURL == "" {
		err = multierr.Append(err, errors.New("policy.service_url 不能为空 (kind=service)"))
	}
	if c.Policy.Kind == "llm" {
		if c.Policy.OpenAI.APIKey == "" {
			err = multierr.Append(err, errors.New("policy.openai.api_key 不能为空 (kind=llm)"))
		}
		if c.Policy.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("policy.openai.model 不能为空 (kind=llm)"))
		}
	}
	if c.Backtest.InitialBalance <= 0 {
		err = multierr.Append(err, errors.New("backtest.initial_balance 必须大于0"))
	}
	if c.Backtest.WindowSize <= 1 {
		err = multierr.Append(err, errors.New("backtest.window_size 必须大于1"))
	}
	if c.Backtest.Fee < 0 || c.Backtest.Fee > 0.05 {
		err = multierr.Append(err, errors.New("backtest.fee 应位于[0,0.05]"))
	}
	if c.Backtest.BarsPerYear <= 0 {
		err = multierr.Append(err, errors.New("backtest.bars_per_year 必须大于0"))
	}
	if c.Dataset.Dir == "" {
		err = multierr.Append(err, errors.New("dataset.dir 不能为空"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Scheduler.DecisionInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.decision_interval 必须大于0"))
	}
	if c.Scheduler.StopCheckInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.stop_check_interval 必须大于0"))
	}
	if c.Scheduler.StopCheckInterval > c.Scheduler.DecisionInterval {
		err = multierr.Append(err, errors.New("scheduler.stop_check_interval 不应大于 decision_interval"))
	}
	if c.Monitor.Port <= 0 || c.Monitor.Port > 65535 {
		err = multierr.Append(err, errors.New("monitor.port 必须是合法端口"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
