package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "rltrader"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("exchange.name", "binance")
	v.SetDefault("exchange.symbol", "BTC/USDT")
	v.SetDefault("exchange.quote_asset", "USDT")
	v.SetDefault("exchange.use_sandbox", true)
	v.SetDefault("exchange.timeout", "10s")
	v.SetDefault("exchange.retry.max_attempts", 5)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("risk.max_position_size", 1000.0)
	v.SetDefault("risk.max_risk_per_trade", 0.02)
	v.SetDefault("risk.max_daily_loss", 0.05)
	v.SetDefault("risk.stop_loss_percent", 0.05)
	v.SetDefault("risk.take_profit_percent", 0.10)
	v.SetDefault("risk.min_balance", 1000.0)
	v.SetDefault("risk.max_open_positions", 5)
	v.SetDefault("risk.daily_reset_hour", 0)

	v.SetDefault("execution.mode", "paper")
	v.SetDefault("execution.fee_rate", 0.001)
	v.SetDefault("execution.paper_balance", 10000.0)
	v.SetDefault("execution.gateway_timeout", "15s")

	v.SetDefault("policy.id", "ppo")
	v.SetDefault("policy.kind", "rule")
	v.SetDefault("policy.window_size", 30)
	v.SetDefault("policy.service_url", "http://127.0.0.1:8001")
	v.SetDefault("policy.timeout", "10s")
	v.SetDefault("policy.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("policy.openai.model", "gpt-4.1")
	v.SetDefault("policy.openai.timeout", "15s")

	v.SetDefault("backtest.initial_balance", 10000.0)
	v.SetDefault("backtest.window_size", 30)
	v.SetDefault("backtest.fee", 0.001)
	// 默认按1小时K线年化：24*365
	v.SetDefault("backtest.bars_per_year", 8760.0)

	v.SetDefault("dataset.dir", "data/datasets")

	v.SetDefault("database.path", "data/rl_trader.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("scheduler.decision_interval", "1h")
	v.SetDefault("scheduler.stop_check_interval", "30s")

	v.SetDefault("monitor.port", 8080)
	v.SetDefault("monitor.api_key", "")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
