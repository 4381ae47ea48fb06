package policy

import (
	"fmt"

	"go.uber.org/zap"

	"rl-trader/internal/config"
)

// New 按配置创建决策来源。
func New(cfg config.PolicyConfig, logger *zap.Logger) (Oracle, error) {
	switch cfg.Kind {
	case "rule", "":
		return NewRulePolicy(cfg.ID, logger), nil
	case "service":
		return NewServicePolicy(cfg.ID, cfg.ServiceURL, cfg.Timeout, logger)
	case "llm":
		return NewLLMPolicy(cfg.ID, cfg.OpenAI, logger)
	default:
		return nil, fmt.Errorf("policy: 未知的策略类型 %q，仅支持 rule/service/llm", cfg.Kind)
	}
}
