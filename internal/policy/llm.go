package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"rl-trader/internal/config"
)

// LLMPolicy 调用大模型作为决策来源，实验性质，主要用于与
// 规则策略、推理服务做横向对比。
type LLMPolicy struct {
	id     string
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    *openai.Client
}

// NewLLMPolicy 创建大模型策略。
func NewLLMPolicy(id string, cfg config.OpenAIConfig, logger *zap.Logger) (*LLMPolicy, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("policy: openai api_key 不能为空")
	}
	if cfg.Model == "" {
		return nil, errors.New("policy: openai model 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &LLMPolicy{
		id:     id,
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(clientConfig),
	}, nil
}

// ID 返回策略标识。
func (p *LLMPolicy) ID() string {
	return p.id
}

// Decide 渲染提示词调用大模型，并解析其返回的决策 JSON。
func (p *LLMPolicy) Decide(ctx context.Context, obs Observation) (Decision, error) {
	prompt, err := buildPrompt(obs)
	if err != nil {
		return Decision{}, err
	}

	response, err := p.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		p.logger.Warn("调用大模型失败", zap.Error(err))
		return Decision{}, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	if len(response.Choices) == 0 {
		return Decision{}, fmt.Errorf("%w: 返回结果为空", ErrModelUnavailable)
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	if rawContent == "" {
		return Decision{}, fmt.Errorf("%w: 返回内容为空", ErrModelUnavailable)
	}

	decision, err := parseDecision(rawContent)
	if err != nil {
		p.logger.Error("解析模型决策失败",
			zap.Error(err),
			zap.String("raw_content", rawContent),
		)
		return Decision{}, err
	}

	decision = decision.Normalize()
	if err := decision.Validate(); err != nil {
		return Decision{}, err
	}

	p.logger.Info("大模型决策生成成功",
		zap.String("action", decision.Action),
		zap.Float64("confidence", decision.Confidence),
	)

	return decision, nil
}

func parseDecision(content string) (Decision, error) {
	jsonPayload, err := extractJSON(content)
	if err != nil {
		return Decision{}, err
	}

	var decision Decision
	if err = json.Unmarshal(jsonPayload, &decision); err != nil {
		return Decision{}, fmt.Errorf("policy: 解析决策JSON失败: %w", err)
	}

	return decision, nil
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("policy: 模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}
