package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ServicePolicy 调用外部推理服务获取决策，通常是一个托管了
// 强化学习模型的 HTTP 端点。服务不可用被视为预期情形，
// 以 ErrModelUnavailable 上抛，由调用方决定跳过本轮。
type ServicePolicy struct {
	id     string
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewServicePolicy 创建外部服务策略。
func NewServicePolicy(id, url string, timeout time.Duration, logger *zap.Logger) (*ServicePolicy, error) {
	if url == "" {
		return nil, errors.New("policy: service_url 不能为空")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServicePolicy{
		id:     id,
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// ID 返回策略标识。
func (p *ServicePolicy) ID() string {
	return p.id
}

// Decide 将观察窗口提交给推理服务并解析返回的决策。
func (p *ServicePolicy) Decide(ctx context.Context, obs Observation) (Decision, error) {
	payload, err := json.Marshal(obs)
	if err != nil {
		return Decision{}, fmt.Errorf("policy: 序列化观察数据失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return Decision{}, fmt.Errorf("policy: 构造推理请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("推理服务调用失败", zap.String("url", p.url), zap.Error(err))
		return Decision{}, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		p.logger.Warn("推理服务返回异常状态",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return Decision{}, fmt.Errorf("%w: http status %d", ErrModelUnavailable, resp.StatusCode)
	}

	var decision Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return Decision{}, fmt.Errorf("policy: 解析推理服务响应失败: %w", err)
	}

	decision = decision.Normalize()
	if err := decision.Validate(); err != nil {
		return Decision{}, err
	}

	return decision, nil
}
