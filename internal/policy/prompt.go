package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"
)

const decisionTemplate = `
你是一个专业的加密货币量化交易员。你的任务是根据观察窗口内的K线数据与当前持仓，给出下一步交易动作。

交易标的: {{ .Symbol }}
账户余额: {{ printf "%.2f" .Balance }}

最近 {{ .BarCount }} 根K线（时间升序）:
{{ .BarsJSON }}

当前持仓:
{{ .PositionJSON }}

制定决策时请遵循：
1. 先判断趋势与动量，确认是否存在高胜率方向；
2. 不确定时保持 HOLD，不要强行交易；
3. target_fraction 表示建仓占余额的比例，保守处理。

请严格输出唯一的 JSON 对象，格式如下：
{
  "action": "BUY|SELL|HOLD",       // BUY: 建仓/加仓, SELL: 平仓/做空, HOLD: 本轮不交易
  "confidence": 0.0-1.0,            // 决策信心度
  "target_fraction": 0.0-1.0,       // 目标建仓占余额比例，HOLD/SELL 请填 0
  "reasoning": "..."               // 支撑结论的关键理由
}

注意：所有字段均需填写，不要输出 JSON 之外的任何内容。
`

var tmpl = template.Must(template.New("decision").Parse(decisionTemplate))

type promptContext struct {
	Symbol       string
	Balance      float64
	BarCount     int
	BarsJSON     string
	PositionJSON string
}

// buildPrompt 将观察窗口渲染成提示词字符串。
func buildPrompt(obs Observation) (string, error) {
	barsJSON, err := json.Marshal(obs.Bars)
	if err != nil {
		return "", fmt.Errorf("policy: 序列化K线失败: %w", err)
	}

	positionJSON := "无持仓"
	if obs.Position != nil {
		raw, err := json.MarshalIndent(obs.Position, "", "  ")
		if err != nil {
			return "", fmt.Errorf("policy: 序列化持仓失败: %w", err)
		}
		positionJSON = string(raw)
	}

	ctx := promptContext{
		Symbol:       obs.Symbol,
		Balance:      obs.Balance,
		BarCount:     len(obs.Bars),
		BarsJSON:     string(barsJSON),
		PositionJSON: positionJSON,
	}

	var buf bytes.Buffer
	if err = tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("policy: 渲染提示词失败: %w", err)
	}

	return buf.String(), nil
}
