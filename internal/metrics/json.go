package metrics

import (
	"encoding/json"
	"fmt"
	"math"
)

// JSON 不支持无穷大，+Inf 的盈亏比在编码时退化为字符串 "inf"。

type summaryAlias Summary

// MarshalJSON 实现 json.Marshaler。
func (s Summary) MarshalJSON() ([]byte, error) {
	out := struct {
		summaryAlias
		ProfitFactor interface{} `json:"profit_factor"`
	}{summaryAlias: summaryAlias(s)}

	if math.IsInf(s.ProfitFactor, 1) {
		out.ProfitFactor = "inf"
	} else {
		out.ProfitFactor = s.ProfitFactor
	}
	return json.Marshal(out)
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (s *Summary) UnmarshalJSON(data []byte) error {
	aux := struct {
		*summaryAlias
		ProfitFactor json.RawMessage `json:"profit_factor"`
	}{summaryAlias: (*summaryAlias)(s)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.ProfitFactor) == 0 {
		return nil
	}

	var f float64
	if err := json.Unmarshal(aux.ProfitFactor, &f); err == nil {
		s.ProfitFactor = f
		return nil
	}
	var str string
	if err := json.Unmarshal(aux.ProfitFactor, &str); err == nil && str == "inf" {
		s.ProfitFactor = math.Inf(1)
		return nil
	}
	return fmt.Errorf("metrics: 无法解析 profit_factor: %s", aux.ProfitFactor)
}
