package indicator

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"rl-trader/internal/exchange"
)

// 规则策略使用的默认周期。
const (
	FastPeriod = 10
	SlowPeriod = 30
	RSIPeriod  = 14
	ATRPeriod  = 14
)

// Snapshot 是窗口末端的指标快照，供规则策略做交叉与超买超卖判断。
type Snapshot struct {
	Close       float64
	PrevClose   float64
	SMAFast     float64
	SMASlow     float64
	PrevSMAFast float64
	PrevSMASlow float64
	RSI         float64
	ATR         float64
	VolumeRatio float64
}

// Compute 按给定K线窗口计算指标快照。窗口不足以覆盖慢线周期时报错。
func Compute(candles []exchange.Candle) (Snapshot, error) {
	series := NewSeries(candles)
	if series.Len() <= SlowPeriod {
		return Snapshot{}, fmt.Errorf("indicator: K线数量不足，需要大于 %d 根，当前 %d 根", SlowPeriod, series.Len())
	}

	smaFast := talib.Sma(series.Close, FastPeriod)
	smaSlow := talib.Sma(series.Close, SlowPeriod)
	rsi := talib.Rsi(series.Close, RSIPeriod)
	atr := talib.Atr(series.High, series.Low, series.Close, ATRPeriod)

	volumeAvg := average(SliceTail(series.Volume, 20))
	volumeRatio := SafeDivide(Last(series.Volume), volumeAvg)

	return Snapshot{
		Close:       Last(series.Close),
		PrevClose:   Prev(series.Close),
		SMAFast:     Last(smaFast),
		SMASlow:     Last(smaSlow),
		PrevSMAFast: Prev(smaFast),
		PrevSMASlow: Prev(smaSlow),
		RSI:         Last(rsi),
		ATR:         Last(atr),
		VolumeRatio: volumeRatio,
	}, nil
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
