package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"rl-trader/internal/exchange"
)

// ErrDatasetNotFound 表示指定标的没有对应的历史数据文件。
var ErrDatasetNotFound = errors.New("dataset: 历史数据不存在")

// Source 抽象历史K线来源，回测引擎依赖它取数。
type Source interface {
	GetBars(ctx context.Context, symbol string, start, end time.Time) ([]exchange.Candle, error)
}

// CSVSource 从目录中按 <SYMBOL>.csv 加载历史K线。
// 文件格式: timestamp,open,high,low,close,volume，首行为表头，
// timestamp 为 RFC3339 或 Unix 秒。
type CSVSource struct {
	dir    string
	logger *zap.Logger
}

// NewCSVSource 创建 CSV 数据源。
func NewCSVSource(dir string, logger *zap.Logger) (*CSVSource, error) {
	if dir == "" {
		return nil, errors.New("dataset: 数据目录不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVSource{dir: dir, logger: logger}, nil
}

// GetBars 返回 [start, end] 区间内的K线，按时间升序。
// 数据文件必须本身有序，乱序视为数据损坏并报错。
func (s *CSVSource) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]exchange.Candle, error) {
	if symbol == "" {
		return nil, errors.New("dataset: symbol 不能为空")
	}

	path := filepath.Join(s.dir, fileNameFor(symbol))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, symbol)
		}
		return nil, fmt.Errorf("dataset: 打开数据文件失败: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 6

	// 跳过表头。
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("dataset: 数据文件为空: %s", path)
		}
		return nil, fmt.Errorf("dataset: 读取表头失败: %w", err)
	}

	var (
		bars []exchange.Candle
		prev time.Time
		line = 1
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: 读取第 %d 行失败: %w", line+1, err)
		}
		line++

		candle, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("dataset: 第 %d 行数据非法: %w", line, err)
		}

		if !prev.IsZero() && !candle.Timestamp.After(prev) {
			return nil, fmt.Errorf("dataset: 第 %d 行时间戳乱序: %s <= %s", line, candle.Timestamp, prev)
		}
		prev = candle.Timestamp

		if !start.IsZero() && candle.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && candle.Timestamp.After(end) {
			break
		}
		bars = append(bars, candle)
	}

	s.logger.Debug("历史数据加载完成",
		zap.String("symbol", symbol),
		zap.Int("bars", len(bars)),
	)

	return bars, nil
}

// fileNameFor 将 BTC/USDT 映射为 BTCUSDT.csv。
func fileNameFor(symbol string) string {
	return strings.ReplaceAll(strings.ToUpper(symbol), "/", "") + ".csv"
}

func parseRecord(record []string) (exchange.Candle, error) {
	ts, err := parseTimestamp(strings.TrimSpace(record[0]))
	if err != nil {
		return exchange.Candle{}, err
	}

	values := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
		if err != nil {
			return exchange.Candle{}, fmt.Errorf("解析数值列失败: %w", err)
		}
		values[i] = v
	}

	if values[0] <= 0 || values[1] <= 0 || values[2] <= 0 || values[3] <= 0 {
		return exchange.Candle{}, errors.New("价格列必须大于0")
	}

	return exchange.Candle{
		Timestamp: ts,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("无法解析时间戳 %q", raw)
}
