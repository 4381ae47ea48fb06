package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"rl-trader/internal/backtest"
	"rl-trader/internal/config"
	"rl-trader/internal/dataset"
	"rl-trader/internal/execution"
	"rl-trader/internal/ledger"
	"rl-trader/internal/monitor"
	"rl-trader/internal/risk"
)

// monitorServer 暴露运维与操作接口。只读接口公开，
// 改变状态的接口要求 X-API-Key。
type monitorServer struct {
	app    *App
	port   int
	apiKey string
}

func newMonitorServer(a *App, cfg config.MonitorConfig) *monitorServer {
	return &monitorServer{
		app:    a,
		port:   cfg.Port,
		apiKey: cfg.APIKey,
	}
}

func (s *monitorServer) run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/positions", s.handlePositions)
	mux.HandleFunc("/trades", s.handleTrades)
	mux.HandleFunc("/trades/execute", s.authorized(s.handleExecuteTrade))
	mux.HandleFunc("/risk/stats", s.handleRiskStats)
	mux.HandleFunc("/risk/limits", s.handleRiskLimits)
	mux.HandleFunc("/backtests", s.handleBacktests)
	mux.HandleFunc("/backtests/run", s.authorized(s.handleRunBacktest))
	mux.HandleFunc("/models/performance", s.handleModelPerformance)

	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.app.logger.Info("监控接口已启动", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.app.logger.Warn("关闭监控服务失败", zap.Error(err))
		}
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("监控服务异常: %w", err)
		}
		return nil
	}
}

// authorized 校验 X-API-Key。未配置密钥时改变状态的接口全部拒绝。
func (s *monitorServer) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			http.Error(w, "操作接口未启用", http.StatusForbidden)
			return
		}
		if r.Header.Get("X-API-Key") != s.apiKey {
			http.Error(w, "无效的 API Key", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *monitorServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"mode":   s.app.executor.Mode(),
		"policy": s.app.oracle.ID(),
	})
}

func (s *monitorServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"), 200, 1000)

	eventType := monitor.EventType("")
	if typ := strings.TrimSpace(q.Get("type")); typ != "" {
		eventType = monitor.EventType(strings.ToLower(typ))
	}

	events, err := s.app.monitor.ListEvents(r.Context(), eventType, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *monitorServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.executor.Positions())
}

func (s *monitorServer) handleTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := execution.TradeFilter{
		Symbol: q.Get("symbol"),
		Limit:  parseLimit(q.Get("limit"), 100, 1000),
	}
	if raw := q.Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "since 参数非法", http.StatusBadRequest)
			return
		}
		filter.Since = ts
	}
	if raw := q.Get("until"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "until 参数非法", http.StatusBadRequest)
			return
		}
		filter.Until = ts
	}

	trades, err := s.app.executor.TradeHistory(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

type executeTradeRequest struct {
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Size   float64 `json:"size"`
	Price  float64 `json:"price"`
}

func (s *monitorServer) handleExecuteTrade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var req executeTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体非法", http.StatusBadRequest)
		return
	}

	var side ledger.OrderSide
	switch strings.ToLower(req.Side) {
	case "buy":
		side = ledger.OrderSideBuy
	case "sell":
		side = ledger.OrderSideSell
	default:
		http.Error(w, "side 必须为 buy 或 sell", http.StatusBadRequest)
		return
	}

	result, err := s.app.executor.ExecuteTrade(r.Context(), execution.TradeIntent{
		Symbol: req.Symbol,
		Side:   side,
		Size:   req.Size,
		Price:  req.Price,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.app.monitor.RecordTrade(r.Context(), result)
	writeJSON(w, http.StatusOK, result)
}

func (s *monitorServer) handleRiskStats(w http.ResponseWriter, r *http.Request) {
	balance, err := s.app.executor.Balance(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	stats, err := s.app.riskMgr.Stats(r.Context(), time.Now().UTC(), balance)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *monitorServer) handleRiskLimits(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.app.riskMgr.Limits())
	case http.MethodPut, http.MethodPatch:
		s.authorized(func(w http.ResponseWriter, r *http.Request) {
			var patch risk.LimitsPatch
			if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
				http.Error(w, "请求体非法", http.StatusBadRequest)
				return
			}
			writeJSON(w, http.StatusOK, s.app.riskMgr.UpdateLimits(patch))
		})(w, r)
	default:
		http.Error(w, "仅支持 GET/PUT", http.StatusMethodNotAllowed)
	}
}

type runBacktestRequest struct {
	Symbol         string  `json:"symbol"`
	Start          string  `json:"start"`
	End            string  `json:"end"`
	InitialBalance float64 `json:"initial_balance"`
	WindowSize     int     `json:"window_size"`
	Fee            float64 `json:"fee"`
}

func (s *monitorServer) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var req runBacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体非法", http.StatusBadRequest)
		return
	}

	params := backtest.Params{
		Symbol:         req.Symbol,
		InitialBalance: req.InitialBalance,
		WindowSize:     req.WindowSize,
		Fee:            req.Fee,
	}
	if req.Start != "" {
		ts, err := time.Parse(time.RFC3339, req.Start)
		if err != nil {
			http.Error(w, "start 参数非法", http.StatusBadRequest)
			return
		}
		params.Start = ts
	}
	if req.End != "" {
		ts, err := time.Parse(time.RFC3339, req.End)
		if err != nil {
			http.Error(w, "end 参数非法", http.StatusBadRequest)
			return
		}
		params.End = ts
	}
	params = params.Normalize(s.app.cfg.Backtest)

	run, err := s.app.runner.Run(r.Context(), params, s.app.oracle)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, dataset.ErrDatasetNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.app.monitor.RecordBacktest(r.Context(), run.ID, run.Params.PolicyID, run.Params.Symbol, run.Status, run.Trades)
	writeJSON(w, http.StatusOK, run)
}

func (s *monitorServer) handleBacktests(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		run, err := s.app.runStore.Get(r.Context(), id)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, backtest.ErrRunNotFound) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, http.StatusOK, run)
		return
	}

	runs, err := s.app.runStore.List(r.Context(), parseLimit(r.URL.Query().Get("limit"), 50, 500))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *monitorServer) handleModelPerformance(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("policy_id"); id != "" {
		perf, err := s.app.perf.Performance(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, perf)
		return
	}

	cmp, err := s.app.perf.Compare(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseLimit(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	if v > max {
		return max
	}
	return v
}
