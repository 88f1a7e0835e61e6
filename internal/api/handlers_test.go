package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bitvavo-trading-bot/config"
	"bitvavo-trading-bot/internal/auth"
	"bitvavo-trading-bot/internal/bitvavo"
	"bitvavo-trading-bot/internal/events"
	"bitvavo-trading-bot/internal/performance"
	"bitvavo-trading-bot/internal/risk"
	"bitvavo-trading-bot/internal/strategy"
	"bitvavo-trading-bot/internal/trading"
)

type holdStrategy struct{}

func (holdStrategy) Name() string        { return "hold" }
func (holdStrategy) Description() string { return "always holds" }
func (holdStrategy) Analyze(candles []bitvavo.Candle) strategy.Signal {
	return strategy.Signal{Action: strategy.ActionHold, Reason: "test"}
}

func newTestServer(t *testing.T, authCfg config.AuthConfig) *Server {
	t.Helper()

	logger := zerolog.Nop()
	client := bitvavo.NewPaperClient("EUR", 1000, 0, 0)
	client.SetPrice("BTC-EUR", 100)

	bus := events.NewBus()
	monitor := performance.NewMonitor(1000, 0, logger)
	riskMgr := risk.NewManager(risk.Limits{
		MaxRiskPerTrade:   0.02,
		MaxLeverage:       3,
		MaxDailyRisk:      0.05,
		MaxDrawdown:       0.10,
		EmergencyStopLoss: 0.15,
	}, client, monitor, bus, "EUR", logger)

	trader := trading.NewManager(trading.Config{
		Market:        "BTC-EUR",
		Interval:      "1h",
		OrderFraction: 0.1,
		MinOrderValue: 10,
	}, client, holdStrategy{}, riskMgr, bus, logger)

	srv := NewServer(config.ServerConfig{
		Host:           "127.0.0.1",
		Port:           0,
		AllowedOrigins: "*",
		ReadTimeout:    5,
		WriteTimeout:   5,
	}, authCfg, Deps{
		Trader:  trader,
		RiskMgr: riskMgr,
		Monitor: monitor,
	}, logger)
	return srv
}

func doRequest(srv *Server, method, path, body, token string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{})

	w := doRequest(srv, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", w.Code)
	}
}

func TestStatusWithoutAuth(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{})

	w := doRequest(srv, http.MethodGet, "/api/status", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/status status = %d, want 200", w.Code)
	}

	var status trading.Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.Running {
		t.Error("Running = true before Start")
	}
	if status.Market != "BTC-EUR" {
		t.Errorf("Market = %q, want BTC-EUR", status.Market)
	}
}

func TestAuthRequiredWhenEnabled(t *testing.T) {
	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	authCfg := config.AuthConfig{
		Enabled:             true,
		JWTSecret:           "test-secret",
		AccessTokenDuration: 15 * time.Minute,
		AdminUsername:       "admin",
		AdminPasswordHash:   hash,
	}
	srv := newTestServer(t, authCfg)

	if w := doRequest(srv, http.MethodGet, "/api/status", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", w.Code)
	}

	w := doRequest(srv, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"wrong"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", w.Code)
	}

	w = doRequest(srv, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"s3cret"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	if loginResp.Token == "" {
		t.Fatal("login returned empty token")
	}

	if w := doRequest(srv, http.MethodGet, "/api/status", "", loginResp.Token); w.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", w.Code)
	}
}

func TestBotStartStop(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{})

	if w := doRequest(srv, http.MethodPost, "/api/bot/start", "", ""); w.Code != http.StatusOK {
		t.Fatalf("start status = %d, want 200", w.Code)
	}
	// Second start must report a conflict.
	if w := doRequest(srv, http.MethodPost, "/api/bot/start", "", ""); w.Code != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409", w.Code)
	}
	if w := doRequest(srv, http.MethodPost, "/api/bot/stop", "", ""); w.Code != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", w.Code)
	}
}

func TestResetEmergencyWhenInactive(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{})

	if w := doRequest(srv, http.MethodPost, "/api/risk/reset-emergency", "", ""); w.Code != http.StatusConflict {
		t.Fatalf("reset status = %d, want 409", w.Code)
	}
}

func TestBacktestNotWired(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{})

	w := doRequest(srv, http.MethodPost, "/api/backtest", `{"market":"BTC-EUR"}`, "")
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("backtest status = %d, want 501", w.Code)
	}
}

func TestBacktestHistoryWithoutDatabase(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{})

	if w := doRequest(srv, http.MethodGet, "/api/backtest/history", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("history status = %d, want 503", w.Code)
	}
}
