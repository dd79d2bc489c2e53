package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"liquidity-trap-engine/internal/engine"
	"liquidity-trap-engine/internal/events"
	"liquidity-trap-engine/internal/market"
	"liquidity-trap-engine/internal/pipeline"
	"liquidity-trap-engine/internal/risk"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := events.NewEventBus()
	manager := risk.NewManager(risk.DefaultConfig(), bus, zerolog.Nop())
	analyzer := pipeline.NewAnalyzer(pipeline.DefaultConfig(), zerolog.Nop())
	eng := engine.New(engine.DefaultConfig(), analyzer, manager, bus, zerolog.Nop())

	s := NewServer(ServerConfig{Port: 0, Host: "127.0.0.1"}, eng, manager, bus, pipeline.DefaultConfig(), zerolog.Nop())
	t.Cleanup(func() { s.hub.Stop() })
	return s
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
	}
	return w, response
}

var longOrder = map[string]interface{}{
	"symbol":          "EURUSD",
	"direction":       "long",
	"entry_price":     1.1000,
	"stop_loss":       1.0950,
	"account_balance": 10000,
	"risk_fraction":   0.02,
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	w, response := doJSON(t, s.Handler(), http.MethodGet, "/health", nil)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if response["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%v'", response["status"])
	}
}

func TestCreateAndUpdatePosition(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	w, response := doJSON(t, h, http.MethodPost, "/api/positions", longOrder)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	data := response["data"].(map[string]interface{})
	id := data["id"].(string)
	if data["size"].(float64) != 40000 {
		t.Errorf("Expected size 40000, got %v", data["size"])
	}

	w, response = doJSON(t, h, http.MethodPost, "/api/positions/"+id+"/price", map[string]interface{}{"price": 1.106})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	data = response["data"].(map[string]interface{})
	exits := data["exits"].([]interface{})
	if len(exits) != 1 {
		t.Fatalf("Expected 1 exit, got %d", len(exits))
	}
	if level := exits[0].(map[string]interface{})["level"]; level != "TP1" {
		t.Errorf("Expected TP1, got %v", level)
	}
	position := data["position"].(map[string]interface{})
	if position["status"] != "PARTIAL_CLOSE" {
		t.Errorf("Expected PARTIAL_CLOSE, got %v", position["status"])
	}

	w, response = doJSON(t, h, http.MethodGet, "/api/portfolio/risk", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	pr := response["data"].(map[string]interface{})
	if pr["position_count"].(float64) != 1 {
		t.Errorf("Expected 1 open position, got %v", pr["position_count"])
	}
}

func TestCreatePositionRejected(t *testing.T) {
	s := newTestServer(t)

	order := map[string]interface{}{}
	for k, v := range longOrder {
		order[k] = v
	}
	order["stop_loss"] = 1.1050

	w, response := doJSON(t, s.Handler(), http.MethodPost, "/api/positions", order)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422, got %d", w.Code)
	}
	if response["reason"] != string(risk.RejectInvertedStop) {
		t.Errorf("Expected reason %s, got %v", risk.RejectInvertedStop, response["reason"])
	}
}

func TestUnknownPositionAndSession(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	if w, _ := doJSON(t, h, http.MethodGet, "/api/positions/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for position, got %d", w.Code)
	}
	if w, _ := doJSON(t, h, http.MethodGet, "/api/sessions/NOPE", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for session, got %d", w.Code)
	}
	if w, _ := doJSON(t, h, http.MethodPost, "/api/positions/nope/price", map[string]interface{}{"price": 1.1}); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for price update, got %d", w.Code)
	}
}

func testCandles(n int) []market.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	price := 1.1000
	for i := range out {
		step := 0.0004
		if (i/7)%2 == 1 {
			step = -0.0003
		}
		open := price
		price += step
		out[i] = market.Candle{
			Timestamp: start.Add(time.Duration(i) * 15 * time.Minute),
			Open:      open,
			High:      price + 0.0006,
			Low:       price - 0.0006,
			Close:     price,
			Volume:    1000 + float64(i%5)*100,
		}
	}
	return out
}

func TestAnalyzeEndpoint(t *testing.T) {
	s := newTestServer(t)

	w, response := doJSON(t, s.Handler(), http.MethodPost, "/api/analyze", map[string]interface{}{
		"candles": testCandles(120),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	data := response["data"].(map[string]interface{})
	result := data["result"].(map[string]interface{})
	if result["candles"].(float64) != 120 {
		t.Errorf("Expected 120 candles analyzed, got %v", result["candles"])
	}
	if _, ok := result["decision"]; !ok {
		t.Error("Expected a decision in the result")
	}
}

func TestAnalyzeRejectsBadConfig(t *testing.T) {
	s := newTestServer(t)

	cfg := pipeline.DefaultConfig()
	cfg.Analysis.SwingWindow = 0
	w, _ := doJSON(t, s.Handler(), http.MethodPost, "/api/analyze", map[string]interface{}{
		"candles": testCandles(20),
		"config":  cfg,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestSessionCandlesEndpoint(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	// A higher frame alone does not trigger analysis
	w, response := doJSON(t, h, http.MethodPost, "/api/sessions/EURUSD/candles", map[string]interface{}{
		"timeframe": "1h",
		"candles":   testCandles(60),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if response["data"].(map[string]interface{})["evaluated"] != false {
		t.Error("Expected no evaluation without base frame")
	}

	w, response = doJSON(t, h, http.MethodPost, "/api/sessions/EURUSD/candles", map[string]interface{}{
		"timeframe": "15m",
		"candles":   testCandles(120),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if response["data"].(map[string]interface{})["evaluated"] != true {
		t.Error("Expected evaluation once the base frame has data")
	}

	if w, _ := doJSON(t, h, http.MethodGet, "/api/sessions/EURUSD", nil); w.Code != http.StatusOK {
		t.Errorf("Expected stored session result, got %d", w.Code)
	}

	if w, _ := doJSON(t, h, http.MethodPost, "/api/sessions/EURUSD/candles", map[string]interface{}{
		"timeframe": "7m",
		"candles":   testCandles(5),
	}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown timeframe, got %d", w.Code)
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var welcome map[string]interface{}
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("Failed to read welcome: %v", err)
	}
	if welcome["type"] != "CONNECTED" {
		t.Errorf("Expected CONNECTED, got %v", welcome["type"])
	}

	// Wait for registration before publishing
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.GetClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	body, _ := json.Marshal(longOrder)
	resp, err := http.Post(srv.URL+"/api/positions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create position: %v", err)
	}
	resp.Body.Close()

	var event events.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	if event.Type != events.EventPositionOpened {
		t.Errorf("Expected %s, got %s", events.EventPositionOpened, event.Type)
	}
	if event.Symbol != "EURUSD" {
		t.Errorf("Expected symbol EURUSD, got %s", event.Symbol)
	}
}
