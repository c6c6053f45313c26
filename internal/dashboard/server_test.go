package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dfalkner/autotrader/internal/models"
	"github.com/dfalkner/autotrader/internal/storage"
)

type fakeController struct {
	status    models.BotStatus
	cycles    chan struct{}
	execution chan struct{}
}

func newFakeController() *fakeController {
	return &fakeController{
		status:    models.BotStatus{TriggersActive: true, LastResult: "success", RunCount: 4},
		cycles:    make(chan struct{}, 8),
		execution: make(chan struct{}, 8),
	}
}

func (f *fakeController) StatusSnapshot(context.Context) models.BotStatus { return f.status }
func (f *fakeController) RunCycle(context.Context)                        { f.cycles <- struct{}{} }
func (f *fakeController) RunExecutionOnly(context.Context)                { f.execution <- struct{}{} }

func newTestServer(t *testing.T, authToken string) (*httptest.Server, *storage.MockStore, *fakeController) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := storage.NewMockStore()
	bot := newFakeController()
	s := NewServer(Config{Addr: ":0", AuthToken: authToken}, store, bot, logger)

	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)
	return srv, store, bot
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	var body map[string]any
	getJSON(t, srv.URL+"/health", &body)
	if body["status"] != "healthy" {
		t.Errorf("health = %v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	var status models.BotStatus
	getJSON(t, srv.URL+"/api/status", &status)
	if !status.TriggersActive || status.RunCount != 4 || status.LastResult != "success" {
		t.Errorf("status = %+v", status)
	}
}

func TestTradesEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t, "")
	store.Trades["t-1"] = &models.Trade{
		ID: "t-1", Ticker: "AAPL", Status: models.StatusFilled,
		Signal: models.SignalBuy, Mode: models.ModeSwing,
	}

	var trades []models.Trade
	getJSON(t, srv.URL+"/api/trades", &trades)
	if len(trades) != 1 || trades[0].Ticker != "AAPL" {
		t.Errorf("trades = %+v", trades)
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t, "")
	store.Events = append(store.Events, models.AutoTradeEvent{
		ID: "e-1", EventType: models.EventSuccess, Action: models.ActionExecuted, Ticker: "NVDA",
	})

	var events []models.AutoTradeEvent
	getJSON(t, srv.URL+"/api/events", &events)
	if len(events) != 1 || events[0].Ticker != "NVDA" {
		t.Errorf("events = %+v", events)
	}
}

func TestConfigEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t, "")
	cfg := models.DefaultAutoTraderConfig()
	cfg.MaxPositions = 7
	store.Config = cfg

	var got models.AutoTraderConfig
	getJSON(t, srv.URL+"/api/config", &got)
	if got.MaxPositions != 7 {
		t.Errorf("config = %+v", got)
	}
}

func TestRunEndpointsTrigger(t *testing.T) {
	srv, _, bot := newTestServer(t, "")

	for _, tc := range []struct {
		path string
		ch   chan struct{}
	}{
		{"/api/run", bot.cycles},
		{"/api/run-execution", bot.execution},
	} {
		resp, err := http.Post(srv.URL+tc.path, "application/json", strings.NewReader(""))
		if err != nil {
			t.Fatalf("POST %s: %v", tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Errorf("POST %s: status %d, want 202", tc.path, resp.StatusCode)
		}
		select {
		case <-tc.ch:
		case <-time.After(time.Second):
			t.Errorf("POST %s: controller never invoked", tc.path)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status %d, want 401", resp.StatusCode)
	}

	// Health stays open for liveness probes.
	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health: status %d, want 200", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/status", nil)
	req.Header.Set("X-Auth-Token", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with header: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("header token: status %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/status?token=secret")
	if err != nil {
		t.Fatalf("GET with query token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("query token: status %d, want 200", resp.StatusCode)
	}
}
