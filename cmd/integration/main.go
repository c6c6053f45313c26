// Command integration runs an end-to-end smoke check against a live (paper)
// gateway and the configured market-data upstreams. It reads and quotes but
// never places orders.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/dfalkner/autotrader/internal/broker"
	"github.com/dfalkner/autotrader/internal/config"
	"github.com/dfalkner/autotrader/internal/marketdata"
	"github.com/dfalkner/autotrader/internal/storage"
)

func main() {
	fmt.Println("=== Auto Trader - Gateway Integration Check ===")
	fmt.Println()

	_ = godotenv.Load()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Never run this against real money.
	if cfg.IsLive() {
		log.Fatalf("Integration checks must run in paper mode. Set environment.mode: 'paper' in config.yaml")
	}

	logger := log.New(os.Stdout, "[E2E] ", log.LstdFlags)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	failures := 0
	check := func(name string, err error) {
		if err != nil {
			logger.Printf("FAIL %s: %v", name, err)
			failures++
			return
		}
		logger.Printf("ok   %s", name)
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	check("datastore open", err)
	if err == nil {
		check("datastore ping", store.Ping(ctx))
		defer func() { _ = store.Close() }()
	}

	gw := broker.NewGatewayClient(cfg.Gateway.BaseURL)
	if !gw.IsConnected() {
		logger.Printf("FAIL gateway connection: not authenticated at %s", cfg.Gateway.BaseURL)
		failures++
	} else {
		logger.Printf("ok   gateway connection")
		positions, err := gw.GetPositionsCtx(ctx)
		check("gateway positions", err)
		if err == nil {
			logger.Printf("     %d position(s) held", len(positions))
		}
		_, err = gw.SearchContract(ctx, cfg.MarketData.BroadSymbol)
		check("contract search "+cfg.MarketData.BroadSymbol, err)
	}

	data := marketdata.NewClient(marketdata.Config{
		FinnhubBaseURL: cfg.MarketData.BaseURL,
		FinnhubAPIKey:  cfg.MarketData.Token,
		ChartBaseURL:   cfg.MarketData.ChartsURL,
	})
	quote, err := data.Quote(ctx, cfg.MarketData.BroadSymbol)
	check("quote "+cfg.MarketData.BroadSymbol, err)
	if err == nil {
		logger.Printf("     %s last %.2f", cfg.MarketData.BroadSymbol, quote)
	}
	bars, err := data.DailyBars(ctx, cfg.MarketData.BroadSymbol)
	check("daily bars "+cfg.MarketData.BroadSymbol, err)
	if err == nil {
		logger.Printf("     %d daily bar(s)", len(bars.Closes))
	}

	fmt.Println()
	if failures > 0 {
		logger.Fatalf("%d check(s) failed", failures)
	}
	logger.Println("All checks passed")
}
