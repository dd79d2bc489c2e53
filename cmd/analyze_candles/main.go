package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"liquidity-trap-engine/config"
	"liquidity-trap-engine/internal/logging"
	"liquidity-trap-engine/internal/market"
	"liquidity-trap-engine/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON or YAML config file")
	asJSON := flag.Bool("json", false, "print the full result as JSON")
	verbose := flag.Bool("v", false, "log pipeline diagnostics to stderr")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: analyze_candles [-config file] [-json] candles.{csv,json}")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	candles, err := readCandles(flag.Arg(0))
	if err != nil {
		fmt.Printf("Failed to read candles: %v\n", err)
		os.Exit(1)
	}

	logger := zerolog.Nop()
	if *verbose {
		cfg.Logging.Output = "stderr"
		cfg.Logging.JSONFormat = false
		cfg.Logging.Level = "debug"
		logger = logging.New(cfg.Logging)
	}

	result := pipeline.NewAnalyzer(cfg.Strategy, logger).Analyze(candles, nil)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Printf("Failed to encode result: %v\n", err)
			os.Exit(1)
		}
		return
	}
	printReport(result)
}

func printReport(r pipeline.Result) {
	line := strings.Repeat("=", 80)
	fmt.Println(line)
	fmt.Println("LIQUIDITY TRAP ANALYSIS")
	fmt.Println(line)

	fmt.Printf("Candles: %d valid, %d rejected\n", r.Candles, r.RejectedCount())
	fmt.Printf("Trend:   %s (strength %.2f)\n", r.Structure.Trend, r.Structure.TrendStrength)
	fmt.Printf("Swings:  %d   Events: %d   Zones: %d   Sweeps: %d\n",
		len(r.Swings), len(r.Structure.Events), len(r.Zones), len(r.Sweeps))

	fmt.Println()
	fmt.Println("Breaks")
	for _, b := range r.Breaks {
		fmt.Printf("  %s  %-8s %-10s level=%.5f score=%.2f\n",
			b.Timestamp.Format(time.RFC3339), b.Direction, b.Label, b.Level, b.Score)
	}

	fmt.Println()
	fmt.Println("Traps")
	for _, t := range r.Traps {
		fmt.Printf("  %s  %-16s %-8s entry=%.5f stop=%.5f conf=%.2f risk=%s\n",
			t.Timestamp.Format(time.RFC3339), t.Kind, t.Direction, t.EntryPrice, t.StopLoss, t.Confidence, t.RiskLevel)
	}

	fmt.Println()
	fmt.Printf("Decision: %s", r.Decision.Reason)
	if r.Decision.Detail != "" {
		fmt.Printf(" (%s)", r.Decision.Detail)
	}
	fmt.Println()
	if sig := r.Decision.Signal; sig != nil && r.Decision.Valid() {
		fmt.Printf("  %s entry=%.5f stop=%.5f tp=%v rr=%.2f confidence=%.2f grade=%s\n",
			sig.Direction, sig.EntryPrice, sig.StopLoss, sig.TakeProfits, sig.RiskReward, sig.Confidence, sig.Grade)
	}
}

// readCandles loads a JSON array of candles or a CSV with a
// timestamp,open,high,low,close,volume header
func readCandles(path string) ([]market.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		var candles []market.Candle
		if err := json.NewDecoder(f).Decode(&candles); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return candles, nil
	}
	return readCSV(f)
}

func readCSV(r io.Reader) ([]market.Candle, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("csv has no data rows")
	}

	candles := make([]market.Candle, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) < 6 {
			return nil, fmt.Errorf("row %d: want 6 columns, got %d", i+2, len(row))
		}
		ts, err := parseTime(row[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		var vals [5]float64
		for j := range vals {
			if vals[j], err = strconv.ParseFloat(strings.TrimSpace(row[j+1]), 64); err != nil {
				return nil, fmt.Errorf("row %d col %d: %w", i+2, j+2, err)
			}
		}
		candles = append(candles, market.Candle{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return candles, nil
}

// parseTime accepts RFC3339 or unix milliseconds
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
