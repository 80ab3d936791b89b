// cmd/backtest replays historical candles through a session to see how the
// box tracker and the trade simulator behave without a live feed.
//
// Detection runs on a warmup prefix only; every later candle is appended one
// at a time and the scheduler is advanced by hand, so no tick ever sees a
// candle from its future.
//
// Usage:
//
//	go run ./cmd/backtest --db=data/candles.db --symbol=BTCUSDT --period=4h --warmup=300
//	go run ./cmd/backtest --fetch --symbol=ETHUSDT --period=1h --profit=2 --stop=1
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"squeeze-chart/config"
	"squeeze-chart/internal/feed"
	"squeeze-chart/internal/logger"
	"squeeze-chart/internal/model"
	"squeeze-chart/internal/scheduler"
	"squeeze-chart/internal/session"
	"squeeze-chart/internal/simulator"
	sqlitestore "squeeze-chart/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	dbPath := flag.String("db", "data/candles.db", "Path to the SQLite candle archive")
	symbol := flag.String("symbol", "BTCUSDT", "Symbol to replay")
	period := flag.String("period", "4h", "Candle period")
	fromTS := flag.Int64("from", 0, "First candle open time in unix ms (0=all)")
	fetch := flag.Bool("fetch", false, "Fetch klines from Binance instead of the archive")
	feedURL := flag.String("feed-url", "https://api.binance.com", "Binance REST base URL for --fetch")
	limit := flag.Int("limit", 1500, "Klines to fetch with --fetch")
	warmup := flag.Int("warmup", 200, "Candles given to the detector before replay starts")
	redetect := flag.Int("redetect", 0, "Re-run detection every N replayed candles (0=never)")
	simEvery := flag.Int("sim-every", 2, "Simulator ticks once every N candles")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime)")
	balance := flag.Float64("balance", simulator.DefaultBalance, "Starting balance")
	profit := flag.Float64("profit", simulator.DefaultPct, "Take-profit percent")
	stop := flag.Float64("stop", simulator.DefaultPct, "Stop-loss percent")
	tuningPath := flag.String("config", "", "Optional tuning YAML")
	logLevel := flag.String("log-level", "warn", "slog level")
	flag.Parse()

	logger.Init("backtest", logger.ParseLevel(*logLevel))
	if *simEvery < 1 {
		*simEvery = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// ---- Tuning ----
	cfg := session.DefaultConfig()
	cfg.Symbol, cfg.Period = *symbol, *period
	if *tuningPath != "" {
		tuning, err := config.LoadTuning(*tuningPath)
		if err != nil {
			log.Fatalf("[backtest] %v", err)
		}
		tuning.Apply(&cfg)
	}
	if err := checkWarmup(*warmup, cfg.Detector.MinWindow); err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	// ---- Load history ----
	src, err := openSource(ctx, *fetch, *dbPath, *feedURL, *symbol, *period, *limit)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}
	all, err := src.ReadCandles(*symbol, *period, *fromTS)
	if err != nil {
		log.Fatalf("[backtest] read candles: %v", err)
	}
	if len(all) <= *warmup {
		if r, ok := src.(instrumentLister); ok {
			if ins, err := r.Instruments(); err == nil {
				fmt.Fprint(os.Stderr, formatInstruments(ins))
			}
		}
		log.Fatalf("[backtest] %d candles for %s %s, need more than --warmup=%d", len(all), *symbol, *period, *warmup)
	}

	// ---- Session on a hand-driven scheduler ----
	step := cfg.LifecycleInterval
	cfg.SimulatorInterval = step * time.Duration(*simEvery)

	sched := scheduler.NewManual(time.UnixMilli(all[*warmup-1].Time))
	sess := session.New(cfg, sched)
	defer sess.Close()

	if err := sess.SetSeries(*symbol, *period, all[:*warmup]); err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	boxes, err := sess.StartDetection(ctx)
	if err != nil {
		log.Fatalf("[backtest] detection: %v", err)
	}
	detected := len(boxes)

	simCfg := sess.ConfigureSimulator(simulator.Config{
		Balance:      *balance,
		MinProfitPct: *profit,
		MaxStopPct:   *stop,
		TolerancePct: cfg.TolerancePct,
		MinCandles:   cfg.Simulator.MinCandles,
	})
	runID, err := sess.StartSimulator()
	if err != nil {
		log.Fatalf("[backtest] simulator: %v", err)
	}

	// ---- Replay the rest one candle per lifecycle tick ----
	replayed := 0
	_, err = feed.NewReplayer(src).Run(ctx, *symbol, *period, all[*warmup].Time, *speed, func(c model.Candle) error {
		if err := sess.AppendCandle(c); err != nil {
			return err
		}
		replayed++
		if *redetect > 0 && replayed%*redetect == 0 {
			b, err := sess.StartDetection(ctx)
			if err != nil {
				return err
			}
			detected += len(b)
		}
		sched.Advance(step)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		log.Fatalf("[backtest] replay: %v", err)
	}

	printSummary(summarize(sess.Trades(), simCfg.Balance), summaryInfo{
		symbol:   *symbol,
		period:   *period,
		runID:    runID,
		warmup:   *warmup,
		replayed: replayed,
		detected: detected,
		boxes:    sess.Boxes(),
	})
}

type instrumentLister interface {
	Instruments() ([]sqlitestore.Instrument, error)
}

var _ instrumentLister = (*sqlitestore.Reader)(nil)

// checkWarmup rejects prefixes too short for a single detection window.
func checkWarmup(warmup, minWindow int) error {
	if warmup < 1 || warmup < minWindow {
		return fmt.Errorf("--warmup=%d must be at least the detector min window (%d)", warmup, minWindow)
	}
	return nil
}

// memSource serves fetched klines through the same interface as the archive.
type memSource []model.Candle

func (m memSource) ReadCandles(_, _ string, fromTS int64) ([]model.Candle, error) {
	out := make([]model.Candle, 0, len(m))
	for _, c := range m {
		if c.Time >= fromTS {
			out = append(out, c)
		}
	}
	return out, nil
}

func openSource(ctx context.Context, fetch bool, dbPath, feedURL, symbol, period string, limit int) (feed.CandleSource, error) {
	if fetch {
		b := feed.NewBinance(feed.BinanceConfig{BaseURL: feedURL, Symbol: symbol, Period: period, Limit: limit})
		fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		candles, err := b.Fetch(fetchCtx, symbol, period, limit)
		if err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		log.Printf("[backtest] fetched %d klines for %s %s", len(candles), symbol, period)
		return memSource(candles), nil
	}
	reader, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open failed: %w", err)
	}
	return reader, nil
}
