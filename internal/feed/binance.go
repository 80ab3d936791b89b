// Package feed pulls candles from the outside world into the session.
//
// Binance performs a full kline load on start and on every instrument change,
// then polls the newest klines and hands them to the session loop through a
// ring buffer. Replayer plays archived candles back for backtests.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"squeeze-chart/internal/metrics"
	"squeeze-chart/internal/model"
	"squeeze-chart/internal/ringbuf"
)

// ErrUnknownInterval is returned by Select for a period Binance does not serve.
var ErrUnknownInterval = errors.New("unknown kline interval")

// Intervals are the kline periods the Binance REST API accepts.
var Intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  3 * 24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1M":  30 * 24 * time.Hour,
}

// BinanceConfig configures the REST feed.
type BinanceConfig struct {
	BaseURL  string        // e.g. https://api.binance.com
	Symbol   string        // e.g. BTCUSDT
	Period   string        // e.g. 4h
	Limit    int           // klines per full load, max 1500
	Interval time.Duration // poll interval for the newest klines
	Refresh  time.Duration // full reload interval, 0 disables
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
}

// SeriesFunc receives every full load.
type SeriesFunc func(symbol, period string, candles []model.Candle) error

// Binance is a polling kline client.
type Binance struct {
	cfg    BinanceConfig
	client *http.Client

	mu     sync.Mutex
	symbol string
	period string
	reload chan struct{}
}

// NewBinance creates a client. Zero fields fall back to the live defaults.
func NewBinance(cfg BinanceConfig) *Binance {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.binance.com"
	}
	if cfg.Limit <= 0 || cfg.Limit > 1500 {
		cfg.Limit = 1500
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Binance{
		cfg:    cfg,
		client: &http.Client{Timeout: 8 * time.Second},
		symbol: cfg.Symbol,
		period: cfg.Period,
		reload: make(chan struct{}, 1),
	}
}

// Instrument returns the selected symbol and period.
func (b *Binance) Instrument() (symbol, period string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.symbol, b.period
}

// Select switches instrument and triggers a full reload in Run.
func (b *Binance) Select(symbol, period string) error {
	if symbol == "" {
		return errors.New("empty symbol")
	}
	if _, ok := Intervals[period]; !ok {
		return fmt.Errorf("%q: %w", period, ErrUnknownInterval)
	}
	b.mu.Lock()
	b.symbol, b.period = symbol, period
	b.mu.Unlock()

	select {
	case b.reload <- struct{}{}:
	default:
	}
	log.Printf("[feed] selected %s %s", symbol, period)
	return nil
}

// Load fetches the last Limit klines of the selected instrument.
func (b *Binance) Load(ctx context.Context) (symbol, period string, candles []model.Candle, err error) {
	symbol, period = b.Instrument()
	candles, err = b.Fetch(ctx, symbol, period, b.cfg.Limit)
	return symbol, period, candles, err
}

// Fetch requests limit klines for an instrument, oldest first.
func (b *Binance) Fetch(ctx context.Context, symbol, period string, limit int) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", period)
	q.Set("limit", strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+"/api/v3/klines?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.FeedFetchDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance status %d", resp.StatusCode)
	}

	var raw [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	out := make([]model.Candle, 0, len(raw))
	for i, row := range raw {
		c, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// parseKline decodes [openTime, "open", "high", "low", "close", "volume", ...].
// Prices arrive as decimal strings.
func parseKline(row []json.RawMessage) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, fmt.Errorf("short row (%d fields)", len(row))
	}
	var c model.Candle
	if err := json.Unmarshal(row[0], &c.Time); err != nil {
		return model.Candle{}, fmt.Errorf("open time: %w", err)
	}
	fields := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
	for i, dst := range fields {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return model.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		*dst = d.InexactFloat64()
	}
	return c, nil
}

// Run loads the full series, then polls the two newest klines every Interval
// into ring until ctx is cancelled. Select and Refresh trigger full reloads.
// Fetch failures are logged and retried on the next poll.
func (b *Binance) Run(ctx context.Context, onSeries SeriesFunc, ring *ringbuf.Ring) error {
	poll := time.NewTicker(b.cfg.Interval)
	defer poll.Stop()

	var refresh <-chan time.Time
	if b.cfg.Refresh > 0 {
		t := time.NewTicker(b.cfg.Refresh)
		defer t.Stop()
		refresh = t.C
	}

	// Polls always target the instrument of the last successful full load,
	// so a Select never mixes klines of two instruments into one series.
	cur := b.fullLoad(ctx, onSeries)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.reload:
			cur = b.fullLoad(ctx, onSeries)
		case <-refresh:
			cur = b.fullLoad(ctx, onSeries)
		case <-poll.C:
			if !cur.ok {
				cur = b.fullLoad(ctx, onSeries)
				continue
			}
			b.pollLatest(ctx, ring, cur.symbol, cur.period)
		}
	}
}

type loadedInstrument struct {
	symbol, period string
	ok             bool
}

func (b *Binance) fullLoad(ctx context.Context, onSeries SeriesFunc) loadedInstrument {
	symbol, period, candles, err := b.Load(ctx)
	if err != nil {
		b.failed(err)
		return loadedInstrument{}
	}
	b.ok()
	if err := onSeries(symbol, period, candles); err != nil {
		log.Printf("[feed] series rejected for %s %s: %v", symbol, period, err)
		return loadedInstrument{}
	}
	log.Printf("[feed] loaded %d candles for %s %s", len(candles), symbol, period)
	return loadedInstrument{symbol: symbol, period: period, ok: true}
}

func (b *Binance) pollLatest(ctx context.Context, ring *ringbuf.Ring, symbol, period string) {
	candles, err := b.Fetch(ctx, symbol, period, 2)
	if err != nil {
		b.failed(err)
		return
	}
	b.ok()
	for _, c := range candles {
		if !ring.Push(c) {
			log.Printf("[feed] ring full, dropped candle %d", c.Time)
		}
	}
}

func (b *Binance) failed(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	log.Printf("[feed] fetch error: %v", err)
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.FeedErrors.Inc()
	}
	if b.cfg.Health != nil {
		b.cfg.Health.SetFeedConnected(false)
	}
}

func (b *Binance) ok() {
	if b.cfg.Health != nil {
		b.cfg.Health.SetFeedConnected(true)
	}
}
