// Package simulator runs a single-unit paper trading bot against the latest
// consolidation box. It never places real orders.
//
// The position is a two-state machine: Flat buys one unit when price touches
// the box's lower edge; Long sells on an upper-edge touch, the take-profit
// target or the stop-loss, checked in that order.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"squeeze-chart/internal/model"
	"squeeze-chart/internal/sda"
)

// ErrWarmup is returned by Tick while the series is shorter than MinCandles.
var ErrWarmup = errors.New("not enough candles")

// Config is the user-facing bot configuration. Percentages are in percent.
type Config struct {
	Balance      float64 `yaml:"balance" json:"balance"`
	MinProfitPct float64 `yaml:"min_profit_pct" json:"min_profit_pct"`
	MaxStopPct   float64 `yaml:"max_stop_pct" json:"max_stop_pct"`
	TolerancePct float64 `yaml:"tolerance_pct" json:"tolerance_pct"`
	MinCandles   int     `yaml:"min_candles" json:"min_candles"`
}

// Clamp bounds.
const (
	DefaultBalance = 10000.0
	DefaultPct     = 1.0
	MinProfitLo    = 0.1
	MinProfitHi    = 5.0
	MaxStopLo      = 0.1
	MaxStopHi      = 2.0
)

func DefaultConfig() Config {
	return Config{
		Balance:      DefaultBalance,
		MinProfitPct: DefaultPct,
		MaxStopPct:   DefaultPct,
		TolerancePct: sda.DefaultTolerancePct,
		MinCandles:   50,
	}
}

// Clamp returns the effective configuration and whether any field changed.
// Profit target is bounded to [0.1%, 5%], stop to [0.1%, 2%]; NaN falls back
// to 1%. A non-positive or NaN balance becomes 10000.
func (c Config) Clamp() (Config, bool) {
	out := c
	if math.IsNaN(out.Balance) || out.Balance <= 0 {
		out.Balance = DefaultBalance
	}
	out.MinProfitPct = clampPct(out.MinProfitPct, MinProfitLo, MinProfitHi)
	out.MaxStopPct = clampPct(out.MaxStopPct, MaxStopLo, MaxStopHi)
	if math.IsNaN(out.TolerancePct) || out.TolerancePct <= 0 {
		out.TolerancePct = sda.DefaultTolerancePct
	}
	if out.MinCandles < 1 {
		out.MinCandles = 1
	}
	return out, out != c
}

func clampPct(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return DefaultPct
	}
	return math.Min(math.Max(v, lo), hi)
}

// Simulator holds one run's position and trade history.
// Not safe for concurrent use; the session serialises access.
type Simulator struct {
	cfg    Config
	runID  string
	symbol string

	balance decimal.Decimal
	entry   *float64

	history []model.TradeRecord
	sinks   []model.TradeSink
	log     *slog.Logger
}

// New starts a run. Out-of-range settings are clamped and reported as
// model.ErrInvalidConfig at warn level.
func New(cfg Config, symbol string) *Simulator {
	eff, clamped := cfg.Clamp()
	runID := uuid.NewString()
	log := slog.Default().With("component", "simulator", "run_id", runID, "symbol", symbol)
	if clamped {
		log.Warn("simulator config clamped",
			"error", model.ErrInvalidConfig,
			"requested", cfg,
			"effective", eff)
	}
	return &Simulator{
		cfg:     eff,
		runID:   runID,
		symbol:  symbol,
		balance: decimal.NewFromFloat(eff.Balance),
		log:     log,
	}
}

// AddSink registers a trade record consumer.
func (s *Simulator) AddSink(sink model.TradeSink) {
	s.sinks = append(s.sinks, sink)
}

func (s *Simulator) Config() Config { return s.cfg }

func (s *Simulator) RunID() string { return s.runID }

// Step feeds one price. box is the newest Active box, or nil when there is
// none; without a box only take-profit and stop-loss can fire.
// Returns the emitted record, or nil when nothing happened.
func (s *Simulator) Step(now time.Time, price float64, box *model.Box) *model.TradeRecord {
	if price <= 0 || math.IsNaN(price) {
		return nil
	}
	p := decimal.NewFromFloat(price)

	if s.entry == nil {
		if box == nil || !sda.Touches(price, box.Lower, s.cfg.TolerancePct) {
			return nil
		}
		s.balance = s.balance.Sub(p)
		entry := price
		s.entry = &entry
		return s.record(now, model.ActionBuy, price, model.ReasonLowerTouch)
	}

	var reason string
	switch {
	case box != nil && sda.Touches(price, box.Upper, s.cfg.TolerancePct):
		reason = model.ReasonEdgeTouch
	case price >= *s.entry*(1+s.cfg.MinProfitPct/100):
		reason = model.ReasonTakeProfit
	case price <= *s.entry*(1-s.cfg.MaxStopPct/100):
		reason = model.ReasonStopLoss
	default:
		return nil
	}
	s.balance = s.balance.Add(p)
	s.entry = nil
	return s.record(now, model.ActionSell, price, reason)
}

func (s *Simulator) record(now time.Time, action model.TradeAction, price float64, reason string) *model.TradeRecord {
	rec := model.TradeRecord{
		ID:      uuid.NewString(),
		RunID:   s.runID,
		Symbol:  s.symbol,
		Time:    now,
		Action:  action,
		Price:   price,
		Balance: s.balance.InexactFloat64(),
		Reason:  reason,
	}
	s.history = append(s.history, rec)
	return &rec
}

// Tick runs one scheduled step on the latest close and hands any resulting
// record to every sink. Sink failures are logged, never returned.
func (s *Simulator) Tick(ctx context.Context, now time.Time, candles []model.Candle, box *model.Box) (*model.TradeRecord, error) {
	if len(candles) == 0 {
		return nil, model.ErrEmptyData
	}
	if len(candles) < s.cfg.MinCandles {
		return nil, fmt.Errorf("%d < %d: %w", len(candles), s.cfg.MinCandles, ErrWarmup)
	}
	rec := s.Step(now, candles[len(candles)-1].Close, box)
	if rec == nil {
		return nil, nil
	}
	s.log.Info("trade",
		"action", rec.Action,
		"price", rec.Price,
		"balance", rec.Balance,
		"reason", rec.Reason)
	for _, sink := range s.sinks {
		if err := sink.RecordTrade(ctx, *rec); err != nil {
			s.log.Warn("trade sink failed", "error", err, "trade_id", rec.ID)
		}
	}
	return rec, nil
}

// Position returns the float view of the current holding.
func (s *Simulator) Position() model.Position {
	pos := model.Position{Balance: s.balance.InexactFloat64()}
	if s.entry != nil {
		e := *s.entry
		pos.Size = 1
		pos.EntryPrice = &e
	}
	return pos
}

// History returns a copy of every record emitted in this run.
func (s *Simulator) History() []model.TradeRecord {
	return append([]model.TradeRecord(nil), s.history...)
}
