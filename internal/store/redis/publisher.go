// Package redis fans session output out to Redis for other consumers.
//
// Every draw frame and trade is PUBLISHed on pub:sda:{symbol}:{kind} and kept
// under sda:{symbol}:latest:{kind}. Trades are also appended to a capped list
// so late joiners can read the recent history. All calls pass through a
// CircuitBreaker; while it is open draw frames are dropped and trades are
// held in a bounded backlog that is replayed once Redis answers again.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"squeeze-chart/internal/metrics"
	"squeeze-chart/internal/model"
)

const (
	defaultLatestTTL   = 30 * time.Minute
	defaultTradeKeep   = 500
	defaultBacklogSize = 1000
	flushTimeout       = 10 * time.Second
)

// Config configures the publisher.
type Config struct {
	Addr        string // e.g. "localhost:6379"
	Password    string
	DB          int
	Symbol      string // initial symbol for draw frames
	LatestTTL   time.Duration
	MaxFailures int           // breaker threshold, default 5
	Cooldown    time.Duration // breaker open time, default 10s
	Backlog     int           // trades held while the breaker is open
	Metrics     *metrics.Metrics
}

// Publisher implements model.DrawPublisher and model.TradeSink.
type Publisher struct {
	client  *goredis.Client
	cb      *CircuitBreaker
	m       *metrics.Metrics
	ttl     time.Duration
	symbol  atomic.Value // string
	backlog *tradeBacklog
}

// New connects to Redis and pings it.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg Config) *Publisher {
	if cfg.LatestTTL <= 0 {
		cfg.LatestTTL = defaultLatestTTL
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	p := &Publisher{
		client:  client,
		cb:      NewCircuitBreaker(cfg.MaxFailures, cfg.Cooldown),
		m:       cfg.Metrics,
		ttl:     cfg.LatestTTL,
		backlog: newTradeBacklog(cfg.Backlog),
	}
	p.symbol.Store(cfg.Symbol)
	p.cb.OnStateChange = p.onStateChange
	return p
}

// Client returns the underlying client for health probes.
func (p *Publisher) Client() *goredis.Client { return p.client }

// SetSymbol sets the symbol draw frames are published under.
func (p *Publisher) SetSymbol(symbol string) { p.symbol.Store(symbol) }

func (p *Publisher) currentSymbol() string {
	s, _ := p.symbol.Load().(string)
	return s
}

// Breaker exposes the circuit breaker state.
func (p *Publisher) Breaker() State { return p.cb.CurrentState() }

// Pending returns the number of trades waiting for Redis to come back.
func (p *Publisher) Pending() int { return p.backlog.len() }

// Channel is the pub/sub channel for one kind ("draw" or "trade").
func Channel(symbol, kind string) string { return "pub:sda:" + symbol + ":" + kind }

// LatestKey holds the last published payload of one kind.
func LatestKey(symbol, kind string) string { return "sda:" + symbol + ":latest:" + kind }

// TradesKey is the capped list of recent trades, newest first.
func TradesKey(symbol string) string { return "sda:" + symbol + ":trades" }

// PublishDraw implements model.DrawPublisher. Frames are dropped while the
// breaker is open; the next frame supersedes them anyway.
func (p *Publisher) PublishDraw(ctx context.Context, data []byte) error {
	symbol := p.currentSymbol()
	err := p.cb.Execute(func() error {
		return p.write(ctx, symbol, "draw", string(data), false)
	})
	if err == ErrCircuitOpen {
		p.deferred()
		return nil
	}
	return err
}

// RecordTrade implements model.TradeSink.
func (p *Publisher) RecordTrade(ctx context.Context, rec model.TradeRecord) error {
	err := p.cb.Execute(func() error { return p.writeTrade(ctx, rec) })
	if err == ErrCircuitOpen {
		if p.backlog.push(rec) {
			log.Printf("[redis] trade backlog full, dropped oldest")
		}
		p.deferred()
		return nil
	}
	return err
}

func (p *Publisher) writeTrade(ctx context.Context, rec model.TradeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}
	return p.write(ctx, rec.Symbol, "trade", string(data), true)
}

// write pipelines SET latest + PUBLISH (+ LPUSH/LTRIM for trades) in one roundtrip.
func (p *Publisher) write(ctx context.Context, symbol, kind, payload string, keep bool) error {
	start := time.Now()
	pipe := p.client.Pipeline()
	pipe.Set(ctx, LatestKey(symbol, kind), payload, p.ttl)
	if keep {
		pipe.LPush(ctx, TradesKey(symbol), payload)
		pipe.LTrim(ctx, TradesKey(symbol), 0, defaultTradeKeep-1)
	}
	pipe.Publish(ctx, Channel(symbol, kind), payload)
	_, err := pipe.Exec(ctx)
	if p.m != nil {
		p.m.RedisWriteDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("redis %s publish: %w", kind, err)
	}
	return nil
}

// Latest returns the last payload of one kind for symbol.
func (p *Publisher) Latest(ctx context.Context, symbol, kind string) ([]byte, error) {
	b, err := p.client.Get(ctx, LatestKey(symbol, kind)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	return b, err
}

// Recent returns up to limit trades of the current symbol, newest first.
func (p *Publisher) Recent(ctx context.Context, limit int) ([]model.TradeRecord, error) {
	if limit <= 0 || limit > defaultTradeKeep {
		limit = defaultTradeKeep
	}
	raw, err := p.client.LRange(ctx, TradesKey(p.currentSymbol()), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis LRANGE trades: %w", err)
	}
	out := make([]model.TradeRecord, 0, len(raw))
	for _, s := range raw {
		var rec model.TradeRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			log.Printf("[redis] skipping bad trade entry: %v", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close closes the client. Backlogged trades are lost.
func (p *Publisher) Close() error {
	if n := p.backlog.len(); n > 0 {
		log.Printf("[redis] closing with %d unpublished trades", n)
	}
	return p.client.Close()
}

func (p *Publisher) deferred() {
	if p.m != nil {
		p.m.RedisBufferedWrites.Inc()
	}
}

func (p *Publisher) onStateChange(from, to State) {
	log.Printf("[redis] circuit breaker %s -> %s", from, to)
	if p.m != nil {
		p.m.RedisCircuitBreakerState.Set(float64(to))
		if to == StateOpen && from == StateClosed {
			p.m.RedisCircuitBreakerTrips.Inc()
		}
	}
	if to == StateClosed {
		go p.flush()
	}
}

// flush replays backlogged trades oldest first. A failure puts the rest back.
func (p *Publisher) flush() {
	pending := p.backlog.take()
	if len(pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	for i, rec := range pending {
		if err := p.writeTrade(ctx, rec); err != nil {
			log.Printf("[redis] backlog flush stopped after %d trades: %v", i, err)
			p.backlog.requeue(pending[i:])
			return
		}
	}
	log.Printf("[redis] flushed %d backlogged trades", len(pending))
}
