// Command chartd serves a live Squeeze Detection chart: it pulls klines from
// Binance, tracks consolidation boxes, runs the trade simulator and streams
// draw frames to renderers over websocket.
package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"squeeze-chart/config"
	"squeeze-chart/internal/feed"
	"squeeze-chart/internal/gateway"
	"squeeze-chart/internal/logger"
	"squeeze-chart/internal/metrics"
	"squeeze-chart/internal/model"
	"squeeze-chart/internal/notification"
	"squeeze-chart/internal/ringbuf"
	"squeeze-chart/internal/scheduler"
	"squeeze-chart/internal/session"
	"squeeze-chart/internal/simulator"
	redisstore "squeeze-chart/internal/store/redis"
	sqlitestore "squeeze-chart/internal/store/sqlite"
	"squeeze-chart/internal/trace"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[chartd] starting...")

	cfg := config.Load()
	logger.Init("chartd", logger.ParseLevel(cfg.LogLevel))

	tuning, err := config.LoadTuning(cfg.TuningPath)
	if err != nil {
		log.Fatalf("[chartd] %v", err)
	}
	if err := trace.Init("chartd", version, cfg.TracingEnabled); err != nil {
		log.Printf("[chartd] WARNING: tracing disabled: %v", err)
	}

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	health.SetInstrument(cfg.Symbol, cfg.Period)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	ring := ringbuf.New(1024)
	opts := []session.Option{
		session.WithRing(ring),
		session.WithMetrics(prom),
		session.WithHealth(health),
	}

	// ---- SQLite candle archive (off the tick path) ----
	var sqlWriter *sqlitestore.Writer
	var sqlDB *sql.DB
	if !config.Disabled(cfg.SQLitePath) {
		os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
		sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath, Metrics: prom})
		if err != nil {
			log.Printf("[chartd] WARNING: sqlite init failed: %v (continuing without archive)", err)
			health.SetSQLiteOK(false)
		} else {
			health.SetSQLiteOK(true)
			sqlDB = sqlWriter.DB()
			opts = append(opts, session.WithArchive(sqlWriter.Archive))
			wg.Add(1)
			go func() {
				defer wg.Done()
				sqlWriter.Run(ctx)
			}()
			log.Println("[chartd] sqlite archive ready")
		}
	} else {
		health.SetSQLiteOK(true)
	}

	// ---- Trade journal ----
	var history gateway.TradeHistory
	var journal *simulator.Journal
	if !config.Disabled(cfg.JournalPath) {
		os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755)
		journal, err = simulator.NewJournal(cfg.JournalPath)
		if err != nil {
			log.Printf("[chartd] WARNING: journal init failed: %v", err)
		} else {
			opts = append(opts, session.WithTradeSink(journal))
			history = journal
		}
	}

	// ---- Redis publisher ----
	var publisher *redisstore.Publisher
	var frames gateway.FrameStore
	var rdb *goredis.Client
	if !config.Disabled(cfg.RedisAddr) {
		health.SetRedisEnabled(true)
		publisher, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Symbol:   cfg.Symbol,
			Metrics:  prom,
		})
		if err != nil {
			log.Printf("[chartd] WARNING: redis init failed: %v (continuing without redis)", err)
		} else {
			rdb = publisher.Client()
			opts = append(opts, session.WithDrawPublisher(publisher), session.WithTradeSink(publisher))
			if history == nil {
				history = publisher
			}
			frames = publisher
			log.Println("[chartd] redis publisher ready")
		}
	}
	health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)

	// ---- Notifications ----
	notifiers := notification.Multi{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	alerts := notification.NewSink(notifiers, 64)
	opts = append(opts, session.WithTradeSink(alerts))
	wg.Add(1)
	go func() {
		defer wg.Done()
		alerts.Run(ctx)
	}()

	// ---- Session, scheduler, renderer hub ----
	sessCfg := session.DefaultConfig()
	sessCfg.Symbol, sessCfg.Period = cfg.Symbol, cfg.Period
	tuning.Apply(&sessCfg)

	sched := scheduler.NewLoop()
	sess := session.New(sessCfg, sched, opts...)
	hub := gateway.NewHub(sess, prom)
	sess.AddDrawPublisher(hub)
	sess.AddTradeSink(hub)
	sess.Start()

	// ---- Live feed ----
	binance := feed.NewBinance(feed.BinanceConfig{
		BaseURL:  cfg.FeedURL,
		Symbol:   cfg.Symbol,
		Period:   cfg.Period,
		Limit:    cfg.FeedLimit,
		Interval: cfg.FeedInterval,
		Refresh:  cfg.FeedRefresh,
		Metrics:  prom,
		Health:   health,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := binance.Run(ctx, func(symbol, period string, candles []model.Candle) error {
			if publisher != nil {
				publisher.SetSymbol(symbol)
			}
			return sess.SetSeries(symbol, period, candles)
		}, ring)
		if err != nil && ctx.Err() == nil {
			log.Printf("[chartd] feed stopped: %v", err)
		}
	}()

	// ---- HTTP: websocket + control API ----
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, gateway.Deps{
		Hub:        hub,
		Feed:       binance,
		History:    history,
		Frames:     frames,
		Health:     health,
		TOTPSecret: cfg.ControlTOTPSecret,
	})
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Printf("[chartd] http listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[chartd] http server error: %v", err)
		}
	}()
	if cfg.ControlTOTPSecret == "" {
		log.Println("[chartd] WARNING: CONTROL_TOTP_SECRET not set, control endpoints are open")
	}

	log.Printf("[chartd] running %s %s", cfg.Symbol, cfg.Period)

	// ---- Graceful shutdown ----
	sig := <-sigCh
	log.Printf("[chartd] received %v, shutting down...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	httpSrv.Shutdown(shutdownCtx)
	hub.Close()
	sess.Close()
	sched.Stop()
	cancel()
	wg.Wait()

	if sqlWriter != nil {
		sqlWriter.Close()
	}
	if journal != nil {
		journal.Close()
	}
	if publisher != nil {
		publisher.Close()
	}
	trace.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	log.Println("[chartd] stopped")
}
