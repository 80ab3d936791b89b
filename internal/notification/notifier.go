// Package notification delivers simulator trades to people: logs, a generic
// webhook, or a Telegram chat.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"squeeze-chart/internal/model"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertInfo    AlertLevel = "INFO"
	AlertWarning AlertLevel = "WARNING"
)

// Alert is one message to deliver.
type Alert struct {
	Level   AlertLevel         `json:"level"`
	Title   string             `json:"title"`
	Message string             `json:"message"`
	Trade   *model.TradeRecord `json:"trade,omitempty"`
}

// Notifier is a delivery backend.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// AlertFromTrade renders a trade record. Stop-loss exits are warnings.
func AlertFromTrade(rec model.TradeRecord) Alert {
	level := AlertInfo
	if rec.Reason == model.ReasonStopLoss {
		level = AlertWarning
	}
	r := rec
	return Alert{
		Level:   level,
		Title:   fmt.Sprintf("%s %s @ %.2f", rec.Symbol, rec.Action, rec.Price),
		Message: fmt.Sprintf("%s; balance %.2f (run %s)", rec.Reason, rec.Balance, rec.RunID),
		Trade:   &r,
	}
}

// LogNotifier writes alerts to the standard logger.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends to every backend and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const drainTimeout = 15 * time.Second

// Sink adapts a Notifier to model.TradeSink. RecordTrade only queues the
// alert; Run delivers it, so slow backends never stall a simulator tick.
type Sink struct {
	n       Notifier
	queue   chan Alert
	dropped atomic.Int64
}

// NewSink creates a sink with room for size pending alerts.
func NewSink(n Notifier, size int) *Sink {
	if size <= 0 {
		size = 64
	}
	return &Sink{n: n, queue: make(chan Alert, size)}
}

// RecordTrade implements model.TradeSink.
func (s *Sink) RecordTrade(_ context.Context, rec model.TradeRecord) error {
	select {
	case s.queue <- AlertFromTrade(rec):
	default:
		if d := s.dropped.Add(1); d%100 == 1 {
			log.Printf("[notify] queue full, %d alerts dropped so far", d)
		}
	}
	return nil
}

// Dropped returns the number of alerts lost to a full queue.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Run delivers queued alerts until ctx is cancelled, then gives the
// remaining ones drainTimeout to go out.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case a := <-s.queue:
			if err := s.n.Send(ctx, a); err != nil {
				log.Printf("[notify] delivery failed: %v", err)
			}
		}
	}
}

func (s *Sink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case a := <-s.queue:
			if err := s.n.Send(ctx, a); err != nil {
				log.Printf("[notify] delivery failed during shutdown: %v", err)
			}
		default:
			return
		}
	}
}
