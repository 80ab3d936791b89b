package model

import "context"

// ── Outbound Port Interfaces ──
// The core never performs I/O itself. These ports are implemented by the
// storage, transport and notification adapters and registered on the session.

// TradeSink receives every simulator trade record (journal, notifier, publisher, gateway).
// Implementations must not block the caller for long; the simulator tick waits on them.
type TradeSink interface {
	RecordTrade(ctx context.Context, rec TradeRecord) error
}

// DrawPublisher receives the rendered draw model as pre-encoded JSON.
// Using []byte avoids a model→session import cycle.
type DrawPublisher interface {
	PublishDraw(ctx context.Context, data []byte) error
}

// CandleArchiver receives every candle accepted by the series store.
type CandleArchiver interface {
	ArchiveCandle(c Candle)
}
