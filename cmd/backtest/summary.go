package main

import (
	"fmt"
	"strings"
	"time"

	"squeeze-chart/internal/model"
	sqlitestore "squeeze-chart/internal/store/sqlite"
)

type result struct {
	trades      int
	roundTrips  int
	wins        int
	losses      int
	startBal    float64
	endBal      float64
	maxDrawdown float64 // percent below the running balance peak
	open        bool
}

// summarize pairs every BUY with the SELL that closes it.
func summarize(trades []model.TradeRecord, start float64) result {
	r := result{trades: len(trades), startBal: start, endBal: start}
	peak := start
	var entry float64
	for _, t := range trades {
		r.endBal = t.Balance
		switch t.Action {
		case model.ActionBuy:
			entry = t.Price
			r.open = true
		case model.ActionSell:
			r.open = false
			r.roundTrips++
			if t.Price > entry {
				r.wins++
			} else {
				r.losses++
			}
			if t.Balance > peak {
				peak = t.Balance
			}
			if peak > 0 {
				if dd := (peak - t.Balance) / peak * 100; dd > r.maxDrawdown {
					r.maxDrawdown = dd
				}
			}
		}
	}
	return r
}

type summaryInfo struct {
	symbol, period string
	runID          string
	warmup         int
	replayed       int
	detected       int
	boxes          []model.Box
}

func printSummary(r result, info summaryInfo) {
	active, completed := 0, 0
	for _, b := range info.boxes {
		if b.Status == model.BoxCompleted {
			completed++
		} else {
			active++
		}
	}
	ret := 0.0
	if r.startBal != 0 {
		ret = (r.endBal - r.startBal) / r.startBal * 100
	}
	winRate := 0.0
	if r.roundTrips > 0 {
		winRate = float64(r.wins) / float64(r.roundTrips) * 100
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║            BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Instrument:        %-20s ║\n", info.symbol+" "+info.period)
	fmt.Printf("║  Run:               %-20.20s ║\n", info.runID)
	fmt.Printf("║  Warmup candles:    %-20d ║\n", info.warmup)
	fmt.Printf("║  Replayed candles:  %-20d ║\n", info.replayed)
	fmt.Printf("║  Boxes detected:    %-20d ║\n", info.detected)
	fmt.Printf("║  Boxes at end:      %-20s ║\n", fmt.Sprintf("%d active / %d done", active, completed))
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Trades:            %-20d ║\n", r.trades)
	fmt.Printf("║  Round trips:       %-20d ║\n", r.roundTrips)
	fmt.Printf("║  Win rate:          %-20s ║\n", fmt.Sprintf("%.1f%% (%d/%d)", winRate, r.wins, r.roundTrips))
	fmt.Printf("║  Start balance:     %-20.2f ║\n", r.startBal)
	fmt.Printf("║  End balance:       %-20.2f ║\n", r.endBal)
	fmt.Printf("║  Return:            %-20s ║\n", fmt.Sprintf("%+.2f%%", ret))
	fmt.Printf("║  Max drawdown:      %-20s ║\n", fmt.Sprintf("%.2f%%", r.maxDrawdown))
	if r.open {
		fmt.Printf("║  %-39s ║\n", "Position still open at end")
	}
	fmt.Println("╚══════════════════════════════════════════╝")
}

// formatInstruments lists what the archive holds so a mistyped symbol or
// period is easy to spot.
func formatInstruments(ins []sqlitestore.Instrument) string {
	if len(ins) == 0 {
		return "archive is empty\n"
	}
	var b strings.Builder
	b.WriteString("archive holds:\n")
	for _, in := range ins {
		fmt.Fprintf(&b, "  %-12s %-4s %6d candles  %s .. %s\n", in.Symbol, in.Period, in.Candles,
			time.UnixMilli(in.First).UTC().Format("2006-01-02 15:04"),
			time.UnixMilli(in.Last).UTC().Format("2006-01-02 15:04"))
	}
	return b.String()
}
