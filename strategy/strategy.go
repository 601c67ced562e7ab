package strategy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trade-stasvinokur/lewis-listing-strategy/store"
)

// Strategy is the built-in job: pull recent listing announcements, keep the
// Binance ones, replay each against hourly candles, and print the per-event
// and average P&L. Already-seen events are recorded so reruns stay idempotent.
type Strategy struct {
	Events  *CoinMarketCal
	Markets *Binance

	// Store, when set, receives one row per processed event.
	Store *store.Store

	// Out receives the report. Defaults to os.Stdout.
	Out io.Writer
	// Loc is the display timezone for event dates. Defaults to UTC.
	Loc *time.Location

	// JobName overrides the default job name.
	JobName string

	// TakeProfit is the fractional sell target, e.g. 0.3 for +30%.
	TakeProfit decimal.Decimal
	// LookbackDays bounds how far back events are fetched.
	LookbackDays int
	// HoldDays is the holding window replayed for each event.
	HoldDays int

	// now is stubbed in tests.
	now func() time.Time

	mu         sync.Mutex
	lastReport string
}

func (s *Strategy) Name() string {
	if s.JobName != "" {
		return s.JobName
	}
	return "listing-strategy"
}

// Output returns the report of the most recent run.
func (s *Strategy) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport
}

// Run executes one backtest over the lookback window ending now.
func (s *Strategy) Run(ctx context.Context) error {
	loc := s.Loc
	if loc == nil {
		loc = time.UTC
	}
	nowFn := s.now
	if nowFn == nil {
		nowFn = time.Now
	}
	lookback := s.LookbackDays
	if lookback < 1 {
		lookback = 7
	}
	hold := s.HoldDays
	if hold < 1 {
		hold = 7
	}

	var report bytes.Buffer
	out := io.Writer(&report)
	if s.Out != nil {
		out = io.MultiWriter(s.Out, &report)
	} else {
		out = io.MultiWriter(os.Stdout, &report)
	}
	defer func() {
		s.mu.Lock()
		s.lastReport = report.String()
		s.mu.Unlock()
	}()

	end := nowFn().UTC()
	start := end.AddDate(0, 0, -lookback)
	events, err := s.Events.RecentEvents(ctx, start, end)
	if err != nil {
		return fmt.Errorf("fetch listing events: %w", err)
	}
	log.Printf("Fetched %d events between %s and %s", len(events), start.Format("2006-01-02"), end.Format("2006-01-02"))

	hundred := decimal.NewFromInt(100)
	total := decimal.Zero
	count := 0
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !ev.IsExchangeListing() {
			continue
		}
		if !strings.Contains(strings.ToLower(ev.Title.En), "binance") {
			continue
		}
		if len(ev.Coins) == 0 {
			continue
		}
		coin := ev.Coins[0]
		date, ok := ev.OccurredAt()
		if !ok {
			log.Printf("Skipping %s: event has no usable date", coin.Symbol)
			continue
		}
		symbol := strings.ToUpper(coin.Symbol) + "USDT"
		log.Printf("Processing %s (%s), listed %s", coin.Name, symbol, date.In(loc).Format("2006-01-02 15:04"))

		s.saveCoinEvent(ctx, ev, coin, date)

		klines, err := s.Markets.Klines(ctx, symbol, date, date.AddDate(0, 0, hold))
		if err != nil {
			log.Printf("Skipping %s: data unavailable: %v", symbol, err)
			continue
		}
		pnl, ok := TakeProfitPnL(klines, s.TakeProfit)
		if !ok {
			log.Printf("Skipping %s: no candles in holding window", symbol)
			continue
		}
		total = total.Add(pnl)
		count++

		disp := ev.DisplayedDate
		if disp == "" {
			disp = date.In(loc).Format("2006-01-02")
		}
		fmt.Fprintf(out, "%s - %s / %s (%s) P&L: %s%%\n", disp, ev.Title.En, coin.Name, symbol, pnl.Mul(hundred).StringFixed(2))
	}

	if count == 0 {
		fmt.Fprintln(out, "No events with available market data")
		return nil
	}
	avg := total.Div(decimal.NewFromInt(int64(count)))
	fmt.Fprintf(out, "\nAverage P&L over %d events: %s%%\n", count, avg.Mul(hundred).StringFixed(2))
	return nil
}

// saveCoinEvent records the event so future runs can tell it has been seen.
// Persistence problems are logged, not fatal: the backtest itself does not
// depend on the database.
func (s *Strategy) saveCoinEvent(ctx context.Context, ev Event, coin Coin, date time.Time) {
	if s.Store == nil {
		return
	}
	inserted, err := s.Store.SaveCoinEvent(ctx, store.CoinEvent{
		CoinID:       coin.ID,
		CoinName:     coin.Name,
		CoinSymbol:   coin.Symbol,
		CoinFullname: coin.Fullname,
		EventName:    ev.Title.En,
		EventDate:    date,
	})
	if err != nil {
		log.Printf("Failed to record event for %s: %v", coin.ID, err)
		return
	}
	if !inserted {
		log.Printf("Event for %s already recorded", coin.ID)
	}
}
