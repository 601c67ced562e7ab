package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Binance fetches hourly candlesticks from the public market data API.
type Binance struct {
	// URL is the full klines endpoint.
	URL string
	// HTTP defaults to a proxyless client with a 10s timeout. The market
	// data host rejects requests relayed through the usual corporate
	// proxies, so HTTPS_PROXY and friends are ignored.
	HTTP *http.Client
}

// Kline is one hourly candle.
type Kline struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
}

func (b *Binance) client() *http.Client {
	if b.HTTP != nil {
		return b.HTTP
	}
	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: &http.Transport{},
	}
}

func (b *Binance) endpoint() string {
	if b.URL == "" {
		return "https://api.binance.com/api/v3/klines"
	}
	return b.URL
}

// Klines returns the hourly candles for symbol between start and end.
func (b *Binance) Klines(ctx context.Context, symbol string, start, end time.Time) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", "1h")
	params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint(), nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = params.Encode()

	resp, err := b.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("binance: klines %s: status %d: %s", symbol, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("binance: klines %s: %w", symbol, err)
	}

	klines := make([]Kline, 0, len(rows))
	for i, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("binance: klines %s: row %d has %d fields", symbol, i, len(row))
		}
		var openMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			return nil, fmt.Errorf("binance: klines %s: row %d open time: %w", symbol, i, err)
		}
		k := Kline{OpenTime: time.UnixMilli(openMs).UTC()}
		for j, dst := range []*decimal.Decimal{&k.Open, &k.High, &k.Low, &k.Close} {
			d, err := rawDecimal(row[j+1])
			if err != nil {
				return nil, fmt.Errorf("binance: klines %s: row %d: %w", symbol, i, err)
			}
			*dst = d
		}
		klines = append(klines, k)
	}
	return klines, nil
}

// rawDecimal accepts both the documented string encoding and bare numbers.
func rawDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return decimal.NewFromString(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return decimal.NewFromFloat(f), nil
	}
	return decimal.Decimal{}, fmt.Errorf("cannot parse %q as price", raw)
}
