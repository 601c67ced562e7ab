package strategy

import "github.com/shopspring/decimal"

// TakeProfitPnL simulates buying at the open of the first candle and holding
// until either some later candle's high reaches the take-profit target or the
// window ends, in which case the position closes at the final candle's close.
// The return value is the fractional profit or loss of the trade. ok is false
// when there are no candles or the entry price is zero.
func TakeProfitPnL(klines []Kline, takeProfit decimal.Decimal) (pnl decimal.Decimal, ok bool) {
	if len(klines) == 0 {
		return decimal.Decimal{}, false
	}
	entry := klines[0].Open
	if entry.IsZero() {
		return decimal.Decimal{}, false
	}

	target := entry.Mul(decimal.NewFromInt(1).Add(takeProfit))
	for _, k := range klines[1:] {
		if k.High.GreaterThanOrEqual(target) {
			return takeProfit, true
		}
	}

	final := klines[len(klines)-1].Close
	return final.Sub(entry).Div(entry), true
}
