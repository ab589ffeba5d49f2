package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"signalrelay/internal/models"
)

// Quote currencies checked in priority order; USDT must precede shorter
// suffixes so ETHUSDT never matches as an ETH-quoted pair.
var quoteCurrencies = []string{"USDT", "BTC", "ETH"}

// Formatter renders a signal as the operator-facing chat message. Format is
// pure: identical signal fields and location always produce identical text.
type Formatter struct {
	Location     *time.Location
	ChartBaseURL string
}

func detectQuote(symbol string) string {
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return quote
		}
	}
	return ""
}

func formatPrice(price decimal.Decimal, quote string) string {
	switch quote {
	case "USDT":
		return "$" + groupThousands(price.StringFixed(2))
	case "BTC":
		return price.StringFixed(8) + " BTC"
	case "ETH":
		return price.StringFixed(6) + " ETH"
	default:
		return price.String()
	}
}

// groupThousands inserts comma separators into the integer part of a fixed
// decimal string.
func groupThousands(fixed string) string {
	intPart, fracPart, hasFrac := strings.Cut(fixed, ".")
	neg := strings.HasPrefix(intPart, "-")
	if neg {
		intPart = intPart[1:]
	}
	var b strings.Builder
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}
	out := b.String()
	if hasFrac {
		out += "." + fracPart
	}
	if neg {
		out = "-" + out
	}
	return out
}

func riskPercent(entry, stop decimal.Decimal) string {
	if !entry.IsPositive() {
		return "0.00"
	}
	pct := entry.Sub(stop).Abs().Div(entry).Mul(decimal.NewFromInt(100))
	return pct.StringFixed(2)
}

func (f Formatter) chartURL(symbol, timeframe string) string {
	return fmt.Sprintf("%s?symbol=BINANCE:%s&interval=%s", f.ChartBaseURL, symbol, ChartInterval(timeframe))
}

func (f Formatter) signalTime(barTimeMs int64) string {
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(barTimeMs).In(loc).Format("2006-01-02 15:04")
}

// Format builds the full chat message for an admitted signal.
func (f Formatter) Format(sig *models.Signal) string {
	quote := detectQuote(sig.Symbol)
	pair := sig.Symbol
	if quote != "" {
		pair = strings.TrimSuffix(sig.Symbol, quote) + "/" + quote
	}

	return fmt.Sprintf(`🚀 EMA BOUNCE SIGNAL 🚀

💰 COIN PAIR: %s
⏰ TIMEFRAME: %s
📅 Signal Time: %s

📈 TRADE DETAILS:
🔵 ENTRY: %s
🔴 STOP LOSS: %s
🟢 TAKE PROFIT: %s

📊 RISK METRICS:
💸 Risk: %s%% (Entry to Stop)
🎯 Reward: %sR

🔗 Chart: %s

🆔 Signal ID: %s`,
		pair,
		sig.Timeframe,
		f.signalTime(sig.BarTime),
		formatPrice(sig.Entry, quote),
		formatPrice(sig.Stop, quote),
		formatPrice(sig.Target, quote),
		riskPercent(sig.Entry, sig.Stop),
		sig.RR.String(),
		f.chartURL(sig.Symbol, sig.Timeframe),
		sig.SignalID,
	)
}
