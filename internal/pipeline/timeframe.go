package pipeline

// Timeframe normalization is total over exactly the source codes TradingView
// emits for the strategy; anything else is rejected, never guessed.
var timeframeTable = map[string]string{
	"5":   "5m",
	"15":  "15m",
	"60":  "1h",
	"240": "4h",
	"D":   "1D",
}

// chartIntervalTable maps the normalized timeframe back to TradingView's own
// chart interval codes for URL construction. These are distinct code spaces:
// "1h" renders as interval "60" on a chart link.
var chartIntervalTable = map[string]string{
	"5m":  "5",
	"15m": "15",
	"1h":  "60",
	"4h":  "240",
	"1D":  "1D",
}

// NormalizeTimeframe converts a raw source timeframe code to the canonical
// form. ok is false for any code outside the fixed table.
func NormalizeTimeframe(code string) (string, bool) {
	tf, ok := timeframeTable[code]
	return tf, ok
}

// ChartInterval returns the TradingView interval code for a normalized
// timeframe. Unknown timeframes fall back to the input.
func ChartInterval(timeframe string) string {
	if code, ok := chartIntervalTable[timeframe]; ok {
		return code
	}
	return timeframe
}
