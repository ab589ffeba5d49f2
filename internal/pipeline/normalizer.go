package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"signalrelay/internal/models"
)

// Source tags the grammar of an inbound raw event.
type Source string

const (
	SourceWebhookJSON Source = "webhook"
	SourceEmailKV     Source = "email"
)

// Reject reasons reported back to the adapter and logged. A rejected event
// never creates a signal record.
const (
	ReasonMalformedInput       = "malformed_input"
	ReasonUnsupportedTimeframe = "unsupported_timeframe"
	ReasonInvalidRiskGeometry  = "invalid_risk_geometry"
)

// RejectError carries the rejection taxonomy for a raw event the normalizer
// refused to convert.
type RejectError struct {
	Reason string
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return e.Reason + ": " + e.Detail
}

func reject(reason, format string, args ...any) *RejectError {
	return &RejectError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

const eventEMABounceBuy = "EMA_BOUNCE_BUY"

type webhookPayload struct {
	Event     string      `json:"event"`
	Symbol    string      `json:"symbol"`
	Timeframe string      `json:"timeframe"`
	BarTime   json.Number `json:"bar_time"`
	Entry     json.Number `json:"entry"`
	Stop      json.Number `json:"stop"`
	Target    json.Number `json:"target"`
	RR        json.Number `json:"rr"`
	SignalID  string      `json:"signal_id"`
}

// Normalize converts a raw event of either source grammar into a canonical
// Signal, or explains why it cannot. It is a pure function of its inputs:
// no clock reads, no store access, no mutation of shared state. Lifecycle
// fields (status, received_at, expires_at) are left for the pipeline to set.
func Normalize(raw []byte, source Source) (*models.Signal, error) {
	switch source {
	case SourceWebhookJSON:
		return normalizeWebhook(raw)
	case SourceEmailKV:
		return normalizeEmail(raw)
	default:
		return nil, reject(ReasonMalformedInput, "unknown source kind %q", source)
	}
}

func normalizeWebhook(raw []byte) (*models.Signal, error) {
	var p webhookPayload
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, reject(ReasonMalformedInput, "invalid json: %v", err)
	}
	if p.Event != eventEMABounceBuy {
		return nil, reject(ReasonMalformedInput, "unsupported event %q", p.Event)
	}
	return buildSignal(string(SourceWebhookJSON), p.SignalID, p.Symbol, p.Timeframe,
		p.BarTime.String(), p.Entry.String(), p.Stop.String(), p.Target.String(), p.RR.String())
}

func normalizeEmail(raw []byte) (*models.Signal, error) {
	fields := parseKVLine(string(raw))
	if fields == nil {
		return nil, reject(ReasonMalformedInput, "no structured signal line found")
	}
	if fields["action"] != "ENTRY" {
		return nil, reject(ReasonMalformedInput, "unsupported action %q", fields["action"])
	}
	return buildSignal(string(SourceEmailKV), fields["signal_id"], fields["symbol"], fields["tf"],
		fields["bar_time"], fields["entry"], fields["stop"], fields["target"], fields["rr"])
}

// parseKVLine extracts the pipe-delimited key:value signal line from a raw
// email body. Returns nil when no "action:" line is present.
func parseKVLine(body string) map[string]string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		idx := strings.Index(line, "action:")
		if idx < 0 {
			continue
		}
		fields := map[string]string{}
		for _, pair := range strings.Split(line[idx:], "|") {
			key, value, ok := strings.Cut(pair, ":")
			if !ok {
				continue
			}
			fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
		return fields
	}
	return nil
}

// EmailSecret returns the embedded shared secret of an email-grammar event,
// or "" when absent. Secret verification belongs to the adapter, but the
// grammar itself stays in this package.
func EmailSecret(raw []byte) string {
	fields := parseKVLine(string(raw))
	if fields == nil {
		return ""
	}
	return fields["secret"]
}

// buildSignal is the single canonical constructor both grammars converge on.
// All string inputs; every required field missing or unparseable is a hard
// rejection, never defaulted.
func buildSignal(source, signalID, symbol, timeframe, barTime, entry, stop, target, rr string) (*models.Signal, error) {
	signalID = strings.TrimSpace(signalID)
	if signalID == "" {
		return nil, reject(ReasonMalformedInput, "missing signal_id")
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if err := validateSymbol(symbol); err != nil {
		return nil, err
	}

	tf, ok := NormalizeTimeframe(strings.TrimSpace(timeframe))
	if !ok {
		return nil, reject(ReasonUnsupportedTimeframe, "timeframe %q", timeframe)
	}

	if strings.TrimSpace(barTime) == "" {
		return nil, reject(ReasonMalformedInput, "missing bar_time")
	}
	barMs, err := strconv.ParseInt(strings.TrimSpace(barTime), 10, 64)
	if err != nil || barMs <= 0 {
		return nil, reject(ReasonMalformedInput, "invalid bar_time %q", barTime)
	}

	entryDec, err := parsePositiveDecimal("entry", entry)
	if err != nil {
		return nil, err
	}
	stopDec, err := parsePositiveDecimal("stop", stop)
	if err != nil {
		return nil, err
	}
	targetDec, err := parsePositiveDecimal("target", target)
	if err != nil {
		return nil, err
	}
	rrDec, err := parseDecimalField("rr", rr)
	if err != nil {
		return nil, err
	}
	if rrDec.IsNegative() {
		return nil, reject(ReasonMalformedInput, "rr must be >= 0, got %s", rrDec)
	}

	// Long-only geometry: stop strictly below entry, target strictly above.
	if stopDec.Cmp(entryDec) >= 0 || targetDec.Cmp(entryDec) <= 0 {
		return nil, reject(ReasonInvalidRiskGeometry,
			"require stop < entry < target, got stop=%s entry=%s target=%s", stopDec, entryDec, targetDec)
	}

	return &models.Signal{
		SignalID:  signalID,
		Symbol:    symbol,
		Timeframe: tf,
		Event:     eventEMABounceBuy,
		Source:    source,
		BarTime:   barMs,
		Entry:     entryDec,
		Stop:      stopDec,
		Target:    targetDec,
		RR:        rrDec,
	}, nil
}

func validateSymbol(symbol string) error {
	if symbol == "" {
		return reject(ReasonMalformedInput, "missing symbol")
	}
	if len(symbol) > 20 {
		return reject(ReasonMalformedInput, "symbol too long")
	}
	for _, r := range symbol {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return reject(ReasonMalformedInput, "symbol contains disallowed character %q", r)
		}
	}
	return nil
}

func parseDecimalField(name, value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, reject(ReasonMalformedInput, "missing %s", name)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, reject(ReasonMalformedInput, "invalid %s %q", name, value)
	}
	return d, nil
}

func parsePositiveDecimal(name, value string) (decimal.Decimal, error) {
	d, err := parseDecimalField(name, value)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, reject(ReasonMalformedInput, "%s must be positive, got %s", name, d)
	}
	return d, nil
}
