package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"signalrelay/internal/models"
)

// Admission outcomes reported back to the ingestion adapter.
const (
	OutcomeAdmitted  = "admitted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
)

// AdmissionResult is what an adapter learns about its submission. Routing
// drops and delivery failures happen after admission and are only visible
// through the signal record.
type AdmissionResult struct {
	Outcome  string
	SignalID string
	Reason   string
}

// SignalStore is the slice of the repository the pipeline writes through.
type SignalStore interface {
	AdmitSignal(ctx context.Context, item *models.Signal) (bool, error)
	MarkSignalDropped(ctx context.Context, signalID string, reason string) error
	SetSignalDestination(ctx context.Context, signalID string, chatID string) error
	TouchCoinPairSignal(ctx context.Context, symbol string, at time.Time) error
}

// Dispatcher hands an admitted, routed, formatted signal to the delivery
// engine. Dispatch must not block on delivery.
type Dispatcher interface {
	Dispatch(sig models.Signal, chatID string, text string)
}

// Pipeline runs one raw event from normalization through admission, routing
// and dispatch. Each submission is independent: a malformed or failing
// signal never affects unrelated ones.
type Pipeline struct {
	Store     SignalStore
	Snapshots *SnapshotLoader
	Formatter Formatter
	Delivery  Dispatcher
	Logger    *zap.Logger
	TTL       time.Duration
}

// Submit ingests one raw event. The returned error is reserved for store
// failures; grammar and validation problems come back as Rejected results.
func (p *Pipeline) Submit(ctx context.Context, raw []byte, source Source) (AdmissionResult, error) {
	sig, err := Normalize(raw, source)
	if err != nil {
		var rej *RejectError
		if errors.As(err, &rej) {
			p.Logger.Info("signal rejected",
				zap.String("source", string(source)),
				zap.String("reason", rej.Reason),
				zap.String("detail", rej.Detail),
			)
			return AdmissionResult{Outcome: OutcomeRejected, Reason: rej.Reason}, nil
		}
		return AdmissionResult{}, err
	}

	now := time.Now().UTC()
	expires := now.Add(p.TTL)
	sig.Status = models.SignalStatusPending
	sig.ReceivedAt = now
	sig.ExpiresAt = &expires
	sig.Raw = rawJSON(raw)

	admitted, err := p.Store.AdmitSignal(ctx, sig)
	if err != nil {
		return AdmissionResult{}, err
	}
	if !admitted {
		p.Logger.Info("duplicate signal",
			zap.String("signal_id", sig.SignalID),
			zap.String("symbol", sig.Symbol),
		)
		return AdmissionResult{Outcome: OutcomeDuplicate, SignalID: sig.SignalID}, nil
	}

	if err := p.Store.TouchCoinPairSignal(ctx, sig.Symbol, now); err != nil {
		p.Logger.Warn("touch coin pair failed", zap.String("symbol", sig.Symbol), zap.Error(err))
	}

	snap, err := p.Snapshots.Load(ctx)
	if err != nil {
		return AdmissionResult{}, err
	}
	chatID, dropReason := Resolve(sig, snap)
	if dropReason != "" {
		if err := p.Store.MarkSignalDropped(ctx, sig.SignalID, dropReason); err != nil {
			return AdmissionResult{}, err
		}
		p.Logger.Info("signal dropped",
			zap.String("signal_id", sig.SignalID),
			zap.String("symbol", sig.Symbol),
			zap.String("reason", dropReason),
			zap.Int64("routing_version", snap.Version),
		)
		return AdmissionResult{Outcome: OutcomeAdmitted, SignalID: sig.SignalID}, nil
	}

	if err := p.Store.SetSignalDestination(ctx, sig.SignalID, chatID); err != nil {
		return AdmissionResult{}, err
	}

	text := p.Formatter.Format(sig)
	p.Delivery.Dispatch(*sig, chatID, text)

	p.Logger.Info("signal admitted",
		zap.String("signal_id", sig.SignalID),
		zap.String("symbol", sig.Symbol),
		zap.String("timeframe", sig.Timeframe),
		zap.String("chat_id", chatID),
	)
	return AdmissionResult{Outcome: OutcomeAdmitted, SignalID: sig.SignalID}, nil
}

// rawJSON preserves the inbound payload on the record. Email bodies are not
// JSON, so non-JSON input is stored as a JSON string.
func rawJSON(raw []byte) datatypes.JSON {
	if json.Valid(raw) {
		return datatypes.JSON(raw)
	}
	quoted, err := json.Marshal(string(raw))
	if err != nil {
		return nil
	}
	return datatypes.JSON(quoted)
}
