package delivery

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"signalrelay/internal/models"
)

// Sender is the outbound chat capability. Implementations classify failures
// by wrapping them in TransientError or PermanentError; anything else is
// treated as transient.
type Sender interface {
	Send(ctx context.Context, chatID string, text string) error
}

// TransientError marks a failure worth retrying (timeouts, 5xx, rate
// limits).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure retries cannot fix (auth, malformed
// destination).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Store is the slice of the repository the engine persists transitions
// through.
type Store interface {
	ClaimSignalAttempt(ctx context.Context, signalID string, expectedAttempts int, attempts int, nextAttemptAt time.Time) (bool, error)
	UpdateSignalAttempt(ctx context.Context, signalID string, attempts int, nextAttemptAt *time.Time, lastError *string) error
	MarkSignalSent(ctx context.Context, signalID string, chatID string, sentAt time.Time) error
	MarkSignalFailed(ctx context.Context, signalID string, lastError string) error
	ListDuePendingSignals(ctx context.Context, now time.Time, limit int) ([]models.Signal, error)
}

// Engine owns the pending→sent/failed state machine. Attempts for one signal
// run strictly serially; distinct signals deliver concurrently. Every
// transition is persisted before the engine moves on, so a crash mid-retry
// resumes with the correct attempt count instead of resending duplicates.
type Engine struct {
	Store       Store
	Sender      Sender
	Logger      *zap.Logger
	Delays      []time.Duration
	MaxAttempts int

	// ClaimLease bounds how long a claimed attempt stays invisible to the
	// redelivery sweep. A crash mid-send resurfaces the signal once the
	// lease elapses.
	ClaimLease time.Duration

	// Format rebuilds message text for signals resumed from the store.
	Format func(sig *models.Signal) string

	baseCtx context.Context
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewEngine(store Store, sender Sender, logger *zap.Logger, delays []time.Duration, maxAttempts int, format func(sig *models.Signal) string, baseCtx context.Context) *Engine {
	if len(delays) == 0 {
		delays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	}
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Engine{
		Store:       store,
		Sender:      sender,
		Logger:      logger,
		Delays:      delays,
		MaxAttempts: maxAttempts,
		ClaimLease:  time.Minute,
		Format:      format,
		baseCtx:     baseCtx,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Dispatch starts delivery of a freshly admitted signal without blocking the
// caller.
func (e *Engine) Dispatch(sig models.Signal, chatID string, text string) {
	go func() {
		if err := e.Deliver(e.baseCtx, sig, chatID, text); err != nil && !errors.Is(err, context.Canceled) {
			e.Logger.Warn("delivery aborted",
				zap.String("signal_id", sig.SignalID),
				zap.Error(err),
			)
		}
	}()
}

// Deliver runs the retry loop for one signal, resuming from sig.Attempts.
// The only blocking points are the send call and this signal's own backoff
// wait; no lock is held across either.
func (e *Engine) Deliver(ctx context.Context, sig models.Signal, chatID string, text string) error {
	attempt := sig.Attempts
	for attempt < e.MaxAttempts {
		// Claim the attempt before sending. The claim is conditional on the
		// persisted attempt count, so when a sweep races this loop exactly
		// one of them owns the signal; the lease deadline it writes keeps
		// the row visible to the sweep if the process dies mid-send.
		lease := time.Now().UTC().Add(e.ClaimLease)
		claimed, err := e.Store.ClaimSignalAttempt(ctx, sig.SignalID, attempt, attempt+1, lease)
		if err != nil {
			return err
		}
		if !claimed {
			e.Logger.Info("signal attempt claimed elsewhere",
				zap.String("signal_id", sig.SignalID),
				zap.Int("attempts", attempt),
			)
			return nil
		}
		attempt++

		sendErr := e.Sender.Send(ctx, chatID, text)
		if sendErr == nil {
			sentAt := time.Now().UTC()
			if err := e.Store.MarkSignalSent(ctx, sig.SignalID, chatID, sentAt); err != nil {
				return err
			}
			e.Logger.Info("signal sent",
				zap.String("signal_id", sig.SignalID),
				zap.String("chat_id", chatID),
				zap.Int("attempts", attempt),
			)
			return nil
		}

		var perm *PermanentError
		if errors.As(sendErr, &perm) {
			if err := e.Store.MarkSignalFailed(ctx, sig.SignalID, sendErr.Error()); err != nil {
				return err
			}
			e.Logger.Warn("signal failed permanently",
				zap.String("signal_id", sig.SignalID),
				zap.Int("attempts", attempt),
				zap.Error(sendErr),
			)
			return nil
		}

		if attempt >= e.MaxAttempts {
			if err := e.Store.MarkSignalFailed(ctx, sig.SignalID, sendErr.Error()); err != nil {
				return err
			}
			e.Logger.Warn("signal failed after retries",
				zap.String("signal_id", sig.SignalID),
				zap.Int("attempts", attempt),
				zap.Error(sendErr),
			)
			return nil
		}

		delay := e.Delays[minInt(attempt-1, len(e.Delays)-1)]
		next := time.Now().UTC().Add(delay)
		errStr := sendErr.Error()
		if err := e.Store.UpdateSignalAttempt(ctx, sig.SignalID, attempt, &next, &errStr); err != nil {
			return err
		}
		e.Logger.Info("signal send retry scheduled",
			zap.String("signal_id", sig.SignalID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(sendErr),
		)
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return nil
}

// RedeliverDue resumes pending signals whose backoff window elapsed while
// the process was down. Destinations were resolved before the crash and are
// reused as persisted; message text is rebuilt from the record.
func (e *Engine) RedeliverDue(ctx context.Context, limit int) {
	due, err := e.Store.ListDuePendingSignals(ctx, time.Now().UTC(), limit)
	if err != nil {
		e.Logger.Warn("list due pending signals failed", zap.Error(err))
		return
	}
	for _, sig := range due {
		if sig.ChatID == nil || *sig.ChatID == "" {
			continue
		}
		e.Logger.Info("resuming pending signal",
			zap.String("signal_id", sig.SignalID),
			zap.Int("attempts", sig.Attempts),
		)
		e.Dispatch(sig, *sig.ChatID, e.Format(&sig))
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
