package repository

import (
	"context"
	"time"

	"signalrelay/internal/models"
)

// Repository is the single durable-state surface of the relay. The pipeline
// writes signal records through it, the resolver reads routing state through
// it, and the admin handlers mutate routing state through it.
type Repository interface {
	// Signals.
	//
	// AdmitSignal inserts the record if and only if no record with the same
	// signal_id exists. It must be atomic under concurrent callers: exactly
	// one caller observes admitted=true, all others admitted=false. The gorm
	// implementation relies on the unique index plus ON CONFLICT DO NOTHING,
	// never on a read-then-write check.
	AdmitSignal(ctx context.Context, item *models.Signal) (admitted bool, err error)
	GetSignalByID(ctx context.Context, signalID string) (*models.Signal, error)
	MarkSignalSent(ctx context.Context, signalID string, chatID string, sentAt time.Time) error
	MarkSignalFailed(ctx context.Context, signalID string, lastError string) error
	MarkSignalDropped(ctx context.Context, signalID string, reason string) error
	// ClaimSignalAttempt conditionally advances the attempt counter for a
	// pending signal: the update applies only when the stored count equals
	// expectedAttempts, so concurrent delivery loops get exactly one owner.
	ClaimSignalAttempt(ctx context.Context, signalID string, expectedAttempts int, attempts int, nextAttemptAt time.Time) (claimed bool, err error)
	UpdateSignalAttempt(ctx context.Context, signalID string, attempts int, nextAttemptAt *time.Time, lastError *string) error
	SetSignalDestination(ctx context.Context, signalID string, chatID string) error
	ListSignals(ctx context.Context, params ListSignalsParams) ([]models.Signal, error)
	CountSignals(ctx context.Context, params ListSignalsParams) (int64, error)
	CountSignalsByStatus(ctx context.Context, since *time.Time) (map[string]int64, error)
	ListDuePendingSignals(ctx context.Context, now time.Time, limit int) ([]models.Signal, error)
	DeleteExpiredSignals(ctx context.Context, before time.Time) (int64, error)

	// Coin pairs.
	UpsertCoinPair(ctx context.Context, item *models.CoinPair) error
	SeedCoinPair(ctx context.Context, item *models.CoinPair) error
	SetCoinPairEnabled(ctx context.Context, symbol string, enabled bool) error
	GetCoinPair(ctx context.Context, symbol string) (*models.CoinPair, error)
	ListCoinPairs(ctx context.Context, enabledOnly bool) ([]models.CoinPair, error)
	TouchCoinPairSignal(ctx context.Context, symbol string, at time.Time) error

	// Mutes.
	UpsertMute(ctx context.Context, item *models.Mute) error
	ListActiveMutes(ctx context.Context) ([]models.Mute, error)

	// Routes.
	UpsertRoute(ctx context.Context, item *models.Route) error
	DeleteRoute(ctx context.Context, kind string, key string) error
	ListRoutes(ctx context.Context) ([]models.Route, error)
}

type ListSignalsParams struct {
	Limit     int
	Offset    int
	Symbol    *string
	Timeframe *string
	Status    *string
	Since     *time.Time
	OrderBy   string
	Asc       *bool
}
