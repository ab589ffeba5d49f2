package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"signalrelay/internal/models"
	"signalrelay/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- Signals ----------------------------------------------------------------

// AdmitSignal is the idempotency gate. The unique index on signal_id plus
// ON CONFLICT DO NOTHING makes concurrent admissions for the same id yield
// exactly one inserted row; losers see RowsAffected == 0.
func (s *Store) AdmitSignal(ctx context.Context, item *models.Signal) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signal_id"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) GetSignalByID(ctx context.Context, signalID string) (*models.Signal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Signal
	err := s.db.WithContext(ctx).Where("signal_id = ?", signalID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) MarkSignalSent(ctx context.Context, signalID string, chatID string, sentAt time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Signal{}).
		Where("signal_id = ?", signalID).
		Updates(map[string]any{
			"status":          models.SignalStatusSent,
			"chat_id":         chatID,
			"sent_at":         sentAt,
			"next_attempt_at": nil,
		}).Error
}

func (s *Store) MarkSignalFailed(ctx context.Context, signalID string, lastError string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Signal{}).
		Where("signal_id = ?", signalID).
		Updates(map[string]any{
			"status":          models.SignalStatusFailed,
			"last_error":      lastError,
			"next_attempt_at": nil,
		}).Error
}

func (s *Store) MarkSignalDropped(ctx context.Context, signalID string, reason string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Signal{}).
		Where("signal_id = ?", signalID).
		Updates(map[string]any{
			"status":      models.SignalStatusDropped,
			"drop_reason": reason,
		}).Error
}

// ClaimSignalAttempt advances the attempt counter only if the caller saw
// the current value, making RowsAffected the ownership verdict when two
// delivery loops race for the same signal. The written next_attempt_at is a
// lease deadline: it keeps the row visible to the redelivery sweep should
// the process die before the send completes.
func (s *Store) ClaimSignalAttempt(ctx context.Context, signalID string, expectedAttempts int, attempts int, nextAttemptAt time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Model(&models.Signal{}).
		Where("signal_id = ?", signalID).
		Where("status = ?", models.SignalStatusPending).
		Where("attempts = ?", expectedAttempts).
		Updates(map[string]any{
			"attempts":        attempts,
			"next_attempt_at": nextAttemptAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) UpdateSignalAttempt(ctx context.Context, signalID string, attempts int, nextAttemptAt *time.Time, lastError *string) error {
	if s == nil || s.db == nil {
		return nil
	}
	updates := map[string]any{
		"attempts":        attempts,
		"next_attempt_at": nextAttemptAt,
	}
	if lastError != nil {
		updates["last_error"] = *lastError
	}
	return s.db.WithContext(ctx).Model(&models.Signal{}).
		Where("signal_id = ?", signalID).
		Updates(updates).Error
}

// SetSignalDestination records the resolved chat and makes the row due
// immediately, so a crash before the first delivery claim still surfaces
// the signal to the redelivery sweep.
func (s *Store) SetSignalDestination(ctx context.Context, signalID string, chatID string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Signal{}).
		Where("signal_id = ?", signalID).
		Updates(map[string]any{
			"chat_id":         chatID,
			"next_attempt_at": time.Now().UTC(),
		}).Error
}

func (s *Store) ListSignals(ctx context.Context, params repository.ListSignalsParams) ([]models.Signal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.signalQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "received_at")
	limit := normalizeLimit(params.Limit, 50)
	offset := normalizeOffset(params.Offset)
	var items []models.Signal
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSignals(ctx context.Context, params repository.ListSignalsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.signalQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) signalQuery(ctx context.Context, params repository.ListSignalsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Signal{})
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.ToUpper(strings.TrimSpace(*params.Symbol)))
	}
	if params.Timeframe != nil && strings.TrimSpace(*params.Timeframe) != "" {
		query = query.Where("timeframe = ?", strings.TrimSpace(*params.Timeframe))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("received_at >= ?", *params.Since)
	}
	return query
}

func (s *Store) CountSignalsByStatus(ctx context.Context, since *time.Time) (map[string]int64, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Signal{})
	if since != nil && !since.IsZero() {
		query = query.Where("received_at >= ?", *since)
	}
	var rows []struct {
		Status string
		Total  int64
	}
	if err := query.Select("status, count(*) as total").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

func (s *Store) ListDuePendingSignals(ctx context.Context, now time.Time, limit int) ([]models.Signal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Signal
	err := s.db.WithContext(ctx).Model(&models.Signal{}).
		Where("status = ?", models.SignalStatusPending).
		Where("next_attempt_at IS NOT NULL").
		Where("next_attempt_at <= ?", now).
		Order("next_attempt_at asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// DeleteExpiredSignals purges records whose TTL window has fully elapsed.
// Records with expires_at in the future are never touched, so a late
// duplicate inside the TTL still hits the unique index.
func (s *Store) DeleteExpiredSignals(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if before.IsZero() {
		before = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL").
		Where("expires_at < ?", before).
		Delete(&models.Signal{})
	return res.RowsAffected, res.Error
}

// --- Coin pairs -------------------------------------------------------------

func (s *Store) UpsertCoinPair(ctx context.Context, item *models.CoinPair) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Symbol) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled",
			"updated_at",
		}),
	}).Create(item).Error
}

// SeedCoinPair inserts a pair only when absent. Operator edits, including
// disables, always win over the deploy-time defaults.
func (s *Store) SeedCoinPair(ctx context.Context, item *models.CoinPair) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Symbol) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoNothing: true,
	}).Create(item).Error
}

func (s *Store) SetCoinPairEnabled(ctx context.Context, symbol string, enabled bool) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.CoinPair{}).
		Where("symbol = ?", strings.ToUpper(strings.TrimSpace(symbol))).
		Update("enabled", enabled).Error
}

func (s *Store) GetCoinPair(ctx context.Context, symbol string) (*models.CoinPair, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.CoinPair
	err := s.db.WithContext(ctx).
		Where("symbol = ?", strings.ToUpper(strings.TrimSpace(symbol))).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListCoinPairs(ctx context.Context, enabledOnly bool) ([]models.CoinPair, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.CoinPair{})
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}
	var items []models.CoinPair
	if err := query.Order("symbol asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) TouchCoinPairSignal(ctx context.Context, symbol string, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.CoinPair{}).
		Where("symbol = ?", strings.ToUpper(strings.TrimSpace(symbol))).
		Update("last_signal_at", at).Error
}

// --- Mutes ------------------------------------------------------------------

func (s *Store) UpsertMute(ctx context.Context, item *models.Mute) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind",
			"active",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListActiveMutes(ctx context.Context) ([]models.Mute, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Mute
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("key asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Routes -----------------------------------------------------------------

func (s *Store) UpsertRoute(ctx context.Context, item *models.Route) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "kind"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"destination",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) DeleteRoute(ctx context.Context, kind string, key string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("kind = ? AND key = ?", kind, key).
		Delete(&models.Route{}).Error
}

func (s *Store) ListRoutes(ctx context.Context) ([]models.Route, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Route
	err := s.db.WithContext(ctx).
		Order("kind asc, key asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
