package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Signal lifecycle states. A signal ends in exactly one terminal state;
// only pending signals are ever handed to the delivery engine. Duplicate is
// the outcome reported to the submitting adapter; the original record keeps
// its own status, so no stored row ever carries it.
const (
	SignalStatusPending   = "pending"
	SignalStatusSent      = "sent"
	SignalStatusFailed    = "failed"
	SignalStatusDuplicate = "duplicate"
	SignalStatusDropped   = "dropped"
)

// Signal is one admitted trading alert. SignalID is the externally supplied
// dedup key; the unique index on it backs the atomic admission check.
type Signal struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	SignalID string `gorm:"type:varchar(120);not null;uniqueIndex"`

	Symbol    string `gorm:"type:varchar(30);not null;index:idx_signals_symbol_tf"`
	Timeframe string `gorm:"type:varchar(10);not null;index:idx_signals_symbol_tf"`
	Event     string `gorm:"type:varchar(50);not null"`
	Source    string `gorm:"type:varchar(20);not null"`

	BarTime int64 `gorm:"not null"`

	Entry  decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Stop   decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Target decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	RR     decimal.Decimal `gorm:"type:numeric(20,10);not null"`

	Status     string  `gorm:"type:varchar(20);not null;index"`
	ChatID     *string `gorm:"type:varchar(64)"`
	DropReason *string `gorm:"type:varchar(40)"`
	LastError  *string `gorm:"type:text"`

	// Retry state machine fields, persisted per transition so a restart
	// resumes with the correct attempt count.
	Attempts      int        `gorm:"not null;default:0"`
	NextAttemptAt *time.Time `gorm:"type:timestamptz;index"`

	Raw datatypes.JSON `gorm:"type:jsonb"`

	ReceivedAt time.Time  `gorm:"type:timestamptz;not null;index"`
	SentAt     *time.Time `gorm:"type:timestamptz"`
	ExpiresAt  *time.Time `gorm:"type:timestamptz;index"`
}

func (Signal) TableName() string {
	return "signals"
}
