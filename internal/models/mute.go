package models

import "time"

const (
	MuteKindSymbol    = "symbol"
	MuteKindTimeframe = "timeframe"
)

// Mute silences signals for a symbol or a normalized timeframe.
type Mute struct {
	Key       string    `gorm:"primaryKey;type:varchar(30)"`
	Kind      string    `gorm:"type:varchar(10);not null"`
	Active    bool      `gorm:"not null;default:true"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Mute) TableName() string {
	return "mutes"
}
