package models

import "time"

// CoinPair is an operator-managed trading pair. Disabled pairs cause the
// routing resolver to drop signals before delivery.
type CoinPair struct {
	Symbol       string     `gorm:"primaryKey;type:varchar(30)"`
	Enabled      bool       `gorm:"not null;default:true"`
	AddedBy      string     `gorm:"type:varchar(64);not null"`
	AddedAt      time.Time  `gorm:"type:timestamptz;not null"`
	UpdatedAt    time.Time  `gorm:"type:timestamptz;autoUpdateTime"`
	LastSignalAt *time.Time `gorm:"type:timestamptz"`
}

func (CoinPair) TableName() string {
	return "coin_pairs"
}
