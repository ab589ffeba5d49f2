package models

import "time"

const (
	RouteKindSymbol    = "symbol"
	RouteKindTimeframe = "timeframe"
	RouteKindDefault   = "default"
)

// Route maps a symbol or timeframe to a destination chat. The single
// default route uses kind=default with an empty key.
type Route struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Kind        string    `gorm:"type:varchar(10);not null;uniqueIndex:idx_routes_kind_key"`
	Key         string    `gorm:"type:varchar(30);not null;uniqueIndex:idx_routes_kind_key"`
	Destination string    `gorm:"type:varchar(64);not null"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Route) TableName() string {
	return "routes"
}
