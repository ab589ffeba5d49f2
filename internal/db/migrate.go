package db

import (
	"signalrelay/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Signal{},
		&models.CoinPair{},
		&models.Mute{},
		&models.Route{},
	)
}
