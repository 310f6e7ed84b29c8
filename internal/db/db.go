package db

import (
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"arenaserver/config"
	"arenaserver/internal/db/models"
)

func InitDB(cfg *config.DatabaseConfig, log zerolog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "connect to %s:%d/%s", cfg.Host, cfg.Port, cfg.DBName)
	}
	log.Info().Str("host", cfg.Host).Str("dbname", cfg.DBName).Msg("connected to the database")
	return db, nil
}

func Migrate(db *gorm.DB, log zerolog.Logger) error {
	err := db.AutoMigrate(
		&models.Arena{}, &models.CombatantClass{}, &models.EventType{}, &models.Event{},
		&models.Signup{}, &models.Reservation{}, &models.Elimination{}, &models.Rating{},
		&models.Bet{}, &models.BetPool{}, &models.BetPayout{}, &models.FinanceSnapshot{},
	)
	if err != nil {
		return eris.Wrap(err, "migrate arena tables")
	}
	log.Info().Msg("database migration completed")
	return nil
}
