package store

import (
	"github.com/rifqisaleh/revoubank/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func NewDB(dsn string, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: false,
	}), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	log.Info("connected to the database")
	return db, nil
}

func DBMigrate(db *gorm.DB, log *zap.Logger) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return err
	}
	log.Info("migrations loaded")
	return nil
}
