package persistence

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/threadsight/threadsight/internal/infrastructure/config"
	"github.com/threadsight/threadsight/internal/infrastructure/persistence/models"
)

// NewDatabase opens the configured database and migrates the schema.
// postgres:// URLs use the postgres driver; anything else is treated as a
// sqlite DSN.
func NewDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type() {
	case "postgres":
		dialector = postgres.Open(cfg.URL)
	default:
		dialector = sqlite.Open(cfg.URL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.ConversationModel{},
		&models.MessageModel{},
		&models.InsightModel{},
		&models.AnalysisCacheModel{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}
