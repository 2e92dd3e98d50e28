package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/zulandar/rehearsal/internal/config"
	"github.com/zulandar/rehearsal/internal/models"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Agent{},
		&models.EscalationRecord{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Open connects and migrates in one step, creating the MySQL database
// first when needed.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if err := EnsureDatabase(cfg); err != nil {
		return nil, err
	}
	gdb, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}
