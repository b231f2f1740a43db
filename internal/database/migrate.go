package database

import (
	"fmt"

	"github.com/streamvault/streamvault/internal/models"
)

// Migrate applies the schema for all models.
func (db *DB) Migrate() error {
	err := db.DB.AutoMigrate(
		&models.Channel{},
		&models.Stream{},
		&models.Recording{},
		&models.StreamMetadata{},
		&models.StreamEvent{},
		&models.Task{},
	)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}
