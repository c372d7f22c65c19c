package database

import (
	"fmt"

	"immotech/server/internal/models"
)

func (d *Database) RunMigrations() error {
	if err := d.db.AutoMigrate(&models.User{}, &models.Property{}, &models.Transaction{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// Report queries filter on these together
	err := d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_properties_report
		ON properties(type, transaction_type, status);
	`).Error
	if err != nil {
		return fmt.Errorf("failed to create report index: %w", err)
	}

	// Spatial lookups for nearby search
	err = d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_properties_coordinates
		ON properties(location_latitude, location_longitude);
	`).Error
	if err != nil {
		return fmt.Errorf("failed to create coordinates index: %w", err)
	}

	return nil
}
