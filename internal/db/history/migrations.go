package history

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/pomodui/pomod/pkg/models"
	"gorm.io/gorm"
)

// runMigrations runs all history database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: session records table
		{
			ID: "001_session_records",
			Migrate: func(tx *gorm.DB) error {
				// AutoMigrate creates the table with all indexes from struct tags
				return tx.AutoMigrate(&models.SessionRecord{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("session_records")
			},
		},
	})

	return m.Migrate()
}
