package initialize

import (
	"fleetprobe/config"
	"fleetprobe/internal/logger"

	. "fleetprobe/internal/models"

	migrate "github.com/rubenv/sql-migrate"
	"gorm.io/gorm"
)

// supplemental holds the SQL that AutoMigrate cannot express: covering
// indexes for the ledger's hot lookups.
var supplemental = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "001-message-tracking-status",
			Up: []string{
				`CREATE INDEX IF NOT EXISTS idx_messages_tracking_status
				 ON messages (tracking_id, delivery_status)`,
			},
			Down: []string{`DROP INDEX IF EXISTS idx_messages_tracking_status`},
		},
		{
			Id: "002-message-campaign-status",
			Up: []string{
				`CREATE INDEX IF NOT EXISTS idx_messages_campaign_status
				 ON messages (campaign_id, delivery_status)`,
			},
			Down: []string{`DROP INDEX IF EXISTS idx_messages_campaign_status`},
		},
	},
}

func InitializeTables(db *gorm.DB, config config.Config, log logger.Logger) error {
	log = log.Function("InitializeTables")
	log.Info("Migrating schema")

	if err := db.AutoMigrate(
		&TestClient{},
		&Connection{},
		&Message{},
		&CampaignRun{},
	); err != nil {
		return log.Err("failed to auto-migrate schema", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return log.Err("failed to get raw database handle", err)
	}

	applied, err := migrate.Exec(sqlDB, "sqlite3", supplemental, migrate.Up)
	if err != nil {
		return log.Err("failed to apply supplemental migrations", err)
	}

	log.Info("Table initialization complete", "supplementalApplied", applied)
	return nil
}
